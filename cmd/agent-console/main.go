// cmd/agent-console — Wails v3 桌面控制台: 监控多个 app-server 的 agent 线程。
//
// 架构:
//   - 每个 workspace 一条 app-server websocket 连接 (可选本地启动)
//   - 通知经 reconcile.Engine 归并为 uistate action, 通过 Wails Events 推送前端
//   - 诊断写入内存环 (+ 可选 PostgreSQL), -debug 时 gin 面板只读暴露
//
// 构建:
//
//	go build -tags "production" -o agent-console ./cmd/agent-console/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/codex"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/config"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/dashboard"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/database"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/reconcile"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/util"
)

const quitOverlayDelay = 320 * time.Millisecond

func main() {
	if cwd, err := os.Getwd(); err == nil {
		config.LoadEnvFile(cwd)
	}
	cfg := config.Load()

	workspacesFile := flag.String("workspaces", cfg.WorkspacesFile, "workspace 列表 (YAML)")
	debug := flag.Bool("debug", cfg.DebugEnabled, "在 DEBUG_ADDR 启动只读调试面板")
	flag.Parse()

	logger.Init(cfg.AppEnv)
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if err := logger.InitWithFile(cfg.LogDir); err != nil {
		logger.Warn("file logging unavailable", logger.FieldError, err)
	}

	info := currentBuildInfo()
	logger.Info("build info",
		"version", info.Version,
		"commit", info.Commit,
		"build_time", info.BuildTime,
		"runtime", info.Runtime,
	)

	// ─── 上下文 & 优雅关停 ───
	ctx, cancel, shutdownReason, cancelWithReason, signalCleanup := setupShutdownSignals()
	defer cancel()
	defer signalCleanup()

	// ─── 数据库 (可选) ───
	pool := setupDatabase(ctx, cfg)

	// ─── 状态 & 诊断 ───
	store := uistate.NewStore()
	ring := diagnostics.NewRing(cfg.DiagnosticsRingSize)
	var pgSink *diagnostics.PGSink
	sink := diagnostics.Sink(ring)
	if pool != nil {
		pgSink = diagnostics.NewPGSink(pool)
		sink = diagnostics.Multi(ring, pgSink)
	}

	// ─── 协调引擎 ───
	var clock *reconcile.FrameClock
	var deltaSched reconcile.Scheduler = reconcile.TimerScheduler{Delay: cfg.DeltaFlushInterval()}
	if cfg.DeltaFlushFrameAligned {
		clock = reconcile.NewFrameClock(cfg.DeltaFlushInterval())
		clock.Start()
		deltaSched = clock
	}

	conns := codex.NewConnections()
	svc := NewConsoleService(store, nil, ring, conns)
	engine := reconcile.New(reconcile.Options{
		State:          store,
		Interrupter:    conns,
		Sink:           sink,
		Hooks:          svc.hooks(),
		DeltaScheduler: deltaSched,
		Stderr: reconcile.StderrBatcherOptions{
			Window:          cfg.StderrBatchWindow(),
			SampleLimit:     cfg.StderrSampleLimit,
			TopSignatures:   cfg.StderrTopSignatures,
			SignatureMaxLen: cfg.StderrSignatureMaxLen,
		},
		InterruptTimeout:         cfg.InterruptTimeout(),
		HighFrequencySampleEvery: cfg.DiagnosticsDeltaSampleEvery,
	})
	svc.engine = engine

	// ─── workspaces ───
	workspaces, err := config.LoadWorkspaces(*workspacesFile)
	if err != nil {
		logger.Error("workspaces: load failed", logger.FieldPath, *workspacesFile, logger.FieldError, err)
	}
	logger.Info("workspaces: loaded", logger.FieldPath, *workspacesFile, logger.FieldCount, len(workspaces))

	// ─── 调试面板 ───
	if *debug {
		panel := dashboard.NewServer(dashboard.Deps{State: store, Diagnostics: ring, Control: engine})
		util.SafeGo(func() {
			if err := panel.Run(ctx, cfg.DebugAddr); err != nil {
				logger.Error("dashboard failed", logger.FieldAddr, cfg.DebugAddr, logger.FieldError, err)
			}
		})
		logger.Info("debug mode: dashboard enabled", logger.FieldURL, "http://"+cfg.DebugAddr)
	}

	// ─── Wails App ───
	var quitOverlayShown atomic.Bool
	var quitForceAllowed atomic.Bool
	var app *application.App
	app = application.New(application.Options{
		Name: "Agent Console",
		Assets: application.AssetOptions{
			Handler: http.FileServer(http.Dir(cfg.FrontendDir)),
		},
		Services: []application.Service{
			application.NewService(svc),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: true,
		},
		ShouldQuit: func() bool {
			logger.Info("quit: request received",
				"force_allowed", quitForceAllowed.Load(),
				"overlay_shown", quitOverlayShown.Load(),
				"trace", callerTrace(3, 8),
			)
			if quitForceAllowed.Load() {
				return true
			}
			if !quitOverlayShown.CompareAndSwap(false, true) {
				logger.Info("quit: request ignored while overlay pending")
				return false
			}
			// 先让前端展示退出遮罩, 同时把挂起的增量刷出去。
			engine.Flush()
			if svc.emit != nil {
				svc.emit(eventAppWillQuit, map[string]any{
					"delay_ms": quitOverlayDelay.Milliseconds(),
					"at":       time.Now().UTC().Format(time.RFC3339Nano),
				})
			}
			util.SafeGo(func() {
				time.Sleep(quitOverlayDelay)
				quitForceAllowed.Store(true)
				logger.Info("quit: grace delay elapsed, invoking Quit()")
				app.Quit()
			})
			return false
		},
		OnShutdown: func() {
			cancelWithReason("wails_on_shutdown")
			reason, _ := shutdownReason.Load().(string)
			logger.Warn("on-shutdown: begin", "reason", reason, logger.FieldCount, len(conns.WorkspaceIDs()))
			shutdown(engine, clock, conns, pgSink, pool)
			logger.Warn("on-shutdown: completed", "reason", reason)
		},
	})
	svc.attachApp(app)
	// 事件通道就绪后再连接, 首批通知即可推送。
	connectWorkspaces(ctx, cfg, workspaces, engine, conns)

	app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:           "Agent Console",
		Width:           1440,
		Height:          900,
		MinWidth:        800,
		MinHeight:       600,
		InitialPosition: application.WindowCentered,
		BackgroundColour: application.RGBA{
			Red: 12, Green: 16, Blue: 23, Alpha: 255,
		},
		Mac: application.MacWindow{
			TitleBar: application.MacTitleBarDefault,
		},
	})

	if err := app.Run(); err != nil {
		logger.Error("wails app failed", logger.FieldError, err)
	}
	reason, _ := shutdownReason.Load().(string)
	logger.Warn("wails app exited", "reason", reason)
}

// shutdown 按依赖顺序释放: 先刷出引擎缓冲, 再断开连接, 最后关闭持久化。
func shutdown(engine *reconcile.Engine, clock *reconcile.FrameClock, conns *codex.Connections, pgSink *diagnostics.PGSink, pool *pgxpool.Pool) {
	engine.Close()
	if clock != nil {
		clock.Stop()
	}
	conns.CloseAll()
	if pgSink != nil {
		pgSink.Shutdown()
	}
	logger.ShutdownDBHandler()
	if pool != nil {
		pool.Close()
	}
	logger.ShutdownFileHandler()
}

// setupShutdownSignals 初始化上下文 + 优雅关停信号处理。
func setupShutdownSignals() (ctx context.Context, cancel context.CancelFunc, shutdownReason *atomic.Value, cancelWithReason func(string), cleanup func()) {
	ctx, cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	shutdownReason = &atomic.Value{}
	shutdownReason.Store("unknown")

	recordShutdownReason := func(reason string) {
		if strings.TrimSpace(reason) == "" {
			return
		}
		current, _ := shutdownReason.Load().(string)
		if strings.TrimSpace(current) == "" || current == "unknown" {
			shutdownReason.Store(reason)
		}
	}
	cancelWithReason = func(reason string) {
		recordShutdownReason(reason)
		cancel()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	util.SafeGo(func() {
		cancelSent := false
		for sig := range sigCh {
			if sig == nil {
				continue
			}
			recordShutdownReason("os_signal:" + sig.String())
			logger.Warn("shutdown trigger: OS signal received", "signal", sig.String(), "cancel_sent", cancelSent)
			if !cancelSent {
				cancel()
				cancelSent = true
			}
		}
	})
	util.SafeGo(func() {
		<-ctx.Done()
		reason, _ := shutdownReason.Load().(string)
		logger.Warn("shutdown trigger: root context canceled", "reason", reason, "ctx_err", ctx.Err())
	})

	cleanup = func() { signal.Stop(sigCh) }
	return ctx, cancel, shutdownReason, cancelWithReason, cleanup
}

// setupDatabase 初始化 PostgreSQL 连接池 + 迁移; 未配置或不可用时返回 nil。
func setupDatabase(ctx context.Context, cfg *config.Config) *pgxpool.Pool {
	if !database.Enabled(cfg) {
		logger.Info("no POSTGRES_CONNECTION_STRING, diagnostics persistence disabled")
		return nil
	}
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Warn("DB not available, diagnostics stay in memory", logger.FieldError, err)
		return nil
	}
	if mErr := database.Migrate(ctx, pool, database.Migrations()); mErr != nil && !errors.Is(mErr, context.Canceled) {
		logger.Warn("DB migration failed (non-fatal)", logger.FieldError, mErr)
	}
	logger.AttachDBHandler(pool)
	return pool
}

func callerTrace(skip, maxFrames int) string {
	if maxFrames <= 0 {
		return ""
	}
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return ""
	}
	frames := runtime.CallersFrames(pcs[:n])
	parts := make([]string, 0, maxFrames)
	for len(parts) < maxFrames {
		frame, more := frames.Next()
		fn := strings.TrimSpace(frame.Function)
		if fn != "" {
			if idx := strings.LastIndex(fn, "/"); idx >= 0 {
				fn = fn[idx+1:]
			}
			parts = append(parts, fmt.Sprintf("%s:%d", fn, frame.Line))
		}
		if !more {
			break
		}
	}
	return strings.Join(parts, " <- ")
}
