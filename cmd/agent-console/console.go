// console.go — Wails 绑定: 线程状态查询 + turn 控制 + 诊断读取。
//
// 前端通过生成的绑定调用 ConsoleService 方法; 状态变更以
// uistate.Envelope 形式通过 "thread/action" 事件推送, 前端按 seq 应用。
package main

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/codex"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/reconcile"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

// 前端事件名。
const (
	eventThreadAction   = "thread/action"
	eventSubAgent       = "thread/subAgent"
	eventReviewExited   = "thread/reviewExited"
	eventThreadStarted  = "thread/started"
	eventAppWillQuit    = "app-will-quit"
	resumeThreadTimeout = 15 * time.Second
)

const bridgeEmitSampleEvery int64 = 120

var bridgeEmitSeq atomic.Int64

// shouldLogBridgeEmit 高频 action (增量追加) 采样记录。
func shouldLogBridgeEmit(kind uistate.ActionKind, seq int64) bool {
	if strings.HasPrefix(string(kind), "append") || kind == uistate.KindMarkProcessing {
		return seq%bridgeEmitSampleEvery == 0
	}
	return true
}

// ConsoleService Wails 服务, 前端通过 window.go.main.ConsoleService.XXX() 调用。
type ConsoleService struct {
	store  *uistate.Store
	engine *reconcile.Engine
	ring   *diagnostics.Ring
	conns  *codex.Connections

	// emit 推送前端事件; wails 运行时就绪前为 nil。
	emit        func(name string, data any)
	unsubscribe func()
}

// NewConsoleService 创建服务。
func NewConsoleService(store *uistate.Store, engine *reconcile.Engine, ring *diagnostics.Ring, conns *codex.Connections) *ConsoleService {
	return &ConsoleService{store: store, engine: engine, ring: ring, conns: conns}
}

// attachApp 绑定 wails 运行时的事件通道。
func (s *ConsoleService) attachApp(app *application.App) {
	s.emit = func(name string, data any) {
		app.Event.Emit(name, data)
	}
}

// ServiceStartup Wails v3 Service 生命周期: 订阅状态容器。
func (s *ConsoleService) ServiceStartup(_ context.Context, _ application.ServiceOptions) error {
	if s.unsubscribe == nil {
		s.unsubscribe = s.store.Subscribe(s.forwardAction)
	}
	return nil
}

// ServiceShutdown 取消订阅。
func (s *ConsoleService) ServiceShutdown() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	return nil
}

// forwardAction 状态容器 action → 前端事件。
func (s *ConsoleService) forwardAction(env uistate.Envelope) {
	seq := bridgeEmitSeq.Add(1)
	if s.emit == nil {
		if shouldLogBridgeEmit(env.Type, seq) {
			logger.Debug("console: action dropped without wails runtime",
				logger.FieldEventType, env.Type,
				"seq", env.Seq)
		}
		return
	}
	s.emit(eventThreadAction, env)
	if shouldLogBridgeEmit(env.Type, seq) {
		logger.Debug("console: action emitted",
			logger.FieldEventType, env.Type,
			"seq", env.Seq)
	}
}

func (s *ConsoleService) notify(name, workspaceID, threadID string) {
	if s.emit == nil {
		return
	}
	s.emit(name, map[string]string{"workspaceId": workspaceID, "threadId": threadID})
}

// hooks 协调引擎回调 → 前端事件。
func (s *ConsoleService) hooks() reconcile.Hooks {
	return reconcile.Hooks{
		OnSubAgent: func(ws, thread string) {
			logger.Debug("console: sub-agent thread detected", logger.FieldWorkspaceID, ws, logger.FieldThreadID, thread)
			s.notify(eventSubAgent, ws, thread)
		},
		OnReviewExited: func(ws, thread string) {
			logger.Info("console: review finished", logger.FieldWorkspaceID, ws, logger.FieldThreadID, thread)
			s.notify(eventReviewExited, ws, thread)
		},
		OnThreadStarted: func(ws, thread string) {
			s.notify(eventThreadStarted, ws, thread)
		},
	}
}

// ========================================
// 查询
// ========================================

// Snapshot 全量状态快照, 前端启动与重同步时调用。
func (s *ConsoleService) Snapshot() uistate.Snapshot { return s.store.Snapshot() }

// Threads 某 workspace 的线程 (不含隐藏线程)。
func (s *ConsoleService) Threads(workspaceID string) []uistate.ThreadState {
	all := s.store.Threads(workspaceID)
	out := make([]uistate.ThreadState, 0, len(all))
	for _, t := range all {
		if !t.Hidden {
			out = append(out, t)
		}
	}
	return out
}

// Workspaces 已连接的 workspace id。
func (s *ConsoleService) Workspaces() []string {
	if s.conns == nil {
		return []string{}
	}
	return s.conns.WorkspaceIDs()
}

// Diagnostics 读取诊断环。source 为空表示全部。
func (s *ConsoleService) Diagnostics(after int64, limit int, source string) diagnostics.ReadResult {
	return s.ring.Read(after, limit, diagnostics.Source(strings.TrimSpace(source)))
}

// GetBuildInfo 当前构建信息。
func (s *ConsoleService) GetBuildInfo() BuildInfo { return currentBuildInfo() }

// ========================================
// 控制
// ========================================

// InterruptTurn 中断线程当前 turn; turn 尚未开始时排队, 返回 false。
func (s *ConsoleService) InterruptTurn(workspaceID, threadID string) (bool, error) {
	if strings.TrimSpace(threadID) == "" {
		return false, apperrors.Wrap(apperrors.ErrInvalidInput, "ConsoleService.InterruptTurn", "thread id is required")
	}
	return s.engine.RequestInterrupt(workspaceID, threadID), nil
}

// RenameThread 设置用户自定义名称; 空名称清除自定义名称。
func (s *ConsoleService) RenameThread(workspaceID, threadID, name string) error {
	if strings.TrimSpace(threadID) == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "ConsoleService.RenameThread", "thread id is required")
	}
	s.store.Dispatch(uistate.SetCustomName{ThreadRef: uistate.Ref(workspaceID, threadID), Name: name})
	return nil
}

// SetActiveThread 前端切换当前查看的线程 (清除未读)。
func (s *ConsoleService) SetActiveThread(workspaceID, threadID string) {
	s.store.Dispatch(uistate.SetActiveThread{ThreadRef: uistate.Ref(workspaceID, threadID)})
}

// ResumeThread 拉取线程快照并修正 turn 状态。
func (s *ConsoleService) ResumeThread(workspaceID, threadID string) (reconcile.ResumedTurnState, error) {
	if s.conns == nil {
		return reconcile.ResumedTurnState{}, apperrors.ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), resumeThreadTimeout)
	defer cancel()
	thread, err := s.conns.ResumeThread(ctx, workspaceID, threadID)
	if err != nil {
		s.engine.RecordError(workspaceID, "thread/resume", err)
		return reconcile.ResumedTurnState{}, err
	}
	return s.engine.ApplyResumedThread(workspaceID, withThreadID(thread, threadID)), nil
}

// withThreadID 快照缺少 id 时补上请求的 thread id, 不修改原 map。
func withThreadID(thread map[string]any, threadID string) map[string]any {
	if _, ok := thread["id"]; ok {
		return thread
	}
	out := make(map[string]any, len(thread)+1)
	for k, v := range thread {
		out[k] = v
	}
	out["id"] = threadID
	return out
}
