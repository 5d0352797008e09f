package main

import (
	"context"
	"time"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/codex"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/config"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/reconcile"
	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/util"
)

const initializeTimeout = 30 * time.Second

// connectWorkspaces 为每个 workspace 建立 app-server 连接, 互不阻塞。
func connectWorkspaces(ctx context.Context, cfg *config.Config, workspaces []config.Workspace, engine *reconcile.Engine, conns *codex.Connections) {
	for _, ws := range workspaces {
		util.SafeGo(func() {
			if err := connectWorkspace(ctx, cfg, ws, engine, conns); err != nil {
				logger.Warn("workspace: connect failed",
					logger.FieldWorkspaceID, ws.ID,
					logger.FieldURL, ws.URL,
					logger.FieldError, err)
				engine.RecordError(ws.ID, "codex/connect", err)
			}
		})
	}
}

// connectWorkspace 启动 (可选) 并连接单个 app-server, 阻塞到连接断开。
func connectWorkspace(ctx context.Context, cfg *config.Config, ws config.Workspace, engine *reconcile.Engine, conns *codex.Connections) error {
	url := ws.URL
	var proc *codex.Process
	if ws.Spawn {
		p, err := codex.Spawn(ctx, codex.SpawnOptions{
			Bin:         cfg.CodexBin,
			WorkspaceID: ws.ID,
			Dir:         ws.Root,
			OnStderr:    stderrForwarder(ws.ID, engine.HandleEvent),
		})
		if err != nil {
			return err
		}
		proc = p
		url = p.URL
	}
	if url == "" {
		return apperrors.Newf("connectWorkspace", "workspace %s has no url and spawn is disabled", ws.ID)
	}

	conn, err := codex.Dial(ctx, ws.ID, url, engine.HandleEvent)
	if err != nil {
		if proc != nil {
			_ = proc.Kill()
		}
		return err
	}
	conns.Add(conn, proc)

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	err = conn.Initialize(initCtx, "agent-console", currentBuildInfo().Version)
	cancel()
	if err != nil {
		conns.Remove(ws.ID)
		return err
	}
	logger.Info("workspace: connected",
		logger.FieldWorkspaceID, ws.ID,
		logger.FieldURL, url,
		"spawned", proc != nil)

	select {
	case <-conn.Done():
		logger.Warn("workspace: app-server disconnected", logger.FieldWorkspaceID, ws.ID)
		conns.Remove(ws.ID)
	case <-ctx.Done():
	}
	return nil
}

// stderrForwarder 子进程 stderr 行 → codex/stderr 通知, 交给批处理器聚合。
func stderrForwarder(workspaceID string, handle codex.Handler) func(line string) {
	return func(line string) {
		handle(codex.Notification{
			WorkspaceID: workspaceID,
			Method:      codex.MethodStderr,
			Params:      map[string]any{"line": line},
		})
	}
}
