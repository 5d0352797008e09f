package codex

import (
	"context"
	"slices"
	"sync"

	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

// Connections workspace → 连接。实现协调引擎的中断服务接口。
type Connections struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	procs map[string]*Process
}

// NewConnections 创建空注册表。
func NewConnections() *Connections {
	return &Connections{conns: map[string]*Conn{}, procs: map[string]*Process{}}
}

// Add 注册连接 (可附带本地子进程), 替换并关闭同 workspace 的旧连接。
func (r *Connections) Add(conn *Conn, proc *Process) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	prev, prevProc := r.conns[conn.WorkspaceID], r.procs[conn.WorkspaceID]
	r.conns[conn.WorkspaceID] = conn
	if proc != nil {
		r.procs[conn.WorkspaceID] = proc
	} else {
		delete(r.procs, conn.WorkspaceID)
	}
	r.mu.Unlock()

	if prev != nil && prev != conn {
		_ = prev.Close()
	}
	if prevProc != nil && prevProc != proc {
		_ = prevProc.Kill()
	}
}

// Get 返回 workspace 的连接。
func (r *Connections) Get(workspaceID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[workspaceID]
	return c, ok
}

// WorkspaceIDs 已连接的 workspace (排序)。
func (r *Connections) WorkspaceIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Remove 关闭并移除 workspace 的连接与子进程。
func (r *Connections) Remove(workspaceID string) {
	r.mu.Lock()
	c, p := r.conns[workspaceID], r.procs[workspaceID]
	delete(r.conns, workspaceID)
	delete(r.procs, workspaceID)
	r.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
	if p != nil {
		if err := p.Kill(); err != nil {
			logger.Warn("codex: kill app-server failed", logger.FieldWorkspaceID, workspaceID, logger.FieldError, err)
		}
	}
}

// CloseAll 关闭全部连接。
func (r *Connections) CloseAll() {
	for _, id := range r.WorkspaceIDs() {
		r.Remove(id)
	}
}

// InterruptTurn 通过 workspace 的连接发送 turn/interrupt。
func (r *Connections) InterruptTurn(ctx context.Context, workspaceID, threadID, turnID string) error {
	c, ok := r.Get(workspaceID)
	if !ok {
		return apperrors.Wrapf(apperrors.ErrNotConnected, "Connections.InterruptTurn", "workspace %s", workspaceID)
	}
	return c.InterruptTurn(ctx, threadID, turnID)
}

// ResumeThread 通过 workspace 的连接拉取线程快照。
func (r *Connections) ResumeThread(ctx context.Context, workspaceID, threadID string) (map[string]any, error) {
	c, ok := r.Get(workspaceID)
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotConnected, "Connections.ResumeThread", "workspace %s", workspaceID)
	}
	return c.ResumeThread(ctx, threadID)
}
