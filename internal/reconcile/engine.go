// Package reconcile 线程事件协调引擎。
//
// 传输层按到达顺序投递 app-server 通知 (HandleEvent), 引擎把无序、高频的
// 线程 / turn / 条目事件转为状态容器 action:
//
//	transport → Engine → (normalize / Linker / DeltaCoalescer / TurnTracker) → StateContainer
//
// 唯一的异步工作是 delta flush 与 stderr 窗口 flush, Close 时强制 flush。
package reconcile

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/codex"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

// Options 引擎依赖。State 必填, 其余可为零值。
type Options struct {
	State       StateContainer
	Interrupter Interrupter
	Sink        diagnostics.Sink
	Hooks       Hooks

	// DeltaScheduler delta flush 调度 (通常是 FrameClock); nil 时使用 16ms 定时器。
	DeltaScheduler Scheduler
	Stderr         StderrBatcherOptions

	InterruptTimeout time.Duration
	// HighFrequencySampleEvery 高频增量事件每 N 条镜像 1 条到诊断 sink; <=1 表示全部镜像。
	HighFrequencySampleEvery int
	Now                      func() time.Time
}

// Engine 组合根: 把通知路由到各处理器。
type Engine struct {
	state StateContainer
	sink  diagnostics.Sink

	deltas *DeltaCoalescer
	linker *Linker
	items  *ItemHandler
	turns  *TurnTracker
	stderr *StderrBatcher

	routes      map[string]routeFunc
	sampleEvery int64
	highFreqSeq atomic.Int64
	closeOnce   sync.Once
}

// New 创建引擎。
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = diagnostics.Discard
	}
	deltas := NewDeltaCoalescer(opts.State, opts.DeltaScheduler)
	linker := NewLinker(opts.State, opts.Hooks)
	turns := NewTurnTracker(TurnTrackerOptions{
		State:            opts.State,
		Linker:           linker,
		Interrupter:      opts.Interrupter,
		InterruptTimeout: opts.InterruptTimeout,
		Hooks:            opts.Hooks,
		Now:              opts.Now,
	})
	e := &Engine{
		state:       opts.State,
		sink:        opts.Sink,
		deltas:      deltas,
		linker:      linker,
		items:       NewItemHandler(opts.State, deltas, linker, opts.Hooks, opts.Now),
		turns:       turns,
		stderr:      NewStderrBatcher(opts.Sink, opts.Stderr),
		sampleEvery: int64(max(opts.HighFrequencySampleEvery, 1)),
	}
	e.routes = e.buildRoutes()
	return e
}

// Linker 线程父子关系。
func (e *Engine) Linker() *Linker { return e.linker }

// Turns turn 状态机。
func (e *Engine) Turns() *TurnTracker { return e.turns }

// Items 条目处理器。
func (e *Engine) Items() *ItemHandler { return e.items }

// Stderr 诊断行批处理器。
func (e *Engine) Stderr() *StderrBatcher { return e.stderr }

// HandleEvent 处理一条通知。"*/stderr" 进入批处理, 其余镜像到诊断 sink 后按方法路由。
func (e *Engine) HandleEvent(n codex.Notification) {
	method := strings.TrimSpace(n.Method)
	if method == "" {
		return
	}
	params := n.Params
	if params == nil {
		params = map[string]any{}
	}
	workspaceID := strings.TrimSpace(n.WorkspaceID)
	if workspaceID == "" {
		workspaceID = normalize.WorkspaceID(params)
	}

	if isStderrMethod(method) {
		e.stderr.Add(workspaceID, method, stderrPayload(params))
		return
	}
	e.mirror(workspaceID, method, params)

	route, ok := e.routes[method]
	if !ok {
		logger.Debug("reconcile: unrouted notification",
			logger.FieldWorkspaceID, workspaceID,
			logger.FieldMethod, method)
		return
	}
	route(workspaceID, n.RequestID, params)
}

func (e *Engine) mirror(workspaceID, method string, params map[string]any) {
	if e.sampleEvery > 1 && isHighFrequencyMethod(method) {
		if e.highFreqSeq.Add(1)%e.sampleEvery != 1 {
			return
		}
	}
	e.sink.Record(diagnostics.NewEntry(diagnostics.SourceEvent, method, workspaceID, params))
}

// RecordError 传输层错误写入诊断 sink。
func (e *Engine) RecordError(workspaceID, label string, err error) {
	if err == nil {
		return
	}
	e.sink.Record(diagnostics.NewEntry(diagnostics.SourceError, label, workspaceID, map[string]any{"message": err.Error()}))
}

// ApplyResumedThread 重连后用线程快照修正 turn 状态。
func (e *Engine) ApplyResumedThread(workspaceID string, thread map[string]any) ResumedTurnState {
	return e.turns.ApplyResumedThread(workspaceID, thread)
}

// RequestInterrupt 中断 (或排队中断) 线程的当前 turn。
func (e *Engine) RequestInterrupt(workspaceID, threadID string) bool {
	return e.turns.RequestInterrupt(workspaceID, threadID)
}

// Flush 立即 flush 待处理的 delta。
func (e *Engine) Flush() { e.deltas.Flush() }

// Close 强制 flush delta 与 stderr 批次。可重复调用。
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.deltas.Close()
		e.stderr.Close()
	})
}

func isStderrMethod(method string) bool {
	return strings.HasSuffix(method, "/stderr")
}

// isHighFrequencyMethod 流式增量事件。
func isHighFrequencyMethod(method string) bool {
	lower := strings.ToLower(method)
	return strings.Contains(lower, "delta")
}

// stderrPayload 取出诊断行; 找不到行字段时返回整个参数对象 (视为格式错误, 不进入批处理)。
func stderrPayload(params map[string]any) any {
	if v, ok := normalize.LookupNonNil(params, "line", "message", "text", "data"); ok {
		return v
	}
	return params
}
