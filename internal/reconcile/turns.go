package reconcile

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/util"
)

// Interrupter 中断 turn 的外部服务。失败只记录日志。
type Interrupter interface {
	InterruptTurn(ctx context.Context, workspaceID, threadID, turnID string) error
}

// InterrupterFunc 函数适配器。
type InterrupterFunc func(ctx context.Context, workspaceID, threadID, turnID string) error

// InterruptTurn 实现 Interrupter。
func (f InterrupterFunc) InterruptTurn(ctx context.Context, workspaceID, threadID, turnID string) error {
	return f(ctx, workspaceID, threadID, turnID)
}

const defaultInterruptTimeout = 10 * time.Second

// turnRecord 每个线程的本地 turn 状态。
//
// observedTurnID 是本地刚观察到的 (乐观) id, 状态容器可能还没提交;
// 解析活动 turn 时优先使用它, 否则回落到容器中已确认的 id。
type turnRecord struct {
	observedTurnID   string
	pendingInterrupt bool
}

// TurnTracker 每个线程的 turn 状态机: idle ↔ active(turnId)。
type TurnTracker struct {
	state            StateContainer
	linker           *Linker
	interrupter      Interrupter
	interruptTimeout time.Duration
	hooks            Hooks
	now              func() time.Time

	mu      sync.Mutex
	threads map[uistate.ThreadKey]*turnRecord
}

// TurnTrackerOptions TurnTracker 依赖。
type TurnTrackerOptions struct {
	State            StateContainer
	Linker           *Linker
	Interrupter      Interrupter
	InterruptTimeout time.Duration
	Hooks            Hooks
	Now              func() time.Time
}

// NewTurnTracker 创建 TurnTracker。
func NewTurnTracker(opts TurnTrackerOptions) *TurnTracker {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InterruptTimeout <= 0 {
		opts.InterruptTimeout = defaultInterruptTimeout
	}
	if opts.Linker == nil {
		opts.Linker = NewLinker(opts.State, opts.Hooks)
	}
	return &TurnTracker{
		state:            opts.State,
		linker:           opts.Linker,
		interrupter:      opts.Interrupter,
		interruptTimeout: opts.InterruptTimeout,
		hooks:            opts.Hooks,
		now:              opts.Now,
		threads:          map[uistate.ThreadKey]*turnRecord{},
	}
}

func (t *TurnTracker) recordLocked(key uistate.ThreadKey) *turnRecord {
	rec := t.threads[key]
	if rec == nil {
		rec = &turnRecord{}
		t.threads[key] = rec
	}
	return rec
}

// resolveActiveLocked 乐观 id 优先, 其次状态容器的已确认 id。
func (t *TurnTracker) resolveActiveLocked(key uistate.ThreadKey) string {
	if rec := t.threads[key]; rec != nil && rec.observedTurnID != "" {
		return rec.observedTurnID
	}
	return t.state.ActiveTurnID(key.WorkspaceID, key.ThreadID)
}

// ActiveTurnID 当前解析出的活动 turn id。
func (t *TurnTracker) ActiveTurnID(workspaceID, threadID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolveActiveLocked(uistate.ThreadKey{WorkspaceID: workspaceID, ThreadID: threadID})
}

// HasPendingInterrupt 是否有等待 turn 出现的中断请求。
func (t *TurnTracker) HasPendingInterrupt(workspaceID, threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.threads[uistate.ThreadKey{WorkspaceID: workspaceID, ThreadID: threadID}]
	return rec != nil && rec.pendingInterrupt
}

func (t *TurnTracker) markProcessing(ref uistate.ThreadRef, processing bool, atMs int64) {
	if atMs <= 0 {
		atMs = t.now().UnixMilli()
	}
	t.state.Dispatch(uistate.MarkProcessing{ThreadRef: ref, IsProcessing: processing, TimestampMs: atMs})
}

// ========================================
// 状态机
// ========================================

// OnTurnStarted turn/started。已排队的中断优先于开始。
func (t *TurnTracker) OnTurnStarted(workspaceID, threadID, turnID string) {
	t.startTurn(workspaceID, threadID, turnID, 0)
}

func (t *TurnTracker) startTurn(workspaceID, threadID, turnID string, startedAtMs int64) {
	if threadID == "" {
		return
	}
	key := uistate.ThreadKey{WorkspaceID: workspaceID, ThreadID: threadID}
	ref := uistate.ThreadRef(key)

	t.mu.Lock()
	rec := t.recordLocked(key)
	if rec.pendingInterrupt && turnID != "" {
		rec.pendingInterrupt = false
		t.mu.Unlock()
		logger.Info("reconcile: pending interrupt applied on turn start",
			logger.FieldWorkspaceID, workspaceID,
			logger.FieldThreadID, threadID,
			logger.FieldTurnID, turnID)
		t.interrupt(workspaceID, threadID, turnID)
		return
	}
	if rec.pendingInterrupt {
		// 没有 turn id 无法中断, 保留请求等待带 id 的开始事件。
		logger.Warn("reconcile: turn started without id, interrupt stays pending",
			logger.FieldWorkspaceID, workspaceID,
			logger.FieldThreadID, threadID)
	}
	rec.observedTurnID = turnID
	t.mu.Unlock()

	t.state.Dispatch(uistate.EnsureThread{ThreadRef: ref})
	t.markProcessing(ref, true, startedAtMs)
	if turnID != "" {
		t.state.Dispatch(uistate.SetActiveTurnID{ThreadRef: ref, TurnID: turnID})
	}
}

// acceptTerminalLocked 过期 turn 守卫: 事件带 turnID 且与解析出的活动 id 不同 (含活动 id 为空) 则拒绝。
// 接受时清空本地记录, 返回生效的 turn id。
func (t *TurnTracker) acceptTerminalLocked(key uistate.ThreadKey, turnID string) (string, bool) {
	active := t.resolveActiveLocked(key)
	if turnID != "" && turnID != active {
		return "", false
	}
	if rec := t.threads[key]; rec != nil {
		rec.observedTurnID = ""
		rec.pendingInterrupt = false
	}
	if turnID == "" {
		return active, true
	}
	return turnID, true
}

// OnTurnCompleted turn/completed。过期事件无任何副作用。
func (t *TurnTracker) OnTurnCompleted(workspaceID, threadID, turnID string) {
	if threadID == "" {
		return
	}
	key := uistate.ThreadKey{WorkspaceID: workspaceID, ThreadID: threadID}
	ref := uistate.ThreadRef(key)

	t.mu.Lock()
	effective, ok := t.acceptTerminalLocked(key, turnID)
	t.mu.Unlock()
	if !ok {
		logger.Debug("reconcile: stale turn completion ignored",
			logger.FieldWorkspaceID, workspaceID,
			logger.FieldThreadID, threadID,
			logger.FieldTurnID, turnID)
		return
	}

	t.markProcessing(ref, false, 0)
	t.state.Dispatch(uistate.SetActiveTurnID{ThreadRef: ref, TurnID: ""})

	plan := t.state.ThreadPlan(workspaceID, threadID)
	if plan.Completed() && (plan.TurnID == "" || plan.TurnID == effective) {
		t.state.Dispatch(uistate.ClearThreadPlan{ThreadRef: ref})
	}
}

// OnTurnError error 通知。willRetry 的错误由运行时重发, 直接忽略。
func (t *TurnTracker) OnTurnError(workspaceID, threadID, turnID, message string, willRetry bool) {
	if threadID == "" || willRetry {
		return
	}
	key := uistate.ThreadKey{WorkspaceID: workspaceID, ThreadID: threadID}
	ref := uistate.ThreadRef(key)

	t.mu.Lock()
	_, ok := t.acceptTerminalLocked(key, turnID)
	t.mu.Unlock()
	if !ok {
		logger.Debug("reconcile: stale turn error ignored",
			logger.FieldWorkspaceID, workspaceID,
			logger.FieldThreadID, threadID,
			logger.FieldTurnID, turnID)
		return
	}

	t.markProcessing(ref, false, 0)
	t.state.Dispatch(uistate.MarkReviewing{ThreadRef: ref, IsReviewing: false})
	t.state.Dispatch(uistate.SetActiveTurnID{ThreadRef: ref, TurnID: ""})
	t.state.Dispatch(uistate.PushThreadErrorMessage{ThreadRef: ref, Message: turnErrorMessage(message)})
}

func turnErrorMessage(message string) string {
	if message = strings.TrimSpace(message); message == "" {
		return "Turn failed."
	}
	return "Turn failed: " + message
}

// RequestInterrupt 中断线程当前 turn。turn 尚未出现时排队, 在 turn 开始时立即中断。
// 返回 true 表示已发出中断调用。
func (t *TurnTracker) RequestInterrupt(workspaceID, threadID string) bool {
	if threadID == "" {
		return false
	}
	key := uistate.ThreadKey{WorkspaceID: workspaceID, ThreadID: threadID}

	t.mu.Lock()
	active := t.resolveActiveLocked(key)
	if active == "" {
		t.recordLocked(key).pendingInterrupt = true
		t.mu.Unlock()
		logger.Info("reconcile: interrupt queued until turn starts",
			logger.FieldWorkspaceID, workspaceID,
			logger.FieldThreadID, threadID)
		return false
	}
	t.mu.Unlock()
	t.interrupt(workspaceID, threadID, active)
	return true
}

// interrupt 异步、尽力而为。
func (t *TurnTracker) interrupt(workspaceID, threadID, turnID string) {
	if t.interrupter == nil {
		return
	}
	util.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.interruptTimeout)
		defer cancel()
		start := time.Now()
		if err := t.interrupter.InterruptTurn(ctx, workspaceID, threadID, turnID); err != nil {
			logger.Warn("reconcile: interrupt failed",
				logger.FieldWorkspaceID, workspaceID,
				logger.FieldThreadID, threadID,
				logger.FieldTurnID, turnID,
				logger.FieldDurationMS, time.Since(start).Milliseconds(),
				logger.FieldError, err)
		}
	})
}

// ApplyResumedThread 根据重连后拉取的线程快照修正 turn 状态。
// 推断不确定时保持现状。
func (t *TurnTracker) ApplyResumedThread(workspaceID string, thread map[string]any) ResumedTurnState {
	threadID := normalize.FirstString(thread, "id", "threadId", "thread_id")
	st := GetResumedTurnState(thread)
	if threadID == "" {
		return st
	}
	ref := uistate.Ref(workspaceID, threadID)
	switch {
	case st.ActiveTurnID != "":
		var startedAt int64
		if st.ActiveTurnStartedAtMs != nil {
			startedAt = *st.ActiveTurnStartedAtMs
		}
		t.startTurn(workspaceID, threadID, st.ActiveTurnID, startedAt)
	case st.ConfidentNoActiveTurn:
		t.mu.Lock()
		if rec := t.threads[ref.Key()]; rec != nil {
			rec.observedTurnID = ""
		}
		t.mu.Unlock()
		t.state.Dispatch(uistate.EnsureThread{ThreadRef: ref})
		t.markProcessing(ref, false, 0)
		t.state.Dispatch(uistate.SetActiveTurnID{ThreadRef: ref, TurnID: ""})
	default:
		logger.Debug("reconcile: resumed turn state ambiguous, keeping current state",
			logger.FieldWorkspaceID, workspaceID,
			logger.FieldThreadID, threadID)
	}
	return st
}

// ========================================
// 旁路更新 (与状态机无关)
// ========================================

var (
	threadNameKeys      = []string{"name", "title", "threadName", "thread_name"}
	threadTimestampKeys = []string{"updatedAt", "updated_at", "createdAt", "created_at"}
)

// OnThreadStarted thread/started。不覆盖用户自定义名称。
func (t *TurnTracker) OnThreadStarted(workspaceID string, thread map[string]any) {
	threadID := normalize.FirstString(thread, "id", "threadId", "thread_id")
	if threadID == "" {
		return
	}
	ref := uistate.Ref(workspaceID, threadID)
	t.state.Dispatch(uistate.EnsureThread{ThreadRef: ref})

	if name := normalize.FirstString(thread, threadNameKeys...); name != "" {
		t.OnThreadNameUpdated(workspaceID, threadID, name)
	}
	if raw, ok := normalize.LookupNonNil(thread, threadTimestampKeys...); ok {
		if ms := normalize.NormalizeTimestampMs(raw); ms != nil {
			t.state.Dispatch(uistate.SetThreadTimestamp{ThreadRef: ref, TimestampMs: *ms})
		}
	}

	source := thread["source"]
	if IsSubAgentSource(source) {
		t.hooks.subAgent(workspaceID, threadID)
		if parentID := ParentFromSource(source); parentID != "" {
			t.linker.UpdateThreadParent(workspaceID, parentID, []string{threadID}, LinkOptions{Source: source})
		}
	}
	t.hooks.threadStarted(workspaceID, threadID)
}

// OnThreadNameUpdated thread/name/updated。
func (t *TurnTracker) OnThreadNameUpdated(workspaceID, threadID, name string) {
	name = strings.TrimSpace(name)
	if threadID == "" || name == "" {
		return
	}
	if t.state.CustomName(workspaceID, threadID) != "" {
		return
	}
	t.state.Dispatch(uistate.SetThreadName{ThreadRef: uistate.Ref(workspaceID, threadID), Name: name})
}

// OnTurnPlanUpdated turn/plan/updated: 整体替换; 无步骤且无说明时清除。
func (t *TurnTracker) OnTurnPlanUpdated(workspaceID, threadID, turnID string, explanation, plan any) {
	if threadID == "" {
		return
	}
	ref := uistate.Ref(workspaceID, threadID)
	normalized := normalize.NormalizePlanUpdate(turnID, explanation, plan)
	if normalized == nil {
		t.state.Dispatch(uistate.ClearThreadPlan{ThreadRef: ref})
		return
	}
	t.state.Dispatch(uistate.SetThreadPlan{ThreadRef: ref, Plan: normalized})
}

// OnTurnDiffUpdated turn/diff/updated: 整体替换。
func (t *TurnTracker) OnTurnDiffUpdated(workspaceID, threadID, diff string) {
	if threadID == "" {
		return
	}
	t.state.Dispatch(uistate.SetThreadTurnDiff{ThreadRef: uistate.Ref(workspaceID, threadID), Diff: diff})
}

// OnTokenUsageUpdated thread/tokenUsage/updated。
// 带上下文窗口时同时记录到对应 turn (事件 turnId, 否则当前活动 turn)。
func (t *TurnTracker) OnTokenUsageUpdated(workspaceID, threadID, turnID string, raw map[string]any) {
	if threadID == "" || raw == nil {
		return
	}
	ref := uistate.Ref(workspaceID, threadID)
	usage := normalize.NormalizeTokenUsage(raw)
	t.state.Dispatch(uistate.SetThreadTokenUsage{ThreadRef: ref, TokenUsage: usage})

	if usage.ModelContextWindow == nil {
		return
	}
	if turnID == "" {
		turnID = t.ActiveTurnID(workspaceID, threadID)
	}
	if turnID == "" {
		return
	}
	t.state.Dispatch(uistate.SetThreadTurnContextWindow{ThreadRef: ref, TurnID: turnID, ContextWindow: *usage.ModelContextWindow})
}

// OnRateLimitsUpdated account/rateLimits/updated: 按字段深度合并到上一份快照。
func (t *TurnTracker) OnRateLimitsUpdated(workspaceID string, raw map[string]any) {
	if workspaceID == "" || raw == nil {
		return
	}
	merged := normalize.MergeRateLimits(t.state.RateLimits(workspaceID), raw)
	t.state.Dispatch(uistate.SetRateLimits{WorkspaceID: workspaceID, RateLimits: merged})
}
