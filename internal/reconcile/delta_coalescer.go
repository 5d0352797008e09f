package reconcile

import (
	"strings"
	"sync"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
)

type deltaKey struct {
	WorkspaceID string
	ThreadID    string
	ItemID      string
}

type pendingDelta struct {
	text          strings.Builder
	hasCustomName bool
	turnID        string
}

// DeltaCoalescer 合并同一 (workspace, thread, item) 的 agent 增量文本,
// 每个调度周期 flush 一次, 每个 key 只派发一个 AppendAgentDelta。
type DeltaCoalescer struct {
	state Dispatcher
	sched Scheduler

	// flushMu 串行化 flush, 保证同一时刻至多一个 flush 在派发。
	flushMu sync.Mutex

	mu        sync.Mutex
	pending   map[deltaKey]*pendingDelta
	order     []deltaKey
	scheduled bool
	gen       uint64
	cancel    func()
	closed    bool
}

// NewDeltaCoalescer 创建合并器。sched 为 nil 时使用 16ms 定时器。
func NewDeltaCoalescer(state Dispatcher, sched Scheduler) *DeltaCoalescer {
	if sched == nil {
		sched = TimerScheduler{Delay: DefaultFlushInterval}
	}
	return &DeltaCoalescer{
		state:   state,
		sched:   sched,
		pending: map[deltaKey]*pendingDelta{},
	}
}

// Add 追加一段增量。关闭后直接派发。
func (c *DeltaCoalescer) Add(workspaceID, threadID, itemID, delta string, hasCustomName bool, turnID string) {
	if delta == "" || itemID == "" {
		return
	}
	key := deltaKey{WorkspaceID: workspaceID, ThreadID: threadID, ItemID: itemID}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.state.Dispatch(uistate.AppendAgentDelta{
			ThreadRef:     uistate.Ref(workspaceID, threadID),
			ItemID:        itemID,
			Delta:         delta,
			HasCustomName: hasCustomName,
			TurnID:        turnID,
		})
		return
	}
	p := c.pending[key]
	if p == nil {
		p = &pendingDelta{}
		c.pending[key] = p
		c.order = append(c.order, key)
	}
	p.text.WriteString(delta)
	p.hasCustomName = p.hasCustomName || hasCustomName
	if turnID != "" {
		p.turnID = turnID
	}
	if c.scheduled {
		c.mu.Unlock()
		return
	}
	c.scheduled = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	// Schedule 可能同步执行回调, 不能持锁调用。
	cancel := c.sched.Schedule(func() { c.flushScheduled(gen) })

	c.mu.Lock()
	if c.scheduled && c.gen == gen {
		c.cancel = cancel
	}
	c.mu.Unlock()
}

func (c *DeltaCoalescer) flushScheduled(gen uint64) {
	c.mu.Lock()
	stale := c.gen != gen
	c.mu.Unlock()
	if stale {
		return
	}
	c.Flush()
}

// Flush 立即派发所有待处理增量, 并取消已调度的 flush。
func (c *DeltaCoalescer) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	pending, order := c.pending, c.order
	c.pending = map[deltaKey]*pendingDelta{}
	c.order = nil
	cancel := c.unscheduleLocked()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, key := range order {
		c.dispatch(key, pending[key])
	}
}

// FlushItem 只派发单个条目的待处理增量 (完成消息前调用, 保证文本顺序)。
func (c *DeltaCoalescer) FlushItem(workspaceID, threadID, itemID string) {
	key := deltaKey{WorkspaceID: workspaceID, ThreadID: threadID, ItemID: itemID}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	p, ok := c.pending[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	var cancel func()
	if len(c.pending) == 0 {
		cancel = c.unscheduleLocked()
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.dispatch(key, p)
}

// Pending 待 flush 的条目数。
func (c *DeltaCoalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close 取消调度并同步 flush。之后的 Add 直接派发。
func (c *DeltaCoalescer) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Flush()
}

func (c *DeltaCoalescer) unscheduleLocked() func() {
	cancel := c.cancel
	c.cancel = nil
	if c.scheduled {
		c.scheduled = false
		c.gen++
	}
	return cancel
}

func (c *DeltaCoalescer) dispatch(key deltaKey, p *pendingDelta) {
	if p == nil || p.text.Len() == 0 {
		return
	}
	c.state.Dispatch(uistate.AppendAgentDelta{
		ThreadRef:     uistate.Ref(key.WorkspaceID, key.ThreadID),
		ItemID:        key.ItemID,
		Delta:         p.text.String(),
		HasCustomName: p.hasCustomName,
		TurnID:        p.turnID,
	})
}
