package reconcile

import (
	"slices"
	"sync"
	"time"

	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/util"
)

// Scheduler 一次性调度。返回的 cancel 可重复调用; 回调已执行后调用无效果。
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// DefaultFlushInterval 无帧时钟时的 delta flush 间隔 (~60Hz)。
const DefaultFlushInterval = 16 * time.Millisecond

// TimerScheduler 固定延迟定时器。
type TimerScheduler struct {
	Delay time.Duration
}

// Schedule 实现 Scheduler。
func (s TimerScheduler) Schedule(fn func()) func() {
	delay := s.Delay
	if delay <= 0 {
		delay = DefaultFlushInterval
	}
	t := time.AfterFunc(delay, func() {
		defer util.Recover("reconcile: timer callback")
		fn()
	})
	return func() { t.Stop() }
}

// ========================================
// FrameClock — 帧对齐调度
// ========================================

// FrameClock 以固定帧率批量执行已排队的回调。
// 未 Start (或已 Stop) 时回落到 fallback 定时器。
type FrameClock struct {
	interval time.Duration
	fallback Scheduler

	mu      sync.Mutex
	running bool
	nextID  uint64
	queue   map[uint64]func()
	stop    chan struct{}
	done    chan struct{}
}

// NewFrameClock 创建帧时钟。interval <= 0 使用 DefaultFlushInterval。
func NewFrameClock(interval time.Duration) *FrameClock {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &FrameClock{
		interval: interval,
		fallback: TimerScheduler{Delay: interval},
		queue:    map[uint64]func(){},
	}
}

// Start 启动帧循环。重复调用无效果。
func (c *FrameClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.stop, c.done)
}

// Stop 停止帧循环, 并同步执行仍在队列中的回调。
func (c *FrameClock) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stop, c.done
	c.mu.Unlock()

	close(stop)
	<-done
	c.tick()
}

// Schedule 实现 Scheduler: 在下一帧执行 fn。
func (c *FrameClock) Schedule(fn func()) func() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return c.fallback.Schedule(fn)
	}
	c.nextID++
	id := c.nextID
	c.queue[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.queue, id)
		c.mu.Unlock()
	}
}

func (c *FrameClock) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

// tick 按排队顺序执行当前帧的回调。回调内新排队的回调留到下一帧。
func (c *FrameClock) tick() {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(c.queue))
	for id := range c.queue {
		ids = append(ids, id)
	}
	fns := make([]func(), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, c.queue[id])
	}
	clear(c.queue)
	c.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer util.Recover("reconcile: frame callback")
			fn()
		}()
	}
}
