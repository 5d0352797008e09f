// sse.go — SSE 事件总线 + handler。
package dashboard

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

const (
	subscriberBuffer  = 256
	keepaliveInterval = 30 * time.Second
)

// EventBus 事件总线 (SSE 推送)。订阅者跟不上时丢弃事件并计数。
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

// Event SSE 事件。
type Event struct {
	Type string
	Data any
}

// NewEventBus 创建事件总线。
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string]chan Event)}
}

// Publish 广播事件, 不阻塞发布方。
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped 因订阅者缓冲满而丢弃的事件数。
func (b *EventBus) Dropped() int64 { return b.dropped.Load() }

// Subscribe 订阅, 返回订阅 id 与事件通道。
func (b *EventBus) Subscribe() (string, <-chan Event) {
	id := fmt.Sprintf("sse-%d", b.nextID.Add(1))
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch: sseHandler 通过 ctx.Done() 退出。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// Len 当前订阅者数量。
func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// sseHandler GET /api/events。连接后先推送一次全量快照, 之后推送 action。
func (s *Server) sseHandler(c *gin.Context) {
	clientID, ch := s.bus.Subscribe()
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("dashboard: SSE client disconnected", "client_id", clientID)
	}()
	logger.Info("dashboard: SSE client connected", "client_id", clientID)

	if s.deps.State != nil {
		c.SSEvent("snapshot", s.deps.State.Snapshot())
		c.Writer.Flush()
	}

	keepalive := time.NewTimer(keepaliveInterval)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt := <-ch:
			c.SSEvent(evt.Type, evt.Data)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(keepaliveInterval)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			keepalive.Reset(keepaliveInterval)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
