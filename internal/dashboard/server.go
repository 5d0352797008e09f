// Package dashboard 调试面板 HTTP 服务 (gin)。
//
// 只读查询线程状态、限额与诊断环, 通过 SSE 推送状态容器的 action 流,
// 另提供中断 turn 的调试入口。
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/util"
)

// StateReader 面板读取的状态容器接口。
type StateReader interface {
	Snapshot() uistate.Snapshot
	Threads(workspaceID string) []uistate.ThreadState
	Thread(workspaceID, threadID string) (uistate.ThreadState, bool)
	RateLimits(workspaceID string) *normalize.RateLimitSnapshot
	Subscribe(l uistate.Listener) func()
}

// Controller 面板可触发的控制操作。
type Controller interface {
	RequestInterrupt(workspaceID, threadID string) bool
}

// Deps 面板依赖。Control 为 nil 时中断接口返回 503。
type Deps struct {
	State       StateReader
	Diagnostics *diagnostics.Ring
	Control     Controller
}

// Server 调试面板服务。
type Server struct {
	router *gin.Engine
	deps   Deps
	bus    *EventBus

	unsubscribe func()
}

// NewServer 创建面板服务并订阅状态容器。
func NewServer(deps Deps) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	s := &Server{router: r, deps: deps, bus: NewEventBus()}
	if deps.State != nil {
		s.unsubscribe = deps.State.Subscribe(func(env uistate.Envelope) {
			s.bus.Publish(Event{Type: string(env.Type), Data: env})
		})
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }

// Run 监听 addr 直到 ctx 取消。
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	util.SafeGo(func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	logger.Info("dashboard: listening", logger.FieldAddr, addr)
	err := server.ListenAndServe()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// requestLogger 访问日志走结构化 logger; 请求级 logger (带 req_id) 注入 context。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header("X-Request-ID", reqID)
		l := logger.With(logger.FieldReqID, reqID)
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), l))
		c.Next()
		l.Debug("dashboard: request",
			logger.FieldMethod, c.Request.Method,
			logger.FieldPath, c.FullPath(),
			logger.FieldStatus, c.Writer.Status(),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	}
}
