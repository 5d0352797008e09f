package dashboard

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) { success(c, gin.H{"ok": true}) })

	api := s.router.Group("/api")
	api.GET("/snapshot", s.getSnapshot)
	api.GET("/workspaces/:workspace/threads", s.listThreads)
	api.GET("/workspaces/:workspace/threads/:thread", s.getThread)
	api.POST("/workspaces/:workspace/threads/:thread/interrupt", s.interruptThread)
	api.GET("/workspaces/:workspace/rate-limits", s.getRateLimits)
	api.GET("/diagnostics", s.listDiagnostics)
	api.GET("/events", s.sseHandler)
}

// ========================================
// 线程状态
// ========================================

func (s *Server) getSnapshot(c *gin.Context) {
	if s.deps.State == nil {
		unavailable(c, "state not attached")
		return
	}
	success(c, s.deps.State.Snapshot())
}

func (s *Server) listThreads(c *gin.Context) {
	if s.deps.State == nil {
		unavailable(c, "state not attached")
		return
	}
	threads := s.deps.State.Threads(c.Param("workspace"))
	if c.Query("include_hidden") != "true" {
		visible := make([]uistate.ThreadState, 0, len(threads))
		for _, t := range threads {
			if !t.Hidden {
				visible = append(visible, t)
			}
		}
		threads = visible
	}
	success(c, threads)
}

func (s *Server) getThread(c *gin.Context) {
	if s.deps.State == nil {
		unavailable(c, "state not attached")
		return
	}
	t, ok := s.deps.State.Thread(c.Param("workspace"), c.Param("thread"))
	if !ok {
		notFound(c, "thread not found")
		return
	}
	success(c, t)
}

func (s *Server) getRateLimits(c *gin.Context) {
	if s.deps.State == nil {
		unavailable(c, "state not attached")
		return
	}
	rl := s.deps.State.RateLimits(c.Param("workspace"))
	if rl == nil {
		notFound(c, "no rate limits for workspace")
		return
	}
	success(c, rl)
}

func (s *Server) interruptThread(c *gin.Context) {
	if s.deps.Control == nil {
		unavailable(c, "control not attached")
		return
	}
	ws, thread := c.Param("workspace"), strings.TrimSpace(c.Param("thread"))
	if thread == "" {
		badRequest(c, "invalid_request", "thread id is required")
		return
	}
	sent := s.deps.Control.RequestInterrupt(ws, thread)
	logger.FromContext(c.Request.Context()).Info("dashboard: interrupt requested",
		logger.FieldWorkspaceID, ws,
		logger.FieldThreadID, thread,
		"sent", sent)
	accepted(c, gin.H{"sent": sent, "queued": !sent})
}

// ========================================
// 诊断
// ========================================

// listDiagnostics GET /api/diagnostics?after=<seq>&limit=<n>&source=<event|stderr|error>
func (s *Server) listDiagnostics(c *gin.Context) {
	if s.deps.Diagnostics == nil {
		unavailable(c, "diagnostics not attached")
		return
	}
	after, err := queryInt64(c, "after", 0)
	if err != nil {
		badRequest(c, "invalid_after", err.Error())
		return
	}
	limit, err := queryInt64(c, "limit", 0)
	if err != nil {
		badRequest(c, "invalid_limit", err.Error())
		return
	}
	source := diagnostics.Source(strings.TrimSpace(c.Query("source")))
	switch source {
	case "", diagnostics.SourceEvent, diagnostics.SourceStderr, diagnostics.SourceError:
	default:
		badRequest(c, "invalid_source", "source must be event, stderr or error")
		return
	}
	success(c, s.deps.Diagnostics.Read(after, int(limit), source))
}

func queryInt64(c *gin.Context, key string, def int64) (int64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
