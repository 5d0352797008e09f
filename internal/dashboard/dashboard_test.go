package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeControl struct {
	active map[string]bool
	calls  []string
}

func (f *fakeControl) RequestInterrupt(ws, thread string) bool {
	f.calls = append(f.calls, ws+"/"+thread)
	return f.active[thread]
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code string `json:"code"`
	} `json:"error"`
}

func newTestServer(t *testing.T) (*Server, *uistate.Store, *diagnostics.Ring, *fakeControl) {
	t.Helper()
	store := uistate.NewStore()
	ring := diagnostics.NewRing(10)
	ctl := &fakeControl{active: map[string]bool{"busy": true}}
	return NewServer(Deps{State: store, Diagnostics: ring, Control: ctl}), store, ring, ctl
}

func do(t *testing.T, s *Server, method, path string) (int, apiResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Engine().ServeHTTP(rec, req)
	var resp apiResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, resp
}

func TestSnapshotAndThreads(t *testing.T) {
	s, store, _, _ := newTestServer(t)
	store.Dispatch(uistate.SetThreadName{ThreadRef: uistate.Ref("ws", "a"), Name: "Alpha"})
	store.Dispatch(uistate.HideThread{ThreadRef: uistate.Ref("ws", "bg")})

	code, resp := do(t, s, http.MethodGet, "/api/snapshot")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("snapshot: %d %+v", code, resp)
	}
	var snap uistate.Snapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap.Threads) != 2 {
		t.Fatalf("threads in snapshot = %d", len(snap.Threads))
	}

	_, resp = do(t, s, http.MethodGet, "/api/workspaces/ws/threads")
	var threads []uistate.ThreadState
	if err := json.Unmarshal(resp.Data, &threads); err != nil {
		t.Fatal(err)
	}
	if len(threads) != 1 || threads[0].Name != "Alpha" {
		t.Fatalf("visible threads = %+v", threads)
	}

	_, resp = do(t, s, http.MethodGet, "/api/workspaces/ws/threads?include_hidden=true")
	if err := json.Unmarshal(resp.Data, &threads); err != nil {
		t.Fatal(err)
	}
	if len(threads) != 2 {
		t.Fatalf("all threads = %d", len(threads))
	}

	_, resp = do(t, s, http.MethodGet, "/api/workspaces/empty/threads")
	if string(resp.Data) != "[]" {
		t.Fatalf("empty workspace = %s", resp.Data)
	}
}

func TestGetThread(t *testing.T) {
	s, store, _, _ := newTestServer(t)
	store.Dispatch(uistate.EnsureThread{ThreadRef: uistate.Ref("ws", "a")})

	if code, _ := do(t, s, http.MethodGet, "/api/workspaces/ws/threads/a"); code != http.StatusOK {
		t.Fatalf("existing thread: %d", code)
	}
	code, resp := do(t, s, http.MethodGet, "/api/workspaces/ws/threads/missing")
	if code != http.StatusNotFound || resp.Error.Code != "not_found" {
		t.Fatalf("missing thread: %d %+v", code, resp)
	}
}

func TestRateLimits(t *testing.T) {
	s, store, _, _ := newTestServer(t)
	if code, _ := do(t, s, http.MethodGet, "/api/workspaces/ws/rate-limits"); code != http.StatusNotFound {
		t.Fatalf("no limits: %d", code)
	}
	store.Dispatch(uistate.SetRateLimits{
		WorkspaceID: "ws",
		RateLimits:  normalize.NormalizeRateLimits(map[string]any{"primary": map[string]any{"usedPercent": float64(42)}}),
	})
	code, resp := do(t, s, http.MethodGet, "/api/workspaces/ws/rate-limits")
	if code != http.StatusOK {
		t.Fatalf("limits: %d", code)
	}
	var rl normalize.RateLimitSnapshot
	if err := json.Unmarshal(resp.Data, &rl); err != nil {
		t.Fatal(err)
	}
	if rl.Primary == nil || rl.Primary.UsedPercent != 42 {
		t.Fatalf("limits = %+v", rl)
	}
}

func TestDiagnostics(t *testing.T) {
	s, _, ring, _ := newTestServer(t)
	ring.Record(diagnostics.NewEntry(diagnostics.SourceEvent, "turn/started", "ws", nil))
	ring.Record(diagnostics.NewEntry(diagnostics.SourceStderr, "codex/stderr", "ws", "oops"))
	ring.Record(diagnostics.NewEntry(diagnostics.SourceEvent, "turn/completed", "ws", nil))

	_, resp := do(t, s, http.MethodGet, "/api/diagnostics?source=event&after=1")
	var out diagnostics.ReadResult
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Label != "turn/completed" {
		t.Fatalf("entries = %+v", out.Entries)
	}

	tests := []struct {
		query string
		code  string
	}{
		{"after=abc", "invalid_after"},
		{"limit=x", "invalid_limit"},
		{"source=bogus", "invalid_source"},
	}
	for _, tt := range tests {
		code, resp := do(t, s, http.MethodGet, "/api/diagnostics?"+tt.query)
		if code != http.StatusBadRequest || resp.Error.Code != tt.code {
			t.Errorf("%s: %d %+v", tt.query, code, resp)
		}
	}
}

func TestInterrupt(t *testing.T) {
	s, _, _, ctl := newTestServer(t)
	code, resp := do(t, s, http.MethodPost, "/api/workspaces/ws/threads/busy/interrupt")
	if code != http.StatusAccepted {
		t.Fatalf("interrupt: %d", code)
	}
	var body struct{ Sent, Queued bool }
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		t.Fatal(err)
	}
	if !body.Sent || body.Queued {
		t.Fatalf("body = %+v", body)
	}

	_, resp = do(t, s, http.MethodPost, "/api/workspaces/ws/threads/idle/interrupt")
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		t.Fatal(err)
	}
	if body.Sent || !body.Queued {
		t.Fatalf("idle body = %+v", body)
	}
	if strings.Join(ctl.calls, ",") != "ws/busy,ws/idle" {
		t.Fatalf("calls = %v", ctl.calls)
	}
}

func TestMissingDependencies(t *testing.T) {
	s := NewServer(Deps{})
	for _, path := range []string{"/api/snapshot", "/api/diagnostics", "/api/workspaces/ws/threads"} {
		if code, _ := do(t, s, http.MethodGet, path); code != http.StatusServiceUnavailable {
			t.Errorf("%s: %d", path, code)
		}
	}
	if code, _ := do(t, s, http.MethodPost, "/api/workspaces/ws/threads/a/interrupt"); code != http.StatusServiceUnavailable {
		t.Errorf("interrupt: %d", code)
	}
}

func TestRequestID(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	s.Engine().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-abc" {
		t.Fatalf("echoed request id = %q", got)
	}

	rec = httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := rec.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Fatalf("generated request id = %q, want uuid", got)
	}
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	b := NewEventBus()
	id, ch := b.Subscribe()
	for range subscriberBuffer + 5 {
		b.Publish(Event{Type: "x"})
	}
	if len(ch) != subscriberBuffer || b.Dropped() != 5 {
		t.Fatalf("buffered = %d, dropped = %d", len(ch), b.Dropped())
	}
	b.Unsubscribe(id)
	if b.Len() != 0 {
		t.Fatal("unsubscribe should remove the subscriber")
	}
}

// readEvent 读取一个 SSE 事件, 返回事件名与 data 行。
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if name != "" {
				return name, data
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimPrefix(line, "event:")
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimPrefix(line, "data:")
		}
	}
}

func TestSSE_SnapshotThenActions(t *testing.T) {
	s, store, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Engine())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)

	if name, _ := readEvent(t, r); name != "snapshot" {
		t.Fatalf("first event = %q, want snapshot", name)
	}

	store.Dispatch(uistate.EnsureThread{ThreadRef: uistate.Ref("ws", "th")})
	name, data := readEvent(t, r)
	if name != string(uistate.KindEnsureThread) {
		t.Fatalf("event = %q", name)
	}
	var env struct {
		Seq  uint64 `json:"seq"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	if env.Seq == 0 || env.Type != string(uistate.KindEnsureThread) {
		t.Fatalf("envelope = %+v", env)
	}
	cancel()
}
