package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/codex"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/reconcile"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
	apperrors "github.com/xiaojiou176/CodexMonitor-sub005/pkg/errors"
)

type emitted struct {
	name string
	data any
}

type emitRecorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *emitRecorder) emit(name string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{name: name, data: data})
}

func (r *emitRecorder) named(name string) []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emitted
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T) (*ConsoleService, *emitRecorder) {
	t.Helper()
	store := uistate.NewStore()
	ring := diagnostics.NewRing(50)
	svc := NewConsoleService(store, nil, ring, codex.NewConnections())
	svc.engine = reconcile.New(reconcile.Options{
		State: store,
		Sink:  ring,
		Hooks: svc.hooks(),
	})
	rec := &emitRecorder{}
	svc.emit = rec.emit
	if err := svc.ServiceStartup(context.Background(), application.ServiceOptions{}); err != nil {
		t.Fatalf("ServiceStartup: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.ServiceShutdown()
		svc.engine.Close()
	})
	return svc, rec
}

func TestConsoleServiceForwardsActions(t *testing.T) {
	svc, rec := newTestService(t)

	svc.store.Dispatch(uistate.EnsureThread{ThreadRef: uistate.Ref("ws", "t1")})

	got := rec.named(eventThreadAction)
	if len(got) != 1 {
		t.Fatalf("thread/action events = %d, want 1", len(got))
	}
	env, ok := got[0].data.(uistate.Envelope)
	if !ok {
		t.Fatalf("payload type = %T, want uistate.Envelope", got[0].data)
	}
	if env.Type != uistate.KindEnsureThread || env.Seq != 1 {
		t.Fatalf("envelope = %+v", env)
	}

	_ = svc.ServiceShutdown()
	svc.store.Dispatch(uistate.EnsureThread{ThreadRef: uistate.Ref("ws", "t2")})
	if n := len(rec.named(eventThreadAction)); n != 1 {
		t.Fatalf("events after shutdown = %d, want 1", n)
	}
}

func TestConsoleServiceWithoutRuntimeDropsQuietly(t *testing.T) {
	svc, _ := newTestService(t)
	svc.emit = nil
	svc.store.Dispatch(uistate.EnsureThread{ThreadRef: uistate.Ref("ws", "t1")})
	if _, ok := svc.store.Thread("ws", "t1"); !ok {
		t.Fatal("dispatch should still apply without wails runtime")
	}
}

func TestConsoleServiceThreadsHidesHidden(t *testing.T) {
	svc, _ := newTestService(t)
	svc.store.Dispatch(uistate.EnsureThread{ThreadRef: uistate.Ref("ws", "visible")})
	svc.store.Dispatch(uistate.EnsureThread{ThreadRef: uistate.Ref("ws", "bg")})
	svc.store.Dispatch(uistate.HideThread{ThreadRef: uistate.Ref("ws", "bg")})

	threads := svc.Threads("ws")
	if len(threads) != 1 || threads[0].ID != "visible" {
		t.Fatalf("threads = %+v, want only visible", threads)
	}
	if got := svc.Threads("none"); got == nil || len(got) != 0 {
		t.Fatalf("unknown workspace threads = %#v, want empty slice", got)
	}
}

func TestConsoleServiceRenameAndActivate(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.RenameThread("ws", " ", "x"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("empty thread rename err = %v, want ErrInvalidInput", err)
	}
	if err := svc.RenameThread("ws", "t1", "My thread"); err != nil {
		t.Fatalf("RenameThread: %v", err)
	}
	if got := svc.store.CustomName("ws", "t1"); got != "My thread" {
		t.Fatalf("custom name = %q", got)
	}

	svc.SetActiveThread("ws", "t1")
	if got := svc.store.ActiveThreadID("ws"); got != "t1" {
		t.Fatalf("active thread = %q, want t1", got)
	}
}

func TestConsoleServiceInterruptQueuesWithoutTurn(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.InterruptTurn("ws", ""); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("empty thread interrupt err = %v", err)
	}
	sent, err := svc.InterruptTurn("ws", "t1")
	if err != nil || sent {
		t.Fatalf("InterruptTurn = (%v, %v), want queued", sent, err)
	}
}

func TestConsoleServiceResumeWithoutConnection(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ResumeThread("ws", "t1")
	if !errors.Is(err, apperrors.ErrNotConnected) {
		t.Fatalf("ResumeThread err = %v, want ErrNotConnected", err)
	}
	res := svc.Diagnostics(0, 10, string(diagnostics.SourceError))
	if len(res.Entries) != 1 || res.Entries[0].Label != "thread/resume" {
		t.Fatalf("diagnostics = %+v, want one thread/resume error", res.Entries)
	}

	svc.conns = nil
	if _, err := svc.ResumeThread("ws", "t1"); !errors.Is(err, apperrors.ErrNotConnected) {
		t.Fatalf("nil conns err = %v", err)
	}
	if got := svc.Workspaces(); got == nil || len(got) != 0 {
		t.Fatalf("Workspaces() = %#v, want empty slice", got)
	}
}

func TestConsoleServiceHooksEmit(t *testing.T) {
	svc, rec := newTestService(t)
	h := svc.hooks()
	h.OnSubAgent("ws", "child")
	h.OnReviewExited("ws", "t1")
	h.OnThreadStarted("ws", "t2")

	for _, tc := range []struct {
		event  string
		thread string
	}{
		{eventSubAgent, "child"},
		{eventReviewExited, "t1"},
		{eventThreadStarted, "t2"},
	} {
		got := rec.named(tc.event)
		if len(got) != 1 {
			t.Fatalf("%s events = %d, want 1", tc.event, len(got))
		}
		payload, _ := got[0].data.(map[string]string)
		if payload["workspaceId"] != "ws" || payload["threadId"] != tc.thread {
			t.Fatalf("%s payload = %v", tc.event, got[0].data)
		}
	}
}

func TestStderrForwarder(t *testing.T) {
	var got []codex.Notification
	fwd := stderrForwarder("ws", func(n codex.Notification) { got = append(got, n) })
	fwd("boom")

	if len(got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(got))
	}
	n := got[0]
	if n.WorkspaceID != "ws" || n.Method != codex.MethodStderr || n.Params["line"] != "boom" {
		t.Fatalf("notification = %+v", n)
	}
}

func TestShouldLogBridgeEmit(t *testing.T) {
	tests := []struct {
		kind uistate.ActionKind
		seq  int64
		want bool
	}{
		{uistate.KindEnsureThread, 1, true},
		{uistate.KindAppendAgentDelta, 1, false},
		{uistate.KindAppendAgentDelta, bridgeEmitSampleEvery, true},
		{uistate.KindAppendToolOutput, 7, false},
		{uistate.KindMarkProcessing, 3, false},
		{uistate.KindCompleteAgentMessage, 3, true},
	}
	for _, tt := range tests {
		if got := shouldLogBridgeEmit(tt.kind, tt.seq); got != tt.want {
			t.Errorf("shouldLogBridgeEmit(%s, %d) = %v, want %v", tt.kind, tt.seq, got, tt.want)
		}
	}
}

func TestResolveBuildInfo(t *testing.T) {
	tests := []struct {
		name        string
		version     string
		commit      string
		builtAt     string
		vcs         vcsInfo
		wantVersion string
		wantCommit  string
		wantTime    string
	}{
		{
			name:        "no info",
			version:     "dev",
			commit:      "unknown",
			wantVersion: "dev",
			wantCommit:  "unknown",
			wantTime:    "unknown",
		},
		{
			name:        "vcs fallback",
			version:     "dev",
			commit:      "",
			vcs:         vcsInfo{revision: "0123456789abcdef", time: "2026-01-02T03:04:05Z", modified: true},
			wantVersion: "dev+0123456789ab-dirty",
			wantCommit:  "0123456789ab-dirty",
			wantTime:    "2026-01-02 03:04:05 UTC",
		},
		{
			name:        "ldflags win",
			version:     "v1.2.0",
			commit:      "abc123",
			builtAt:     "nightly",
			vcs:         vcsInfo{revision: "ffffffffffffffff"},
			wantVersion: "v1.2.0",
			wantCommit:  "abc123",
			wantTime:    "nightly",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveBuildInfo(tt.version, tt.commit, tt.builtAt, tt.vcs)
			if got.Version != tt.wantVersion || got.Commit != tt.wantCommit || got.BuildTime != tt.wantTime {
				t.Fatalf("resolveBuildInfo = %+v", got)
			}
			if !strings.Contains(got.Runtime, "/") {
				t.Fatalf("runtime = %q", got.Runtime)
			}
		})
	}
}

func TestCallerTrace(t *testing.T) {
	if got := callerTrace(1, 0); got != "" {
		t.Fatalf("callerTrace(maxFrames=0) = %q", got)
	}
	if got := callerTrace(1, 4); !strings.Contains(got, "TestCallerTrace") {
		t.Fatalf("callerTrace = %q, want test frame", got)
	}
}

func TestWithThreadID(t *testing.T) {
	if got := withThreadID(nil, "t1"); got["id"] != "t1" {
		t.Fatalf("nil snapshot = %v", got)
	}
	src := map[string]any{"turns": []any{}}
	got := withThreadID(src, "t1")
	if got["id"] != "t1" {
		t.Fatalf("snapshot = %v", got)
	}
	if _, ok := src["id"]; ok {
		t.Fatal("source snapshot must not be modified")
	}
	keep := map[string]any{"id": "server-id"}
	if got := withThreadID(keep, "t1"); got["id"] != "server-id" {
		t.Fatalf("existing id overwritten: %v", got)
	}
}
