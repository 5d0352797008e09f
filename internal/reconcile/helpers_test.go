package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
)

// recordingState 真实 Store + 记录所有派发的 action。
type recordingState struct {
	*uistate.Store

	mu      sync.Mutex
	actions []uistate.Action
}

func newRecordingState() *recordingState {
	return &recordingState{Store: uistate.NewStore()}
}

func (r *recordingState) Dispatch(a uistate.Action) {
	r.mu.Lock()
	r.actions = append(r.actions, a)
	r.mu.Unlock()
	r.Store.Dispatch(a)
}

func (r *recordingState) all() []uistate.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uistate.Action(nil), r.actions...)
}

func (r *recordingState) reset() {
	r.mu.Lock()
	r.actions = nil
	r.mu.Unlock()
}

func (r *recordingState) count(kind uistate.ActionKind) int {
	n := 0
	for _, a := range r.all() {
		if a.Kind() == kind {
			n++
		}
	}
	return n
}

func (r *recordingState) thread(ws, id string) uistate.ThreadState {
	t, _ := r.Store.Thread(ws, id)
	return t
}

// manualScheduler 手动触发的调度器。
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

type manualTask struct {
	fn        func()
	cancelled bool
}

func (m *manualScheduler) Schedule(fn func()) func() {
	t := &manualTask{fn: fn}
	m.mu.Lock()
	m.tasks = append(m.tasks, t)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		t.cancelled = true
		m.mu.Unlock()
	}
}

// pending 未取消的任务数。
func (m *manualScheduler) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// runAll 执行当前所有未取消的任务。
func (m *manualScheduler) runAll() {
	m.mu.Lock()
	tasks := m.tasks
	m.tasks = nil
	m.mu.Unlock()
	for _, t := range tasks {
		m.mu.Lock()
		cancelled := t.cancelled
		m.mu.Unlock()
		if !cancelled {
			t.fn()
		}
	}
}

type interruptCall struct {
	WorkspaceID, ThreadID, TurnID string
}

type fakeInterrupter struct {
	calls chan interruptCall
	err   error
}

func newFakeInterrupter() *fakeInterrupter {
	return &fakeInterrupter{calls: make(chan interruptCall, 8)}
}

func (f *fakeInterrupter) InterruptTurn(_ context.Context, ws, thread, turn string) error {
	f.calls <- interruptCall{ws, thread, turn}
	return f.err
}

func (f *fakeInterrupter) wait(timeout time.Duration) (interruptCall, bool) {
	select {
	case c := <-f.calls:
		return c, true
	case <-time.After(timeout):
		return interruptCall{}, false
	}
}

// collectSink 收集诊断条目。
type collectSink struct {
	mu      sync.Mutex
	entries []diagnostics.Entry
}

func (s *collectSink) Record(e diagnostics.Entry) {
	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()
}

func (s *collectSink) all() []diagnostics.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]diagnostics.Entry(nil), s.entries...)
}

func (s *collectSink) bySource(src diagnostics.Source) []diagnostics.Entry {
	var out []diagnostics.Entry
	for _, e := range s.all() {
		if e.Source == src {
			out = append(out, e)
		}
	}
	return out
}

func fixedNow() time.Time { return time.UnixMilli(1_700_000_000_000) }
