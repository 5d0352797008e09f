package reconcile

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
)

func subAgentSource(parent string) map[string]any {
	return map[string]any{"subAgent": map[string]any{"thread_spawn": map[string]any{"parent_thread_id": parent}}}
}

func TestLinker_FirstAssignmentAndSkips(t *testing.T) {
	st := newRecordingState()
	l := NewLinker(st, Hooks{})

	l.UpdateThreadParent("ws", "p", []string{"c1", " c2 ", "", "p"}, LinkOptions{})
	if got := l.Parent("ws", "c1"); got != "p" {
		t.Fatalf("c1 parent = %q", got)
	}
	if got := l.Parent("ws", "c2"); got != "p" {
		t.Fatalf("c2 parent = %q", got)
	}
	if got := l.Parent("ws", "p"); got != "" {
		t.Fatalf("self edge recorded: %q", got)
	}
	if n := st.count(uistate.KindSetThreadParent); n != 2 {
		t.Fatalf("setThreadParent dispatched %d times, want 2", n)
	}

	st.reset()
	l.UpdateThreadParent("ws", "p", []string{"c1"}, LinkOptions{})
	if n := len(st.all()); n != 0 {
		t.Fatalf("already-parented child dispatched %d actions", n)
	}
	if got := st.thread("ws", "c1").ParentID; got != "p" {
		t.Fatalf("store parent = %q", got)
	}
}

func TestLinker_ReparentRequiresPermission(t *testing.T) {
	l := NewLinker(newRecordingState(), Hooks{})
	l.UpdateThreadParent("ws", "a", []string{"c"}, LinkOptions{})

	l.UpdateThreadParent("ws", "b", []string{"c"}, LinkOptions{})
	if got := l.Parent("ws", "c"); got != "a" {
		t.Fatalf("reparent without permission: parent = %q", got)
	}

	l.UpdateThreadParent("ws", "b", []string{"c"}, LinkOptions{Source: subAgentSource("b")})
	if got := l.Parent("ws", "c"); got != "b" {
		t.Fatalf("inferred reparent: parent = %q, want b", got)
	}
}

func TestLinker_ReparentAtMostOnce(t *testing.T) {
	l := NewLinker(newRecordingState(), Hooks{})
	l.UpdateThreadParent("ws", "a", []string{"c"}, LinkOptions{})
	l.UpdateThreadParent("ws", "b", []string{"c"}, LinkOptions{AllowReparent: true})
	l.UpdateThreadParent("ws", "d", []string{"c"}, LinkOptions{AllowReparent: true})
	l.UpdateThreadParent("ws", "e", []string{"c"}, LinkOptions{Source: subAgentSource("e")})
	if got := l.Parent("ws", "c"); got != "b" {
		t.Fatalf("parent = %q, want b (first reparent wins)", got)
	}
}

func TestLinker_RejectsCycles(t *testing.T) {
	l := NewLinker(newRecordingState(), Hooks{})
	l.UpdateThreadParent("ws", "a", []string{"b"}, LinkOptions{})
	l.UpdateThreadParent("ws", "b", []string{"c"}, LinkOptions{})

	// c → a 会形成 a → b → c → a。
	l.UpdateThreadParent("ws", "c", []string{"a"}, LinkOptions{AllowReparent: true})
	if got := l.Parent("ws", "a"); got != "" {
		t.Fatalf("cycle edge accepted: a parent = %q", got)
	}
}

func TestLinker_WorkspacesAreIndependent(t *testing.T) {
	l := NewLinker(newRecordingState(), Hooks{})
	l.UpdateThreadParent("ws1", "a", []string{"b"}, LinkOptions{})
	l.UpdateThreadParent("ws2", "b", []string{"a"}, LinkOptions{})
	if l.Parent("ws2", "a") != "b" {
		t.Fatal("edge in another workspace must not be treated as a cycle")
	}
}

// 任意调用序列之后, 沿 parent 链都回不到自身。
func TestLinker_NeverCreatesCycleRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := NewLinker(newRecordingState(), Hooks{})
	ids := []string{"t0", "t1", "t2", "t3", "t4", "t5"}
	for i := 0; i < 500; i++ {
		parent := ids[rng.Intn(len(ids))]
		child := ids[rng.Intn(len(ids))]
		l.UpdateThreadParent("ws", parent, []string{child}, LinkOptions{AllowReparent: rng.Intn(2) == 0})
	}
	for _, start := range ids {
		seen := map[string]bool{}
		for cur := l.Parent("ws", start); cur != ""; cur = l.Parent("ws", cur) {
			if cur == start {
				t.Fatalf("cycle through %s", start)
			}
			if seen[cur] {
				t.Fatalf("cycle reachable from %s at %s", start, cur)
			}
			seen[cur] = true
		}
	}
}

func TestIsSubAgentSource(t *testing.T) {
	tests := []struct {
		name   string
		source any
		want   bool
		parent string
	}{
		{"camel", subAgentSource("p1"), true, "p1"},
		{"snake", map[string]any{"sub_agent": map[string]any{"threadSpawn": map[string]any{"parentThreadId": "p2"}}}, true, "p2"},
		{"lowercase", map[string]any{"subagent": map[string]any{"threadspawn": map[string]any{"parentthreadid": "p3"}}}, true, "p3"},
		{"marker without parent", map[string]any{"subAgent": map[string]any{"thread_spawn": true}}, true, ""},
		{"other subagent kind", map[string]any{"subAgent": map[string]any{"review": map[string]any{}}}, false, ""},
		{"string source", "cli", false, ""},
		{"nil", nil, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSubAgentSource(tt.source); got != tt.want {
				t.Errorf("IsSubAgentSource = %v, want %v", got, tt.want)
			}
			if got := ParentFromSource(tt.source); got != tt.parent {
				t.Errorf("ParentFromSource = %q, want %q", got, tt.parent)
			}
		})
	}
}

func TestLinker_ApplyCollabThreadLinks(t *testing.T) {
	var marked []string
	st := newRecordingState()
	l := NewLinker(st, Hooks{OnSubAgent: func(ws, id string) { marked = append(marked, ws+"/"+id) }})

	l.ApplyCollabThreadLinks("ws", "fallback", map[string]any{
		"type":               "collabAgentToolCall",
		"receiverThreadIds":  []any{"r1", "r2"},
		"receiver_thread_id": "r3",
		"newThreadId":        "r1",
	})
	for _, id := range []string{"r1", "r2", "r3"} {
		if got := l.Parent("ws", id); got != "fallback" {
			t.Errorf("%s parent = %q, want fallback", id, got)
		}
	}
	if fmt.Sprint(marked) != "[ws/r1 ws/r2 ws/r3]" {
		t.Fatalf("marked = %v", marked)
	}

	l.ApplyCollabThreadLinks("ws", "fallback", map[string]any{
		"type":             "collabToolCall",
		"senderThreadId":   "sender",
		"receiverThreadId": "r4",
	})
	if got := l.Parent("ws", "r4"); got != "sender" {
		t.Fatalf("r4 parent = %q, want sender", got)
	}
}

func TestLinker_ApplyCollabThreadLinksIgnoresOtherItems(t *testing.T) {
	st := newRecordingState()
	l := NewLinker(st, Hooks{})
	l.ApplyCollabThreadLinks("ws", "t", map[string]any{"type": "agentMessage", "receiverThreadId": "r"})
	l.ApplyCollabThreadLinks("ws", "t", nil)
	if l.Parent("ws", "r") != "" || len(st.all()) != 0 {
		t.Fatal("non-collab items must not link threads")
	}
}
