package uistate

import (
	"sync"
	"testing"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
)

func TestDispatch_EnsureThreadCreatesOnce(t *testing.T) {
	s := NewStore()
	var got []Envelope
	s.Subscribe(func(env Envelope) { got = append(got, env) })

	s.Dispatch(EnsureThread{Ref("ws", "t1")})
	s.Dispatch(EnsureThread{Ref("ws", "t1")})
	s.Dispatch(EnsureThread{Ref("", "t1")})

	if len(got) != 1 {
		t.Fatalf("envelopes = %d, want 1", len(got))
	}
	if got[0].Seq != 1 || got[0].Type != KindEnsureThread {
		t.Errorf("envelope = %+v", got[0])
	}
	if _, ok := s.Thread("ws", "t1"); !ok {
		t.Error("thread not created")
	}
}

func TestDispatch_AgentDeltaThenComplete(t *testing.T) {
	s := NewStore()
	ref := Ref("ws", "t1")
	s.Dispatch(AppendAgentDelta{ThreadRef: ref, ItemID: "m1", Delta: "Hello, "})
	s.Dispatch(AppendAgentDelta{ThreadRef: ref, ItemID: "m1", Delta: "world"})

	th, _ := s.Thread("ws", "t1")
	if len(th.Items) != 1 || th.Items[0].Text != "Hello, world" || th.Items[0].Status != "inProgress" {
		t.Fatalf("items = %+v", th.Items)
	}

	s.Dispatch(CompleteAgentMessage{ThreadRef: ref, ItemID: "m1", Text: "Hello, world!"})
	th, _ = s.Thread("ws", "t1")
	if th.Items[0].Text != "Hello, world!" || th.Items[0].Status != "completed" {
		t.Errorf("item = %+v", th.Items[0])
	}
	if th.Name != "Hello, world!" {
		t.Errorf("auto name = %q", th.Name)
	}
	if th.LastAgentMessage != "Hello, world!" {
		t.Errorf("LastAgentMessage = %q", th.LastAgentMessage)
	}
}

func TestDispatch_CustomNameNeverOverwritten(t *testing.T) {
	s := NewStore()
	ref := Ref("ws", "t1")
	s.Dispatch(SetCustomName{ThreadRef: ref, Name: "Mine"})
	s.Dispatch(SetThreadName{ThreadRef: ref, Name: "Server name"})
	s.Dispatch(CompleteAgentMessage{ThreadRef: ref, ItemID: "m1", Text: "body", HasCustomName: true})

	th, _ := s.Thread("ws", "t1")
	if th.DisplayName() != "Mine" {
		t.Errorf("DisplayName = %q, want Mine", th.DisplayName())
	}
	if th.Name != "Server name" {
		t.Errorf("Name = %q", th.Name)
	}
	if s.CustomName("ws", "t1") != "Mine" {
		t.Errorf("CustomName = %q", s.CustomName("ws", "t1"))
	}
}

func TestDispatch_ProcessingAndTurn(t *testing.T) {
	s := NewStore()
	ref := Ref("ws", "t1")
	var kinds []ActionKind
	s.Subscribe(func(env Envelope) { kinds = append(kinds, env.Type) })

	s.Dispatch(MarkProcessing{ThreadRef: ref, IsProcessing: true, TimestampMs: 100})
	s.Dispatch(MarkProcessing{ThreadRef: ref, IsProcessing: true, TimestampMs: 200})
	s.Dispatch(SetActiveTurnID{ThreadRef: ref, TurnID: "turn-1"})

	th, _ := s.Thread("ws", "t1")
	if !th.IsProcessing || th.ProcessingStartedAtMs != 100 {
		t.Errorf("processing = %v started = %d", th.IsProcessing, th.ProcessingStartedAtMs)
	}
	if s.ActiveTurnID("ws", "t1") != "turn-1" {
		t.Errorf("ActiveTurnID = %q", s.ActiveTurnID("ws", "t1"))
	}
	if len(kinds) != 2 {
		t.Errorf("kinds = %v, want duplicate markProcessing suppressed", kinds)
	}

	s.Dispatch(MarkProcessing{ThreadRef: ref, IsProcessing: false})
	s.Dispatch(SetActiveTurnID{ThreadRef: ref})
	th, _ = s.Thread("ws", "t1")
	if th.IsProcessing || th.ProcessingStartedAtMs != 0 || th.ActiveTurnID != "" {
		t.Errorf("thread = %+v", th)
	}
}

func TestDispatch_PlanIsCopied(t *testing.T) {
	s := NewStore()
	plan := normalize.NormalizePlanUpdate("turn-1", nil, []any{map[string]any{"step": "a", "status": "completed"}})
	s.Dispatch(SetThreadPlan{ThreadRef: Ref("ws", "t1"), Plan: plan})
	plan.Steps[0].Step = "mutated"

	got := s.ThreadPlan("ws", "t1")
	if got == nil || got.Steps[0].Step != "a" {
		t.Fatalf("plan = %+v", got)
	}
	got.Steps[0].Step = "mutated again"
	if s.ThreadPlan("ws", "t1").Steps[0].Step != "a" {
		t.Error("ThreadPlan must return a copy")
	}

	s.Dispatch(ClearThreadPlan{Ref("ws", "t1")})
	if s.ThreadPlan("ws", "t1") != nil {
		t.Error("plan not cleared")
	}
}

func TestDispatch_ParentEnsuresParentThread(t *testing.T) {
	s := NewStore()
	s.Dispatch(SetThreadParent{ThreadRef: Ref("ws", "child"), ParentID: "parent"})

	child, _ := s.Thread("ws", "child")
	if child.ParentID != "parent" {
		t.Errorf("ParentID = %q", child.ParentID)
	}
	if _, ok := s.Thread("ws", "parent"); !ok {
		t.Error("parent thread should be ensured")
	}
}

func TestDispatch_ToolOutputAndReasoning(t *testing.T) {
	s := NewStore()
	ref := Ref("ws", "t1")
	s.Dispatch(UpsertItem{ThreadRef: ref, Item: normalize.ConversationItem{ID: "cmd", Type: normalize.ItemTypeCommandExecution, Status: "inProgress"}})
	s.Dispatch(AppendToolOutput{ThreadRef: ref, ItemID: "cmd", Delta: "line1\n"})
	s.Dispatch(AppendToolOutput{ThreadRef: ref, ItemID: "cmd", Delta: "line2\n"})
	s.Dispatch(UpsertItem{ThreadRef: ref, Item: normalize.ConversationItem{ID: "cmd", Status: "completed"}})

	s.Dispatch(AppendReasoningSummary{ThreadRef: ref, ItemID: "r1", Delta: "first"})
	s.Dispatch(AppendReasoningSummaryBoundary{ThreadRef: ref, ItemID: "r1"})
	s.Dispatch(AppendReasoningSummaryBoundary{ThreadRef: ref, ItemID: "r1"})
	s.Dispatch(AppendReasoningSummary{ThreadRef: ref, ItemID: "r1", Delta: "second"})

	th, _ := s.Thread("ws", "t1")
	if len(th.Items) != 2 {
		t.Fatalf("items = %+v", th.Items)
	}
	cmd := th.Items[0]
	if cmd.Type != normalize.ItemTypeCommandExecution || cmd.Status != "completed" || cmd.Output != "line1\nline2\n" {
		t.Errorf("cmd = %+v", cmd)
	}
	if th.Items[1].Summary != "first\n\nsecond" {
		t.Errorf("summary = %q", th.Items[1].Summary)
	}
}

func TestDispatch_RateLimitsAndApprovals(t *testing.T) {
	s := NewStore()
	used := normalize.NormalizeRateLimits(map[string]any{"primary": map[string]any{"usedPercent": float64(42)}})
	s.Dispatch(SetRateLimits{WorkspaceID: "ws", RateLimits: used})

	rl := s.RateLimits("ws")
	if rl == nil || rl.Primary.UsedPercent != 42 {
		t.Fatalf("rate limits = %+v", rl)
	}
	if s.RateLimits("other") != nil {
		t.Error("unknown workspace should have nil rate limits")
	}

	s.Dispatch(AddApproval{Approval: ApprovalRequest{WorkspaceID: "ws", ThreadID: "t1", RequestID: float64(7), Method: "item/commandExecution/requestApproval"}})
	s.Dispatch(AddApproval{Approval: ApprovalRequest{WorkspaceID: "ws", ThreadID: "t1", RequestID: "7"}})
	s.Dispatch(AddUserInputRequest{Request: UserInputRequest{WorkspaceID: "ws", ThreadID: "t1", RequestID: "q1"}})
	s.Dispatch(AddUserInputRequest{Request: UserInputRequest{WorkspaceID: "ws", ThreadID: "t1"}})

	snap := s.Snapshot()
	if len(snap.Approvals) != 1 {
		t.Errorf("approvals = %d, want 1 (deduplicated)", len(snap.Approvals))
	}
	if len(snap.UserInputRequests) != 1 {
		t.Errorf("user inputs = %d, want 1", len(snap.UserInputRequests))
	}
}

func TestDispatch_ActiveThreadClearsUnread(t *testing.T) {
	s := NewStore()
	ref := Ref("ws", "t1")
	s.Dispatch(MarkUnread{ThreadRef: ref, HasUnread: true})
	s.Dispatch(SetActiveThread{ref})

	th, _ := s.Thread("ws", "t1")
	if th.HasUnread {
		t.Error("HasUnread should be cleared when thread becomes active")
	}
	if s.ActiveThreadID("ws") != "t1" {
		t.Errorf("ActiveThreadID = %q", s.ActiveThreadID("ws"))
	}
}

func TestDispatch_ErrorMessageAppendsItem(t *testing.T) {
	s := NewStore()
	ref := Ref("ws", "t1")
	s.Dispatch(PushThreadErrorMessage{ThreadRef: ref, Message: "Turn failed: boom"})
	s.Dispatch(PushThreadErrorMessage{ThreadRef: ref, Message: "Turn failed."})

	th, _ := s.Thread("ws", "t1")
	if th.LastError != "Turn failed." {
		t.Errorf("LastError = %q", th.LastError)
	}
	if len(th.Items) != 2 || th.Items[0].Type != "error" || th.Items[0].ID == th.Items[1].ID {
		t.Errorf("items = %+v", th.Items)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	ref := Ref("ws", "t1")
	s.Dispatch(UpsertItem{ThreadRef: ref, Item: normalize.ConversationItem{ID: "i", Type: "x", Detail: map[string]any{"k": "v"}}})
	s.Dispatch(SetThreadTurnContextWindow{ThreadRef: ref, TurnID: "turn-1", ContextWindow: 1000})

	snap := s.Snapshot()
	snap.Threads[0].Items[0].Detail["k"] = "changed"
	snap.Threads[0].TurnContextWindows["turn-1"] = 1

	th, _ := s.Thread("ws", "t1")
	if th.Items[0].Detail["k"] != "v" || th.TurnContextWindows["turn-1"] != 1000 {
		t.Error("snapshot mutation leaked into store")
	}
}

func TestUnsubscribe(t *testing.T) {
	s := NewStore()
	count := 0
	cancel := s.Subscribe(func(Envelope) { count++ })
	s.Dispatch(EnsureThread{Ref("ws", "a")})
	cancel()
	s.Dispatch(EnsureThread{Ref("ws", "b")})
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestConcurrentDispatchOrdersEnvelopes(t *testing.T) {
	s := NewStore()
	var mu sync.Mutex
	var seqs []uint64
	s.Subscribe(func(env Envelope) {
		mu.Lock()
		seqs = append(seqs, env.Seq)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Dispatch(AppendAgentDelta{ThreadRef: Ref("ws", "t1"), ItemID: "m", Delta: "x"})
		}()
	}
	wg.Wait()

	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("seqs out of order at %d: %v", i, seqs)
		}
	}
	th, _ := s.Thread("ws", "t1")
	if len(th.Items[0].Text) != 50 {
		t.Errorf("text len = %d, want 50", len(th.Items[0].Text))
	}
}
