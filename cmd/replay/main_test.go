package main

import (
	"strings"
	"testing"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/diagnostics"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
)

const sessionJSONL = `
# recorded session
{"method":"thread/started","params":{"thread":{"id":"t1","name":"Fix login","createdAt":1700000000}}}
{"method":"turn/started","params":{"threadId":"t1","turn":{"id":"turn-1"}}}
{"method":"item/agentMessage/delta","params":{"threadId":"t1","itemId":"m1","delta":"Hello, "}}
{"method":"item/agentMessage/delta","params":{"threadId":"t1","itemId":"m1","delta":"world"}}
{"method":"codex/stderr","params":{"line":"warn: slow disk"}}
not json
{"params":{"threadId":"t1"}}
{"method":"item/completed","params":{"threadId":"t1","turnId":"turn-1","item":{"id":"m1","type":"agentMessage","text":"Hello, world"}}}
{"method":"turn/completed","params":{"threadId":"t1","turn":{"id":"turn-1"}}}
{"workspaceId":"other","method":"item/tool/requestUserInput","id":9,"params":{"threadId":"t9","questions":[{"id":"q1","question":"Continue?"}]}}
`

func findThread(snap uistate.Snapshot, ws, id string) (uistate.ThreadState, bool) {
	for _, th := range snap.Threads {
		if th.WorkspaceID == ws && th.ID == id {
			return th, true
		}
	}
	return uistate.ThreadState{}, false
}

func TestReplaySession(t *testing.T) {
	res, err := Replay(strings.NewReader(sessionJSONL), Options{Workspace: "ws", Diagnostics: true})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Events != 8 || res.Skipped != 2 {
		t.Fatalf("events=%d skipped=%d, want 8/2", res.Events, res.Skipped)
	}

	th, ok := findThread(res.Snapshot, "ws", "t1")
	if !ok {
		t.Fatalf("thread t1 missing: %+v", res.Snapshot.Threads)
	}
	if th.IsProcessing {
		t.Fatal("turn completed, thread should be idle")
	}
	if th.Name != "Fix login" {
		t.Fatalf("name = %q", th.Name)
	}
	if th.LastAgentMessage != "Hello, world" {
		t.Fatalf("last message = %q", th.LastAgentMessage)
	}
	if len(th.Items) != 1 || th.Items[0].Text != "Hello, world" {
		t.Fatalf("items = %+v, want merged delta text", th.Items)
	}

	if len(res.Snapshot.UserInputRequests) != 1 {
		t.Fatalf("user input requests = %+v", res.Snapshot.UserInputRequests)
	}
	if got := res.Snapshot.UserInputRequests[0].WorkspaceID; got != "other" {
		t.Fatalf("request workspace = %q, want other", got)
	}

	var stderrEntries int
	for _, e := range res.Diagnostics {
		if e.Source == diagnostics.SourceStderr {
			stderrEntries++
		}
	}
	if stderrEntries != 1 {
		t.Fatalf("stderr diagnostics = %d, want 1 flushed on close", stderrEntries)
	}
}

func TestReplayWithoutDiagnostics(t *testing.T) {
	res, err := Replay(strings.NewReader(sessionJSONL), Options{Workspace: "ws"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if res.Diagnostics != nil {
		t.Fatalf("diagnostics = %d entries, want none", len(res.Diagnostics))
	}
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		ok     bool
		wantWS string
		wantID any
	}{
		{"default workspace", `{"method":"turn/started","params":{}}`, true, "def", nil},
		{"explicit workspace", `{"workspaceId":"a","method":"x"}`, true, "a", nil},
		{"workspace in params", `{"method":"x","params":{"workspaceId":"p"}}`, true, "p", nil},
		{"request id", `{"method":"x","requestId":"r1","id":5}`, true, "def", "r1"},
		{"json-rpc id", `{"method":"x","id":5}`, true, "def", float64(5)},
		{"missing method", `{"params":{}}`, false, "", nil},
		{"invalid", `{`, false, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := parseLine(tt.line, "def")
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if n.WorkspaceID != tt.wantWS {
				t.Fatalf("workspace = %q, want %q", n.WorkspaceID, tt.wantWS)
			}
			if n.RequestID != tt.wantID {
				t.Fatalf("request id = %#v, want %#v", n.RequestID, tt.wantID)
			}
		})
	}
}
