// reducer.go — action → 状态变更。
package uistate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
)

// autoNameMaxRunes 由首条 agent 消息生成线程名称时的最大长度。
const autoNameMaxRunes = 38

type threadAction interface {
	Action
	Key() ThreadKey
}

// applyLocked 应用 action, 返回是否产生了需要广播的变更。
func (s *Store) applyLocked(a Action) bool {
	switch act := a.(type) {
	case SetRateLimits:
		if strings.TrimSpace(act.WorkspaceID) == "" {
			return false
		}
		snap := act.RateLimits
		s.rateLimits[act.WorkspaceID] = snap.Clone()
		return true
	case AddApproval:
		return s.addApprovalLocked(act.Approval)
	case AddUserInputRequest:
		return s.addUserInputLocked(act.Request)
	}

	ta, ok := a.(threadAction)
	if !ok || !validKey(ta.Key()) {
		return false
	}
	e, created := s.ensureThreadLocked(ta.Key())
	t := &e.state

	switch act := a.(type) {
	case EnsureThread:
		return created

	case SetThreadName:
		name := strings.TrimSpace(act.Name)
		if name == "" || name == t.Name {
			return created
		}
		t.Name = name

	case SetCustomName:
		t.CustomName = strings.TrimSpace(act.Name)

	case SetThreadTimestamp:
		if act.TimestampMs <= t.UpdatedAtMs {
			return created
		}
		t.UpdatedAtMs = act.TimestampMs

	case AppendAgentDelta:
		if act.ItemID == "" {
			return created
		}
		item := e.itemLocked(act.ItemID, normalize.ItemTypeAgentMessage)
		item.Text += act.Delta
		if item.Status == "" {
			item.Status = "inProgress"
		}

	case CompleteAgentMessage:
		if act.ItemID == "" {
			return created
		}
		item := e.itemLocked(act.ItemID, normalize.ItemTypeAgentMessage)
		if act.Text != "" {
			item.Text = act.Text
		}
		item.Status = "completed"
		t.LastAgentMessage = preview(item.Text, 200)
		if !act.HasCustomName && t.CustomName == "" && t.Name == "" {
			t.Name = preview(item.Text, autoNameMaxRunes)
		}

	case AppendToolOutput:
		if act.ItemID == "" {
			return created
		}
		item := e.itemLocked(act.ItemID, "")
		item.Output += act.Delta

	case SetThreadPlan:
		t.Plan = act.Plan.Clone()

	case ClearThreadPlan:
		if t.Plan == nil {
			return created
		}
		t.Plan = nil

	case SetThreadTurnDiff:
		t.TurnDiff = act.Diff

	case SetThreadTokenUsage:
		usage := act.TokenUsage
		if usage.ModelContextWindow != nil {
			w := *usage.ModelContextWindow
			usage.ModelContextWindow = &w
		}
		t.TokenUsage = &usage

	case SetThreadTurnContextWindow:
		if act.TurnID == "" {
			return created
		}
		if t.TurnContextWindows == nil {
			t.TurnContextWindows = map[string]int64{}
		}
		t.TurnContextWindows[act.TurnID] = act.ContextWindow

	case SetThreadParent:
		parent := strings.TrimSpace(act.ParentID)
		if parent == "" || parent == t.ID {
			return created
		}
		t.ParentID = parent
		s.ensureThreadLocked(ThreadKey{WorkspaceID: act.WorkspaceID, ThreadID: parent})

	case MarkUnread:
		t.HasUnread = act.HasUnread

	case HideThread:
		t.Hidden = true

	case MarkProcessing:
		if act.IsProcessing == t.IsProcessing {
			return created
		}
		t.IsProcessing = act.IsProcessing
		if act.IsProcessing {
			t.ProcessingStartedAtMs = act.TimestampMs
		} else {
			t.ProcessingStartedAtMs = 0
		}

	case MarkReviewing:
		if act.IsReviewing == t.IsReviewing {
			return created
		}
		t.IsReviewing = act.IsReviewing

	case SetActiveTurnID:
		turnID := strings.TrimSpace(act.TurnID)
		if turnID == t.ActiveTurnID {
			return created
		}
		t.ActiveTurnID = turnID

	case PushThreadErrorMessage:
		t.LastError = act.Message
		id := fmt.Sprintf("error-%d", s.seq+1)
		item := e.itemLocked(id, "error")
		item.Text = act.Message
		item.Status = "completed"

	case UpsertItem:
		if act.Item.ID == "" {
			return created
		}
		mergeItem(e.itemLocked(act.Item.ID, act.Item.Type), act.Item)

	case AppendReasoningSummary:
		if act.ItemID == "" {
			return created
		}
		item := e.itemLocked(act.ItemID, normalize.ItemTypeReasoning)
		item.Summary += act.Delta

	case AppendReasoningSummaryBoundary:
		if act.ItemID == "" {
			return created
		}
		item := e.itemLocked(act.ItemID, normalize.ItemTypeReasoning)
		if item.Summary != "" && !strings.HasSuffix(item.Summary, "\n\n") {
			item.Summary += "\n\n"
		}

	case AppendReasoningContent:
		if act.ItemID == "" {
			return created
		}
		item := e.itemLocked(act.ItemID, normalize.ItemTypeReasoning)
		item.Text += act.Delta

	case AppendPlanDelta:
		if act.ItemID == "" {
			return created
		}
		item := e.itemLocked(act.ItemID, "plan")
		item.Text += act.Delta

	case SetActiveThread:
		s.activeThreads[act.WorkspaceID] = act.ThreadID
		t.HasUnread = false

	default:
		return created
	}
	return true
}

// mergeItem 完整条目覆盖增量累积的条目; 新值为空的字段保留旧值。
func mergeItem(dst *normalize.ConversationItem, src normalize.ConversationItem) {
	if src.Type != "" {
		dst.Type = src.Type
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.Text != "" {
		dst.Text = src.Text
	}
	if src.Summary != "" {
		dst.Summary = src.Summary
	}
	if src.Output != "" {
		dst.Output = src.Output
	}
	if src.Detail != nil {
		dst.Detail = src.Detail
	}
}

func (s *Store) addApprovalLocked(req ApprovalRequest) bool {
	if strings.TrimSpace(req.WorkspaceID) == "" || req.RequestID == nil {
		return false
	}
	for _, existing := range s.approvals {
		if existing.WorkspaceID == req.WorkspaceID && sameRequestID(existing.RequestID, req.RequestID) {
			return false
		}
	}
	s.approvals = append(s.approvals, req)
	return true
}

func (s *Store) addUserInputLocked(req UserInputRequest) bool {
	if strings.TrimSpace(req.WorkspaceID) == "" || req.RequestID == nil {
		return false
	}
	for _, existing := range s.userInputs {
		if existing.WorkspaceID == req.WorkspaceID && sameRequestID(existing.RequestID, req.RequestID) {
			return false
		}
	}
	s.userInputs = append(s.userInputs, req)
	return true
}

// sameRequestID JSON-RPC id 可能是数字或字符串。
func sameRequestID(a, b any) bool {
	return normalize.AsString(a) == normalize.AsString(b)
}

// preview 折叠空白并按 rune 截断。
func preview(text string, maxRunes int) string {
	s := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
