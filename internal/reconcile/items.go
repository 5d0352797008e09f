package reconcile

import (
	"maps"
	"time"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
)

// ItemHandler 条目级事件: agent 增量、条目开始/完成、工具输出、推理与计划增量。
type ItemHandler struct {
	state  StateContainer
	deltas *DeltaCoalescer
	linker *Linker
	hooks  Hooks
	now    func() time.Time
}

// NewItemHandler 创建条目处理器。
func NewItemHandler(state StateContainer, deltas *DeltaCoalescer, linker *Linker, hooks Hooks, now func() time.Time) *ItemHandler {
	if now == nil {
		now = time.Now
	}
	return &ItemHandler{state: state, deltas: deltas, linker: linker, hooks: hooks, now: now}
}

func (h *ItemHandler) nowMs() int64 { return h.now().UnixMilli() }

func (h *ItemHandler) markProcessing(ref uistate.ThreadRef, processing bool) {
	h.state.Dispatch(uistate.MarkProcessing{ThreadRef: ref, IsProcessing: processing, TimestampMs: h.nowMs()})
}

// OnAgentMessageDelta 增量进入合并器, 由调度周期统一 flush。
func (h *ItemHandler) OnAgentMessageDelta(workspaceID, threadID, itemID, delta, turnID string) {
	if threadID == "" || itemID == "" {
		return
	}
	ref := uistate.Ref(workspaceID, threadID)
	h.state.Dispatch(uistate.EnsureThread{ThreadRef: ref})
	h.markProcessing(ref, true)
	hasCustomName := h.state.CustomName(workspaceID, threadID) != ""
	h.deltas.Add(workspaceID, threadID, itemID, delta, hasCustomName, turnID)
}

// OnAgentMessageCompleted 先 flush 该条目的待处理增量, 再写入完整文本。
func (h *ItemHandler) OnAgentMessageCompleted(workspaceID, threadID, itemID, text, turnID string) {
	if threadID == "" || itemID == "" {
		return
	}
	ref := uistate.Ref(workspaceID, threadID)
	h.deltas.FlushItem(workspaceID, threadID, itemID)
	h.state.Dispatch(uistate.CompleteAgentMessage{
		ThreadRef:     ref,
		ItemID:        itemID,
		Text:          text,
		HasCustomName: h.state.CustomName(workspaceID, threadID) != "",
		TurnID:        turnID,
	})
	h.state.Dispatch(uistate.SetThreadTimestamp{ThreadRef: ref, TimestampMs: h.nowMs()})
	if h.state.ActiveThreadID(workspaceID) != threadID {
		h.state.Dispatch(uistate.MarkUnread{ThreadRef: ref, HasUnread: true})
	}
}

// OnItemStarted item/started。
func (h *ItemHandler) OnItemStarted(workspaceID, threadID string, item map[string]any, turnID string) {
	h.onItemUpdate(workspaceID, threadID, item, turnID, false)
}

// OnItemCompleted item/completed。
func (h *ItemHandler) OnItemCompleted(workspaceID, threadID string, item map[string]any, turnID string) {
	h.onItemUpdate(workspaceID, threadID, item, turnID, true)
}

func (h *ItemHandler) onItemUpdate(workspaceID, threadID string, item map[string]any, turnID string, completed bool) {
	if threadID == "" || item == nil {
		return
	}
	ref := uistate.Ref(workspaceID, threadID)
	h.state.Dispatch(uistate.EnsureThread{ThreadRef: ref})
	if !completed {
		h.markProcessing(ref, true)
	}
	h.linker.ApplyCollabThreadLinks(workspaceID, threadID, item)

	itemType := normalize.ItemType(item)
	switch itemType {
	case normalize.ItemTypeEnteredReviewMode:
		h.state.Dispatch(uistate.MarkReviewing{ThreadRef: ref, IsReviewing: true})
	case normalize.ItemTypeExitedReviewMode:
		h.state.Dispatch(uistate.MarkReviewing{ThreadRef: ref, IsReviewing: false})
		h.markProcessing(ref, false)
		if completed {
			h.hooks.reviewExited(workspaceID, threadID)
		}
	case normalize.ItemTypeContextCompaction:
		// 注入合成状态, 前端据此显示压缩进度。
		item = maps.Clone(item)
		if completed {
			item["status"] = "completed"
		} else {
			item["status"] = "inProgress"
		}
	}

	if completed && itemType == normalize.ItemTypeAgentMessage {
		itemID := normalize.FirstString(item, "id")
		text := normalize.AsString(item["text"])
		if text == "" {
			if conv, ok := normalize.ConvertItem(item); ok {
				text = conv.Text
			}
		}
		h.OnAgentMessageCompleted(workspaceID, threadID, itemID, text, turnID)
		return
	}

	conv, ok := normalize.ConvertItem(item)
	if !ok {
		return
	}
	h.state.Dispatch(uistate.UpsertItem{
		ThreadRef:     ref,
		Item:          conv,
		HasCustomName: h.state.CustomName(workspaceID, threadID) != "",
	})
}

// OnToolOutputDelta 命令输出 / 终端交互 / 文件变更输出。
func (h *ItemHandler) OnToolOutputDelta(workspaceID, threadID, itemID, delta string) {
	if threadID == "" || itemID == "" || delta == "" {
		return
	}
	ref := uistate.Ref(workspaceID, threadID)
	h.state.Dispatch(uistate.EnsureThread{ThreadRef: ref})
	h.state.Dispatch(uistate.AppendToolOutput{ThreadRef: ref, ItemID: itemID, Delta: delta})
}

// OnReasoningSummaryDelta item/reasoning/summaryTextDelta。
func (h *ItemHandler) OnReasoningSummaryDelta(workspaceID, threadID, itemID, delta string) {
	if threadID == "" || itemID == "" || delta == "" {
		return
	}
	h.state.Dispatch(uistate.AppendReasoningSummary{ThreadRef: uistate.Ref(workspaceID, threadID), ItemID: itemID, Delta: delta})
}

// OnReasoningSummaryPartAdded 新的摘要段落。
func (h *ItemHandler) OnReasoningSummaryPartAdded(workspaceID, threadID, itemID string) {
	if threadID == "" || itemID == "" {
		return
	}
	h.state.Dispatch(uistate.AppendReasoningSummaryBoundary{ThreadRef: uistate.Ref(workspaceID, threadID), ItemID: itemID})
}

// OnReasoningTextDelta item/reasoning/textDelta。
func (h *ItemHandler) OnReasoningTextDelta(workspaceID, threadID, itemID, delta string) {
	if threadID == "" || itemID == "" || delta == "" {
		return
	}
	h.state.Dispatch(uistate.AppendReasoningContent{ThreadRef: uistate.Ref(workspaceID, threadID), ItemID: itemID, Delta: delta})
}

// OnPlanDelta item/plan/delta。
func (h *ItemHandler) OnPlanDelta(workspaceID, threadID, itemID, delta string) {
	if threadID == "" || itemID == "" || delta == "" {
		return
	}
	h.state.Dispatch(uistate.AppendPlanDelta{ThreadRef: uistate.Ref(workspaceID, threadID), ItemID: itemID, Delta: delta})
}

// deltaText 增量文本字段: delta / text / chunk / output。
func deltaText(params map[string]any) string {
	for _, key := range []string{"delta", "text", "chunk", "output"} {
		if s, ok := params[key].(string); ok {
			return s
		}
	}
	return ""
}
