package reconcile

import (
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
	"github.com/xiaojiou176/CodexMonitor-sub005/internal/uistate"
	"github.com/xiaojiou176/CodexMonitor-sub005/pkg/logger"
)

// routeFunc 单个通知方法的处理函数。requestID 仅 server request 非空。
type routeFunc func(workspaceID string, requestID any, params map[string]any)

// app-server 通知方法。
const (
	MethodConnected                 = "codex/connected"
	MethodBackgroundThread          = "codex/backgroundThread"
	MethodError                     = "error"
	MethodThreadStarted             = "thread/started"
	MethodThreadNameUpdated         = "thread/name/updated"
	MethodThreadTokenUsageUpdated   = "thread/tokenUsage/updated"
	MethodTurnStarted               = "turn/started"
	MethodTurnCompleted             = "turn/completed"
	MethodTurnDiffUpdated           = "turn/diff/updated"
	MethodTurnPlanUpdated           = "turn/plan/updated"
	MethodItemStarted               = "item/started"
	MethodItemCompleted             = "item/completed"
	MethodAgentMessageDelta         = "item/agentMessage/delta"
	MethodPlanDelta                 = "item/plan/delta"
	MethodCommandOutputDelta        = "item/commandExecution/outputDelta"
	MethodTerminalInteraction       = "item/commandExecution/terminalInteraction"
	MethodFileChangeOutputDelta     = "item/fileChange/outputDelta"
	MethodReasoningSummaryDelta     = "item/reasoning/summaryTextDelta"
	MethodReasoningSummaryPartAdded = "item/reasoning/summaryPartAdded"
	MethodReasoningTextDelta        = "item/reasoning/textDelta"
	MethodRateLimitsUpdated         = "account/rateLimits/updated"
	MethodCommandApproval           = "item/commandExecution/requestApproval"
	MethodFileChangeApproval        = "item/fileChange/requestApproval"
	MethodRequestUserInput          = "item/tool/requestUserInput"
)

func (e *Engine) buildRoutes() map[string]routeFunc {
	toolOutput := func(ws string, _ any, p map[string]any) {
		e.items.OnToolOutputDelta(ws, normalize.ThreadID(p), normalize.ItemID(p), toolOutputText(p))
	}
	approval := func(method string) routeFunc {
		return func(ws string, requestID any, p map[string]any) {
			e.onApprovalRequest(ws, method, requestID, p)
		}
	}
	return map[string]routeFunc{
		MethodConnected: func(ws string, _ any, _ map[string]any) {
			logger.Info("reconcile: workspace connected", logger.FieldWorkspaceID, ws)
		},
		MethodBackgroundThread: func(ws string, _ any, p map[string]any) {
			if id := normalize.ThreadID(p); id != "" {
				e.state.Dispatch(uistate.HideThread{ThreadRef: uistate.Ref(ws, id)})
			}
		},
		MethodError: e.onError,
		MethodThreadStarted: func(ws string, _ any, p map[string]any) {
			thread := normalize.AsMap(p["thread"])
			if thread == nil {
				thread = p
			}
			e.turns.OnThreadStarted(ws, thread)
		},
		MethodThreadNameUpdated: func(ws string, _ any, p map[string]any) {
			e.turns.OnThreadNameUpdated(ws, normalize.ThreadID(p), normalize.FirstString(p, "threadName", "thread_name", "name"))
		},
		MethodThreadTokenUsageUpdated: func(ws string, _ any, p map[string]any) {
			usage := normalize.AsMap(p["tokenUsage"])
			if usage == nil {
				usage = normalize.AsMap(p["token_usage"])
			}
			if usage == nil {
				usage = p
			}
			e.turns.OnTokenUsageUpdated(ws, normalize.ThreadID(p), normalize.TurnID(p), usage)
		},
		MethodTurnStarted: func(ws string, _ any, p map[string]any) {
			e.turns.OnTurnStarted(ws, normalize.ThreadID(p), normalize.TurnID(p))
		},
		MethodTurnCompleted: func(ws string, _ any, p map[string]any) {
			e.turns.OnTurnCompleted(ws, normalize.ThreadID(p), normalize.TurnID(p))
		},
		MethodTurnDiffUpdated: func(ws string, _ any, p map[string]any) {
			e.turns.OnTurnDiffUpdated(ws, normalize.ThreadID(p), normalize.AsString(firstPresent(p, "diff", "unifiedDiff", "unified_diff")))
		},
		MethodTurnPlanUpdated: func(ws string, _ any, p map[string]any) {
			plan := firstPresent(p, "plan", "steps")
			if plan == nil {
				plan = p
			}
			e.turns.OnTurnPlanUpdated(ws, normalize.ThreadID(p), normalize.TurnID(p), p["explanation"], plan)
		},
		MethodItemStarted: func(ws string, _ any, p map[string]any) {
			e.items.OnItemStarted(ws, normalize.ThreadID(p), normalize.AsMap(p["item"]), normalize.TurnID(p))
		},
		MethodItemCompleted: func(ws string, _ any, p map[string]any) {
			e.items.OnItemCompleted(ws, normalize.ThreadID(p), normalize.AsMap(p["item"]), normalize.TurnID(p))
		},
		MethodAgentMessageDelta: func(ws string, _ any, p map[string]any) {
			e.items.OnAgentMessageDelta(ws, normalize.ThreadID(p), normalize.ItemID(p), deltaText(p), normalize.TurnID(p))
		},
		MethodPlanDelta: func(ws string, _ any, p map[string]any) {
			e.items.OnPlanDelta(ws, normalize.ThreadID(p), normalize.ItemID(p), deltaText(p))
		},
		MethodCommandOutputDelta:    toolOutput,
		MethodTerminalInteraction:   toolOutput,
		MethodFileChangeOutputDelta: toolOutput,
		MethodReasoningSummaryDelta: func(ws string, _ any, p map[string]any) {
			e.items.OnReasoningSummaryDelta(ws, normalize.ThreadID(p), normalize.ItemID(p), deltaText(p))
		},
		MethodReasoningSummaryPartAdded: func(ws string, _ any, p map[string]any) {
			e.items.OnReasoningSummaryPartAdded(ws, normalize.ThreadID(p), normalize.ItemID(p))
		},
		MethodReasoningTextDelta: func(ws string, _ any, p map[string]any) {
			e.items.OnReasoningTextDelta(ws, normalize.ThreadID(p), normalize.ItemID(p), deltaText(p))
		},
		MethodRateLimitsUpdated: func(ws string, _ any, p map[string]any) {
			raw := normalize.AsMap(p["rateLimits"])
			if raw == nil {
				raw = normalize.AsMap(p["rate_limits"])
			}
			if raw == nil {
				raw = p
			}
			e.turns.OnRateLimitsUpdated(ws, raw)
		},
		MethodCommandApproval:    approval(MethodCommandApproval),
		MethodFileChangeApproval: approval(MethodFileChangeApproval),
		MethodRequestUserInput:   e.onUserInputRequest,
	}
}

// onError error 通知: {threadId, turnId, error: {message}, willRetry}。
func (e *Engine) onError(ws string, _ any, p map[string]any) {
	message := normalize.FirstString(p, "message")
	if errObj := normalize.AsMap(p["error"]); errObj != nil {
		if m := normalize.FirstString(errObj, "message"); m != "" {
			message = m
		}
	} else if message == "" {
		message = normalize.FirstString(p, "error")
	}
	willRetry := false
	if v, ok := normalize.LookupNonNil(p, "willRetry", "will_retry"); ok {
		willRetry = normalize.AsBool(v)
	}
	e.turns.OnTurnError(ws, normalize.ThreadID(p), normalize.TurnID(p), message, willRetry)
}

func (e *Engine) onApprovalRequest(ws, method string, requestID any, p map[string]any) {
	if requestID == nil {
		requestID = firstPresent(p, "requestId", "request_id")
	}
	e.state.Dispatch(uistate.AddApproval{Approval: uistate.ApprovalRequest{
		WorkspaceID: ws,
		ThreadID:    normalize.ThreadID(p),
		TurnID:      normalize.TurnID(p),
		ItemID:      normalize.ItemID(p),
		RequestID:   requestID,
		Method:      method,
		Params:      p,
	}})
}

func (e *Engine) onUserInputRequest(ws string, requestID any, p map[string]any) {
	if requestID == nil {
		requestID = firstPresent(p, "requestId", "request_id")
	}
	questions, _ := p["questions"].([]any)
	e.state.Dispatch(uistate.AddUserInputRequest{Request: uistate.UserInputRequest{
		WorkspaceID: ws,
		ThreadID:    normalize.ThreadID(p),
		TurnID:      normalize.TurnID(p),
		ItemID:      normalize.ItemID(p),
		RequestID:   requestID,
		Questions:   questions,
		Params:      p,
	}})
}

// toolOutputText 终端交互的输入在 stdin 字段。
func toolOutputText(p map[string]any) string {
	if s := deltaText(p); s != "" {
		return s
	}
	return normalize.AsString(p["stdin"])
}

func firstPresent(m map[string]any, keys ...string) any {
	v, _ := normalize.LookupNonNil(m, keys...)
	return v
}
