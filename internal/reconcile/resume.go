package reconcile

import (
	"strings"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
)

// ResumedTurnState 由线程快照推断的 turn 状态。
//
// ActiveTurnID 为空并不代表空闲: 只有 ConfidentNoActiveTurn 为 true 时
// 调用方才可以断言线程空闲。
type ResumedTurnState struct {
	ActiveTurnID          string
	ActiveTurnStartedAtMs *int64
	ConfidentNoActiveTurn bool
}

var (
	activeTurnIDKeys      = []string{"activeTurnId", "active_turn_id", "activeturnid"}
	activeTurnStartedKeys = []string{"activeTurnStartedAt", "active_turn_started_at", "activeTurnStartedAtMs", "active_turn_started_at_ms"}
	activeTurnObjectKeys  = []string{"activeTurn", "active_turn", "activeturn"}
	turnIDKeys            = []string{"id", "turnId", "turn_id"}
	turnStartedKeys       = []string{"startedAt", "started_at", "startedAtMs", "started_at_ms", "createdAt", "created_at"}
)

type turnStatusClass int

const (
	turnStatusUnknown turnStatusClass = iota
	turnStatusActive
	turnStatusTerminal
)

var activeTurnStatuses = map[string]struct{}{
	"inprogress": {}, "running": {}, "active": {}, "started": {},
	"inflight": {}, "processing": {}, "streaming": {},
}

var terminalTurnStatuses = map[string]struct{}{
	"completed": {}, "complete": {}, "done": {}, "finished": {}, "succeeded": {}, "success": {},
	"failed": {}, "error": {}, "errored": {},
	"interrupted": {}, "cancelled": {}, "canceled": {}, "aborted": {}, "stopped": {},
}

// GetResumedTurnState 按优先级推断快照中的活动 turn:
// 显式 id 字段 > 显式 turn 对象 > 倒序扫描 turn 历史。
func GetResumedTurnState(thread map[string]any) ResumedTurnState {
	if thread == nil {
		return ResumedTurnState{}
	}
	if raw, ok := normalize.Lookup(thread, activeTurnIDKeys...); ok {
		id := strings.TrimSpace(normalize.AsString(raw))
		st := ResumedTurnState{ActiveTurnID: id, ConfidentNoActiveTurn: id == ""}
		if id != "" {
			if ts, ok := normalize.LookupNonNil(thread, activeTurnStartedKeys...); ok {
				st.ActiveTurnStartedAtMs = normalize.NormalizeTimestampMs(ts)
			}
		}
		return st
	}
	if raw, ok := normalize.Lookup(thread, activeTurnObjectKeys...); ok {
		turn := normalize.AsMap(raw)
		id := normalize.FirstString(turn, turnIDKeys...)
		st := ResumedTurnState{ActiveTurnID: id, ConfidentNoActiveTurn: id == ""}
		if id != "" {
			st.ActiveTurnStartedAtMs = turnStartedAt(turn)
		}
		return st
	}
	return scanTurnHistory(thread)
}

func scanTurnHistory(thread map[string]any) ResumedTurnState {
	turns, _ := thread["turns"].([]any)
	sawTerminal, sawUnknown := false, false
	for i := len(turns) - 1; i >= 0; i-- {
		turn := normalize.AsMap(turns[i])
		if turn == nil {
			sawUnknown = true
			continue
		}
		switch classifyTurnStatus(turn["status"]) {
		case turnStatusActive:
			if id := normalize.FirstString(turn, turnIDKeys...); id != "" {
				return ResumedTurnState{ActiveTurnID: id, ActiveTurnStartedAtMs: turnStartedAt(turn)}
			}
			// 运行中但无法定位 id: 不能断言空闲。
			sawUnknown = true
		case turnStatusTerminal:
			sawTerminal = true
		default:
			sawUnknown = true
		}
	}
	return ResumedTurnState{ConfidentNoActiveTurn: sawTerminal && !sawUnknown}
}

// classifyTurnStatus 忽略大小写与分隔符 ("in_progress" == "inProgress")。
// 状态可能是字符串或 {type: "..."}。
func classifyTurnStatus(v any) turnStatusClass {
	raw := normalize.AsString(v)
	if m := normalize.AsMap(v); m != nil {
		raw = normalize.FirstString(m, "type", "status")
	}
	key := strings.Map(func(r rune) rune {
		switch r {
		case '_', '-', ' ', '.':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := activeTurnStatuses[key]; ok {
		return turnStatusActive
	}
	if _, ok := terminalTurnStatuses[key]; ok {
		return turnStatusTerminal
	}
	return turnStatusUnknown
}

func turnStartedAt(turn map[string]any) *int64 {
	if ts, ok := normalize.LookupNonNil(turn, turnStartedKeys...); ok {
		return normalize.NormalizeTimestampMs(ts)
	}
	return nil
}
