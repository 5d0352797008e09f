package normalize

import "strings"

// PlanStepStatus 计划步骤状态。
type PlanStepStatus string

const (
	PlanStepPending    PlanStepStatus = "pending"
	PlanStepInProgress PlanStepStatus = "inProgress"
	PlanStepCompleted  PlanStepStatus = "completed"
)

// PlanStep 计划中的一步。
type PlanStep struct {
	Step   string         `json:"step"`
	Status PlanStepStatus `json:"status"`
}

// ThreadPlan 线程当前计划, 每次 plan 更新整体替换。
// TurnID 为空表示与 turn 无关。
type ThreadPlan struct {
	TurnID      string     `json:"turnId"`
	Explanation string     `json:"explanation,omitempty"`
	Steps       []PlanStep `json:"steps"`
}

// Completed 至少一步且全部完成。
func (p *ThreadPlan) Completed() bool {
	if p == nil || len(p.Steps) == 0 {
		return false
	}
	for _, s := range p.Steps {
		if s.Status != PlanStepCompleted {
			return false
		}
	}
	return true
}

// Clone 深拷贝。
func (p *ThreadPlan) Clone() *ThreadPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.Steps = append([]PlanStep(nil), p.Steps...)
	return &c
}

var planContainerKeys = []string{"steps", "plan", "items", "entries"}

// NormalizePlanUpdate 将 plan 更新规范化。
//
// raw 可以是步骤数组, 也可以是带 steps/plan/items/entries 字段的对象。
// 没有任何步骤且没有 explanation 时返回 nil。
func NormalizePlanUpdate(turnID string, explanation any, raw any) *ThreadPlan {
	var list []any
	switch x := raw.(type) {
	case []any:
		list = x
	case map[string]any:
		for _, key := range planContainerKeys {
			if arr, ok := x[key].([]any); ok {
				list = arr
				break
			}
		}
		if explanation == nil {
			explanation = x["explanation"]
		}
	}

	steps := make([]PlanStep, 0, len(list))
	for _, entry := range list {
		m := AsMap(entry)
		if m == nil {
			continue
		}
		text := FirstString(m, "step", "text")
		if text == "" {
			continue
		}
		steps = append(steps, PlanStep{Step: text, Status: NormalizePlanStepStatus(m["status"])})
	}

	note := strings.TrimSpace(AsString(explanation))
	if len(steps) == 0 && note == "" {
		return nil
	}
	return &ThreadPlan{
		TurnID:      strings.TrimSpace(turnID),
		Explanation: note,
		Steps:       steps,
	}
}

// NormalizePlanStepStatus 折叠为 pending / inProgress / completed。
func NormalizePlanStepStatus(v any) PlanStepStatus {
	switch FoldStatus(AsString(v)) {
	case "completed", "complete", "done", "success", "succeeded":
		return PlanStepCompleted
	case "inprogress", "running", "active", "started", "ongoing":
		return PlanStepInProgress
	default:
		return PlanStepPending
	}
}

// FoldStatus 小写并去掉非字母数字字符 ("in_progress" / "In-Progress" → "inprogress")。
func FoldStatus(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
