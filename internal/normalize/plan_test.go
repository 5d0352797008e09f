package normalize

import "testing"

func TestNormalizePlanUpdate_Array(t *testing.T) {
	raw := []any{
		map[string]any{"step": "read code", "status": "completed"},
		map[string]any{"step": "write patch", "status": "in_progress"},
		map[string]any{"step": "run tests", "status": "weird"},
		map[string]any{"step": "  ", "status": "completed"},
		"not an object",
	}
	plan := NormalizePlanUpdate(" turn-1 ", nil, raw)
	if plan == nil {
		t.Fatal("plan = nil")
	}
	if plan.TurnID != "turn-1" {
		t.Errorf("TurnID = %q", plan.TurnID)
	}
	want := []PlanStepStatus{PlanStepCompleted, PlanStepInProgress, PlanStepPending}
	if len(plan.Steps) != len(want) {
		t.Fatalf("steps = %d, want %d", len(plan.Steps), len(want))
	}
	for i, s := range want {
		if plan.Steps[i].Status != s {
			t.Errorf("step %d status = %q, want %q", i, plan.Steps[i].Status, s)
		}
	}
	if plan.Completed() {
		t.Error("Completed() = true for partial plan")
	}
}

func TestNormalizePlanUpdate_ObjectContainers(t *testing.T) {
	for _, key := range []string{"steps", "plan", "items", "entries"} {
		raw := map[string]any{key: []any{map[string]any{"step": "a", "status": "Completed"}}}
		plan := NormalizePlanUpdate("t", nil, raw)
		if plan == nil || len(plan.Steps) != 1 {
			t.Fatalf("%s: plan = %+v", key, plan)
		}
		if !plan.Completed() {
			t.Errorf("%s: Completed() = false", key)
		}
	}
}

func TestNormalizePlanUpdate_ExplanationOnly(t *testing.T) {
	plan := NormalizePlanUpdate("t", "thinking about it", nil)
	if plan == nil {
		t.Fatal("explanation-only update should produce a plan")
	}
	if len(plan.Steps) != 0 || plan.Explanation != "thinking about it" {
		t.Errorf("plan = %+v", plan)
	}
	if plan.Completed() {
		t.Error("empty plan must not count as completed")
	}

	embedded := NormalizePlanUpdate("t", nil, map[string]any{"explanation": "note"})
	if embedded == nil || embedded.Explanation != "note" {
		t.Errorf("embedded explanation = %+v", embedded)
	}
}

func TestNormalizePlanUpdate_Empty(t *testing.T) {
	for _, raw := range []any{nil, []any{}, map[string]any{}, "garbage", []any{map[string]any{"status": "completed"}}} {
		if plan := NormalizePlanUpdate("t", "  ", raw); plan != nil {
			t.Errorf("NormalizePlanUpdate(%v) = %+v, want nil", raw, plan)
		}
	}
}

func TestFoldStatus(t *testing.T) {
	for in, want := range map[string]string{
		"In-Progress": "inprogress",
		"in_progress": "inprogress",
		" DONE ":      "done",
		"":            "",
	} {
		if got := FoldStatus(in); got != want {
			t.Errorf("FoldStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
