package normalize

import "testing"

func TestConvertItem(t *testing.T) {
	item, ok := ConvertItem(map[string]any{
		"id":      "item-1",
		"type":    ItemTypeAgentMessage,
		"status":  map[string]any{"type": "inProgress"},
		"content": []any{map[string]any{"text": "hel"}, map[string]any{"text": "lo"}},
		"extra":   float64(1),
	})
	if !ok {
		t.Fatal("ConvertItem ok = false")
	}
	if item.ID != "item-1" || item.Type != ItemTypeAgentMessage {
		t.Errorf("item = %+v", item)
	}
	if item.Status != "inProgress" {
		t.Errorf("Status = %q", item.Status)
	}
	if item.Text != "hello" {
		t.Errorf("Text = %q", item.Text)
	}
	if item.Detail["extra"] != float64(1) {
		t.Errorf("Detail = %v", item.Detail)
	}
}

func TestConvertItem_MissingID(t *testing.T) {
	if _, ok := ConvertItem(map[string]any{"type": "reasoning"}); ok {
		t.Error("item without id should be rejected")
	}
	if _, ok := ConvertItem(nil); ok {
		t.Error("nil item should be rejected")
	}
}
