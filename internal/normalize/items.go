package normalize

import "strings"

// 会话条目类型。
const (
	ItemTypeAgentMessage      = "agentMessage"
	ItemTypeUserMessage       = "userMessage"
	ItemTypeReasoning         = "reasoning"
	ItemTypeCommandExecution  = "commandExecution"
	ItemTypeFileChange        = "fileChange"
	ItemTypeMcpToolCall       = "mcpToolCall"
	ItemTypeCollabToolCall    = "collabToolCall"
	ItemTypeCollabAgentCall   = "collabAgentToolCall"
	ItemTypeEnteredReviewMode = "enteredReviewMode"
	ItemTypeExitedReviewMode  = "exitedReviewMode"
	ItemTypeContextCompaction = "contextCompaction"
	ItemTypeWebSearch         = "webSearch"
	ItemTypeImageView         = "imageView"
	ItemTypeTodoList          = "todoList"
)

// ConversationItem 可渲染的会话条目 (UI 层结构)。
type ConversationItem struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Status  string         `json:"status,omitempty"`
	Text    string         `json:"text,omitempty"`
	Summary string         `json:"summary,omitempty"`
	Output  string         `json:"output,omitempty"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// ItemType 返回条目类型 (type / kind)。
func ItemType(item map[string]any) string {
	return FirstString(item, "type", "kind")
}

// ConvertItem 将原始条目转为 ConversationItem; 没有 id 的条目返回 false。
func ConvertItem(item map[string]any) (ConversationItem, bool) {
	id := FirstString(item, "id")
	if id == "" {
		return ConversationItem{}, false
	}
	detail := make(map[string]any, len(item))
	for k, v := range item {
		switch k {
		case "id", "type", "kind", "status", "text", "aggregatedOutput", "aggregated_output":
			continue
		}
		detail[k] = v
	}
	if len(detail) == 0 {
		detail = nil
	}
	return ConversationItem{
		ID:     id,
		Type:   ItemType(item),
		Status: statusText(item["status"]),
		Text:   itemText(item),
		Output: itemOutput(item),
		Detail: detail,
	}, true
}

// statusText 状态可能是字符串, 也可能是 {type: "..."}。
func statusText(v any) string {
	if m := AsMap(v); m != nil {
		return FirstString(m, "type", "status")
	}
	return strings.TrimSpace(AsString(v))
}

func itemText(item map[string]any) string {
	if s := AsString(item["text"]); s != "" {
		return s
	}
	switch x := item["content"].(type) {
	case string:
		return x
	case []any:
		var b strings.Builder
		for _, part := range x {
			if m := AsMap(part); m != nil {
				b.WriteString(AsString(m["text"]))
			}
		}
		return b.String()
	}
	return AsString(item["command"])
}

func itemOutput(item map[string]any) string {
	if v, ok := LookupNonNil(item, "aggregatedOutput", "aggregated_output"); ok {
		return AsString(v)
	}
	return ""
}
