package normalize

// 事件参数中的标识字段同时存在 camelCase、snake_case 与嵌套对象三种写法。

// ThreadID 依次尝试 threadId / thread_id / thread.id / conversationId。
func ThreadID(params map[string]any) string {
	if id := FirstString(params, "threadId", "thread_id"); id != "" {
		return id
	}
	if thread := AsMap(params["thread"]); thread != nil {
		if id := FirstString(thread, "id", "threadId", "thread_id"); id != "" {
			return id
		}
	}
	return FirstString(params, "conversationId", "conversation_id")
}

// TurnID 依次尝试 turnId / turn_id / turn.id。
func TurnID(params map[string]any) string {
	if id := FirstString(params, "turnId", "turn_id"); id != "" {
		return id
	}
	if turn := AsMap(params["turn"]); turn != nil {
		return FirstString(turn, "id", "turnId", "turn_id")
	}
	return ""
}

// ItemID 依次尝试 itemId / item_id / item.id。
func ItemID(params map[string]any) string {
	if id := FirstString(params, "itemId", "item_id"); id != "" {
		return id
	}
	if item := AsMap(params["item"]); item != nil {
		return FirstString(item, "id")
	}
	return ""
}

// WorkspaceID 依次尝试 workspaceId / workspace_id。
func WorkspaceID(params map[string]any) string {
	return FirstString(params, "workspaceId", "workspace_id")
}
