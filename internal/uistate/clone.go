// clone.go — ThreadState 深拷贝。
package uistate

import (
	"maps"

	"github.com/xiaojiou176/CodexMonitor-sub005/internal/normalize"
)

func cloneThread(src ThreadState) ThreadState {
	out := src
	out.Plan = src.Plan.Clone()
	if src.TokenUsage != nil {
		usage := *src.TokenUsage
		if usage.ModelContextWindow != nil {
			w := *usage.ModelContextWindow
			usage.ModelContextWindow = &w
		}
		out.TokenUsage = &usage
	}
	if src.TurnContextWindows != nil {
		out.TurnContextWindows = maps.Clone(src.TurnContextWindows)
	}
	out.Items = make([]normalize.ConversationItem, len(src.Items))
	for i, item := range src.Items {
		if item.Detail != nil {
			item.Detail = maps.Clone(item.Detail)
		}
		out.Items[i] = item
	}
	return out
}
