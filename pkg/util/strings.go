package util

import "strings"

// FirstNonEmpty 返回第一个 trim 后非空的值; 全为空时返回 ""。
// 事件里的 workspace / thread id 常有多个候选来源 (记录字段 / params / 默认值)，按优先级传入。
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
