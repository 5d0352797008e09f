// Package normalize 将 app-server 的线上负载 (snake_case / camelCase 混用,
// 字符串或数字时间戳, 可选字段) 转为规范类型。
//
// 所有函数都是全函数: nil / 类型错误的输入返回默认值, 从不 panic。
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AsString 将任意值转为字符串。nil → ""。
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// AsNumber 计数器类数值: 接受数字与数字字符串, 其余返回 0。
func AsNumber(v any) float64 {
	if n := AsOptionalNumber(v); n != nil {
		return *n
	}
	return 0
}

// AsOptionalNumber 可选数值: 无法解析返回 nil。NaN/Inf 视为无效。
func AsOptionalNumber(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// AsOptionalInt 同 AsOptionalNumber, 截断为 int64。
func AsOptionalInt(v any) *int64 {
	n := AsOptionalNumber(v)
	if n == nil {
		return nil
	}
	i := int64(*n)
	return &i
}

// AsBool 接受 bool 与 "true"/"false" 字符串。
func AsBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	default:
		return false
	}
}

// AsMap 返回对象形态的值, 其它形态返回 nil。
func AsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// AsStringList 将字符串或字符串数组转为去空白后的非空列表。
func AsStringList(v any) []string {
	var out []string
	push := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	switch x := v.(type) {
	case string:
		push(x)
	case []string:
		for _, s := range x {
			push(s)
		}
	case []any:
		for _, item := range x {
			if item == nil {
				continue
			}
			push(AsString(item))
		}
	}
	return out
}

// FirstString 按 keys 顺序返回第一个非空 (trim 后) 字符串字段。
func FirstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := strings.TrimSpace(AsString(m[key])); s != "" {
			return s
		}
	}
	return ""
}

// Lookup 按 keys 顺序返回第一个存在的字段 (值可以为 nil)。
func Lookup(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// LookupNonNil 按 keys 顺序返回第一个存在且非 nil 的字段。
func LookupNonNil(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// pickNumber 同一逻辑字段的 camelCase 与 snake_case 同时出现时,
// camelCase 的有效数值优先, 否则回落 snake_case。
func pickNumber(m map[string]any, camel, snake string) *float64 {
	if n := AsOptionalNumber(m[camel]); n != nil {
		return n
	}
	return AsOptionalNumber(m[snake])
}
