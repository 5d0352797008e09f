package normalize

import (
	"math"
	"strings"
	"time"
)

// secondsThreshold 小于该值的 UNIX 时间视为秒 (约 2286 年之前)。
const secondsThreshold = 10_000_000_000

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// NormalizeTimestampMs 返回毫秒时间戳。
//
// 数字 (或数字字符串) 按量级区分秒/毫秒; 其它字符串按日期解析;
// 非正数、无法解析返回 nil。
func NormalizeTimestampMs(v any) *int64 {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if n := AsOptionalNumber(s); n != nil {
			return fromUnix(*n)
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				ms := t.UnixMilli()
				if ms <= 0 {
					return nil
				}
				return &ms
			}
		}
		return nil
	}
	if n := AsOptionalNumber(v); n != nil {
		return fromUnix(*n)
	}
	return nil
}

func fromUnix(n float64) *int64 {
	if n <= 0 {
		return nil
	}
	if n < secondsThreshold {
		n *= 1000
	}
	ms := int64(math.Round(n))
	return &ms
}
