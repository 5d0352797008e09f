package normalize

import (
	"testing"
	"time"
)

func TestNormalizeTimestampMs(t *testing.T) {
	iso := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()
	tests := []struct {
		name string
		in   any
		want int64 // 0 表示 nil
	}{
		{"seconds", float64(1_700_000_000), 1_700_000_000_000},
		{"millis", float64(1_700_000_000_123), 1_700_000_000_123},
		{"fractional seconds", 1_700_000_000.5, 1_700_000_000_500},
		{"numeric string seconds", "1700000000", 1_700_000_000_000},
		{"iso string", "2024-01-02T03:04:05Z", iso},
		{"zero", float64(0), 0},
		{"negative", float64(-5), 0},
		{"garbage", "yesterday", 0},
		{"nil", nil, 0},
		{"bool", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTimestampMs(tt.in)
			if tt.want == 0 {
				if got != nil {
					t.Errorf("NormalizeTimestampMs(%v) = %d, want nil", tt.in, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("NormalizeTimestampMs(%v) = %v, want %d", tt.in, got, tt.want)
			}
		})
	}
}
