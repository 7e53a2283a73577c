package command

import (
	"testing"
	"time"
)

func TestParseMonthDayTime(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, loc)

	tests := []struct {
		name  string
		input string
		want  time.Time
		ok    bool
	}{
		{"当年未来", "3.11 18:30", time.Date(2026, 3, 11, 18, 30, 0, 0, loc), true},
		{"已过顺延下一年", "1.22 08:00", time.Date(2027, 1, 22, 8, 0, 0, 0, loc), true},
		{"恰好等于当前也顺延", "3.10 12:00", time.Date(2027, 3, 10, 12, 0, 0, 0, loc), true},
		{"中文冒号", "3.12 9：05", time.Date(2026, 3, 12, 9, 5, 0, 0, loc), true},
		{"全角数字与句号", "３。１２ ２０:００", time.Date(2026, 3, 12, 20, 0, 0, 0, loc), true},
		{"斜杠分隔", "12/31 23:59", time.Date(2026, 12, 31, 23, 59, 0, 0, loc), true},
		{"月份越界", "13.1 10:00", time.Time{}, false},
		{"日期溢出", "2.30 10:00", time.Time{}, false},
		{"小时越界", "3.12 24:00", time.Time{}, false},
		{"缺少时间", "3.12", time.Time{}, false},
		{"非法文本", "明天 10:00", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseMonthDayTime(tt.input, now, loc)
			if ok != tt.ok {
				t.Fatalf("期望 ok=%v，实际 %v（%v）", tt.ok, ok, got)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("期望 %v，实际 %v", tt.want, got)
			}
		})
	}
}

func TestParseMonthDayTime_LeapDay(t *testing.T) {
	now := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	got, ok := ParseMonthDayTime("2.29 10:00", now, time.UTC)
	if !ok || got.Year() != 2028 {
		t.Errorf("期望顺延到 2028 年闰日，实际 %v %v", got, ok)
	}
}
