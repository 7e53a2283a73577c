package command

import (
	"regexp"
	"strconv"
	"time"

	"github.com/Cooper3516833584/Cooper-bot/pkg/textutil"
)

// 月.日 时:分；日期分隔符兼容 . 。 / -，冒号中英文都可
// 输入先经过全角转半角，句号 。 会变成半角 ｡
var reMonthDayTime = regexp.MustCompile(`^\s*(\d{1,2})[.。｡/\-](\d{1,2})\s*(\d{1,2})[:：](\d{1,2})\s*$`)

// ParseMonthDayTime 把 "M.D HH:MM" 解析为 loc 时区下的时间
// 年份取 now 所在年；解析结果不晚于 now 时顺延到下一年
func ParseMonthDayTime(s string, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	m := reMonthDayTime.FindStringSubmatch(textutil.NormalizeDigits(s))
	if m == nil {
		return time.Time{}, false
	}
	mon, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	hh, _ := strconv.Atoi(m[3])
	mm, _ := strconv.Atoi(m[4])
	if mon < 1 || mon > 12 || day < 1 || hh > 23 || mm > 59 {
		return time.Time{}, false
	}

	year := now.In(loc).Year()
	t, ok := buildDate(year, mon, day, hh, mm, loc)
	if ok && t.After(now) {
		return t, true
	}
	// 2.29 这类日期当年可能不存在，顺延一年再试
	return buildDate(year+1, mon, day, hh, mm, loc)
}

// buildDate time.Date 会把 2.30 规整成 3.2，这里拒绝这种溢出
func buildDate(year, mon, day, hh, mm int, loc *time.Location) (time.Time, bool) {
	t := time.Date(year, time.Month(mon), day, hh, mm, 0, 0, loc)
	if t.Month() != time.Month(mon) || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
