package model

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ── PostgreSQL BIGINT[] 时间列表 ──

// TimeList 对应 PostgreSQL BIGINT[]（Unix 秒），实现 GORM Scanner/Valuer 接口。
// 用于保存任务的提醒时间点，内存中始终保持升序。
type TimeList []time.Time

// Scan 将 PostgreSQL 返回的 {1700000000,1700003600} 文本解析为时间列表。
func (l *TimeList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	var s string
	switch v := src.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("TimeList.Scan: unsupported type %T", src)
	}
	s = strings.Trim(s, "{}")
	if s == "" {
		*l = TimeList{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(TimeList, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return fmt.Errorf("TimeList.Scan: invalid element %q: %w", p, err)
		}
		out = append(out, time.Unix(n, 0))
	}
	*l = out
	return nil
}

// Value 将时间列表序列化为 PostgreSQL {a,b,c} 文本。
func (l TimeList) Value() (driver.Value, error) {
	if l == nil {
		return "{}", nil
	}
	parts := make([]string, len(l))
	for i, t := range l {
		parts[i] = strconv.FormatInt(t.Unix(), 10)
	}
	return "{" + strings.Join(parts, ",") + "}", nil
}

// Normalize 去重（按秒）并升序排列，返回新切片
func (l TimeList) Normalize() TimeList {
	seen := make(map[int64]struct{}, len(l))
	out := make(TimeList, 0, len(l))
	for _, t := range l {
		sec := t.Unix()
		if _, ok := seen[sec]; ok {
			continue
		}
		seen[sec] = struct{}{}
		out = append(out, time.Unix(sec, 0).In(t.Location()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
