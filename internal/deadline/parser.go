// Package deadline 计算打卡截止时间：解析 "H:MM AM/PM" 打卡时间，
// 并根据用户时区、上次打卡时间和今日已完成的时段推出下一个截止时间。
package deadline

import (
	"fmt"
	"strconv"
	"strings"

	"CheckInGuard/pkg/errors"
)

// ScheduleTime 24 小时制的时分
type ScheduleTime struct {
	Hour   int
	Minute int
}

// Label 12 小时制展示文本，例如 "9:00 AM"
func (s ScheduleTime) Label() string {
	return FormatLabel(s.Hour, s.Minute)
}

// ParseScheduleTime 解析 "9:00 AM" / "9:00am" / " 12:30  pm" 等写法
func ParseScheduleTime(raw string) (ScheduleTime, error) {
	s := strings.ToUpper(strings.Join(strings.Fields(raw), " "))
	for _, period := range []string{"AM", "PM"} {
		if strings.HasSuffix(s, period) && !strings.HasSuffix(s, " "+period) {
			s = strings.TrimSuffix(s, period) + " " + period
		}
	}

	parts := strings.Split(s, " ")
	if len(parts) != 2 {
		return ScheduleTime{}, fmt.Errorf("%w: %q", errors.ErrInvalidScheduleTime, raw)
	}
	clock, period := parts[0], parts[1]
	if period != "AM" && period != "PM" {
		return ScheduleTime{}, fmt.Errorf("%w: %q", errors.ErrInvalidScheduleTime, raw)
	}

	hm := strings.Split(clock, ":")
	if len(hm) != 2 {
		return ScheduleTime{}, fmt.Errorf("%w: %q", errors.ErrInvalidScheduleTime, raw)
	}
	hour, ok := parseDigits(hm[0], 2)
	if !ok || hour < 1 || hour > 12 {
		return ScheduleTime{}, fmt.Errorf("%w: hour out of range in %q", errors.ErrInvalidScheduleTime, raw)
	}
	minute, ok := parseDigits(hm[1], 2)
	if !ok || len(hm[1]) != 2 || minute > 59 {
		return ScheduleTime{}, fmt.Errorf("%w: minute out of range in %q", errors.ErrInvalidScheduleTime, raw)
	}

	switch {
	case period == "PM" && hour != 12:
		hour += 12
	case period == "AM" && hour == 12:
		hour = 0
	}
	return ScheduleTime{Hour: hour, Minute: minute}, nil
}

// parseDigits 只接受纯数字，strconv.Atoi 会放过 "+5"
func parseDigits(s string, maxLen int) (int, bool) {
	if s == "" || len(s) > maxLen {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// FormatLabel 24 小时制转展示文本
func FormatLabel(hour, minute int) string {
	period := "AM"
	if hour >= 12 {
		period = "PM"
	}
	h := hour % 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%d:%02d %s", h, minute, period)
}

// NormalizeLabel 解析后重新格式化，用于去重和比较
func NormalizeLabel(raw string) (string, error) {
	st, err := ParseScheduleTime(raw)
	if err != nil {
		return "", err
	}
	return st.Label(), nil
}
