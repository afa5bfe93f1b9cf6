package deadline

import (
	"sort"
	"time"
)

// DateLayout 本地日期格式，用于幂等键和每日重置
const DateLayout = "2006-01-02"

// Input 计算下一个截止时间所需的全部输入
type Input struct {
	Schedules   []string
	Now         time.Time
	LastCheckIn *time.Time
	Location    *time.Location
	// 今日已完成的时段 label（任意写法，内部会规范化）
	Completed []string
	// FutureOnly 用于创建延迟任务：排除今日已过期未完成的时段
	FutureOnly bool
}

// Calculator 带默认值的截止时间计算器
type Calculator struct {
	DefaultSchedules []string
	DefaultLocation  *time.Location
}

// Next 返回下一个截止时间。
// 优先级：今日未完成的未来时段（最早）> 今日已过期未完成时段（最晚）> 明日最早时段。
// 没有任何可解析的时段时回退到默认时段；默认时段也不可解析时返回 false。
func (c Calculator) Next(in Input) (time.Time, bool) {
	if in.Location == nil {
		in.Location = c.location()
	}
	if len(in.Schedules) > 0 {
		if t, ok := Next(in); ok {
			return t, true
		}
	}
	in.Schedules = c.DefaultSchedules
	return Next(in)
}

func (c Calculator) location() *time.Location {
	if c.DefaultLocation != nil {
		return c.DefaultLocation
	}
	return time.UTC
}

// Location 解析 IANA 时区名，失败或为空时使用默认时区
func (c Calculator) Location(name string) *time.Location {
	if name != "" {
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return c.location()
}

// Next 无默认值版本，schedules 中不可解析的条目会被跳过
func Next(in Input) (time.Time, bool) {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	now := in.Now.In(loc)

	slots := parseAll(in.Schedules)
	if len(slots) == 0 {
		return time.Time{}, false
	}

	completed := make(map[string]struct{}, len(in.Completed))
	for _, raw := range in.Completed {
		if label, err := NormalizeLabel(raw); err == nil {
			completed[label] = struct{}{}
		}
	}

	var lastLocal time.Time
	hasLast := in.LastCheckIn != nil
	if hasLast {
		lastLocal = in.LastCheckIn.In(loc)
	}

	var (
		future, pastDue []time.Time
		tomorrow        []time.Time
	)
	for _, slot := range slots {
		today := at(now, slot, 0)
		tomorrow = append(tomorrow, at(now, slot, 1))

		if _, done := completed[slot.Label()]; done {
			continue
		}
		if hasLast && SameDay(lastLocal, today) && !lastLocal.Before(today) {
			continue
		}

		if today.After(now) {
			future = append(future, today)
		} else if !in.FutureOnly {
			pastDue = append(pastDue, today)
		}
	}

	switch {
	case len(future) > 0:
		return earliest(future), true
	case len(pastDue) > 0:
		// 取最晚的过期时段，保证随时间推移截止时间不会倒退
		return latest(pastDue), true
	default:
		return earliest(tomorrow), true
	}
}

// parseAll 解析并去重，结果按时刻排序
func parseAll(schedules []string) []ScheduleTime {
	seen := make(map[ScheduleTime]struct{}, len(schedules))
	out := make([]ScheduleTime, 0, len(schedules))
	for _, raw := range schedules {
		st, err := ParseScheduleTime(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		return out[i].Minute < out[j].Minute
	})
	return out
}

// at 返回 ref 所在本地日（偏移 dayOffset 天）的 slot 时刻，夏令时由 time.Date 处理
func at(ref time.Time, slot ScheduleTime, dayOffset int) time.Time {
	y, m, d := ref.Date()
	return time.Date(y, m, d+dayOffset, slot.Hour, slot.Minute, 0, 0, ref.Location())
}

func earliest(ts []time.Time) time.Time {
	first := ts[0]
	for _, t := range ts[1:] {
		if t.Before(first) {
			first = t
		}
	}
	return first
}

func latest(ts []time.Time) time.Time {
	last := ts[0]
	for _, t := range ts[1:] {
		if t.After(last) {
			last = t
		}
	}
	return last
}

// SameDay 两个时刻在各自 Location 下是否同一日历日，调用方需先转换到同一时区
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// LocalDate 返回 t 在 loc 下的日期字符串
func LocalDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

// LabelAt 返回 t 在 loc 下对应的时段 label
func LabelAt(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	return FormatLabel(local.Hour(), local.Minute())
}

// SlotLabel 返回截止时间 t 对应的配置时段 label。
// 夏令时跳过的时刻会被 time.Date 顺延（2:30 AM 变成 3:30 AM），此时按配置的时段而不是实际时刻命名；
// 找不到对应时段时退回 LabelAt
func SlotLabel(t time.Time, loc *time.Location, schedules []string) string {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	for _, slot := range parseAll(schedules) {
		if at(local, slot, 0).Equal(t) {
			return slot.Label()
		}
	}
	return LabelAt(t, loc)
}

// SlotLabel 用户时段为空或都不可解析时按默认时段查找
func (c Calculator) SlotLabel(t time.Time, loc *time.Location, schedules []string) string {
	if len(parseAll(schedules)) == 0 {
		schedules = c.DefaultSchedules
	}
	return SlotLabel(t, loc, schedules)
}
