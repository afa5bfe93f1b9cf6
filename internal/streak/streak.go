// Package streak 连续打卡天数的状态机
package streak

import (
	"time"
)

// Transition 两次打卡之间的日历关系
type Transition int

const (
	SameDay Transition = iota
	Consecutive
	Broken
)

func (t Transition) String() string {
	switch t {
	case SameDay:
		return "same_day"
	case Consecutive:
		return "consecutive"
	default:
		return "broken"
	}
}

// State 打卡时需要的连续天数信息
type State struct {
	LastCheckIn *time.Time
	Current     int
	StartDate   *time.Time
}

// Classify 按 loc 下的日历日计算 last 与 next 相差的天数
func Classify(last *time.Time, next time.Time, loc *time.Location) Transition {
	if last == nil {
		return Broken
	}
	switch daysBetween(last.In(loc), next.In(loc)) {
	case 0:
		return SameDay
	case 1:
		return Consecutive
	default:
		return Broken
	}
}

// Apply 返回本次打卡之后的状态
func Apply(s State, checkIn time.Time, loc *time.Location) State {
	if loc == nil {
		loc = time.UTC
	}
	out := State{LastCheckIn: &checkIn, Current: s.Current, StartDate: s.StartDate}

	switch Classify(s.LastCheckIn, checkIn, loc) {
	case SameDay:
		if out.Current < 1 {
			out.Current = 1
		}
		if out.StartDate == nil {
			out.StartDate = startOfDay(checkIn, loc)
		}
	case Consecutive:
		out.Current++
		if out.StartDate == nil {
			out.StartDate = startOfDay(checkIn, loc)
		}
	case Broken:
		// 首次打卡，或者有 streak 却没有上次打卡时间的脏数据，都从 1 开始
		out.Current = 1
		out.StartDate = startOfDay(checkIn, loc)
	}
	return out
}

// daysBetween 日历日差，按年月日计算，不受夏令时 23/25 小时影响
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

func startOfDay(t time.Time, loc *time.Location) *time.Time {
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc).UTC()
	return &start
}
