package service

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"CheckInGuard/internal/deadline"
	"CheckInGuard/internal/model"
)

// rollover 本地日变化时清零当日计数，返回是否发生了重置
func rollover(st *model.SeniorState, now time.Time, loc *time.Location) bool {
	today := deadline.LocalDate(now, loc)
	if st.LastScheduleResetDate == today {
		return false
	}
	st.MissedCheckInsToday = 0
	st.CompletedSchedulesToday = model.StringList{}
	st.LastScheduleResetDate = today
	return true
}

// completedToday 不修改 st，按本地日返回今日已完成的时段
func completedToday(st *model.SeniorState, now time.Time, loc *time.Location) []string {
	if st.LastScheduleResetDate != deadline.LocalDate(now, loc) {
		return nil
	}
	return st.CompletedSchedulesToday
}

// ActivityID 漏打卡幂等键：<user>_<label>_<本地日期>，例如 1_9-00-am_2026-03-10
func ActivityID(userID int64, label, date string) string {
	slug := strings.ToLower(strings.NewReplacer(":", "-", " ", "-").Replace(label))
	return strconv.FormatInt(userID, 10) + "_" + slug + "_" + date
}

// EscalationActivityID 升级告警与触发它的漏打卡一一对应
func EscalationActivityID(missID string) string {
	return "esc_" + missID
}

// rearmInputsChanged 重新排程的输入在读取之后是否被其他写入者修改过
func rearmInputsChanged(read, cur *model.SeniorState) bool {
	return !slices.Equal(read.CheckInSchedules, cur.CheckInSchedules) ||
		read.VacationMode != cur.VacationMode ||
		read.Timezone != cur.Timezone ||
		read.TaskID() != cur.TaskID() ||
		!timePtrEqual(read.LastCheckIn, cur.LastCheckIn)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
