package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNextPriority(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	day := func(h, m int) time.Time { return time.Date(2026, 3, 10, h, m, 0, 0, ny) }
	schedules := []string{"9:00 AM", "6:00 PM"}

	cases := []struct {
		name      string
		now       time.Time
		last      *time.Time
		completed []string
		future    bool
		want      time.Time
	}{
		{"before first slot", day(7, 0), nil, nil, false, day(9, 0)},
		{"between slots picks future", day(10, 0), nil, nil, false, day(18, 0)},
		{"late for evening slot", day(19, 0), nil, nil, false, day(18, 0)},
		{"late but future only goes to tomorrow", day(19, 0), nil, nil, true, day(9, 0).AddDate(0, 0, 1)},
		{"morning completed", day(8, 50), nil, []string{"9:00AM"}, false, day(18, 0)},
		{"all done today", day(18, 10), nil, []string{"9:00 AM", "6:00 PM"}, false, day(9, 0).AddDate(0, 0, 1)},
		{"check-in covers earlier slots", day(18, 10), ptr(day(18, 5)), []string{"6:00 PM"}, false, day(9, 0).AddDate(0, 0, 1)},
		{"yesterday check-in does not count", day(10, 0), ptr(day(20, 0).AddDate(0, 0, -1)), nil, false, day(18, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Next(Input{
				Schedules:   schedules,
				Now:         tc.now,
				LastCheckIn: tc.last,
				Location:    ny,
				Completed:   tc.completed,
				FutureOnly:  tc.future,
			})
			require.True(t, ok)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
		})
	}
}

func TestNextSkipsUnparsable(t *testing.T) {
	now := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	got, ok := Next(Input{Schedules: []string{"garbage", "8:30 AM"}, Now: now, Location: time.UTC})
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC), got)

	_, ok = Next(Input{Schedules: []string{"garbage"}, Now: now})
	assert.False(t, ok)
}

func TestCalculatorDefaults(t *testing.T) {
	tokyo := mustLoc(t, "Asia/Tokyo")
	c := Calculator{DefaultSchedules: []string{"9:00 AM"}, DefaultLocation: tokyo}
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC) // 09:00 JST

	got, ok := c.Next(Input{Schedules: []string{"bad"}, Now: now, FutureOnly: true})
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, tokyo).Unix(), got.Unix())

	assert.Equal(t, tokyo, c.Location("Not/AZone"))
	assert.Equal(t, "UTC", c.Location("UTC").String())
}

func TestNextIsMonotonic(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	schedules := []string{"9:00 AM", "1:30 PM", "6:00 PM"}
	start := time.Date(2026, 3, 7, 0, 0, 0, 0, ny) // 跨越夏令时切换
	for _, future := range []bool{false, true} {
		prev, ok := Next(Input{Schedules: schedules, Now: start, Location: ny, FutureOnly: future})
		require.True(t, ok)
		for now := start; now.Before(start.Add(96 * time.Hour)); now = now.Add(7 * time.Minute) {
			got, ok := Next(Input{Schedules: schedules, Now: now, Location: ny, FutureOnly: future})
			require.True(t, ok)
			require.False(t, got.Before(prev), "deadline moved back at %s: %s -> %s", now, prev, got)
			prev = got
		}
	}
}

func TestFutureOnlyIsInFuture(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	got, ok := Next(Input{Schedules: []string{"9:00 AM"}, Now: now, Location: time.UTC, FutureOnly: true})
	require.True(t, ok)
	assert.True(t, got.After(now))
}

func TestLabelAtAndLocalDate(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	ts := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC) // 19:00 EDT
	assert.Equal(t, "7:00 PM", LabelAt(ts, ny))
	assert.Equal(t, "2026-03-10", LocalDate(ts, ny))
	assert.Equal(t, "2026-03-11", LocalDate(ts.Add(2*time.Hour), time.UTC))
}

func ptr(t time.Time) *time.Time { return &t }

func TestSlotLabelOnSkippedHour(t *testing.T) {
	ny := mustLoc(t, "America/New_York")
	// 2026-03-08 凌晨 2 点直接跳到 3 点
	now := time.Date(2026, 3, 8, 1, 0, 0, 0, ny)
	schedules := []string{"2:30 AM", "9:00 AM"}

	next, ok := Next(Input{Schedules: schedules, Now: now, Location: ny})
	require.True(t, ok)
	assert.Equal(t, "3:30 AM", LabelAt(next, ny))
	assert.Equal(t, "2:30 AM", SlotLabel(next, ny, schedules))

	// 配置里同时有 3:30 AM 时，2:30 AM 顺延后与它重合，先匹配更早的配置
	both := []string{"2:30 AM", "3:30 AM"}
	assert.Equal(t, "2:30 AM", SlotLabel(next, ny, both))

	// 普通日子与 LabelAt 一致
	regular := time.Date(2026, 3, 10, 9, 0, 0, 0, ny)
	assert.Equal(t, "9:00 AM", SlotLabel(regular, ny, schedules))
	assert.Equal(t, "4:15 PM", SlotLabel(time.Date(2026, 3, 10, 16, 15, 0, 0, ny), ny, schedules))

	calc := Calculator{DefaultSchedules: schedules, DefaultLocation: ny}
	assert.Equal(t, "2:30 AM", calc.SlotLabel(next, ny, nil))
}
