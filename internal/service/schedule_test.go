package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CheckInGuard/config"
	"CheckInGuard/pkg/errors"
)

func TestScheduleEditsAreSetLike(t *testing.T) {
	e := newEnv(t)
	e.enroll(1, "9:00 AM")

	got, err := e.svc.Schedule.AddSchedule(e.ctx, 1, " 6:00pm ")
	require.NoError(t, err)
	assert.Equal(t, []string{"9:00 AM", "6:00 PM"}, got)

	creates := e.tasks.creates
	got, err = e.svc.Schedule.AddSchedule(e.ctx, 1, "6:00 PM")
	require.NoError(t, err)
	assert.Equal(t, []string{"9:00 AM", "6:00 PM"}, got)
	assert.Equal(t, creates, e.tasks.creates, "no-op edit must not rearm")

	got, err = e.svc.Schedule.AddSchedule(e.ctx, 1, "7:30 AM")
	require.NoError(t, err)
	assert.Equal(t, []string{"7:30 AM", "9:00 AM", "6:00 PM"}, got)

	got, err = e.svc.Schedule.RemoveSchedule(e.ctx, 1, "9:00am")
	require.NoError(t, err)
	assert.Equal(t, []string{"7:30 AM", "6:00 PM"}, got)
	e.assertSingleTask(1)
}

func TestScheduleValidation(t *testing.T) {
	e := newEnv(t)
	e.enroll(1, "9:00 AM")

	_, err := e.svc.Schedule.AddSchedule(e.ctx, 1, "25:00 PM")
	assert.ErrorIs(t, err, errors.ScheduleTimeInvalid)

	_, err = e.svc.Schedule.RemoveSchedule(e.ctx, 1, "9:00 AM")
	assert.ErrorIs(t, err, errors.ScheduleLastEntry)

	_, err = e.svc.Schedule.ReplaceSchedules(e.ctx, 1, []string{"9:00 AM", "noon"})
	assert.ErrorIs(t, err, errors.ScheduleTimeInvalid)

	_, err = e.svc.Schedule.SetTimezone(e.ctx, 1, "Mars/Olympus")
	assert.ErrorIs(t, err, errors.TimezoneInvalid)

	_, err = e.svc.Schedule.AddSchedule(e.ctx, 2, "9:00 AM")
	assert.ErrorIs(t, err, errors.SeniorNotFound)
}

func TestSetTimezoneMovesDeadline(t *testing.T) {
	e := newEnv(t)
	e.enroll(1, "9:00 AM")

	st, err := e.svc.Schedule.SetTimezone(e.ctx, 1, "America/Los_Angeles")
	require.NoError(t, err)

	la := mustLoad(t, "America/Los_Angeles")
	require.NotNil(t, st.NextExpectedCheckIn)
	assert.Equal(t, 9, st.NextExpectedCheckIn.In(la).Hour())
	e.assertSingleTask(1)
}

func TestEnsureSeniorIsIdempotent(t *testing.T) {
	e := newEnv(t)
	st, err := e.svc.Schedule.EnsureSenior(e.ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"9:00 AM"}, []string(st.CheckInSchedules))
	require.NotNil(t, st.SeniorCreatedAt)

	_, err = e.svc.Schedule.EnsureSenior(e.ctx, 1, "Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, "", e.state(1).Timezone)
	assert.Equal(t, 1, e.tasks.creates)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Config{
		GracePeriodMinutes:      45,
		EscalationThresholdDays: 3,
		EscalationWindowHours:   12,
		DefaultSchedules:        []string{"8:00am", " 8:00 PM"},
		DefaultTimezone:         "Europe/Berlin",
		SweepIntervalMinutes:    5,
		SweepBatchSize:          100,
		SweepConcurrency:        4,
		TaskCreateMaxAttempts:   3,
		TaskRetryInitialMS:      1000,
	}
	s, err := SettingsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"8:00 AM", "8:00 PM"}, s.DefaultSchedules)
	assert.Equal(t, "Europe/Berlin", s.DefaultLocation.String())
	assert.Equal(t, 45.0, s.GracePeriod.Minutes())
	assert.Equal(t, 12.0, s.EscalationWindow.Hours())

	cfg.DefaultSchedules = []string{"8 o'clock"}
	_, err = SettingsFromConfig(cfg)
	assert.Error(t, err)
}
