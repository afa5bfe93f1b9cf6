package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CheckInGuard/internal/model"
	"CheckInGuard/internal/repository"
	"CheckInGuard/pkg/errors"
)

func TestRearmArmsAtDeadlinePlusGrace(t *testing.T) {
	e := newEnv(t)
	st := e.enroll(1, "9:00 AM", "6:00 PM")

	require.NotNil(t, st.NextExpectedCheckIn)
	assert.True(t, e.at(10, 9, 0).Equal(*st.NextExpectedCheckIn))
	require.NotNil(t, st.ActiveTaskID)

	payload := e.tasks.live[*st.ActiveTaskID]
	assert.True(t, e.at(10, 9, 0).Equal(payload.ScheduledTime))
	assert.True(t, e.at(10, 9, 30).Equal(e.tasks.targets[*st.ActiveTaskID]))
	assert.Equal(t, "America/New_York", payload.Timezone)
	e.assertSingleTask(1)
}

func TestRearmNeverArmsInThePast(t *testing.T) {
	e := newEnv(t)
	e.enroll(1, "9:00 AM")

	// 9 点已过且未打卡：展示截止时间仍是今天 9 点，任务只能排到明天 9 点
	e.clock.Set(e.at(10, 10, 0))
	require.NoError(t, e.svc.Orchestrator.Rearm(e.ctx, 1, "test"))

	st := e.state(1)
	assert.True(t, e.at(10, 9, 0).Equal(*st.NextExpectedCheckIn))
	payload := e.tasks.live[*st.ActiveTaskID]
	assert.True(t, e.at(11, 9, 0).Equal(payload.ScheduledTime))
}

func TestRearmRetriesTransientFailures(t *testing.T) {
	e := newEnv(t)
	e.tasks.createErrs = []error{
		errors.Transient(errors.New("unavailable")),
		errors.Transient(errors.New("deadline exceeded")),
	}
	st := e.enroll(1, "9:00 AM")

	assert.Equal(t, 3, e.tasks.creates)
	assert.NotNil(t, st.ActiveTaskID)
	e.assertSingleTask(1)
}

func TestRearmGivesUpAfterMaxAttempts(t *testing.T) {
	e := newEnv(t)
	transient := errors.Transient(errors.New("unavailable"))
	e.tasks.createErrs = []error{transient, transient, transient, transient}
	st := e.enroll(1, "9:00 AM")

	assert.Equal(t, 3, e.tasks.creates)
	assert.Nil(t, st.ActiveTaskID)
	// 截止时间照常记录，兜底扫描可以接手
	assert.NotNil(t, st.NextExpectedCheckIn)
}

func TestRearmDoesNotRetryPermanentFailures(t *testing.T) {
	e := newEnv(t)
	e.tasks.createErrs = []error{errors.New("invalid argument")}
	st := e.enroll(1, "9:00 AM")

	assert.Equal(t, 1, e.tasks.creates)
	assert.Nil(t, st.ActiveTaskID)
}

func TestRearmDiscardsTaskWhenStateChangedConcurrently(t *testing.T) {
	e := newEnv(t)
	st := e.enroll(1, "9:00 AM")
	original := *st.ActiveTaskID

	// 创建任务期间另一个写入者修改了时段
	e.tasks.onCreate = func() {
		_, err := e.store.UpdateState(e.ctx, 1, func(_ *repository.StateTx, cur *model.SeniorState) error {
			cur.CheckInSchedules = model.StringList{"11:00 AM"}
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, e.svc.Orchestrator.Rearm(e.ctx, 1, "test"))

	// 新任务被取消，旧任务也已取消，交给修改方自己的重排
	assert.Equal(t, 0, e.tasks.liveCount())
	assert.Equal(t, original, e.state(1).TaskID())

	require.NoError(t, e.svc.Orchestrator.Rearm(e.ctx, 1, "schedule_replace"))
	e.assertSingleTask(1)
	assert.True(t, e.at(10, 11, 30).Equal(e.tasks.targets[e.state(1).TaskID()]))
}

func TestVacationSuppressesTasksAndMisses(t *testing.T) {
	e := newEnv(t)
	e.enroll(1, "9:00 AM")
	stale := e.tasks.live[e.state(1).TaskID()]

	_, err := e.svc.Schedule.SetVacationMode(e.ctx, 1, true)
	require.NoError(t, err)

	st := e.state(1)
	assert.Nil(t, st.ActiveTaskID)
	assert.Nil(t, st.NextExpectedCheckIn)
	assert.Equal(t, 0, e.tasks.liveCount())

	// 已经发出去的任务到期后也不会记录漏打卡
	e.clock.Set(e.at(10, 9, 30))
	require.NoError(t, e.svc.Detector.HandleMissedCheckIn(e.ctx, stale))
	assert.Empty(t, e.activities(1, model.ActivityMissedCheckIn))
	assert.Equal(t, 0, e.tasks.liveCount())

	_, err = e.svc.Schedule.SetVacationMode(e.ctx, 1, false)
	require.NoError(t, err)
	e.assertSingleTask(1)
	assert.NotNil(t, e.state(1).ActiveTaskID)
}

func TestNoDuplicateArmedTasksAcrossMutations(t *testing.T) {
	e := newEnv(t)
	e.enroll(1, "9:00 AM")

	steps := []func(){
		func() { _, err := e.svc.Schedule.AddSchedule(e.ctx, 1, "6:00pm"); require.NoError(t, err) },
		func() { _, err := e.svc.Schedule.SetVacationMode(e.ctx, 1, true); require.NoError(t, err) },
		func() { _, err := e.svc.Schedule.SetVacationMode(e.ctx, 1, false); require.NoError(t, err) },
		func() { _, err := e.svc.CheckIn.CheckIn(e.ctx, 1); require.NoError(t, err) },
		func() { _, err := e.svc.Schedule.RemoveSchedule(e.ctx, 1, "9:00 AM"); require.NoError(t, err) },
		func() { _, err := e.svc.Schedule.SetTimezone(e.ctx, 1, "Asia/Tokyo"); require.NoError(t, err) },
		func() { _, err := e.svc.Schedule.ReplaceSchedules(e.ctx, 1, []string{"7:15 AM", "12:00 PM"}); require.NoError(t, err) },
		func() { _, err := e.svc.CheckIn.CheckIn(e.ctx, 1); require.NoError(t, err) },
	}
	for _, step := range steps {
		e.clock.Advance(7 * time.Minute)
		step()
		e.assertSingleTask(1)
	}
}
