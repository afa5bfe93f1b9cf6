package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"CheckInGuard/internal/model"
	"CheckInGuard/internal/repository"
	"CheckInGuard/internal/repository/repotest"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/push"
	"CheckInGuard/utils"
)

// fakeTasks 内存中的延迟任务调度器
type fakeTasks struct {
	mu      sync.Mutex
	seq     int
	live    map[string]model.MissedCheckInTask
	targets map[string]time.Time
	creates int
	// 依次返回的 Create 错误
	createErrs []error
	// onCreate 在任务创建成功前调用，模拟并发写入
	onCreate func()
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{live: map[string]model.MissedCheckInTask{}, targets: map[string]time.Time{}}
}

func (f *fakeTasks) Create(_ context.Context, target time.Time, payload model.MissedCheckInTask) (string, error) {
	f.mu.Lock()
	f.creates++
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		f.mu.Unlock()
		return "", err
	}
	hook := f.onCreate
	f.onCreate = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("mci_%d", f.seq)
	payload.TaskID = id
	f.live[id] = payload
	f.targets[id] = target
	return id, nil
}

func (f *fakeTasks) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[id]; !ok {
		return errors.ErrTaskNotFound
	}
	delete(f.live, id)
	return nil
}

func (f *fakeTasks) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// fire 模拟到期：任务从调度器移除并返回载荷
func (f *fakeTasks) fire(t *testing.T, id string) model.MissedCheckInTask {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.live[id]
	require.True(t, ok, "task %s is not live", id)
	delete(f.live, id)
	return payload
}

type fakeSMS struct {
	mu   sync.Mutex
	msgs []model.CaregiverSMSMessage
}

func (f *fakeSMS) PublishCaregiverSMS(_ context.Context, msg model.CaregiverSMSMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return nil
}

type env struct {
	t     *testing.T
	ctx   context.Context
	db    *gorm.DB
	store *repository.Store
	tasks *fakeTasks
	push  *push.MockSender
	sms   *fakeSMS
	clock *utils.FixedClock
	svc   *Services
	ny    *time.Location
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	settings := DefaultSettings()
	settings.DefaultLocation = ny
	settings.TaskRetryInitial = time.Millisecond

	db := repotest.OpenDB(t)
	e := &env{
		t:     t,
		ctx:   context.Background(),
		db:    db,
		store: repository.NewStore(db),
		tasks: newFakeTasks(),
		push:  push.NewMockSender(),
		sms:   &fakeSMS{},
		clock: utils.NewFixedClock(time.Date(2026, 3, 10, 8, 0, 0, 0, ny)),
		ny:    ny,
	}
	e.svc = New(Deps{
		Store:    e.store,
		Tasks:    e.tasks,
		Push:     e.push,
		SMS:      e.sms,
		Clock:    e.clock,
		Settings: settings,
	})
	return e
}

// at 3 月 day 日纽约时间
func (e *env) at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, e.ny)
}

// enroll 建一个已经用了一段时间的老人，不触发首日豁免
func (e *env) enroll(userID int64, schedules ...string) *model.SeniorState {
	e.t.Helper()
	created := e.at(1, 8, 0)
	_, err := e.store.CreateState(e.ctx, &model.SeniorState{
		UserID:           userID,
		CheckInSchedules: model.StringList(schedules),
		Timezone:         "America/New_York",
		SeniorCreatedAt:  &created,
	})
	require.NoError(e.t, err)
	require.NoError(e.t, e.svc.Orchestrator.Rearm(e.ctx, userID, "test"))
	return e.state(userID)
}

func (e *env) state(userID int64) *model.SeniorState {
	e.t.Helper()
	st, err := e.store.GetState(e.ctx, userID)
	require.NoError(e.t, err)
	return st
}

// fireActive 触发当前记录的任务
func (e *env) fireActive(userID int64) model.MissedCheckInTask {
	e.t.Helper()
	st := e.state(userID)
	require.NotNil(e.t, st.ActiveTaskID, "no active task for user %d", userID)
	payload := e.tasks.fire(e.t, *st.ActiveTaskID)
	require.NoError(e.t, e.svc.Detector.HandleMissedCheckIn(e.ctx, payload))
	return payload
}

func (e *env) activities(userID int64, typ model.ActivityType) []model.Activity {
	e.t.Helper()
	all, err := e.store.ListActivities(e.ctx, userID)
	require.NoError(e.t, err)
	var out []model.Activity
	for _, a := range all {
		if a.ActivityType == typ {
			out = append(out, a)
		}
	}
	return out
}

// assertSingleTask 调度器中至多一个任务，并且与状态里记录的一致
func (e *env) assertSingleTask(userID int64) {
	e.t.Helper()
	st := e.state(userID)
	if st.ActiveTaskID == nil {
		require.Equal(e.t, 0, e.tasks.liveCount())
		return
	}
	require.Equal(e.t, 1, e.tasks.liveCount())
	_, ok := e.tasks.live[*st.ActiveTaskID]
	require.True(e.t, ok)
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}
