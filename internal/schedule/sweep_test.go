package schedule

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CheckInGuard/internal/model"
	"CheckInGuard/internal/repository"
	"CheckInGuard/internal/repository/repotest"
	"CheckInGuard/internal/service"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/push"
	"CheckInGuard/utils"
)

// lossyTasks 接受任务但永远不会触发，模拟消息丢失
type lossyTasks struct {
	mu   sync.Mutex
	seq  int
	live map[string]model.MissedCheckInTask
}

func (l *lossyTasks) Create(_ context.Context, _ time.Time, payload model.MissedCheckInTask) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := fmt.Sprintf("mci_%d", l.seq)
	payload.TaskID = id
	l.live[id] = payload
	return id, nil
}

func (l *lossyTasks) payload(id string) (model.MissedCheckInTask, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.live[id]
	return p, ok
}

func (l *lossyTasks) Cancel(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.live[id]; !ok {
		return errors.ErrTaskNotFound
	}
	delete(l.live, id)
	return nil
}

type stubLocker struct {
	held  bool
	calls int
}

func (s *stubLocker) TryLock(context.Context, string, string, time.Duration) (bool, error) {
	s.calls++
	return !s.held, nil
}

func (s *stubLocker) Unlock(context.Context, string, string) error { return nil }

type sweepEnv struct {
	ctx     context.Context
	tasks   *lossyTasks
	store   *repository.Store
	clock   *utils.FixedClock
	svc     *service.Services
	sweeper *Sweeper
	ny      *time.Location
}

func newSweepEnv(t *testing.T, locker Locker, opts ...func(*service.Settings)) *sweepEnv {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	settings := service.DefaultSettings()
	settings.DefaultLocation = ny
	settings.TaskRetryInitial = time.Millisecond
	for _, opt := range opts {
		opt(&settings)
	}

	store := repository.NewStore(repotest.OpenDB(t))
	clock := utils.NewFixedClock(time.Date(2026, 3, 10, 8, 0, 0, 0, ny))
	tasks := &lossyTasks{live: map[string]model.MissedCheckInTask{}}
	svc := service.New(service.Deps{
		Store:    store,
		Tasks:    tasks,
		Push:     push.NewMockSender(),
		Clock:    clock,
		Settings: settings,
	})
	return &sweepEnv{
		ctx:     context.Background(),
		tasks:   tasks,
		store:   store,
		clock:   clock,
		svc:     svc,
		sweeper: NewSweeper(store, svc, clock, settings, locker),
		ny:      ny,
	}
}

func (e *sweepEnv) at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, e.ny)
}

func (e *sweepEnv) create(t *testing.T, userID int64, createdAt time.Time, arm bool, schedules ...string) {
	t.Helper()
	_, err := e.store.CreateState(e.ctx, &model.SeniorState{
		UserID:           userID,
		CheckInSchedules: model.StringList(schedules),
		Timezone:         "America/New_York",
		SeniorCreatedAt:  &createdAt,
	})
	require.NoError(t, err)
	if arm {
		require.NoError(t, e.svc.Orchestrator.Rearm(e.ctx, userID, "test"))
	}
}

func (e *sweepEnv) misses(t *testing.T, userID int64) []model.Activity {
	t.Helper()
	all, err := e.store.ListActivities(e.ctx, userID)
	require.NoError(t, err)
	var out []model.Activity
	for _, a := range all {
		if a.ActivityType == model.ActivityMissedCheckIn {
			out = append(out, a)
		}
	}
	return out
}

func TestSweepRecordsLostTaskOnce(t *testing.T) {
	e := newSweepEnv(t, nil)
	e.create(t, 1, e.at(1, 8, 0), true, "9:00 AM")

	e.clock.Set(e.at(10, 9, 45))
	res, err := e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Recorded)
	assert.NotEmpty(t, res.RunID)

	misses := e.misses(t, 1)
	require.Len(t, misses, 1)
	assert.Equal(t, "1_9-00-am_2026-03-10", misses[0].ID)

	st, err := e.store.GetState(e.ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, st.ActiveTaskID)
	assert.Equal(t, 1, st.ConsecutiveMissedDays)

	// 截止时间仍停在今天 9 点，但已判定过，第二轮不再是候选
	require.NotNil(t, st.LastHandledDeadline)
	assert.True(t, st.LastHandledDeadline.Equal(*st.NextExpectedCheckIn))
	res, err = e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
	assert.Len(t, e.misses(t, 1), 1)
}

func TestSweepRespectsGracePeriod(t *testing.T) {
	e := newSweepEnv(t, nil)
	e.create(t, 1, e.at(1, 8, 0), true, "9:00 AM")

	e.clock.Set(e.at(10, 9, 20))
	res, err := e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
	assert.Empty(t, e.misses(t, 1))
}

func TestSweepSkipsFirstDay(t *testing.T) {
	e := newSweepEnv(t, nil)
	e.create(t, 1, e.at(10, 7, 0), true, "9:00 AM")

	e.clock.Set(e.at(10, 10, 0))
	res, err := e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.FirstDay)
	assert.Equal(t, 0, res.Recorded)
	assert.Empty(t, e.misses(t, 1))

	res, err = e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
}

func TestSweepSkipsAlreadyRecordedMiss(t *testing.T) {
	e := newSweepEnv(t, nil)
	e.create(t, 1, e.at(1, 8, 0), true, "9:00 AM")

	// 任务路径已经写过同一个幂等键
	_, err := e.store.UpdateState(e.ctx, 1, func(tx *repository.StateTx, st *model.SeniorState) error {
		_, err := tx.InsertActivity(&model.Activity{
			ID:           service.ActivityID(1, "9:00 AM", "2026-03-10"),
			UserID:       1,
			ActivityType: model.ActivityMissedCheckIn,
			Timestamp:    e.at(10, 9, 30),
		})
		return err
	})
	require.NoError(t, err)

	e.clock.Set(e.at(10, 9, 45))
	res, err := e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 0, res.Recorded)
	assert.Len(t, e.misses(t, 1), 1)

	st, err := e.store.GetState(e.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ConsecutiveMissedDays)

	res, err = e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
}

func TestSweepHealsUnarmedSeniors(t *testing.T) {
	e := newSweepEnv(t, nil)
	e.create(t, 2, e.at(1, 8, 0), false, "6:00 PM")

	res, err := e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Healed)

	st, err := e.store.GetState(e.ctx, 2)
	require.NoError(t, err)
	require.NotNil(t, st.ActiveTaskID)
	assert.True(t, st.NextExpectedCheckIn.Equal(e.at(10, 18, 0)))
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	locker := &stubLocker{held: true}
	e := newSweepEnv(t, locker)
	e.create(t, 1, e.at(1, 8, 0), true, "9:00 AM")

	e.clock.Set(e.at(10, 9, 45))
	res, err := e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.calls)
	assert.Equal(t, 0, res.Candidates)
	assert.Empty(t, e.misses(t, 1))
}

func batchOf(n int) func(*service.Settings) {
	return func(s *service.Settings) { s.SweepBatchSize = n }
}

func TestSweepReachesLaterMissPastRecordedOnes(t *testing.T) {
	e := newSweepEnv(t, nil, batchOf(2))
	e.create(t, 1, e.at(1, 8, 0), true, "9:00 AM")
	e.create(t, 2, e.at(1, 8, 0), true, "9:00 AM")
	e.create(t, 3, e.at(1, 8, 0), true, "10:00 AM")

	e.clock.Set(e.at(10, 9, 45))
	res, err := e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Recorded)

	// 1、2 的截止时间停在 9 点直到当天结束，不能挡住 3
	for _, at := range []time.Time{e.at(10, 11, 0), e.at(10, 14, 0)} {
		e.clock.Set(at)
		_, err := e.sweeper.Run(e.ctx)
		require.NoError(t, err)
	}
	assert.Len(t, e.misses(t, 3), 1)
	assert.Len(t, e.misses(t, 1), 1)
	assert.Len(t, e.misses(t, 2), 1)
}

func TestSweepProcessesMoreThanOneBatchPerRun(t *testing.T) {
	e := newSweepEnv(t, nil, batchOf(2))
	for id := int64(1); id <= 5; id++ {
		e.create(t, id, e.at(1, 8, 0), true, "9:00 AM")
	}

	e.clock.Set(e.at(10, 9, 45))
	res, err := e.sweeper.Run(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Recorded)
	for id := int64(1); id <= 5; id++ {
		assert.Len(t, e.misses(t, id), 1, "user %d", id)
	}
}

func TestSweepAndTaskFiringRecordMissOnce(t *testing.T) {
	e := newSweepEnv(t, nil)
	e.create(t, 1, e.at(1, 8, 0), true, "9:00 AM")
	st, err := e.store.GetState(e.ctx, 1)
	require.NoError(t, err)
	payload, ok := e.tasks.payload(st.TaskID())
	require.True(t, ok)

	e.clock.Set(e.at(10, 9, 45))
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = e.svc.Detector.HandleMissedCheckIn(e.ctx, payload)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = e.sweeper.Run(e.ctx)
	}()
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	misses := e.misses(t, 1)
	require.Len(t, misses, 1)
	assert.Equal(t, "1_9-00-am_2026-03-10", misses[0].ID)

	st, err = e.store.GetState(e.ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, st.ConsecutiveMissedDays)
	assert.Equal(t, 1, st.MissedCheckInsToday)
}
