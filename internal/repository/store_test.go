package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CheckInGuard/internal/model"
	"CheckInGuard/internal/repository/repotest"
	"CheckInGuard/pkg/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(repotest.OpenDB(t))
}

func seed(t *testing.T, s *Store, userID int64) {
	t.Helper()
	created, err := s.CreateState(context.Background(), &model.SeniorState{
		UserID:           userID,
		CheckInSchedules: model.StringList{"9:00 AM"},
		Timezone:         "UTC",
	})
	require.NoError(t, err)
	require.True(t, created)
}

func TestCreateStateIsIdempotent(t *testing.T) {
	s := newStore(t)
	seed(t, s, 1)

	created, err := s.CreateState(context.Background(), &model.SeniorState{UserID: 1, Timezone: "Asia/Tokyo"})
	require.NoError(t, err)
	assert.False(t, created)

	st, err := s.GetState(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "UTC", st.Timezone)
	assert.Equal(t, model.StringList{"9:00 AM"}, st.CheckInSchedules)
}

func TestGetStateNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetState(context.Background(), 404)
	assert.ErrorIs(t, err, errors.ErrStateNotFound)

	_, err = s.UpdateState(context.Background(), 404, func(*StateTx, *model.SeniorState) error { return nil })
	assert.ErrorIs(t, err, errors.ErrStateNotFound)
}

func TestUpdateStateBumpsVersion(t *testing.T) {
	s := newStore(t)
	seed(t, s, 1)
	ctx := context.Background()
	deadline := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	st, err := s.UpdateState(ctx, 1, func(_ *StateTx, st *model.SeniorState) error {
		st.NextExpectedCheckIn = &deadline
		st.ConsecutiveMissedDays = 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Version)

	// 零值也要写回
	_, err = s.UpdateState(ctx, 1, func(_ *StateTx, st *model.SeniorState) error {
		st.ConsecutiveMissedDays = 0
		st.NextExpectedCheckIn = nil
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveMissedDays)
	assert.Nil(t, got.NextExpectedCheckIn)
	assert.Equal(t, int64(2), got.Version)
}

func TestUpdateStateNoopDoesNotWrite(t *testing.T) {
	s := newStore(t)
	seed(t, s, 1)

	st, err := s.UpdateState(context.Background(), 1, func(_ *StateTx, st *model.SeniorState) error {
		st.CurrentStreak = 99
		return ErrNoop
	})
	require.NoError(t, err)
	assert.Equal(t, 0, st.CurrentStreak)

	got, err := s.GetState(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Version)
}

func TestUpdateStateRollsBackActivityOnError(t *testing.T) {
	s := newStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	_, err := s.UpdateState(ctx, 1, func(tx *StateTx, st *model.SeniorState) error {
		inserted, err := tx.InsertActivity(&model.Activity{ID: "a1", UserID: 1, ActivityType: model.ActivityMissedCheckIn, Timestamp: time.Now()})
		require.NoError(t, err)
		require.True(t, inserted)
		return errors.New("boom")
	})
	require.Error(t, err)

	ids, err := s.ExistingActivityIDs(ctx, []string{"a1"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestInsertActivityIdempotent(t *testing.T) {
	s := newStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	var results []bool
	for i := 0; i < 2; i++ {
		_, err := s.UpdateState(ctx, 1, func(tx *StateTx, st *model.SeniorState) error {
			inserted, err := tx.InsertActivity(&model.Activity{
				ID:           "1_9-00-am_2026-03-10",
				UserID:       1,
				ActivityType: model.ActivityMissedCheckIn,
				Timestamp:    time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC),
				IsAlert:      true,
				Metadata:     model.JSONB{"scheduled_label": "9:00 AM"},
			})
			results = append(results, inserted)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []bool{true, false}, results)

	acts, err := s.ListActivities(ctx, 1)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "9:00 AM", acts[0].Metadata["scheduled_label"])
}

func TestConcurrentUpdatesAllApply(t *testing.T) {
	s := newStore(t)
	seed(t, s, 1)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateState(ctx, 1, func(_ *StateTx, st *model.SeniorState) error {
				st.MissedCheckInsToday++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetState(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, got.MissedCheckInsToday)
}

func TestListOverdueAndUnarmed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	task := "mci_1"

	rows := []model.SeniorState{
		{UserID: 1, NextExpectedCheckIn: ptr(now.Add(-2 * time.Hour)), ActiveTaskID: &task},
		{UserID: 2, NextExpectedCheckIn: ptr(now.Add(-2 * time.Hour)), VacationMode: true},
		{UserID: 3, NextExpectedCheckIn: ptr(now.Add(time.Hour))},
		{UserID: 4, NextExpectedCheckIn: ptr(now.Add(-5 * time.Hour)), ActiveTaskID: &task},
	}
	for i := range rows {
		rows[i].CheckInSchedules = model.StringList{"9:00 AM"}
		_, err := s.CreateState(ctx, &rows[i])
		require.NoError(t, err)
	}

	overdue, err := s.ListOverdue(ctx, now.Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 2)
	assert.Equal(t, int64(4), overdue[0].UserID)
	assert.Equal(t, int64(1), overdue[1].UserID)

	unarmed, err := s.ListUnarmed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unarmed, 1)
	assert.Equal(t, int64(3), unarmed[0].UserID)
}

func TestCaregiversAndTokens(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	db := s.db

	require.NoError(t, db.Create(&model.CaregiverLink{SeniorID: 1, CaregiverID: 20, Status: model.CaregiverLinkActive, Priority: 2}).Error)
	require.NoError(t, db.Create(&model.CaregiverLink{SeniorID: 1, CaregiverID: 10, Status: model.CaregiverLinkActive, Priority: 1}).Error)
	require.NoError(t, db.Create(&model.CaregiverLink{SeniorID: 1, CaregiverID: 30, Status: model.CaregiverLinkRevoked}).Error)

	links, err := s.ActiveCaregivers(ctx, 1)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, int64(10), links[0].CaregiverID)

	require.NoError(t, s.UpsertDeviceToken(ctx, &model.DeviceToken{UserID: 10, Token: "tok-a"}))
	require.NoError(t, s.UpsertDeviceToken(ctx, &model.DeviceToken{UserID: 20, Token: "tok-b"}))
	require.NoError(t, s.UpsertDeviceToken(ctx, &model.DeviceToken{UserID: 20, Token: "tok-a"}))

	tokens, err := s.DeviceTokens(ctx, 20)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, tokens)

	require.NoError(t, s.DeleteDeviceTokens(ctx, []string{"tok-b"}))
	tokens, err = s.DeviceTokens(ctx, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-a"}, tokens)
}

func ptr(t time.Time) *time.Time { return &t }
