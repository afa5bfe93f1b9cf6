package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"CheckInGuard/internal/deadline"
	"CheckInGuard/internal/model"
	"CheckInGuard/internal/repository"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/utils"
)

// ScheduleService 打卡时段、假期模式和时区的修改，每次修改后重新排程
type ScheduleService struct {
	store    *repository.Store
	orch     *Orchestrator
	clock    utils.Clock
	settings Settings
	log      *zap.Logger
}

func NewScheduleService(store *repository.Store, orch *Orchestrator, clock utils.Clock, settings Settings) *ScheduleService {
	return &ScheduleService{
		store:    store,
		orch:     orch,
		clock:    clock,
		settings: settings,
		log:      logger.Named("schedule"),
	}
}

// EnsureSenior 开启打卡监控，已存在时不覆盖
func (s *ScheduleService) EnsureSenior(ctx context.Context, userID int64, timezone string) (*model.SeniorState, error) {
	if timezone != "" {
		if _, err := time.LoadLocation(timezone); err != nil {
			return nil, errors.TimezoneInvalid
		}
	}

	now := s.clock.Now()
	loc := s.settings.Calculator().Location(timezone)
	st := &model.SeniorState{
		UserID:                  userID,
		CheckInSchedules:        model.StringList(slices.Clone(s.settings.DefaultSchedules)),
		Timezone:                timezone,
		CompletedSchedulesToday: model.StringList{},
		LastScheduleResetDate:   deadline.LocalDate(now, loc),
		SeniorCreatedAt:         timePtr(now),
	}
	created, err := s.store.CreateState(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to create senior state: %w", err)
	}
	if created {
		s.log.Info("Senior enrolled", zap.Int64("user_id", userID), zap.String("timezone", timezone))
		s.rearm(ctx, userID, "enroll")
	}
	return s.store.GetState(ctx, userID)
}

func (s *ScheduleService) ListSchedules(ctx context.Context, userID int64) ([]string, error) {
	st, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return st.CheckInSchedules, nil
}

// AddSchedule 已存在的时段视为成功
func (s *ScheduleService) AddSchedule(ctx context.Context, userID int64, raw string) ([]string, error) {
	label, err := deadline.NormalizeLabel(raw)
	if err != nil {
		return nil, errors.ScheduleTimeInvalid
	}
	return s.mutateSchedules(ctx, userID, "schedule_add", func(cur []string) ([]string, error) {
		if slices.Contains(cur, label) {
			return nil, repository.ErrNoop
		}
		return sortLabels(append(slices.Clone(cur), label)), nil
	})
}

// RemoveSchedule 不允许删除最后一个时段
func (s *ScheduleService) RemoveSchedule(ctx context.Context, userID int64, raw string) ([]string, error) {
	label, err := deadline.NormalizeLabel(raw)
	if err != nil {
		return nil, errors.ScheduleTimeInvalid
	}
	return s.mutateSchedules(ctx, userID, "schedule_remove", func(cur []string) ([]string, error) {
		idx := slices.Index(cur, label)
		if idx < 0 {
			return nil, repository.ErrNoop
		}
		if len(cur) == 1 {
			return nil, errors.ScheduleLastEntry
		}
		return slices.Delete(slices.Clone(cur), idx, idx+1), nil
	})
}

// ReplaceSchedules 整体替换，任一条目无效则整体拒绝
func (s *ScheduleService) ReplaceSchedules(ctx context.Context, userID int64, raws []string) ([]string, error) {
	if len(raws) == 0 {
		return nil, errors.ScheduleLastEntry
	}
	labels := make([]string, 0, len(raws))
	for _, raw := range raws {
		label, err := deadline.NormalizeLabel(raw)
		if err != nil {
			return nil, errors.ScheduleTimeInvalid
		}
		if !slices.Contains(labels, label) {
			labels = append(labels, label)
		}
	}
	labels = sortLabels(labels)

	return s.mutateSchedules(ctx, userID, "schedule_replace", func(cur []string) ([]string, error) {
		if slices.Equal(cur, labels) {
			return nil, repository.ErrNoop
		}
		return labels, nil
	})
}

func (s *ScheduleService) SetVacationMode(ctx context.Context, userID int64, on bool) (*model.SeniorState, error) {
	st, err := s.update(ctx, userID, "vacation", func(cur *model.SeniorState) error {
		if cur.VacationMode == on {
			return repository.ErrNoop
		}
		cur.VacationMode = on
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// SetTimezone 仅接受 IANA 时区名
func (s *ScheduleService) SetTimezone(ctx context.Context, userID int64, timezone string) (*model.SeniorState, error) {
	if timezone == "" {
		return nil, errors.TimezoneInvalid
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return nil, errors.TimezoneInvalid
	}
	return s.update(ctx, userID, "timezone", func(cur *model.SeniorState) error {
		if cur.Timezone == timezone {
			return repository.ErrNoop
		}
		cur.Timezone = timezone
		// 换时区后本地日可能不同，当日计数按新时区重新开始
		cur.LastScheduleResetDate = ""
		return nil
	})
}

func (s *ScheduleService) mutateSchedules(ctx context.Context, userID int64, trigger string, fn func(cur []string) ([]string, error)) ([]string, error) {
	st, err := s.update(ctx, userID, trigger, func(cur *model.SeniorState) error {
		next, err := fn(cur.CheckInSchedules)
		if err != nil {
			return err
		}
		cur.CheckInSchedules = model.StringList(next)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st.CheckInSchedules, nil
}

// update 提交修改后重新排程；没有变化时不重排
func (s *ScheduleService) update(ctx context.Context, userID int64, trigger string, fn func(cur *model.SeniorState) error) (*model.SeniorState, error) {
	changed := false
	st, err := s.store.UpdateState(ctx, userID, func(_ *repository.StateTx, cur *model.SeniorState) error {
		changed = false
		if err := fn(cur); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			return nil, errors.SeniorNotFound
		}
		var def errors.Definition
		if errors.As(err, &def) {
			return nil, def
		}
		return nil, fmt.Errorf("failed to update senior state: %w", err)
	}
	if !changed {
		return st, nil
	}

	s.rearm(ctx, userID, trigger)
	return s.load(ctx, userID)
}

func (s *ScheduleService) rearm(ctx context.Context, userID int64, trigger string) {
	if err := s.orch.Rearm(ctx, userID, trigger); err != nil {
		s.log.Error("Failed to rearm after settings change",
			zap.Int64("user_id", userID),
			zap.String("trigger", trigger),
			zap.Error(err),
		)
	}
}

func (s *ScheduleService) load(ctx context.Context, userID int64) (*model.SeniorState, error) {
	st, err := s.store.GetState(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			return nil, errors.SeniorNotFound
		}
		return nil, err
	}
	return st, nil
}

// sortLabels 按一天中的时刻排序
func sortLabels(labels []string) []string {
	slots := parseSlots(labels)
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slot.Label())
	}
	return out
}
