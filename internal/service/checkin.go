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
	"CheckInGuard/internal/streak"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/metrics"
	"CheckInGuard/utils"
)

// CheckInResult 打卡后的状态
type CheckInResult struct {
	CheckIn             model.CheckIn
	Transition          string
	CurrentStreak       int
	NextExpectedCheckIn *time.Time
}

// Status 打卡状态查询
type Status struct {
	CurrentStreak           int        `json:"current_streak"`
	StartDate               *time.Time `json:"start_date,omitempty"`
	LastCheckIn             *time.Time `json:"last_check_in,omitempty"`
	NextExpectedCheckIn     *time.Time `json:"next_expected_check_in,omitempty"`
	VacationMode            bool       `json:"vacation_mode"`
	Schedules               []string   `json:"schedules"`
	Timezone                string     `json:"timezone"`
	CompletedSchedulesToday []string   `json:"completed_schedules_today"`
	MissedCheckInsToday     int        `json:"missed_check_ins_today"`
	ConsecutiveMissedDays   int        `json:"consecutive_missed_days"`
}

// CheckInService 打卡写入和连续天数维护
type CheckInService struct {
	store    *repository.Store
	orch     *Orchestrator
	clock    utils.Clock
	settings Settings
	log      *zap.Logger
}

func NewCheckInService(store *repository.Store, orch *Orchestrator, clock utils.Clock, settings Settings) *CheckInService {
	return &CheckInService{
		store:    store,
		orch:     orch,
		clock:    clock,
		settings: settings,
		log:      logger.Named("checkin"),
	}
}

// CheckIn 记录一次打卡：打卡记录、连续天数、漏打卡清零在同一个事务里完成，之后重新排程
func (s *CheckInService) CheckIn(ctx context.Context, userID int64) (*CheckInResult, error) {
	st, err := s.store.GetState(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			return nil, errors.SeniorNotFound
		}
		return nil, fmt.Errorf("failed to load senior state: %w", err)
	}

	// 先取消再在事务里清除
	prevTask := st.TaskID()
	if prevTask != "" {
		s.orch.cancel(ctx, userID, prevTask)
	}

	now := s.clock.Now()
	calc := s.settings.Calculator()

	var (
		record     model.CheckIn
		transition streak.Transition
	)
	committed, err := s.store.UpdateState(ctx, userID, func(tx *repository.StateTx, cur *model.SeniorState) error {
		loc := calc.Location(cur.Timezone)
		rollover(cur, now, loc)

		prev := streak.State{LastCheckIn: cur.LastCheckIn, Current: cur.CurrentStreak, StartDate: cur.StartDate}
		transition = streak.Classify(prev.LastCheckIn, now, loc)
		next := streak.Apply(prev, now, loc)

		label := s.satisfiedSlot(cur, now, loc)
		record = model.CheckIn{
			UserID:        userID,
			LocalDate:     deadline.LocalDate(now, loc),
			CheckedInAt:   now,
			ScheduleLabel: label,
			StreakAfter:   next.Current,
		}
		if err := tx.CreateCheckIn(&record); err != nil {
			return err
		}

		cur.LastCheckIn = timePtr(now)
		cur.CurrentStreak = next.Current
		cur.StartDate = next.StartDate
		cur.ConsecutiveMissedDays = 0
		if label != "" && !cur.CompletedSchedulesToday.Contains(label) {
			cur.CompletedSchedulesToday = append(cur.CompletedSchedulesToday, label)
		}
		if prevTask != "" && cur.TaskID() == prevTask {
			cur.ActiveTaskID = nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record check-in: %w", err)
	}
	metrics.Get().RecordCheckIn(ctx)

	s.log.Info("Check-in recorded",
		zap.Int64("user_id", userID),
		zap.String("schedule_label", record.ScheduleLabel),
		zap.String("transition", transition.String()),
		zap.Int("current_streak", committed.CurrentStreak),
	)

	result := &CheckInResult{
		CheckIn:       record,
		Transition:    transition.String(),
		CurrentStreak: committed.CurrentStreak,
	}

	if err := s.orch.Rearm(ctx, userID, "check_in"); err != nil {
		// 打卡本身已经成功，排程失败交给兜底扫描
		s.log.Error("Failed to rearm after check-in", zap.Int64("user_id", userID), zap.Error(err))
		return result, nil
	}
	if latest, err := s.store.GetState(ctx, userID); err == nil {
		result.NextExpectedCheckIn = latest.NextExpectedCheckIn
	}
	return result, nil
}

// satisfiedSlot 本次打卡完成的时段：最近一个已到点未完成的时段，否则下一个未完成的时段
func (s *CheckInService) satisfiedSlot(st *model.SeniorState, now time.Time, loc *time.Location) string {
	slots := parseSlots(st.CheckInSchedules)
	if len(slots) == 0 {
		slots = parseSlots(s.settings.DefaultSchedules)
	}
	local := now.In(loc)
	y, m, d := local.Date()

	var passed, upcoming string
	for _, slot := range slots {
		label := slot.Label()
		if st.CompletedSchedulesToday.Contains(label) {
			continue
		}
		at := time.Date(y, m, d, slot.Hour, slot.Minute, 0, 0, loc)
		if !at.After(local) {
			passed = label // slots 已排序，最后一个即最近的
		} else if upcoming == "" {
			upcoming = label
		}
	}
	if passed != "" {
		return passed
	}
	return upcoming
}

// GetStatus 当前打卡状态
func (s *CheckInService) GetStatus(ctx context.Context, userID int64) (*Status, error) {
	st, err := s.store.GetState(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			return nil, errors.SeniorNotFound
		}
		return nil, err
	}
	now := s.clock.Now()
	loc := s.settings.Calculator().Location(st.Timezone)

	missedToday := 0
	if st.LastScheduleResetDate == deadline.LocalDate(now, loc) {
		missedToday = st.MissedCheckInsToday
	}
	completed := completedToday(st, now, loc)
	if completed == nil {
		completed = []string{}
	}

	return &Status{
		CurrentStreak:           st.CurrentStreak,
		StartDate:               st.StartDate,
		LastCheckIn:             st.LastCheckIn,
		NextExpectedCheckIn:     st.NextExpectedCheckIn,
		VacationMode:            st.VacationMode,
		Schedules:               st.CheckInSchedules,
		Timezone:                loc.String(),
		CompletedSchedulesToday: completed,
		MissedCheckInsToday:     missedToday,
		ConsecutiveMissedDays:   st.ConsecutiveMissedDays,
	}, nil
}

// History 最近的打卡记录
func (s *CheckInService) History(ctx context.Context, userID int64, limit int) ([]model.CheckIn, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	return s.store.ListCheckIns(ctx, userID, limit)
}

// Activities 告警记录，监护人端展示
func (s *CheckInService) Activities(ctx context.Context, userID int64) ([]model.Activity, error) {
	return s.store.ListActivities(ctx, userID)
}

// parseSlots 跳过无法解析的条目，按时刻排序去重
func parseSlots(schedules []string) []deadline.ScheduleTime {
	seen := make(map[deadline.ScheduleTime]struct{}, len(schedules))
	out := make([]deadline.ScheduleTime, 0, len(schedules))
	for _, raw := range schedules {
		st, err := deadline.ParseScheduleTime(raw)
		if err != nil {
			continue
		}
		if _, ok := seen[st]; ok {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b deadline.ScheduleTime) int {
		return (a.Hour*60 + a.Minute) - (b.Hour*60 + b.Minute)
	})
	return out
}
