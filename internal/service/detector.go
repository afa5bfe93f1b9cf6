package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"CheckInGuard/internal/deadline"
	"CheckInGuard/internal/model"
	"CheckInGuard/internal/repository"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/metrics"
	"CheckInGuard/utils"
)

const (
	TriggerTask  = "task"
	TriggerSweep = "sweep"
)

// MissNotifier 漏打卡和升级告警的通知出口，失败只记录日志
type MissNotifier interface {
	NotifyMiss(ctx context.Context, st *model.SeniorState, miss *model.Activity, escalation *model.Activity)
}

// MissOutcome 一次检测的结果
type MissOutcome struct {
	Recorded   bool
	Escalated  bool
	Suppressed string // 非空表示不算漏打卡的原因
	ActivityID string
}

type missCheck struct {
	userID        int64
	taskID        string
	scheduledTime time.Time
	createdAt     time.Time
	timezone      string
	trigger       string
}

// Detector 延迟任务到期后的漏打卡判定
type Detector struct {
	store    *repository.Store
	orch     *Orchestrator
	notifier MissNotifier
	clock    utils.Clock
	settings Settings
	log      *zap.Logger
}

func NewDetector(store *repository.Store, orch *Orchestrator, notifier MissNotifier, clock utils.Clock, settings Settings) *Detector {
	return &Detector{
		store:    store,
		orch:     orch,
		notifier: notifier,
		clock:    clock,
		settings: settings,
		log:      logger.Named("detector"),
	}
}

// HandleMissedCheckIn 延迟任务入口。写入告警之前的错误会返回给调用方重试，幂等键保证重试安全
func (d *Detector) HandleMissedCheckIn(ctx context.Context, task model.MissedCheckInTask) error {
	_, err := d.detect(ctx, missCheck{
		userID:        task.UserID,
		taskID:        task.TaskID,
		scheduledTime: task.ScheduledTime,
		createdAt:     task.CreatedAt,
		timezone:      task.Timezone,
		trigger:       TriggerTask,
	})
	return err
}

// RecordOverdue 兜底扫描复用同一套写入、升级和重新排程逻辑
func (d *Detector) RecordOverdue(ctx context.Context, st *model.SeniorState) (MissOutcome, error) {
	if st.NextExpectedCheckIn == nil {
		return MissOutcome{}, nil
	}
	return d.detect(ctx, missCheck{
		userID:        st.UserID,
		scheduledTime: *st.NextExpectedCheckIn,
		createdAt:     *st.NextExpectedCheckIn,
		timezone:      st.Timezone,
		trigger:       TriggerSweep,
	})
}

func (d *Detector) detect(ctx context.Context, in missCheck) (MissOutcome, error) {
	st, err := d.store.GetState(ctx, in.userID)
	if err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			d.log.Info("Senior state gone, dropping missed check-in", zap.Int64("user_id", in.userID), zap.String("task_id", in.taskID))
			return MissOutcome{Suppressed: "no_state"}, nil
		}
		return MissOutcome{}, fmt.Errorf("failed to load senior state: %w", err)
	}

	now := d.clock.Now()
	loc := d.location(st, in)

	if reason := d.notAMiss(st, in, now, loc); reason != "" {
		d.log.Info("Not a missed check-in",
			zap.Int64("user_id", in.userID),
			zap.String("task_id", in.taskID),
			zap.String("trigger", in.trigger),
			zap.String("reason", reason),
		)
		d.rearm(ctx, in)
		return MissOutcome{Suppressed: reason}, nil
	}

	label := d.settings.Calculator().SlotLabel(in.scheduledTime, loc, st.CheckInSchedules)
	missID := ActivityID(in.userID, label, deadline.LocalDate(in.scheduledTime, loc))

	var (
		out        = MissOutcome{ActivityID: missID}
		miss       *model.Activity
		escalation *model.Activity
	)
	committed, err := d.store.UpdateState(ctx, in.userID, func(tx *repository.StateTx, cur *model.SeniorState) error {
		// 事务重试时从头计算
		out = MissOutcome{ActivityID: missID}
		miss, escalation = nil, nil

		if reason := d.notAMiss(cur, in, now, loc); reason != "" {
			out.Suppressed = reason
			return repository.ErrNoop
		}

		rollover(cur, now, loc)

		record := &model.Activity{
			ID:           missID,
			UserID:       in.userID,
			ActivityType: model.ActivityMissedCheckIn,
			Timestamp:    now,
			IsAlert:      true,
			Metadata: model.JSONB{
				"scheduled_label": label,
				"scheduled_time":  in.scheduledTime.UTC().Format(time.RFC3339),
				"detected_at":     now.UTC().Format(time.RFC3339),
				"trigger":         in.trigger,
			},
		}
		inserted, err := tx.InsertActivity(record)
		if err != nil {
			return err
		}
		if !inserted {
			out.Suppressed = "duplicate"
			return repository.ErrNoop
		}
		out.Recorded = true
		miss = record

		cur.ConsecutiveMissedDays++
		cur.MissedCheckInsToday++
		cur.LastHandledDeadline = timePtr(in.scheduledTime.UTC())
		if in.taskID != "" && cur.TaskID() == in.taskID {
			cur.ActiveTaskID = nil
		}

		if d.shouldEscalate(cur, now) {
			esc := &model.Activity{
				ID:           EscalationActivityID(missID),
				UserID:       in.userID,
				ActivityType: model.ActivityEscalationTriggered,
				Timestamp:    now,
				IsAlert:      true,
				Metadata: model.JSONB{
					"consecutive_missed_days": cur.ConsecutiveMissedDays,
					"scheduled_label":         label,
					"detected_at":             now.UTC().Format(time.RFC3339),
				},
			}
			ok, err := tx.InsertActivity(esc)
			if err != nil {
				return err
			}
			if ok {
				cur.LastEscalationNotificationAt = timePtr(now)
				out.Escalated = true
				escalation = esc
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrStateNotFound) {
			return MissOutcome{Suppressed: "no_state"}, nil
		}
		return MissOutcome{}, fmt.Errorf("failed to record missed check-in: %w", err)
	}

	// 以下步骤失败都不能影响重新排程
	if out.Recorded {
		metrics.Get().RecordMiss(ctx, in.trigger)
		if out.Escalated {
			metrics.Get().RecordEscalation(ctx)
		}
		d.log.Info("Missed check-in recorded",
			zap.Int64("user_id", in.userID),
			zap.String("activity_id", missID),
			zap.String("task_id", in.taskID),
			zap.String("trigger", in.trigger),
			zap.Int("consecutive_missed_days", committed.ConsecutiveMissedDays),
			zap.Bool("escalated", out.Escalated),
		)
		d.notify(ctx, committed, miss, escalation)
	} else if out.Suppressed != "" {
		d.log.Info("Missed check-in skipped",
			zap.Int64("user_id", in.userID),
			zap.String("activity_id", missID),
			zap.String("reason", out.Suppressed),
		)
	}

	d.rearm(ctx, in)
	return out, nil
}

// notAMiss 到期时重新校验，返回非空原因表示不算漏打卡。
// 任务创建之后的打卡一律算覆盖；创建之前的打卡只有与该时段同一本地日、且不早于时段时间才算，
// 前一天的打卡或当天更早时段的打卡都不能抵消这个时段
func (d *Detector) notAMiss(st *model.SeniorState, in missCheck, now time.Time, loc *time.Location) string {
	if st.VacationMode {
		return "vacation"
	}
	if st.LastCheckIn != nil {
		last := st.LastCheckIn.In(loc)
		if last.After(in.createdAt) {
			return "checked_in_after_arm"
		}
		// 同一天内、且不早于该时段的打卡才算覆盖了这个时段
		slot := in.scheduledTime.In(loc)
		if deadline.SameDay(last, slot) && !last.Before(slot) {
			return "checked_in_same_day"
		}
	}
	if deadline.LocalDate(in.scheduledTime, loc) == st.LastScheduleResetDate {
		label := d.settings.Calculator().SlotLabel(in.scheduledTime, loc, st.CheckInSchedules)
		if st.CompletedSchedulesToday.Contains(label) {
			return "slot_completed"
		}
	}
	if d.isFirstDay(st, now, loc) {
		return "first_day"
	}
	return ""
}

// IsFirstDay 兜底扫描用来排除首日用户
func (d *Detector) IsFirstDay(st *model.SeniorState, now time.Time) bool {
	return d.isFirstDay(st, now, d.settings.Calculator().Location(st.Timezone))
}

// isFirstDay 新用户当天且还没改过默认时段，不告警
func (d *Detector) isFirstDay(st *model.SeniorState, now time.Time, loc *time.Location) bool {
	if st.SeniorCreatedAt == nil {
		return false
	}
	return deadline.SameDay(st.SeniorCreatedAt.In(loc), now.In(loc)) &&
		d.settings.isDefaultSchedule(st.CheckInSchedules)
}

// shouldEscalate 连续漏打卡达到阈值，且窗口期内没有发过升级告警
func (d *Detector) shouldEscalate(st *model.SeniorState, now time.Time) bool {
	if st.ConsecutiveMissedDays < d.settings.EscalationThreshold {
		return false
	}
	last := st.LastEscalationNotificationAt
	return last == nil || now.Sub(*last) >= d.settings.EscalationWindow
}

func (d *Detector) location(st *model.SeniorState, in missCheck) *time.Location {
	calc := d.settings.Calculator()
	if st.Timezone != "" {
		return calc.Location(st.Timezone)
	}
	return calc.Location(in.timezone)
}

func (d *Detector) notify(ctx context.Context, st *model.SeniorState, miss, escalation *model.Activity) {
	if d.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Notification dispatch panicked", zap.Int64("user_id", st.UserID), zap.Any("panic", r))
		}
	}()
	d.notifier.NotifyMiss(ctx, st, miss, escalation)
}

// rearm 无论是否记录漏打卡都要执行，失败交给兜底扫描
func (d *Detector) rearm(ctx context.Context, in missCheck) {
	trigger := "detector_" + in.trigger
	if err := d.orch.Rearm(ctx, in.userID, trigger); err != nil && !errors.Is(err, errors.ErrStateNotFound) {
		d.log.Error("Failed to rearm after missed check-in",
			zap.Int64("user_id", in.userID),
			zap.String("task_id", in.taskID),
			zap.Error(err),
		)
	}
}
