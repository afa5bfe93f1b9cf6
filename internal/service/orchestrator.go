package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"CheckInGuard/internal/deadline"
	"CheckInGuard/internal/model"
	"CheckInGuard/internal/repository"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/metrics"
	"CheckInGuard/utils"
)

// TaskDispatcher 外部一次性延迟任务
type TaskDispatcher interface {
	Create(ctx context.Context, target time.Time, payload model.MissedCheckInTask) (string, error)
	// Cancel 任务不存在或已触发时返回 errors.ErrTaskNotFound
	Cancel(ctx context.Context, taskID string) error
}

var errRearmStale = stderrors.New("state changed during rearm")

// Orchestrator 维护每个用户唯一的漏打卡延迟任务
type Orchestrator struct {
	store    *repository.Store
	tasks    TaskDispatcher
	clock    utils.Clock
	settings Settings
	log      *zap.Logger
}

func NewOrchestrator(store *repository.Store, tasks TaskDispatcher, clock utils.Clock, settings Settings) *Orchestrator {
	return &Orchestrator{
		store:    store,
		tasks:    tasks,
		clock:    clock,
		settings: settings,
		log:      logger.Named("orchestrator"),
	}
}

// Rearm 取消旧任务并按最新状态创建新任务。
// 任务的创建和取消在事务之外进行，事务只负责记录 activeTaskId；
// 提交时发现状态已被并发修改则丢弃新任务，由修改方自己的 Rearm 生效。
func (o *Orchestrator) Rearm(ctx context.Context, userID int64, trigger string) error {
	st, err := o.store.GetState(ctx, userID)
	if err != nil {
		return err
	}

	now := o.clock.Now()
	calc := o.settings.Calculator()
	loc := calc.Location(st.Timezone)
	prevTask := st.TaskID()

	if prevTask != "" {
		o.cancel(ctx, userID, prevTask)
	}

	if st.VacationMode {
		_, err := o.commit(ctx, st, now, loc, nil, "")
		if stderrors.Is(err, errRearmStale) {
			return nil
		}
		return err
	}

	in := deadline.Input{
		Schedules:   st.CheckInSchedules,
		Now:         now,
		LastCheckIn: st.LastCheckIn,
		Location:    loc,
		Completed:   completedToday(st, now, loc),
	}
	display, hasDisplay := calc.Next(in)

	in.FutureOnly = true
	armAt, canArm := calc.Next(in)

	var newTask string
	if canArm {
		payload := model.MissedCheckInTask{
			UserID:        userID,
			ScheduledTime: armAt.UTC(),
			CreatedAt:     now,
			Timezone:      loc.String(),
		}
		newTask, err = o.createWithRetry(ctx, armAt.Add(o.settings.GracePeriod), payload)
		if err != nil {
			// 不重试的失败：保持未排程状态，等兜底扫描修复
			metrics.Get().RecordTaskFailed(ctx, failureReason(err))
			o.log.Error("Failed to create missed check-in task",
				zap.Int64("user_id", userID),
				zap.String("trigger", trigger),
				zap.Time("scheduled_time", armAt),
				zap.Error(err),
			)
			newTask = ""
		} else {
			metrics.Get().RecordTaskCreated(ctx)
		}
	}

	var next *time.Time
	if hasDisplay {
		next = timePtr(display.UTC())
	}

	_, err = o.commit(ctx, st, now, loc, next, newTask)
	if err != nil {
		if newTask != "" {
			o.cancel(ctx, userID, newTask)
		}
		if stderrors.Is(err, errRearmStale) {
			metrics.Get().RecordStaleDiscard(ctx)
			o.log.Debug("Discarded task of stale rearm",
				zap.Int64("user_id", userID),
				zap.String("task_id", newTask),
				zap.String("trigger", trigger),
			)
			return nil
		}
		return err
	}

	o.log.Debug("Rearmed missed check-in task",
		zap.Int64("user_id", userID),
		zap.String("task_id", newTask),
		zap.String("trigger", trigger),
		zap.Timep("next_expected_check_in", next),
	)
	return nil
}

// commit 只有在读取后状态未变时才记录新任务
func (o *Orchestrator) commit(ctx context.Context, read *model.SeniorState, now time.Time, loc *time.Location, next *time.Time, taskID string) (*model.SeniorState, error) {
	return o.store.UpdateState(ctx, read.UserID, func(_ *repository.StateTx, cur *model.SeniorState) error {
		if rearmInputsChanged(read, cur) {
			return errRearmStale
		}
		rollover(cur, now, loc)
		if cur.VacationMode {
			cur.NextExpectedCheckIn = nil
		} else {
			cur.NextExpectedCheckIn = next
		}
		cur.ActiveTaskID = strPtr(taskID)
		return nil
	})
}

// cancel 尽力而为，任务已触发或不存在都视为成功
func (o *Orchestrator) cancel(ctx context.Context, userID int64, taskID string) {
	err := o.tasks.Cancel(ctx, taskID)
	if err == nil || errors.Is(err, errors.ErrTaskNotFound) {
		return
	}
	o.log.Warn("Failed to cancel missed check-in task",
		zap.Int64("user_id", userID),
		zap.String("task_id", taskID),
		zap.Error(err),
	)
}

// createWithRetry 仅重试超时、连接中断等临时错误，间隔指数增长（1s, 2s, 4s）
func (o *Orchestrator) createWithRetry(ctx context.Context, target time.Time, payload model.MissedCheckInTask) (string, error) {
	op := func() (string, error) {
		id, err := o.tasks.Create(ctx, target, payload)
		if err == nil {
			return id, nil
		}
		if errors.IsTransient(err) {
			metrics.Get().RecordTaskRetry(ctx)
			o.log.Warn("Transient failure creating task, will retry",
				zap.Int64("user_id", payload.UserID),
				zap.Error(err),
			)
			return "", err
		}
		return "", backoff.Permanent(err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.settings.TaskRetryInitial
	b.Multiplier = 2
	b.RandomizationFactor = 0

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.settings.TaskCreateMaxAttempts)),
	)
}

func failureReason(err error) string {
	if errors.IsTransient(err) {
		return "transient_exhausted"
	}
	return "permanent"
}
