package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"CheckInGuard/internal/cache"
	"CheckInGuard/internal/model"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/snowflake"
	"CheckInGuard/storage/mq"
	"CheckInGuard/utils"
)

const taskIDPrefix = "mci_"

// publishFunc 方便测试替换 mq 发布
type publishFunc func(ctx context.Context, exchange, routingKey, messageID string, delay time.Duration, body interface{}) error

// cancelFunc 写墓碑，返回任务是否还没触发
type cancelFunc func(ctx context.Context, taskID string) (bool, error)

// DelayedTaskDispatcher 基于 RabbitMQ 延迟交换机的一次性任务
// 延迟消息无法从交换机中删除，取消通过 redis 墓碑实现
type DelayedTaskDispatcher struct {
	clock   utils.Clock
	publish publishFunc
	cancel  cancelFunc
}

func NewDelayedTaskDispatcher(clock utils.Clock) *DelayedTaskDispatcher {
	return &DelayedTaskDispatcher{
		clock:   clock,
		publish: mq.PublishDelayedMessage,
		cancel:  cache.CancelTask,
	}
}

// Create 在 target 时刻投递 payload，返回任务 handle
func (d *DelayedTaskDispatcher) Create(ctx context.Context, target time.Time, payload model.MissedCheckInTask) (string, error) {
	taskID, err := snowflake.NextString(taskIDPrefix)
	if err != nil {
		return "", fmt.Errorf("failed to generate task id: %w", errors.Permanent(err))
	}
	payload.TaskID = taskID

	delay := target.Sub(d.clock.Now())
	if err := d.publish(ctx, mq.DelayedExchange, mq.MissedCheckInRoutingKey, taskID, delay, payload); err != nil {
		logger.Logger.Warn("Failed to publish missed check-in task",
			zap.Int64("user_id", payload.UserID),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
		return "", err
	}

	logger.Logger.Debug("Published missed check-in task",
		zap.Int64("user_id", payload.UserID),
		zap.String("task_id", taskID),
		zap.Time("scheduled_time", payload.ScheduledTime),
		zap.Duration("delay", delay),
	)
	return taskID, nil
}

// Cancel 任务已经触发过时返回 ErrTaskNotFound
func (d *DelayedTaskDispatcher) Cancel(ctx context.Context, taskID string) error {
	pending, err := d.cancel(ctx, taskID)
	if err != nil {
		return err
	}
	if !pending {
		return errors.ErrTaskNotFound
	}
	return nil
}

// PublishCaregiverSMS 升级告警短信
func PublishCaregiverSMS(ctx context.Context, msg model.CaregiverSMSMessage) error {
	if msg.MessageID == "" {
		id, err := snowflake.NextString("sms_")
		if err != nil {
			return fmt.Errorf("failed to generate message ID: %w", err)
		}
		msg.MessageID = id
	}

	if err := mq.PublishMessage(ctx, mq.NotificationExchange, mq.CaregiverSMSRoutingKey, msg.MessageID, msg); err != nil {
		logger.Logger.Error("Failed to publish caregiver sms message",
			zap.String("activity_id", msg.ActivityID),
			zap.Int64("caregiver_id", msg.CaregiverID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// SMSPublisher 把升级短信投递到通知交换机
type SMSPublisher struct{}

func (SMSPublisher) PublishCaregiverSMS(ctx context.Context, msg model.CaregiverSMSMessage) error {
	return PublishCaregiverSMS(ctx, msg)
}
