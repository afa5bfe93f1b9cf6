package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"CheckInGuard/internal/cache"
	"CheckInGuard/internal/model"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/metrics"
	"CheckInGuard/pkg/sms"
	"CheckInGuard/storage/mq"
	"CheckInGuard/utils"
)

const processingTTL = 10 * time.Minute

// MissedCheckInHandler 漏打卡检测入口，由 service 层实现
type MissedCheckInHandler interface {
	HandleMissedCheckIn(ctx context.Context, task model.MissedCheckInTask) error
}

// taskMarks 任务墓碑和消息幂等标记
type taskMarks interface {
	IsTaskCancelled(ctx context.Context, taskID string) (bool, error)
	TryMarkMessageProcessing(ctx context.Context, messageID string, ttl time.Duration) (bool, error)
	UnmarkMessageProcessing(ctx context.Context, messageID string) error
	MarkMessageProcessed(ctx context.Context, messageID string, ttl time.Duration) error
	MarkTaskFired(ctx context.Context, taskID string) error
}

type redisMarks struct{}

func (redisMarks) IsTaskCancelled(ctx context.Context, taskID string) (bool, error) {
	return cache.IsTaskCancelled(ctx, taskID)
}

func (redisMarks) TryMarkMessageProcessing(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	return cache.TryMarkMessageProcessing(ctx, messageID, ttl)
}

func (redisMarks) UnmarkMessageProcessing(ctx context.Context, messageID string) error {
	return cache.UnmarkMessageProcessing(ctx, messageID)
}

func (redisMarks) MarkMessageProcessed(ctx context.Context, messageID string, ttl time.Duration) error {
	return cache.MarkMessageProcessed(ctx, messageID, ttl)
}

func (redisMarks) MarkTaskFired(ctx context.Context, taskID string) error {
	return cache.MarkTaskFired(ctx, taskID)
}

// TaskRunner MQ 投递和 HTTP 回调共用的任务执行逻辑
type TaskRunner struct {
	handler MissedCheckInHandler
	marks   taskMarks
}

func NewTaskRunner(handler MissedCheckInHandler) *TaskRunner {
	return &TaskRunner{handler: handler, marks: redisMarks{}}
}

// Run 已取消或重复投递时返回 SkipMessageError
func (r *TaskRunner) Run(ctx context.Context, task model.MissedCheckInTask) error {
	if task.TaskID == "" || task.UserID <= 0 || task.ScheduledTime.IsZero() {
		return &mq.RejectError{Err: errors.TaskPayloadInvalid}
	}

	cancelled, err := r.marks.IsTaskCancelled(ctx, task.TaskID)
	if err != nil {
		// redis 不可用时照常执行，检测本身会重新校验状态
		logger.Logger.Warn("Failed to check task tombstone",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
	} else if cancelled {
		return &errors.SkipMessageError{Reason: fmt.Sprintf("task %s cancelled", task.TaskID)}
	}

	first, err := r.marks.TryMarkMessageProcessing(ctx, task.TaskID, processingTTL)
	if err != nil {
		logger.Logger.Warn("Failed to check message processed status",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
	} else if !first {
		return &errors.SkipMessageError{Reason: fmt.Sprintf("task %s already processed", task.TaskID)}
	}

	if err := r.marks.MarkTaskFired(ctx, task.TaskID); err != nil {
		logger.Logger.Warn("Failed to mark task fired", zap.String("task_id", task.TaskID), zap.Error(err))
	}

	if err := r.handler.HandleMissedCheckIn(ctx, task); err != nil {
		// 处理失败，取消标记，允许重试
		if uerr := r.marks.UnmarkMessageProcessing(ctx, task.TaskID); uerr != nil {
			logger.Logger.Warn("Failed to unmark message", zap.String("task_id", task.TaskID), zap.Error(uerr))
		}
		return err
	}

	if err := r.marks.MarkMessageProcessed(ctx, task.TaskID, 0); err != nil {
		logger.Logger.Warn("Failed to mark message as processed",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
	}
	return nil
}

// StartMissedCheckInConsumer 消费延迟交换机到期的漏打卡任务
func StartMissedCheckInConsumer(ctx context.Context, runner TaskExecutor) error {
	handler := func(ctx context.Context, body []byte) error {
		var task model.MissedCheckInTask
		if err := json.Unmarshal(body, &task); err != nil {
			return &mq.RejectError{Err: fmt.Errorf("failed to unmarshal missed check-in task: %w", err)}
		}

		logger.Logger.Info("Processing missed check-in task",
			zap.String("task_id", task.TaskID),
			zap.Int64("user_id", task.UserID),
			zap.Time("scheduled_time", task.ScheduledTime),
		)
		return runner.Run(ctx, task)
	}

	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         mq.MissedCheckInQueue,
		RoutingKey:    mq.MissedCheckInRoutingKey,
		ConsumerTag:   "missed_check_in_consumer",
		PrefetchCount: 10,
		Handler:       handler,
	})
}

// SMSSender 发送升级短信
type SMSSender struct {
	client sms.Client
	marks  taskMarks
}

func NewSMSSender(client sms.Client) *SMSSender {
	return &SMSSender{client: client, marks: redisMarks{}}
}

func (s *SMSSender) Handle(ctx context.Context, msg model.CaregiverSMSMessage) error {
	first, err := s.marks.TryMarkMessageProcessing(ctx, msg.MessageID, processingTTL)
	if err != nil {
		logger.Logger.Warn("Failed to check message processed status",
			zap.String("message_id", msg.MessageID),
			zap.Error(err),
		)
	} else if !first {
		return &errors.SkipMessageError{Reason: fmt.Sprintf("message %s already processed", msg.MessageID)}
	}

	phone, err := utils.DecryptPhone(msg.PhoneCipher)
	if err != nil {
		_ = s.marks.UnmarkMessageProcessing(ctx, msg.MessageID)
		return &mq.RejectError{Err: fmt.Errorf("failed to decrypt caregiver phone: %w", err)}
	}

	if err := sms.SendEscalation(ctx, s.client, phone, msg.TemplateParams); err != nil {
		_ = s.marks.UnmarkMessageProcessing(ctx, msg.MessageID)
		metrics.Get().RecordSMS(ctx, sms.ProviderName(s.client), "failed")
		return fmt.Errorf("failed to send escalation sms: %w", err)
	}
	metrics.Get().RecordSMS(ctx, sms.ProviderName(s.client), "sent")

	if err := s.marks.MarkMessageProcessed(ctx, msg.MessageID, 0); err != nil {
		logger.Logger.Warn("Failed to mark message as processed", zap.String("message_id", msg.MessageID), zap.Error(err))
	}

	logger.Logger.Info("Escalation sms sent",
		zap.String("activity_id", msg.ActivityID),
		zap.Int64("senior_id", msg.SeniorID),
		zap.Int64("caregiver_id", msg.CaregiverID),
	)
	return nil
}

// StartCaregiverSMSConsumer 消费升级告警短信
func StartCaregiverSMSConsumer(ctx context.Context, sender *SMSSender) error {
	handler := func(ctx context.Context, body []byte) error {
		var msg model.CaregiverSMSMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return &mq.RejectError{Err: fmt.Errorf("failed to unmarshal caregiver sms message: %w", err)}
		}
		return sender.Handle(ctx, msg)
	}

	return mq.Consume(ctx, mq.ConsumeOptions{
		Queue:         mq.CaregiverSMSQueue,
		RoutingKey:    mq.CaregiverSMSRoutingKey,
		ConsumerTag:   "caregiver_sms_consumer",
		PrefetchCount: 20,
		Handler:       handler,
	})
}
