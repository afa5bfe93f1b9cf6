package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
)

// MessageHandler 返回 nil 或 SkipMessageError 时 ack；返回 RejectError 时丢弃；
// 其他错误经延迟交换机延后重投，超过重试次数后丢弃
type MessageHandler func(ctx context.Context, body []byte) error

// RejectError 消息本身有问题，重试也不会成功
type RejectError struct {
	Err error
}

func (e *RejectError) Error() string { return fmt.Sprintf("reject message: %v", e.Err) }
func (e *RejectError) Unwrap() error { return e.Err }

type ConsumeOptions struct {
	Queue         string
	ConsumerTag   string
	PrefetchCount int
	Handler       MessageHandler
	// RoutingKey 重试消息经 DelayedExchange 回到本队列使用的路由键
	RoutingKey string
	// MaxRetries 为 0 时使用 defaultMaxRetries
	MaxRetries int
}

const (
	retryCountHeader  = "x-retry-count"
	defaultMaxRetries = 10
	retryBaseDelay    = 30 * time.Second
	retryMaxDelay     = 10 * time.Minute
)

// republishFunc 方便测试替换
var republish = publishRaw

// Consume 阻塞直到 ctx 结束或 channel 关闭
func Consume(ctx context.Context, opts ConsumeOptions) error {
	if conn == nil {
		return fmt.Errorf("RabbitMQ connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if opts.PrefetchCount > 0 {
		if err := ch.Qos(opts.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	msgs, err := ch.Consume(opts.Queue, opts.ConsumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	logger.Logger.Info("Started consuming messages",
		zap.String("queue", opts.Queue),
		zap.String("consumer_tag", opts.ConsumerTag),
		zap.Int("prefetch_count", opts.PrefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return amqp.ErrClosed
			}
			handleDelivery(ctx, opts, msg)
		}
	}
}

func handleDelivery(ctx context.Context, opts ConsumeOptions, msg amqp.Delivery) {
	err := opts.Handler(ctx, msg.Body)

	var reject *RejectError
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case errors.IsSkipMessageError(err):
		logger.Logger.Debug("Message skipped",
			zap.String("queue", opts.Queue),
			zap.String("message_id", msg.MessageId),
			zap.Error(err),
		)
		_ = msg.Ack(false)
	case errors.As(err, &reject):
		logger.Logger.Error("Message rejected",
			zap.String("queue", opts.Queue),
			zap.String("message_id", msg.MessageId),
			zap.Error(err),
		)
		_ = msg.Nack(false, false)
	default:
		logger.Logger.Error("Failed to process message",
			zap.String("queue", opts.Queue),
			zap.String("consumer_tag", opts.ConsumerTag),
			zap.String("message_id", msg.MessageId),
			zap.Error(err),
		)
		retryLater(ctx, opts, msg)
	}
}

// retryLater 立即 requeue 会在下游故障时空转，改为延迟重投后 ack 原消息
func retryLater(ctx context.Context, opts ConsumeOptions, msg amqp.Delivery) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	attempt := retryCount(msg.Headers)
	if attempt >= maxRetries {
		logger.Logger.Error("Message dropped after max retries",
			zap.String("queue", opts.Queue),
			zap.String("message_id", msg.MessageId),
			zap.Int("retries", attempt),
		)
		_ = msg.Nack(false, false)
		return
	}

	delay := retryDelay(attempt)
	err := republish(ctx, DelayedExchange, opts.RoutingKey, msg.MessageId, msg.Body, amqp.Table{
		"x-delay":        delay.Milliseconds(),
		retryCountHeader: int32(attempt + 1),
	})
	if err != nil {
		// 发不出去只能退回原队列
		logger.Logger.Warn("Failed to schedule message retry, requeueing",
			zap.String("queue", opts.Queue),
			zap.String("message_id", msg.MessageId),
			zap.Error(err),
		)
		_ = msg.Nack(false, true)
		return
	}
	logger.Logger.Info("Message retry scheduled",
		zap.String("queue", opts.Queue),
		zap.String("message_id", msg.MessageId),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
	)
	_ = msg.Ack(false)
}

func retryCount(headers amqp.Table) int {
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// retryDelay 30s 起指数增长，上限 10 分钟
func retryDelay(attempt int) time.Duration {
	d := retryBaseDelay
	for i := 0; i < attempt && d < retryMaxDelay; i++ {
		d *= 2
	}
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	return d
}
