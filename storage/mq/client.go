package mq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"CheckInGuard/config"
	"CheckInGuard/pkg/logger"
)

// 交换机 / 队列拓扑
const (
	// DelayedExchange 依赖 rabbitmq_delayed_message_exchange 插件
	DelayedExchange      = "scheduler.delayed"
	NotificationExchange = "notification.topic"

	MissedCheckInQueue      = "scheduler.check_in.missed"
	MissedCheckInRoutingKey = "scheduler.check_in.missed"

	CaregiverSMSQueue      = "notification.sms.escalation"
	CaregiverSMSRoutingKey = "notification.sms.escalation"
)

var (
	conn     *amqp.Connection
	connOnce sync.Once
	connErr  error
)

func Init() error {
	connOnce.Do(func() {
		conn, connErr = amqp.Dial(config.Cfg.GetRabbitMQURL())
		if connErr != nil {
			return
		}
		if connErr = declareTopology(); connErr != nil {
			return
		}
		logger.Logger.Info("RabbitMQ initialized successfully", zap.String("component", "rabbitmq"))
	})
	return connErr
}

func declareTopology() error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(DelayedExchange, "x-delayed-message", true, false, false, false,
		amqp.Table{"x-delayed-type": "topic"}); err != nil {
		return fmt.Errorf("declare %s: %w", DelayedExchange, err)
	}
	if err := ch.ExchangeDeclare(NotificationExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", NotificationExchange, err)
	}

	bindings := []struct {
		queue, exchange, key string
	}{
		{MissedCheckInQueue, DelayedExchange, MissedCheckInRoutingKey},
		{CaregiverSMSQueue, NotificationExchange, CaregiverSMSRoutingKey},
		// 失败重试经延迟交换机回到原队列
		{CaregiverSMSQueue, DelayedExchange, CaregiverSMSRoutingKey},
	}
	for _, b := range bindings {
		if _, err := ch.QueueDeclare(b.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := ch.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", b.queue, err)
		}
	}
	return nil
}

// Connection 返回共享连接，未初始化时为 nil
func Connection() *amqp.Connection {
	return conn
}

func Close(ctx context.Context) error {
	if conn == nil || conn.IsClosed() {
		return nil
	}

	pubMutex.Lock()
	if publisherCh != nil {
		_ = publisherCh.Close()
		publisherCh = nil
	}
	pubMutex.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- conn.Close()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}
