package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"CheckInGuard/pkg/logger"
)

var (
	publisherCh *amqp.Channel
	pubMutex    sync.RWMutex // 读多写少
)

// getPublisherChannel 复用发布 channel，关闭后下次发布时重建
func getPublisherChannel() (*amqp.Channel, error) {
	pubMutex.RLock()
	if publisherCh != nil && !publisherCh.IsClosed() {
		ch := publisherCh
		pubMutex.RUnlock()
		return ch, nil
	}
	pubMutex.RUnlock()

	pubMutex.Lock()
	defer pubMutex.Unlock()

	if publisherCh != nil && !publisherCh.IsClosed() {
		return publisherCh, nil
	}
	if conn == nil || conn.IsClosed() {
		return nil, amqp.ErrClosed
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}
	publisherCh = ch

	closeChan := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		<-closeChan
		pubMutex.Lock()
		if publisherCh == ch {
			publisherCh = nil
		}
		pubMutex.Unlock()

		logger.Logger.Warn("Publisher channel closed, will recreate on next publish",
			zap.String("component", "rabbitmq"),
		)
	}()

	logger.Logger.Info("Publisher channel created", zap.String("component", "rabbitmq"))
	return ch, nil
}

// PublishDelayedMessage 发送延迟消息，x-delay 单位为毫秒
func PublishDelayedMessage(ctx context.Context, exchange, routingKey, messageID string, delay time.Duration, body interface{}) error {
	if delay < 0 {
		delay = 0
	}
	return publish(ctx, exchange, routingKey, messageID, body, amqp.Table{
		"x-delay": delay.Milliseconds(),
	})
}

// PublishMessage 发送普通消息
func PublishMessage(ctx context.Context, exchange, routingKey, messageID string, body interface{}) error {
	return publish(ctx, exchange, routingKey, messageID, body, nil)
}

func publish(ctx context.Context, exchange, routingKey, messageID string, body interface{}, headers amqp.Table) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return publishRaw(ctx, exchange, routingKey, messageID, bodyBytes, headers)
}

func publishRaw(ctx context.Context, exchange, routingKey, messageID string, bodyBytes []byte, headers amqp.Table) error {
	ch, err := getPublisherChannel()
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    messageID,
		Body:         bodyBytes,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", exchange, err)
	}
	return nil
}
