package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"CheckInGuard/internal/model"
	"CheckInGuard/internal/repository"
	"CheckInGuard/pkg/breaker"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/metrics"
	"CheckInGuard/pkg/push"
)

const notifyParallelism = 8

// EscalationPublisher 升级短信投递
type EscalationPublisher interface {
	PublishCaregiverSMS(ctx context.Context, msg model.CaregiverSMSMessage) error
}

// NotificationService 推送和升级短信，全部尽力而为
type NotificationService struct {
	store   *repository.Store
	sender  push.Sender
	sms     EscalationPublisher
	breaker *breaker.CircuitBreaker
	log     *zap.Logger
}

func NewNotificationService(store *repository.Store, sender push.Sender, sms EscalationPublisher) *NotificationService {
	return &NotificationService{
		store:   store,
		sender:  sender,
		sms:     sms,
		breaker: breaker.New("push", 5, 30*time.Second),
		log:     logger.Named("notification"),
	}
}

// SendToUser 推送给用户的全部设备
func (s *NotificationService) SendToUser(ctx context.Context, userID int64, msg push.Message) {
	tokens, err := s.store.DeviceTokens(ctx, userID)
	if err != nil {
		s.log.Warn("Failed to load device tokens", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	s.SendToMany(ctx, tokens, msg, "senior")
}

// SendToMany 一次多播。单个 token 的失败只影响它自己；熔断器只统计推送服务整体故障
func (s *NotificationService) SendToMany(ctx context.Context, tokens []string, msg push.Message, audience string) {
	if len(tokens) == 0 || s.sender == nil {
		return
	}

	var failures []push.Failure
	err := s.breaker.Call(func() error {
		var err error
		failures, err = s.sender.SendToDevices(ctx, tokens, msg)
		return err
	})
	if err != nil {
		metrics.Get().RecordPushFailed(ctx, audience)
		s.log.Warn("Push provider failed",
			zap.String("audience", audience),
			zap.Int("tokens", len(tokens)),
			zap.Error(err),
		)
	}

	var dead []string
	for _, f := range failures {
		metrics.Get().RecordPushFailed(ctx, audience)
		if f.Unregistered {
			dead = append(dead, f.Token)
		}
		s.log.Warn("Push delivery failed",
			zap.String("audience", audience),
			zap.String("token_suffix", tokenSuffix(f.Token)),
			zap.Bool("unregistered", f.Unregistered),
			zap.Error(f.Err),
		)
	}
	if len(dead) > 0 {
		if err := s.store.DeleteDeviceTokens(ctx, dead); err != nil {
			s.log.Warn("Failed to delete unregistered tokens", zap.Error(err))
		}
	}
}

// NotifyMiss 通知老人本人和所有有效监护人；升级时额外给监护人发短信
func (s *NotificationService) NotifyMiss(ctx context.Context, st *model.SeniorState, miss *model.Activity, escalation *model.Activity) {
	if miss == nil {
		return
	}
	label, _ := miss.Metadata["scheduled_label"].(string)

	caregivers, err := s.store.ActiveCaregivers(ctx, st.UserID)
	if err != nil {
		s.log.Warn("Failed to load caregivers", zap.Int64("user_id", st.UserID), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(notifyParallelism)

	g.Go(func() error {
		s.SendToUser(gctx, st.UserID, push.Message{
			Title: "Time to check in",
			Body:  fmt.Sprintf("You missed your %s check-in. Tap to let your family know you're OK.", label),
			Data:  map[string]string{"type": string(model.ActivityMissedCheckIn), "activity_id": miss.ID},
		})
		return nil
	})

	caregiverMsg := push.Message{
		Title: "Missed check-in",
		Body:  fmt.Sprintf("Your loved one missed the %s check-in.", label),
		Data: map[string]string{
			"type":        string(model.ActivityMissedCheckIn),
			"activity_id": miss.ID,
			"senior_id":   strconv.FormatInt(st.UserID, 10),
		},
	}
	if escalation != nil {
		caregiverMsg.Title = "Check-in alert"
		caregiverMsg.Body = fmt.Sprintf("No check-in for %d consecutive times. Please reach out.", st.ConsecutiveMissedDays)
		caregiverMsg.Data["type"] = string(model.ActivityEscalationTriggered)
		caregiverMsg.Data["activity_id"] = escalation.ID
	}

	for _, link := range caregivers {
		g.Go(func() error {
			tokens, err := s.store.DeviceTokens(gctx, link.CaregiverID)
			if err != nil {
				s.log.Warn("Failed to load caregiver tokens", zap.Int64("caregiver_id", link.CaregiverID), zap.Error(err))
				return nil
			}
			s.SendToMany(gctx, tokens, caregiverMsg, "caregiver")

			if escalation != nil {
				s.publishEscalationSMS(gctx, st, escalation, link)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *NotificationService) publishEscalationSMS(ctx context.Context, st *model.SeniorState, escalation *model.Activity, link model.CaregiverLink) {
	if s.sms == nil || link.PhoneCipher == "" {
		return
	}
	msg := model.CaregiverSMSMessage{
		MessageID:   escalation.ID + "_" + strconv.FormatInt(link.CaregiverID, 10),
		ActivityID:  escalation.ID,
		SeniorID:    st.UserID,
		CaregiverID: link.CaregiverID,
		PhoneCipher: link.PhoneCipher,
		TemplateParams: map[string]string{
			"name": link.DisplayName,
			"days": strconv.Itoa(st.ConsecutiveMissedDays),
		},
	}
	if err := s.sms.PublishCaregiverSMS(ctx, msg); err != nil {
		s.log.Warn("Failed to publish escalation sms",
			zap.String("activity_id", escalation.ID),
			zap.Int64("caregiver_id", link.CaregiverID),
			zap.Error(err),
		)
	}
}

// RegisterDevice 同一个 token 换绑到当前用户
func (s *NotificationService) RegisterDevice(ctx context.Context, userID int64, token, platform string) error {
	token = strings.TrimSpace(token)
	if token == "" || len(token) > 512 {
		return errors.DeviceTokenInvalid
	}
	platform = strings.ToLower(strings.TrimSpace(platform))
	switch platform {
	case "", "ios", "android", "web":
	default:
		return errors.DeviceTokenInvalid
	}
	if err := s.store.UpsertDeviceToken(ctx, &model.DeviceToken{UserID: userID, Token: token, Platform: platform}); err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

func tokenSuffix(token string) string {
	if len(token) <= 6 {
		return token
	}
	return token[len(token)-6:]
}
