// Package bootstrap 三个进程共用的服务装配
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"CheckInGuard/config"
	"CheckInGuard/internal/queue"
	"CheckInGuard/internal/repository"
	"CheckInGuard/internal/service"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/push"
	"CheckInGuard/storage/database"
	"CheckInGuard/utils"
)

// Services 在 storage 与 snowflake 初始化之后调用
func Services(ctx context.Context) (*service.Services, service.Settings, error) {
	settings, err := service.SettingsFromConfig(config.Cfg)
	if err != nil {
		return nil, settings, fmt.Errorf("invalid check-in settings: %w", err)
	}

	// 推送不可用不影响打卡和漏打卡检测
	var sender push.Sender
	if err := push.Init(ctx); err != nil {
		logger.Logger.Warn("Push sender unavailable, falling back to mock", zap.Error(err))
		sender = push.NewMockSender()
	} else {
		sender = push.GetSender()
	}

	clock := utils.SystemClock{}
	svcs := service.Init(service.Deps{
		Store:    repository.NewStore(database.DB()),
		Tasks:    queue.NewDelayedTaskDispatcher(clock),
		Push:     sender,
		SMS:      queue.SMSPublisher{},
		Clock:    clock,
		Settings: settings,
	})
	return svcs, settings, nil
}
