package sms

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"CheckInGuard/config"
	"CheckInGuard/pkg/logger"
)

// Client SMS 客户端接口
type Client interface {
	// SendSingle templateParam 为 JSON 字符串
	SendSingle(ctx context.Context, phone, signName, templateCode, templateParam string) error
}

var (
	smsClient Client
	smsOnce   sync.Once
	smsErr    error
)

// Init 初始化 SMS 客户端
func Init() error {
	smsOnce.Do(func() {
		cfg := config.Cfg

		switch cfg.SMSProvider {
		case "aliyun":
			smsClient, smsErr = NewAliyunClient()
		case "mock":
			smsClient = NewMockClient()
		default:
			smsErr = fmt.Errorf("unsupported SMS provider: %s", cfg.SMSProvider)
		}

		if smsErr != nil {
			logger.Logger.Error("Failed to initialize SMS client", zap.Error(smsErr))
			return
		}
		logger.Logger.Info("SMS client initialized successfully", zap.String("provider", cfg.SMSProvider))
	})

	return smsErr
}

func GetClient() Client {
	if smsClient == nil {
		panic("SMS client not initialized, call sms.Init() first")
	}
	return smsClient
}

// ProviderName 用于指标标签
func ProviderName(c Client) string {
	switch c.(type) {
	case *AliyunClient:
		return "aliyun"
	case *MockClient:
		return "mock"
	default:
		return "unknown"
	}
}
