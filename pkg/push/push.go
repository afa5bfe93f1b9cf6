// Package push 移动端推送，生产使用 Firebase Cloud Messaging
package push

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"CheckInGuard/config"
	"CheckInGuard/pkg/logger"
)

// Message 推送内容
type Message struct {
	Title string
	Body  string
	Data  map[string]string
}

// Failure 单个 token 的发送失败
type Failure struct {
	Token        string
	Unregistered bool // token 已失效，应当删除
	Err          error
}

// ErrProviderUnavailable 推送服务整体不可用；单个 token 的失败不会返回它
var ErrProviderUnavailable = errors.New("push provider unavailable")

// Sender 推送发送接口
type Sender interface {
	// SendToDevices 返回逐个 token 的失败；只有推送服务本身出错时才返回 error
	SendToDevices(ctx context.Context, tokens []string, msg Message) ([]Failure, error)
}

var (
	sender   Sender
	initOnce sync.Once
	initErr  error
)

// Init 按配置初始化全局 Sender
func Init(ctx context.Context) error {
	initOnce.Do(func() {
		cfg := config.Cfg
		switch cfg.PushProvider {
		case "fcm":
			sender, initErr = NewFCMClient(ctx, cfg.FirebaseCredentialsFile)
		case "mock":
			sender = NewMockSender()
		default:
			initErr = fmt.Errorf("unsupported push provider: %s", cfg.PushProvider)
		}
		if initErr != nil {
			logger.Logger.Error("Failed to initialize push sender", zap.Error(initErr))
			return
		}
		logger.Logger.Info("Push sender initialized", zap.String("provider", cfg.PushProvider))
	})
	return initErr
}

func GetSender() Sender {
	if sender == nil {
		panic("push sender not initialized, call push.Init() first")
	}
	return sender
}
