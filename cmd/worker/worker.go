package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"CheckInGuard/config"
	"CheckInGuard/internal/bootstrap"
	"CheckInGuard/internal/queue"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/metrics"
	"CheckInGuard/pkg/sms"
	"CheckInGuard/pkg/snowflake"
	"CheckInGuard/storage"
)

func main() {

	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Logger.Info("Received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if err := metrics.Init(); err != nil {
		logger.Logger.Warn("Failed to initialize metrics", zap.Error(err))
	}

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer storage.Close()

	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake", zap.Error(err))
	}

	smsErr := sms.Init()
	if smsErr != nil {
		logger.Logger.Warn("Failed to initialize SMS service", zap.Error(smsErr))
		logger.Logger.Info("SMS service will be disabled, caregiver SMS stay queued")
	}

	svcs, _, err := bootstrap.Services(ctx)
	if err != nil {
		logger.Logger.Fatal("Failed to initialize services", zap.Error(err))
	}

	logger.Logger.Info("Worker service starting",
		zap.String("service", config.Cfg.ServiceName+"-worker"),
		zap.String("environment", config.Cfg.Environment),
	)

	var executor queue.TaskExecutor = queue.NewTaskRunner(svcs.Detector)
	if config.Cfg.TaskCallbackURL != "" {
		if config.Cfg.TaskCallbackSecret == "" {
			logger.Logger.Fatal("TASK_CALLBACK_SECRET is required when TASK_CALLBACK_URL is set")
		}
		forwarder, err := queue.NewCallbackForwarder(config.Cfg.TaskCallbackURL,
			time.Duration(config.Cfg.TaskCallbackTimeoutMS)*time.Millisecond)
		if err != nil {
			logger.Logger.Fatal("Failed to initialize task callback", zap.Error(err))
		}
		executor = forwarder
		logger.Logger.Info("Missed check-in tasks are forwarded to the API callback",
			zap.String("url", config.Cfg.TaskCallbackURL),
		)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runConsumer(ctx, "missed_check_in", func(ctx context.Context) error {
			return queue.StartMissedCheckInConsumer(ctx, executor)
		})
	}()

	if smsErr == nil {
		client := sms.GetClient()
		wg.Add(1)
		go func() {
			defer wg.Done()
			runConsumer(ctx, "caregiver_sms", func(ctx context.Context) error {
				return queue.StartCaregiverSMSConsumer(ctx, queue.NewSMSSender(client))
			})
		}()
	}

	wg.Wait()

	logger.Logger.Info("Worker service shutting down gracefully")
}

// runConsumer channel 断开后等待重连
func runConsumer(ctx context.Context, name string, start func(ctx context.Context) error) {
	for {
		err := start(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Logger.Error("Consumer stopped, restarting",
			zap.String("consumer", name),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
