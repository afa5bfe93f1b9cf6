package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"CheckInGuard/config"
	"CheckInGuard/internal/bootstrap"
	"CheckInGuard/internal/repository"
	"CheckInGuard/internal/schedule"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/metrics"
	"CheckInGuard/pkg/snowflake"
	"CheckInGuard/storage"
	"CheckInGuard/storage/database"
	"CheckInGuard/utils"
)

func main() {

	logger.Init()
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Logger.Info("Scheduler received shutdown signal",
			zap.String("signal", sig.String()),
		)
		cancel()
	}()

	if err := metrics.Init(); err != nil {
		logger.Logger.Warn("Failed to initialize metrics", zap.Error(err))
	}

	if err := storage.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize storage for scheduler", zap.Error(err))
	}
	defer storage.Close()

	// 与 worker 和 server 使用不同的 machine id
	if err := snowflake.Init(config.Cfg.SnowflakeMachineID, config.Cfg.SnowflakeDataCenter); err != nil {
		logger.Logger.Fatal("Failed to initialize snowflake for scheduler", zap.Error(err))
	}

	svcs, settings, err := bootstrap.Services(ctx)
	if err != nil {
		logger.Logger.Fatal("Failed to initialize services", zap.Error(err))
	}

	sweeper := schedule.NewSweeper(repository.NewStore(database.DB()), svcs, utils.SystemClock{}, settings, schedule.RedisLocker{})

	logger.Logger.Info("Scheduler service starting",
		zap.String("service", config.Cfg.ServiceName+"-scheduler"),
		zap.String("environment", config.Cfg.Environment),
		zap.Duration("sweep_interval", settings.SweepInterval),
	)

	// 启动时先跑一轮，补上停机期间的漏打卡
	if _, err := sweeper.Run(ctx); err != nil {
		logger.Logger.Error("Initial sweep failed", zap.Error(err))
	}
	sweeper.Loop(ctx)

	logger.Logger.Info("Scheduler service shutting down gracefully")
}
