package database

import (
	"CheckInGuard/internal/model"
	"CheckInGuard/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Migrate 运行数据库迁移，创建所有表
func Migrate() error {
	db := DB()
	if db == nil {
		return gorm.ErrInvalidDB
	}
	return MigrateDB(db)
}

// MigrateDB 对任意连接执行迁移，测试里用 sqlite 连接调用
func MigrateDB(db *gorm.DB) error {
	logger.Logger.Info("Starting database migration...")

	err := db.AutoMigrate(
		&model.SeniorState{},
		&model.CheckIn{},
		&model.Activity{},
		&model.CaregiverLink{},
		&model.DeviceToken{},
	)
	if err != nil {
		logger.Logger.Error("Database migration failed", zap.Error(err))
		return err
	}

	logger.Logger.Info("Database migration completed successfully")
	return nil
}
