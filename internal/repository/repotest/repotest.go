// Package repotest 为测试提供迁移好的 sqlite 数据库
package repotest

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"CheckInGuard/storage/database"
)

// OpenDB 每个测试一个独立的 sqlite 文件
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("%s?_busy_timeout=5000", filepath.Join(t.TempDir(), "checkinguard.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("open sql db: %v", err)
	}
	// 单连接，事务串行化
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.MigrateDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
