package repository

import (
	"fmt"
	"os"

	"gorm.io/gen"

	"CheckInGuard/internal/model"
	"CheckInGuard/storage/database"
)

// 以下接口供 cmd/gen 生成类型安全的只读查询（输出到 ./internal/repository/query），
// 运行时的写路径全部走 Store，以保证乐观锁语义。

// SeniorStateQuerier 打卡状态查询接口
type SeniorStateQuerier interface {
	// ListOverdue 兜底扫描
	//
	// SELECT * FROM @@table
	// WHERE vacation_mode = false
	//   AND next_expected_check_in IS NOT NULL
	//   AND next_expected_check_in < @before
	// ORDER BY next_expected_check_in
	// LIMIT @limit
	ListOverdue(before string, limit int) ([]*gen.T, error)

	// CountArmed 统计已挂起任务的用户数
	//
	// SELECT COUNT(*) FROM @@table WHERE active_task_id IS NOT NULL
	CountArmed() (int64, error)
}

// ActivityQuerier 告警记录查询接口
type ActivityQuerier interface {
	// ListAlertsSince 用户某时刻之后的告警
	//
	// SELECT * FROM @@table
	// WHERE user_id = @userID AND is_alert = true AND timestamp >= @since
	// ORDER BY timestamp DESC
	ListAlertsSince(userID int64, since string) ([]*gen.T, error)
}

// CheckInQuerier 打卡记录查询接口
type CheckInQuerier interface {
	// ListByLocalDate 用户某一本地日的打卡
	//
	// SELECT * FROM @@table WHERE user_id = @userID AND local_date = @localDate ORDER BY checked_in_at
	ListByLocalDate(userID int64, localDate string) ([]*gen.T, error)
}

// CaregiverLinkQuerier 监护关系查询接口
type CaregiverLinkQuerier interface {
	// ListActiveBySenior 有效监护人
	//
	// SELECT * FROM @@table WHERE senior_id = @seniorID AND status = 'active' AND deleted_at IS NULL ORDER BY priority
	ListActiveBySenior(seniorID int64) ([]*gen.T, error)
}

func Generate() error {
	if err := database.Init(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	db := database.DB()
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	g := gen.NewGenerator(gen.Config{
		OutPath:           "./internal/repository/query",
		ModelPkgPath:      "CheckInGuard/internal/model",
		Mode:              gen.WithDefaultQuery | gen.WithQueryInterface | gen.WithoutContext,
		FieldNullable:     true,
		FieldWithTypeTag:  true,
		FieldWithIndexTag: false,
	})
	g.UseDB(db)

	g.ApplyBasic(
		&model.SeniorState{},
		&model.CheckIn{},
		&model.Activity{},
		&model.CaregiverLink{},
		&model.DeviceToken{},
	)

	g.ApplyInterface(func(SeniorStateQuerier) {}, &model.SeniorState{})
	g.ApplyInterface(func(ActivityQuerier) {}, &model.Activity{})
	g.ApplyInterface(func(CheckInQuerier) {}, &model.CheckIn{})
	g.ApplyInterface(func(CaregiverLinkQuerier) {}, &model.CaregiverLink{})

	g.Execute()
	return nil
}

func RunGenerate() {
	if err := Generate(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate code: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Code generation completed successfully!")
}
