package model

import "time"

// SeniorState 被监护老人的打卡状态，每个用户一行
// 所有时间字段统一存 UTC，按 Timezone 换算本地日
type SeniorState struct {
	UserID int64 `gorm:"primaryKey;autoIncrement:false" json:"user_id"`

	CheckInSchedules StringList `gorm:"not null" json:"check_in_schedules"`
	Timezone         string     `gorm:"type:varchar(64);not null;default:''" json:"timezone"`
	VacationMode     bool       `gorm:"not null;default:false;index:idx_senior_states_sweep,priority:1" json:"vacation_mode"`

	LastCheckIn         *time.Time `json:"last_check_in,omitempty"`
	NextExpectedCheckIn *time.Time `gorm:"index:idx_senior_states_sweep,priority:2" json:"next_expected_check_in,omitempty"`
	ActiveTaskID        *string    `gorm:"type:varchar(64)" json:"-"`
	// 已经判定过（记录或豁免）的截止时间，与 NextExpectedCheckIn 相同时兜底扫描跳过
	LastHandledDeadline *time.Time `json:"-"`

	ConsecutiveMissedDays   int        `gorm:"not null;default:0" json:"consecutive_missed_days"`
	MissedCheckInsToday     int        `gorm:"not null;default:0" json:"missed_check_ins_today"`
	CompletedSchedulesToday StringList `json:"completed_schedules_today"`
	LastScheduleResetDate   string     `gorm:"type:varchar(10);not null;default:''" json:"last_schedule_reset_date"` // 2006-01-02，用户本地日

	CurrentStreak int        `gorm:"not null;default:0" json:"current_streak"`
	StartDate     *time.Time `json:"start_date,omitempty"`

	LastEscalationNotificationAt *time.Time `json:"last_escalation_notification_at,omitempty"`
	SeniorCreatedAt              *time.Time `json:"senior_created_at,omitempty"`

	// 乐观锁版本号，每次写入 +1
	Version   int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (SeniorState) TableName() string {
	return "senior_states"
}

// TaskID 返回当前挂起的延迟任务 ID，没有时为空串
func (s *SeniorState) TaskID() string {
	if s.ActiveTaskID == nil {
		return ""
	}
	return *s.ActiveTaskID
}
