package model

import "time"

// CheckIn 打卡记录
type CheckIn struct {
	BaseModel
	UserID        int64     `gorm:"not null;index:idx_check_ins_user_date" json:"user_id"`
	LocalDate     string    `gorm:"type:varchar(10);not null;index:idx_check_ins_user_date" json:"local_date"`
	CheckedInAt   time.Time `gorm:"not null" json:"checked_in_at"`
	ScheduleLabel string    `gorm:"type:varchar(16);not null;default:''" json:"schedule_label"`
	StreakAfter   int       `gorm:"not null;default:0" json:"streak_after"`
}

func (CheckIn) TableName() string {
	return "check_ins"
}
