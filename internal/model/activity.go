package model

import "time"

// ActivityType 活动/告警类型
type ActivityType string

const (
	ActivityMissedCheckIn       ActivityType = "missed_check_in"
	ActivityEscalationTriggered ActivityType = "escalation_triggered"
)

// Activity 告警记录，ID 即幂等键，重复写入为 no-op
type Activity struct {
	ID           string       `gorm:"primaryKey;type:varchar(160)" json:"id"`
	UserID       int64        `gorm:"not null;index:idx_activities_user_time" json:"user_id"`
	ActivityType ActivityType `gorm:"type:varchar(32);not null" json:"activity_type"`
	Timestamp    time.Time    `gorm:"not null;index:idx_activities_user_time" json:"timestamp"`
	IsAlert      bool         `gorm:"not null;default:false" json:"is_alert"`
	Metadata     JSONB        `json:"metadata"`
	CreatedAt    time.Time    `gorm:"not null" json:"created_at"`
}

func (Activity) TableName() string {
	return "activities"
}
