package model

import "time"

// MissedCheckInTask 延迟任务载荷，到期后投递给漏打卡检测
type MissedCheckInTask struct {
	TaskID        string    `json:"task_id"`
	UserID        int64     `json:"user_id"`
	ScheduledTime time.Time `json:"scheduled_time"` // 截止时间（不含宽限期）
	CreatedAt     time.Time `json:"created_at"`
	Timezone      string    `json:"timezone"`
}

// CaregiverSMSMessage 升级告警短信，每个监护人一条
type CaregiverSMSMessage struct {
	MessageID      string            `json:"message_id"` // 幂等
	ActivityID     string            `json:"activity_id"`
	SeniorID       int64             `json:"senior_id"`
	CaregiverID    int64             `json:"caregiver_id"`
	PhoneCipher    string            `json:"phone_cipher"`
	TemplateParams map[string]string `json:"template_params"`
}
