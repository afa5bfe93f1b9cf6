package model

import "time"

// EnrollSeniorRequest 开通打卡监护
type EnrollSeniorRequest struct {
	Timezone string `json:"timezone"`
}

// ScheduleRequest 单个打卡时段，形如 "9:00 AM"
type ScheduleRequest struct {
	Time string `json:"time" query:"time"`
}

// ReplaceSchedulesRequest 整体替换打卡时段
type ReplaceSchedulesRequest struct {
	Schedules []string `json:"schedules"`
}

type VacationRequest struct {
	Enabled *bool `json:"enabled"`
}

type TimezoneRequest struct {
	Timezone string `json:"timezone"`
}

type RegisterDeviceRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

type HistoryQuery struct {
	Limit int `query:"limit"`
}

// CheckInResponse 打卡结果
type CheckInResponse struct {
	CheckInID           int64      `json:"check_in_id"`
	Timestamp           time.Time  `json:"timestamp"`
	ScheduleLabel       string     `json:"schedule_label,omitempty"`
	Transition          string     `json:"transition"`
	CurrentStreak       int        `json:"current_streak"`
	NextExpectedCheckIn *time.Time `json:"next_expected_check_in,omitempty"`
}

type SchedulesResponse struct {
	Schedules []string `json:"schedules"`
}

// TaskResponse 延迟任务回调结果
type TaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}
