package service

import (
	"fmt"
	"time"

	"CheckInGuard/config"
	"CheckInGuard/internal/deadline"
)

// Settings 打卡监控的运行参数，由 config 转换后注入各组件
type Settings struct {
	GracePeriod         time.Duration
	EscalationThreshold int
	EscalationWindow    time.Duration
	DefaultSchedules    []string
	DefaultLocation     *time.Location

	SweepInterval    time.Duration
	SweepBatchSize   int
	SweepConcurrency int

	TaskCreateMaxAttempts int
	TaskRetryInitial      time.Duration
}

// DefaultSettings 与 config 默认值一致，测试直接使用
func DefaultSettings() Settings {
	return Settings{
		GracePeriod:           30 * time.Minute,
		EscalationThreshold:   2,
		EscalationWindow:      24 * time.Hour,
		DefaultSchedules:      []string{"9:00 AM"},
		DefaultLocation:       time.UTC,
		SweepInterval:         15 * time.Minute,
		SweepBatchSize:        500,
		SweepConcurrency:      8,
		TaskCreateMaxAttempts: 3,
		TaskRetryInitial:      time.Second,
	}
}

func SettingsFromConfig(cfg config.Config) (Settings, error) {
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid DEFAULT_TIMEZONE %q: %w", cfg.DefaultTimezone, err)
	}

	schedules := cfg.DefaultScheduleList()
	normalized := make([]string, 0, len(schedules))
	for _, raw := range schedules {
		label, err := deadline.NormalizeLabel(raw)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid DEFAULT_CHECKIN_SCHEDULES entry %q: %w", raw, err)
		}
		normalized = append(normalized, label)
	}
	if len(normalized) == 0 {
		normalized = DefaultSettings().DefaultSchedules
	}

	s := Settings{
		GracePeriod:           time.Duration(cfg.GracePeriodMinutes) * time.Minute,
		EscalationThreshold:   cfg.EscalationThresholdDays,
		EscalationWindow:      time.Duration(cfg.EscalationWindowHours) * time.Hour,
		DefaultSchedules:      normalized,
		DefaultLocation:       loc,
		SweepInterval:         time.Duration(cfg.SweepIntervalMinutes) * time.Minute,
		SweepBatchSize:        cfg.SweepBatchSize,
		SweepConcurrency:      cfg.SweepConcurrency,
		TaskCreateMaxAttempts: cfg.TaskCreateMaxAttempts,
		TaskRetryInitial:      time.Duration(cfg.TaskRetryInitialMS) * time.Millisecond,
	}
	if s.EscalationThreshold < 1 {
		s.EscalationThreshold = 1
	}
	if s.SweepBatchSize <= 0 {
		s.SweepBatchSize = 500
	}
	if s.SweepConcurrency <= 0 {
		s.SweepConcurrency = 1
	}
	if s.TaskCreateMaxAttempts <= 0 {
		s.TaskCreateMaxAttempts = 1
	}
	return s, nil
}

// Calculator 带默认时段和默认时区的截止时间计算器
func (s Settings) Calculator() deadline.Calculator {
	return deadline.Calculator{
		DefaultSchedules: s.DefaultSchedules,
		DefaultLocation:  s.DefaultLocation,
	}
}

// isDefaultSchedule 时段列表仍是唯一的默认时段
func (s Settings) isDefaultSchedule(schedules []string) bool {
	if len(schedules) == 0 {
		return true
	}
	if len(schedules) != 1 || len(s.DefaultSchedules) != 1 {
		return false
	}
	label, err := deadline.NormalizeLabel(schedules[0])
	return err == nil && label == s.DefaultSchedules[0]
}
