package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics 打卡监控相关指标
type OTelMetrics struct {
	CheckInCompleted   metric.Int64Counter
	CheckInMissed      metric.Int64Counter
	EscalationTotal    metric.Int64Counter
	TaskCreated        metric.Int64Counter
	TaskCreateRetry    metric.Int64Counter
	TaskCreateFailed   metric.Int64Counter
	TaskStaleDiscarded metric.Int64Counter
	SweepDuration      metric.Float64Histogram
	PushFailed         metric.Int64Counter
	SMSSent            metric.Int64Counter
}

var (
	metrics  *OTelMetrics
	initOnce sync.Once
)

// Init 在 otel MeterProvider 设置之后调用；未设置时使用全局 noop provider
func Init() error {
	var initErr error
	initOnce.Do(func() {
		meter := otel.Meter("checkinguard")
		m := &OTelMetrics{}
		counters := []struct {
			dst  *metric.Int64Counter
			name string
			desc string
		}{
			{&m.CheckInCompleted, "checkin_completed_total", "Check-ins recorded"},
			{&m.CheckInMissed, "checkin_missed_total", "Confirmed missed check-ins"},
			{&m.EscalationTotal, "checkin_escalation_total", "Escalation alerts raised"},
			{&m.TaskCreated, "deferred_task_created_total", "Deferred tasks armed"},
			{&m.TaskCreateRetry, "deferred_task_create_retry_total", "Deferred task creation retries"},
			{&m.TaskCreateFailed, "deferred_task_create_failed_total", "Deferred task creations abandoned"},
			{&m.TaskStaleDiscarded, "deferred_task_stale_discarded_total", "Deferred tasks cancelled after a stale state check"},
			{&m.PushFailed, "notification_push_failed_total", "Push notifications that failed"},
			{&m.SMSSent, "notification_sms_total", "Caregiver SMS attempts"},
		}
		for _, c := range counters {
			var err error
			*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
			if err != nil {
				initErr = err
				return
			}
		}

		var err error
		m.SweepDuration, err = meter.Float64Histogram(
			"sweep_duration_seconds",
			metric.WithDescription("Periodic sweep run duration"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErr = err
			return
		}
		metrics = m
	})
	return initErr
}

// Get 未初始化时返回 nil，所有 Record 方法对 nil 安全
func Get() *OTelMetrics {
	return metrics
}

func (m *OTelMetrics) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if m == nil || c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *OTelMetrics) RecordCheckIn(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.CheckInCompleted)
}

// RecordMiss trigger 为 task 或 sweep
func (m *OTelMetrics) RecordMiss(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.add(ctx, m.CheckInMissed, attribute.String("trigger", trigger))
}

func (m *OTelMetrics) RecordEscalation(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.EscalationTotal)
}

func (m *OTelMetrics) RecordTaskCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.TaskCreated)
}

func (m *OTelMetrics) RecordTaskRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.TaskCreateRetry)
}

func (m *OTelMetrics) RecordTaskFailed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.add(ctx, m.TaskCreateFailed, attribute.String("reason", reason))
}

func (m *OTelMetrics) RecordStaleDiscard(ctx context.Context) {
	if m == nil {
		return
	}
	m.add(ctx, m.TaskStaleDiscarded)
}

func (m *OTelMetrics) RecordPushFailed(ctx context.Context, audience string) {
	if m == nil {
		return
	}
	m.add(ctx, m.PushFailed, attribute.String("audience", audience))
}

func (m *OTelMetrics) RecordSMS(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	m.add(ctx, m.SMSSent, attribute.String("provider", provider), attribute.String("status", status))
}

func (m *OTelMetrics) RecordSweep(ctx context.Context, seconds float64) {
	if m == nil || m.SweepDuration == nil {
		return
	}
	m.SweepDuration.Record(ctx, seconds)
}
