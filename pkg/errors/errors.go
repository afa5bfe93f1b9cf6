package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
)

func (d Definition) Error() string {
	return d.Message
}

// Definition 表示业务错误码及默认信息。
type Definition struct {
	Code    string
	Message string
}

// 认证相关错误。
var (
	Unauthorized     = Definition{Code: "UNAUTHORIZED", Message: "Unauthorized"}
	InvalidUserID    = Definition{Code: "INVALID_USER_ID", Message: "Invalid user ID format"}
	TaskTokenInvalid = Definition{Code: "TASK_TOKEN_INVALID", Message: "Task token invalid"}
)

// 打卡模块错误。
var (
	SeniorNotFound      = Definition{Code: "SENIOR_NOT_FOUND", Message: "Senior state not found"}
	ScheduleTimeInvalid = Definition{Code: "SCHEDULE_TIME_INVALID", Message: "Schedule time must look like 9:00 AM"}
	ScheduleLastEntry   = Definition{Code: "SCHEDULE_LAST_ENTRY", Message: "At least one schedule is required"}
	TimezoneInvalid     = Definition{Code: "TIMEZONE_INVALID", Message: "Timezone invalid"}
	TaskPayloadInvalid  = Definition{Code: "TASK_PAYLOAD_INVALID", Message: "Task payload invalid"}
)

// 通知模块错误。
var (
	DeviceTokenInvalid = Definition{Code: "DEVICE_TOKEN_INVALID", Message: "Device token invalid"}
)

// 通用错误。
var (
	RateLimited   = Definition{Code: "RATE_LIMITED", Message: "Too many requests"}
	InvalidParams = Definition{Code: "INVALID_PARAMS", Message: "Invalid parameters"}
	Internal      = Definition{Code: "INTERNAL_ERROR", Message: "Internal error"}
)

// Lookup 提供错误码查询能力。
var Lookup = map[string]Definition{
	Unauthorized.Code:        Unauthorized,
	InvalidUserID.Code:       InvalidUserID,
	TaskTokenInvalid.Code:    TaskTokenInvalid,
	SeniorNotFound.Code:      SeniorNotFound,
	ScheduleTimeInvalid.Code: ScheduleTimeInvalid,
	ScheduleLastEntry.Code:   ScheduleLastEntry,
	TimezoneInvalid.Code:     TimezoneInvalid,
	TaskPayloadInvalid.Code:  TaskPayloadInvalid,
	DeviceTokenInvalid.Code:  DeviceTokenInvalid,
	RateLimited.Code:         RateLimited,
	InvalidParams.Code:       InvalidParams,
	Internal.Code:            Internal,
}

// Get 根据错误码返回 Definition，若不存在则返回空 Definition。
func Get(code string) Definition {
	if def, ok := Lookup[code]; ok {
		return def
	}
	return Definition{Code: code, Message: "Unexpected error"}
}

// 内部哨兵错误，不直接暴露给调用方
var (
	ErrInvalidScheduleTime = stderrors.New("invalid schedule time")
	ErrStateNotFound       = stderrors.New("senior state not found")
	ErrStaleState          = stderrors.New("senior state changed concurrently")
	ErrTaskNotFound        = stderrors.New("deferred task not found")
	ErrTransientExternal   = stderrors.New("transient external error")
	ErrPermanentExternal   = stderrors.New("permanent external error")

	ErrTokenGeneratorNotInitialized = stderrors.New("token generator not initialized")
	ErrTaskSecretMissing            = stderrors.New("task callback secret not configured")
)

// SkipMessageError 表示消息无需处理（重复投递、已取消），消费者直接 ack
type SkipMessageError struct {
	Reason string
}

func (e *SkipMessageError) Error() string {
	return fmt.Sprintf("skip message: %s", e.Reason)
}

func IsSkipMessageError(err error) bool {
	var target *SkipMessageError
	return stderrors.As(err, &target)
}

// Transient 将错误标记为可重试
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransientExternal, err)
}

// Permanent 将错误标记为不可重试
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanentExternal, err)
}

// IsTransient 判断外部调用失败是否值得重试：超时、连接中断、MQ 可恢复错误
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, ErrTransientExternal) {
		return true
	}
	if stderrors.Is(err, ErrPermanentExternal) || stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, amqp.ErrClosed) {
		return true
	}
	if stderrors.Is(err, syscall.ECONNREFUSED) || stderrors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var amqpErr *amqp.Error
	if stderrors.As(err, &amqpErr) {
		return amqpErr.Recover
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }
