package middleware

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"CheckInGuard/config"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/response"
)

// RecoverMiddleware panic 兜底，记录日志和 span 后返回 500
func RecoverMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if err := recover(); err != nil {
				handlePanic(ctx, c, err)
			}
		}()

		c.Next(ctx)
	}
}

func handlePanic(ctx context.Context, c *app.RequestContext, err interface{}) {
	stack := getStackTrace()

	fields := []zap.Field{
		zap.String("panic", fmt.Sprintf("%v", err)),
		zap.String("path", string(c.Path())),
		zap.String("method", string(c.Method())),
		zap.String("client_ip", c.ClientIP()),
		zap.String("request_id", string(c.GetHeader("X-Request-Id"))),
		zap.String("stack", stack),
	}
	if userID, exists := GetUserID(ctx, c); exists {
		fields = append(fields, zap.Int64("user_id", userID))
	}
	logger.Logger.Error("[PANIC RECOVERED]", fields...)

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(fmt.Errorf("panic: %v", err))
		span.SetStatus(codes.Error, "panic")
	}

	if config.Cfg.IsProduction() {
		response.Error(ctx, c, errors.Internal)
	} else {
		response.ErrorWithDetails(ctx, c, errors.Internal, map[string]interface{}{
			"panic": fmt.Sprintf("%v", err),
			"stack": stack,
		})
	}
	c.Abort()
}

// getStackTrace 当前 goroutine 调用栈，跳过 runtime 帧
func getStackTrace() string {
	var sb strings.Builder
	for i := 3; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil || strings.Contains(file, "/runtime/") {
			continue
		}
		fmt.Fprintf(&sb, "%s:%d %s\n", file, line, fn.Name())
	}
	return sb.String()
}
