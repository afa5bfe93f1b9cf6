package response

import (
	"context"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"

	"CheckInGuard/internal/model"
	"CheckInGuard/pkg/errors"
)

// StatusOf 根据错误码映射 HTTP 状态码，非 Definition 一律 500
func StatusOf(err error) int {
	var def errors.Definition
	if !errors.As(err, &def) {
		return http.StatusInternalServerError
	}

	switch def.Code {
	case errors.RateLimited.Code:
		return http.StatusTooManyRequests
	case errors.Unauthorized.Code, errors.TaskTokenInvalid.Code:
		return http.StatusUnauthorized
	case errors.SeniorNotFound.Code:
		return http.StatusNotFound
	case errors.InvalidUserID.Code, errors.ScheduleTimeInvalid.Code,
		errors.ScheduleLastEntry.Code, errors.TimezoneInvalid.Code,
		errors.TaskPayloadInvalid.Code, errors.DeviceTokenInvalid.Code,
		errors.InvalidParams.Code:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error 返回错误响应
func Error(ctx context.Context, c *app.RequestContext, err error) {
	ErrorWithDetails(ctx, c, err, nil)
}

func ErrorWithDetails(ctx context.Context, c *app.RequestContext, err error, details map[string]interface{}) {
	var def errors.Definition
	if !errors.As(err, &def) {
		// 内部错误不把原始信息透出
		def = errors.Internal
	}
	c.JSON(StatusOf(err), model.NewErrorResponse(def.Code, def.Message, details))
}

func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, model.NewSuccessResponse(data))
}

func BindError(ctx context.Context, c *app.RequestContext, err error) {
	c.JSON(http.StatusBadRequest, model.NewErrorResponse(errors.InvalidParams.Code, err.Error(), nil))
}

// NoContent 返回 204 No Content（用于 DELETE 等操作）
func NoContent(ctx context.Context, c *app.RequestContext) {
	c.Status(http.StatusNoContent)
}
