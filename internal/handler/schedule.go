package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"CheckInGuard/internal/model"
	"CheckInGuard/internal/service"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/response"
)

// EnrollSenior 开通打卡监护，重复调用返回已有状态
// POST /v1/users/me/senior
func EnrollSenior(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req model.EnrollSeniorRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	st, err := service.Schedule().EnsureSenior(ctx, userID, req.Timezone)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, st)
}

// ListSchedules GET /v1/users/me/schedules
func ListSchedules(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	schedules, err := service.Schedule().ListSchedules(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, model.SchedulesResponse{Schedules: schedules})
}

// AddSchedule POST /v1/users/me/schedules
func AddSchedule(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req model.ScheduleRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	schedules, err := service.Schedule().AddSchedule(ctx, userID, req.Time)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, model.SchedulesResponse{Schedules: schedules})
}

// RemoveSchedule DELETE /v1/users/me/schedules?time=9:00 AM
func RemoveSchedule(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req model.ScheduleRequest
	if err := c.BindQuery(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}
	if req.Time == "" {
		response.Error(ctx, c, errors.ScheduleTimeInvalid)
		return
	}

	schedules, err := service.Schedule().RemoveSchedule(ctx, userID, req.Time)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, model.SchedulesResponse{Schedules: schedules})
}

// ReplaceSchedules PUT /v1/users/me/schedules
func ReplaceSchedules(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req model.ReplaceSchedulesRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	schedules, err := service.Schedule().ReplaceSchedules(ctx, userID, req.Schedules)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, model.SchedulesResponse{Schedules: schedules})
}

// SetVacation PUT /v1/users/me/vacation
func SetVacation(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req model.VacationRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}
	if req.Enabled == nil {
		response.ErrorWithDetails(ctx, c, errors.InvalidParams, map[string]interface{}{"field": "enabled"})
		return
	}

	st, err := service.Schedule().SetVacationMode(ctx, userID, *req.Enabled)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, st)
}

// SetTimezone PUT /v1/users/me/timezone
func SetTimezone(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req model.TimezoneRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	st, err := service.Schedule().SetTimezone(ctx, userID, req.Timezone)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, st)
}
