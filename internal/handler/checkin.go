package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"CheckInGuard/internal/middleware"
	"CheckInGuard/internal/model"
	"CheckInGuard/internal/service"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/response"
)

// currentUser 取 JWT 中的用户 ID，失败时已写回 401
func currentUser(ctx context.Context, c *app.RequestContext) (int64, bool) {
	userID, ok := middleware.GetUserID(ctx, c)
	if !ok {
		response.Error(ctx, c, errors.Unauthorized)
		return 0, false
	}
	return userID, true
}

// CheckIn 立即打卡
// POST /v1/check-ins
func CheckIn(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	result, err := service.CheckIn().CheckIn(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}

	response.Success(ctx, c, model.CheckInResponse{
		CheckInID:           result.CheckIn.ID,
		Timestamp:           result.CheckIn.CheckedInAt,
		ScheduleLabel:       result.CheckIn.ScheduleLabel,
		Transition:          result.Transition,
		CurrentStreak:       result.CurrentStreak,
		NextExpectedCheckIn: result.NextExpectedCheckIn,
	})
}

// GetCheckInStatus 连续天数、下一次截止时间和今日完成情况
// GET /v1/check-ins/status
func GetCheckInStatus(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	status, err := service.CheckIn().GetStatus(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, status)
}

// GetCheckInHistory 最近的打卡记录
// GET /v1/check-ins/history?limit=30
func GetCheckInHistory(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var q model.HistoryQuery
	if err := c.BindQuery(&q); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	history, err := service.CheckIn().History(ctx, userID, q.Limit)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, history)
}

// GetActivities 漏打卡和升级告警记录
// GET /v1/check-ins/activities
func GetActivities(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	activities, err := service.CheckIn().Activities(ctx, userID)
	if err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.Success(ctx, c, activities)
}
