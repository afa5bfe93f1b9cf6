package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"

	"CheckInGuard/internal/model"
	"CheckInGuard/internal/service"
	"CheckInGuard/pkg/response"
)

// RegisterDevice 登记推送 token
// POST /v1/users/me/devices
func RegisterDevice(ctx context.Context, c *app.RequestContext) {
	userID, ok := currentUser(ctx, c)
	if !ok {
		return
	}

	var req model.RegisterDeviceRequest
	if err := c.BindJSON(&req); err != nil {
		response.BindError(ctx, c, err)
		return
	}

	if err := service.Notification().RegisterDevice(ctx, userID, req.Token, req.Platform); err != nil {
		response.Error(ctx, c, err)
		return
	}
	response.NoContent(ctx, c)
}
