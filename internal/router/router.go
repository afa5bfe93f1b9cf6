package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"CheckInGuard/internal/handler"
	"CheckInGuard/internal/middleware"
)

func Register(h *server.Hertz) {

	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.CORSMiddleware())
	h.Use(middleware.OpenTelemetryMiddleware())

	v1 := h.Group("/v1")
	v1.Use(middleware.AuthMiddleware(), middleware.GeneralRateLimitMiddleware())

	// 打卡
	checkIns := v1.Group("/check-ins")
	{
		checkIns.POST("", handler.CheckIn)
		checkIns.GET("/status", handler.GetCheckInStatus)
		checkIns.GET("/history", handler.GetCheckInHistory)
		checkIns.GET("/activities", handler.GetActivities)
	}

	// 打卡设置
	me := v1.Group("/users/me")
	{
		me.POST("/senior", handler.EnrollSenior)
		me.GET("/schedules", handler.ListSchedules)
		me.POST("/schedules", middleware.ScheduleEditRateLimitMiddleware(), handler.AddSchedule)
		me.PUT("/schedules", middleware.ScheduleEditRateLimitMiddleware(), handler.ReplaceSchedules)
		me.DELETE("/schedules", middleware.ScheduleEditRateLimitMiddleware(), handler.RemoveSchedule)
		me.PUT("/vacation", handler.SetVacation)
		me.PUT("/timezone", handler.SetTimezone)
		me.POST("/devices", handler.RegisterDevice)
	}

	// 延迟任务回调，只认 task token
	internal := h.Group("/internal", middleware.TaskAuthMiddleware())
	{
		internal.POST("/tasks/missed-check-in", handler.HandleMissedCheckInTask)
	}
}
