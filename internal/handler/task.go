package handler

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cloudwego/hertz/pkg/app"
	"go.uber.org/zap"

	"CheckInGuard/internal/middleware"
	"CheckInGuard/internal/model"
	"CheckInGuard/internal/queue"
	"CheckInGuard/internal/service"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/response"
)

var (
	taskRunner     *queue.TaskRunner
	taskRunnerOnce sync.Once
)

func runner() *queue.TaskRunner {
	taskRunnerOnce.Do(func() {
		taskRunner = queue.NewTaskRunner(service.DefaultDetector())
	})
	return taskRunner
}

// HandleMissedCheckInTask 延迟任务回调入口
// 200 已处理或跳过；400 载荷无效；500 可重试
// POST /internal/tasks/missed-check-in
func HandleMissedCheckInTask(ctx context.Context, c *app.RequestContext) {
	var task model.MissedCheckInTask
	if err := json.Unmarshal(c.Request.Body(), &task); err != nil {
		response.ErrorWithDetails(ctx, c, errors.TaskPayloadInvalid, map[string]interface{}{"error": err.Error()})
		return
	}
	// token 只对签发时的任务有效
	if tokenTaskID := middleware.GetTaskID(c); tokenTaskID == "" || tokenTaskID != task.TaskID {
		response.Error(ctx, c, errors.TaskTokenInvalid)
		return
	}

	err := runner().Run(ctx, task)
	switch {
	case err == nil:
		response.Success(ctx, c, model.TaskResponse{TaskID: task.TaskID, Status: "processed"})
	case errors.IsSkipMessageError(err):
		response.Success(ctx, c, model.TaskResponse{TaskID: task.TaskID, Status: "skipped"})
	case errors.Is(err, errors.TaskPayloadInvalid):
		response.Error(ctx, c, errors.TaskPayloadInvalid)
	default:
		logger.Logger.Error("Missed check-in task failed",
			zap.String("task_id", task.TaskID),
			zap.Int64("user_id", task.UserID),
			zap.Error(err),
		)
		response.Error(ctx, c, err)
	}
}
