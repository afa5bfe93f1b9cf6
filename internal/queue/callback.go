package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.uber.org/zap"

	"CheckInGuard/internal/model"
	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/logger"
	"CheckInGuard/pkg/token"
	"CheckInGuard/storage/mq"
)

// TaskExecutor 到期任务的执行方式：本进程直接检测，或回调 API 服务
type TaskExecutor interface {
	Run(ctx context.Context, task model.MissedCheckInTask) error
}

const callbackTokenTTL = 5 * time.Minute

// CallbackForwarder 把到期任务签名后 POST 给 /internal/tasks/missed-check-in。
// 幂等标记由 API 服务的 TaskRunner 负责，这里不再重复
type CallbackForwarder struct {
	url    string
	client *client.Client
	sign   func(taskID string, ttl time.Duration) (string, error)
}

func NewCallbackForwarder(url string, timeout time.Duration) (*CallbackForwarder, error) {
	c, err := client.NewClient(
		client.WithDialTimeout(timeout),
		client.WithClientReadTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create callback client: %w", err)
	}
	return &CallbackForwarder{url: url, client: c, sign: token.SignTaskToken}, nil
}

// Run 2xx 视为完成；4xx 说明任务本身无效，丢弃；其余返回错误等待重投
func (f *CallbackForwarder) Run(ctx context.Context, task model.MissedCheckInTask) error {
	if task.TaskID == "" {
		return &mq.RejectError{Err: errors.TaskPayloadInvalid}
	}
	tok, err := f.sign(task.TaskID, callbackTokenTTL)
	if err != nil {
		return fmt.Errorf("failed to sign task token: %w", err)
	}
	body, err := json.Marshal(task)
	if err != nil {
		return &mq.RejectError{Err: err}
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	req.SetRequestURI(f.url)
	req.SetMethod(consts.MethodPost)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.Header.Set("Authorization", "Bearer "+tok)
	req.SetBody(body)

	if err := f.client.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("task callback failed: %w", err)
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		logger.Logger.Debug("Task callback delivered",
			zap.String("task_id", task.TaskID),
			zap.Int64("user_id", task.UserID),
		)
		return nil
	case status >= 400 && status < 500:
		return &mq.RejectError{Err: fmt.Errorf("task callback rejected with status %d: %s", status, resp.Body())}
	default:
		return fmt.Errorf("task callback returned status %d", status)
	}
}
