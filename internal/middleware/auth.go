package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/hertz-contrib/jwt"

	"CheckInGuard/pkg/errors"
	"CheckInGuard/pkg/response"
	"CheckInGuard/pkg/token"
)

const (
	IdentityKey = token.IdentityKey

	taskIDKey = "task_id"
)

var (
	authMiddleware *jwt.HertzJWTMiddleware
)

func initAuthMiddleware() error {
	// 使用 token 包中共享的生成器
	sharedGenerator := token.GetGenerator()
	if sharedGenerator == nil {
		return fmt.Errorf("token generator not initialized, call token.Init() first")
	}

	authMiddleware = &jwt.HertzJWTMiddleware{
		Realm:       "CheckInGuard API",
		Key:         sharedGenerator.Key,
		Timeout:     sharedGenerator.Timeout,
		IdentityKey: sharedGenerator.IdentityKey,
		TimeFunc:    sharedGenerator.TimeFunc,

		IdentityHandler: func(ctx context.Context, c *app.RequestContext) interface{} {
			claims := jwt.ExtractClaims(ctx, c)
			uid, ok := parseUserID(claims[IdentityKey])
			if !ok {
				return nil
			}
			return uid
		},

		Unauthorized: func(ctx context.Context, c *app.RequestContext, code int, message string) {
			response.Error(ctx, c, errors.Unauthorized)
		},

		TokenLookup:   "header: Authorization",
		TokenHeadName: "Bearer",
	}

	return nil
}

// parseUserID 兼容字符串和数字两种 claim
func parseUserID(v interface{}) (int64, bool) {
	switch id := v.(type) {
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil || n <= 0 {
			return 0, false
		}
		return n, true
	case float64:
		if id <= 0 {
			return 0, false
		}
		return int64(id), true
	default:
		return 0, false
	}
}

func AuthMiddleware() app.HandlerFunc {
	if authMiddleware == nil {
		panic("AuthMiddleware not initialized, call Init() first")
	}
	return authMiddleware.MiddlewareFunc()
}

// GetUserID 从请求上下文中获取用户ID
func GetUserID(ctx context.Context, c *app.RequestContext) (int64, bool) {
	userID, exists := c.Get(IdentityKey)
	if !exists {
		return 0, false
	}

	id, ok := userID.(int64)
	if !ok {
		return 0, false
	}
	return id, true
}

// TaskAuthMiddleware 校验延迟任务回调携带的 task token
func TaskAuthMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		header := string(c.GetHeader("Authorization"))
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" {
			response.Error(ctx, c, errors.TaskTokenInvalid)
			c.Abort()
			return
		}

		taskID, err := token.ValidateTaskToken(raw)
		if err != nil {
			response.Error(ctx, c, errors.TaskTokenInvalid)
			c.Abort()
			return
		}

		c.Set(taskIDKey, taskID)
		c.Next(ctx)
	}
}

// GetTaskID 返回 task token 绑定的任务 ID
func GetTaskID(c *app.RequestContext) string {
	return c.GetString(taskIDKey)
}
