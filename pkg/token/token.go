package token

import (
	"fmt"
	"strconv"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/hertz-contrib/jwt"

	"CheckInGuard/config"
	"CheckInGuard/pkg/errors"
)

const (
	IdentityKey = "uid"

	// TaskAudience 延迟任务回调 token 的 aud
	TaskAudience = "missed-check-in"
	taskIDClaim  = "tid"
)

// 这个实例会被 middleware 和 token 包共同使用
var sharedGenerator *jwt.HertzJWTMiddleware

// Init 用户 token 由账号服务签发，这里只负责校验
func Init() error {
	var err error
	sharedGenerator, err = jwt.New(&jwt.HertzJWTMiddleware{
		Key:         []byte(config.Cfg.JWTSecret),
		Timeout:     time.Hour,
		IdentityKey: IdentityKey,
		TimeFunc:    time.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize token generator: %w", err)
	}
	return nil
}

// GetGenerator 获取共享的 token 生成器（供 middleware 使用）
func GetGenerator() *jwt.HertzJWTMiddleware {
	return sharedGenerator
}

// SignAccessToken 与账号服务相同格式的 access token，用于本地联调和测试
func SignAccessToken(userID int64, ttl time.Duration) (string, error) {
	if sharedGenerator == nil {
		return "", errors.ErrTokenGeneratorNotInitialized
	}
	now := time.Now()
	claims := jwtv5.MapClaims{
		IdentityKey: strconv.FormatInt(userID, 10),
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString(sharedGenerator.Key)
}

type taskClaims struct {
	TaskID string `json:"tid"`
	jwtv5.RegisteredClaims
}

// SignTaskToken worker 以回调模式运行时，POST /internal/tasks/missed-check-in 携带
func SignTaskToken(taskID string, ttl time.Duration) (string, error) {
	secret := config.Cfg.TaskCallbackSecret
	if secret == "" {
		return "", errors.ErrTaskSecretMissing
	}
	now := time.Now()
	claims := taskClaims{
		TaskID: taskID,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Audience:  jwtv5.ClaimStrings{TaskAudience},
			IssuedAt:  jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ValidateTaskToken 返回 token 绑定的任务 ID
func ValidateTaskToken(tokenString string) (string, error) {
	secret := config.Cfg.TaskCallbackSecret
	if secret == "" {
		return "", errors.ErrTaskSecretMissing
	}

	var claims taskClaims
	_, err := jwtv5.ParseWithClaims(tokenString, &claims,
		func(*jwtv5.Token) (interface{}, error) { return []byte(secret), nil },
		jwtv5.WithValidMethods([]string{jwtv5.SigningMethodHS256.Alg()}),
		jwtv5.WithAudience(TaskAudience),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("invalid task token: %w", err)
	}
	if claims.TaskID == "" {
		return "", fmt.Errorf("invalid task token: missing %s", taskIDClaim)
	}
	return claims.TaskID, nil
}
