package cache

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"CheckInGuard/storage/redis"
)

// 分布式锁：SETNX + 持有者校验，防止多个 scheduler 副本同时跑兜底扫描
const lockPrefix = "lock"

var unlockScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TryLock owner 用于释放时校验，避免锁过期后误删他人的锁
func TryLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return redis.Client().SetNX(ctx, redis.Key(lockPrefix, key), owner, ttl).Result()
}

func Unlock(ctx context.Context, key, owner string) error {
	return unlockScript.Run(ctx, redis.Client(), []string{redis.Key(lockPrefix, key)}, owner).Err()
}
