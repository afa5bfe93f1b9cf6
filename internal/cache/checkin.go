package cache

import (
	"context"
	"fmt"
	"time"

	"CheckInGuard/storage/redis"
)

const (
	messageProcessedPrefix = "message:processed"
	taskCancelledPrefix    = "task:cancelled"
	taskFiredPrefix        = "task:fired"

	processedTTL = 48 * time.Hour
	// 延迟任务最多提前一天创建，标记保留两天足够覆盖
	taskMarkerTTL = 48 * time.Hour
)

// TryMarkMessageProcessing 尝试原子性地标记消息正在处理（使用 SETNX）
// 返回 true 表示成功标记（首次处理），false 表示已被标记（重复消息或正在处理）
func TryMarkMessageProcessing(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	key := redis.Key(messageProcessedPrefix, messageID)
	if ttl <= 0 {
		ttl = processedTTL
	}
	result, err := redis.Client().SetNX(ctx, key, "processing", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark message as processing: %w", err)
	}
	return result, nil
}

// UnmarkMessageProcessing 处理失败时清除标记，允许重投
func UnmarkMessageProcessing(ctx context.Context, messageID string) error {
	return redis.Client().Del(ctx, redis.Key(messageProcessedPrefix, messageID)).Err()
}

// MarkMessageProcessed 处理成功，延长 TTL
func MarkMessageProcessed(ctx context.Context, messageID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = processedTTL
	}
	return redis.Client().Set(ctx, redis.Key(messageProcessedPrefix, messageID), "completed", ttl).Err()
}

// ========== 延迟任务取消 ==========
// RabbitMQ 延迟交换机中的消息无法删除，取消通过墓碑实现：消费时发现墓碑直接丢弃。

// CancelTask 写入墓碑。任务已经触发过时返回 false（对应 not found）
func CancelTask(ctx context.Context, taskID string) (bool, error) {
	pipe := redis.Client().TxPipeline()
	fired := pipe.Exists(ctx, redis.Key(taskFiredPrefix, taskID))
	pipe.Set(ctx, redis.Key(taskCancelledPrefix, taskID), "1", taskMarkerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to cancel task %s: %w", taskID, err)
	}
	return fired.Val() == 0, nil
}

// IsTaskCancelled 消费前检查墓碑
func IsTaskCancelled(ctx context.Context, taskID string) (bool, error) {
	n, err := redis.Client().Exists(ctx, redis.Key(taskCancelledPrefix, taskID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check task tombstone: %w", err)
	}
	return n > 0, nil
}

// MarkTaskFired 标记任务已经开始执行，之后的取消视为 not found
func MarkTaskFired(ctx context.Context, taskID string) error {
	if err := redis.Client().Set(ctx, redis.Key(taskFiredPrefix, taskID), "1", taskMarkerTTL).Err(); err != nil {
		return fmt.Errorf("failed to mark task fired: %w", err)
	}
	return nil
}
