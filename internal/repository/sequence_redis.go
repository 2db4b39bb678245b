package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sequenceKeyPrefix = "bom:seq:"
	// 按天分 scope，保留两天
	sequenceKeyTTL = 48 * time.Hour
)

// RedisSequenceAllocator 基于 INCR 的流水号分配
type RedisSequenceAllocator struct {
	rdb redis.Cmdable
}

// NewRedisSequenceAllocator 创建 redis 流水号分配器
func NewRedisSequenceAllocator(rdb redis.Cmdable) *RedisSequenceAllocator {
	return &RedisSequenceAllocator{rdb: rdb}
}

// Allocate 原子递增并返回新值
func (a *RedisSequenceAllocator) Allocate(ctx context.Context, scopeKey string) (int64, error) {
	key := sequenceKeyPrefix + scopeKey
	value, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate sequence %s: %w", scopeKey, err)
	}
	if value == 1 {
		// 过期设置失败不影响已分配的值
		a.rdb.Expire(ctx, key, sequenceKeyTTL)
	}
	return value, nil
}
