package repository

import (
	"context"
	"errors"

	"course-intake/internal/taskqueue"

	"github.com/go-redis/redis/v8"
)

// redisQueueStore 把任务队列快照保存在 Redis 的单个字符串键中。
type redisQueueStore struct {
	redisClient *redis.Client
}

// NewQueueStore 创建一个基于 Redis 的队列快照存储。
func NewQueueStore(redisClient *redis.Client) taskqueue.Store {
	return &redisQueueStore{redisClient: redisClient}
}

// Get 读取快照，键不存在时返回 ok=false。
func (s *redisQueueStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.redisClient.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set 覆盖写入快照，不设置过期时间。
func (s *redisQueueStore) Set(ctx context.Context, key, value string) error {
	return s.redisClient.Set(ctx, key, value, 0).Err()
}
