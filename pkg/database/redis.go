package database

import (
	"context"
	"time"

	"course-intake/pkg/log"

	"github.com/go-redis/redis/v8"
)

// RDB 保存任务队列快照，只在 main 中初始化。
var RDB *redis.Client

const redisPingTimeout = 5 * time.Second

// InitRedis 初始化 Redis 客户端连接，连接失败直接退出进程
func InitRedis(addr, password string, db int) {
	RDB = redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  redisPingTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Infof("Redis client connected successfully, addr: %s, db: %d", addr, db)
}

// Close 关闭 MySQL 与 Redis 连接，停机时在队列写完最后一次快照之后调用。
func Close() {
	if RDB != nil {
		if err := RDB.Close(); err != nil {
			log.Error("关闭 Redis 连接失败", err)
		}
	}
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Error("关闭 MySQL 连接失败", err)
			}
		}
	}
}
