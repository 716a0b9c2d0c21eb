package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptopayx/pkg/logger"
)

// ConnectRedis 建立 Redis 连接 (分布式锁 / 缓存 / Stream 共用一个客户端)
func ConnectRedis(addr string, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	logger.Info("Redis 连接成功")
	return rdb, nil
}
