package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss 表示 key 不存在或已过期
var ErrMiss = errors.New("cache miss")

// Cache 通用缓存接口, 值以 JSON 编码存取
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Get 将缓存值 Unmarshal 到 target 中, 未命中返回 ErrMiss
	Get(ctx context.Context, key string, target interface{}) error
	Delete(ctx context.Context, key string) error
}
