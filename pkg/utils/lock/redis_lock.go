package lock

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"cryptopayx/pkg/safe_random"
)

// DistributedLock 分布式互斥锁
type DistributedLock interface {
	// Acquire 尝试获取锁, 返回是否成功. 已被占用不是错误.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release 释放自己持有的锁, 不会误删他人的锁
	Release(ctx context.Context, key string) error
}

// RedisLock 基于 SET NX 的实现.
// 每次 Acquire 生成随机 token 作为锁值, Release 用 Lua 原子校验归属后删除,
// 防止 TTL 过期后误删下一个持有者的锁.
type RedisLock struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string // key -> 本实例持有的 token
}

// releaseScript 只有锁值等于自己的 token 才删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{
		client: client,
		tokens: make(map[string]string),
	}
}

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token, err := safe_random.GenerateRandomHexString(16)
	if err != nil {
		return false, err
	}

	ok, err := l.client.SetNX(ctx, "payx:lock:"+key, token, ttl).Result()
	if err != nil || !ok {
		return false, err
	}

	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, held := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !held {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{"payx:lock:" + key}, token).Err()
}
