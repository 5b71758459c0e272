package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLock はSET NXによる単純な排他ロック。
// 保持者がクラッシュしてもTTLで自動的に解放される。
type RedisLock struct {
	rdb *redis.Client
}

// NewRedisLock はRedisLockを生成する。
func NewRedisLock(rdb *redis.Client) *RedisLock {
	return &RedisLock{rdb: rdb}
}

// TryLock はkeyのロック取得を1回だけ試みる。取得できた場合trueを返す。
func (l *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("ロックの取得に失敗しました (key=%s): %w", key, err)
	}
	return ok, nil
}

// Unlock はkeyのロックを解放する。
func (l *RedisLock) Unlock(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("ロックの解放に失敗しました (key=%s): %w", key, err)
	}
	return nil
}
