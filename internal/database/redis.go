package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRetryDelay はRedisへの接続確認を再試行するまでの待機時間。
const RedisRetryDelay = 2 * time.Second

// OpenRedis はREDIS_URL形式の接続文字列からRedisクライアントを生成し、
// PINGが通るまで最大maxRetries回試行する。
func OpenRedis(ctx context.Context, redisURL string, maxRetries int, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := PingWithRetry(ctx, rdb, maxRetries, RedisRetryDelay, logger); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// PingWithRetry はPINGが成功するまでdelay間隔で再試行する。
// maxRetriesが1未満の場合は1回だけ試行する。
func PingWithRetry(ctx context.Context, rdb redis.UniversalClient, maxRetries int, delay time.Duration, logger *slog.Logger) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 1; i <= maxRetries; i++ {
		if lastErr = rdb.Ping(ctx).Err(); lastErr == nil {
			logger.Info("redis connection established", slog.Int("attempt", i))
			return nil
		}

		logger.Warn("redis ping failed",
			slog.Int("attempt", i),
			slog.Int("max_retries", maxRetries),
			slog.String("error", lastErr.Error()),
		)
		if i == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("redis connection failed after %d retries: %w", maxRetries, lastErr)
}
