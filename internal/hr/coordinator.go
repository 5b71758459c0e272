package hr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/workday/internal/metrics"
	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/oauth"
)

// TokenStore はユーザーごとのfreee連携情報の読み書きインターフェース。
type TokenStore interface {
	Get(ctx context.Context, userID string) (*model.HRUser, error)
	Save(ctx context.Context, userID string, user *model.HRUser) error
}

// Locker はキー単位の排他ロック。TTL経過で自動解放される前提。
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// TokenRefresher はリフレッシュトークンから新しいトークンを取得する。
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// CoordinatorConfig はトークン更新調停の設定パラメータ。
type CoordinatorConfig struct {
	// Buffer は有効期限のこの時間前から期限切れとみなす（デフォルト: 30秒）。
	Buffer time.Duration
	// LockTTL は更新ロックの有効期間（デフォルト: 10秒）。
	LockTTL time.Duration
	// RetryDelay はロックを取れなかった場合の待機時間（デフォルト: 3秒）。
	RetryDelay time.Duration
	// MaxAttempts は初回を含む最大試行回数（デフォルト: 3）。
	MaxAttempts int
}

// DefaultCoordinatorConfig はデフォルトの調停設定を返す。
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Buffer:      30 * time.Second,
		LockTTL:     10 * time.Second,
		RetryDelay:  3 * time.Second,
		MaxAttempts: 3,
	}
}

// TokenCoordinator は同一ユーザーへの並行リクエストの間でアクセストークンの更新を1回にまとめる。
// 有効なトークンはロックなしで返し、期限切れの場合のみ分散ロックを取った1者が更新する。
type TokenCoordinator struct {
	store     TokenStore
	locker    Locker
	refresher TokenRefresher
	config    CoordinatorConfig
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewTokenCoordinator はTokenCoordinatorの新しいインスタンスを生成する。
func NewTokenCoordinator(
	store TokenStore,
	locker Locker,
	refresher TokenRefresher,
	config CoordinatorConfig,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
) *TokenCoordinator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &TokenCoordinator{
		store:     store,
		locker:    locker,
		refresher: refresher,
		config:    config,
		logger:    logger,
		metrics:   collector,
		now:       time.Now,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// refreshLockKey はユーザーごとのトークン更新ロックのキーを返す。
func refreshLockKey(userID string) string {
	return "lock:tokenrefresh:" + userID
}

// AccessToken は有効なアクセストークンを返す。必要なら更新してストアに保存する。
func (c *TokenCoordinator) AccessToken(ctx context.Context, userID string) (string, error) {
	for attempt := 1; ; attempt++ {
		user, err := c.load(ctx, userID)
		if err != nil {
			return "", err
		}
		if c.isFresh(user.OAuth) {
			return user.OAuth.AccessToken, nil
		}

		locked, err := c.locker.TryLock(ctx, refreshLockKey(userID), c.config.LockTTL)
		if err != nil {
			return "", err
		}
		if locked {
			return c.refreshLocked(ctx, userID)
		}

		if attempt >= c.config.MaxAttempts {
			c.metrics.RecordTokenRefresh(metrics.ResultSkipped)
			return "", fmt.Errorf("%w (user_id=%s, attempts=%d)", ErrTokenRefreshExhausted, userID, attempt)
		}
		c.logger.Debug("トークン更新ロックが他のリクエストに保持されているため待機します",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
		)
		if err := c.sleep(ctx, c.config.RetryDelay); err != nil {
			return "", err
		}
	}
}

func (c *TokenCoordinator) load(ctx context.Context, userID string) (*model.HRUser, error) {
	user, err := c.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	return user, nil
}

// refreshLocked はロック保持中に呼ばれる。待機中に他者が更新済みの場合は更新しない。
func (c *TokenCoordinator) refreshLocked(ctx context.Context, userID string) (string, error) {
	defer func() {
		if err := c.locker.Unlock(context.WithoutCancel(ctx), refreshLockKey(userID)); err != nil {
			c.logger.Warn("トークン更新ロックの解放に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}()

	user, err := c.load(ctx, userID)
	if err != nil {
		return "", err
	}
	if c.isFresh(user.OAuth) {
		return user.OAuth.AccessToken, nil
	}

	token, err := c.refresher.Refresh(ctx, user.OAuth.RefreshToken)
	if err != nil {
		c.metrics.RecordTokenRefresh(metrics.ResultFailure)
		c.logger.Error("アクセストークンの更新に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("アクセストークンの更新に失敗しました: %w", err)
	}

	now := c.now()
	if token.CreatedAt == 0 {
		token.CreatedAt = now.Unix()
	}
	if token.CompanyID == 0 {
		token.CompanyID = user.OAuth.CompanyID
	}
	user.OAuth = *token
	user.UpdatedAt = now.UnixMilli()

	if err := c.store.Save(ctx, userID, user); err != nil {
		c.metrics.RecordTokenRefresh(metrics.ResultFailure)
		return "", fmt.Errorf("更新したトークンの保存に失敗しました: %w", err)
	}

	c.metrics.RecordTokenRefresh(metrics.ResultSuccess)
	c.logger.Info("アクセストークンを更新しました", slog.String("user_id", userID))
	return token.AccessToken, nil
}

// isFresh は now <= created_at + expires_in - Buffer の場合にtrueを返す。
func (c *TokenCoordinator) isFresh(t oauth.Token) bool {
	deadline := t.CreatedAt + t.ExpiresIn - int64(c.config.Buffer/time.Second)
	return c.now().Unix() <= deadline
}
