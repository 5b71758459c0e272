// Package cleanup は保持期間を過ぎた記事と期限切れセッションを削除する日次ジョブを提供する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は記事の保持日数の既定値。
const DefaultRetentionDays = 30

// ItemPurger は取得日時が指定時刻より前の記事を削除する。
type ItemPurger interface {
	DeleteFetchedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SessionPurger は期限切れのセッションを削除する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は記事とセッションの削除ジョブ。
// 削除対象がなくてもエラーにならず、何度実行しても同じ結果になる。
type CleanupJob struct {
	items         ItemPurger
	sessions      SessionPurger
	logger        *slog.Logger
	now           func() time.Time
	RetentionDays int // 記事の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。sessionsはnilでもよい。
func NewCleanupJob(items ItemPurger, sessions SessionPurger, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		items:         items,
		sessions:      sessions,
		logger:        logger,
		now:           time.Now,
		RetentionDays: DefaultRetentionDays,
	}
}

// Start は指定間隔で Run を繰り返す。起動直後に1回実行する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Int("retention_days", j.RetentionDays),
	)

	for {
		if err := j.Run(ctx); err != nil {
			j.logger.Error("クリーンアップジョブの実行に失敗しました",
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
		}
	}
}

// Run は保持期間を超過した記事と期限切れのセッションを削除する。
// 記事の削除に失敗してもセッションの削除は行う。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.now().AddDate(0, 0, -j.RetentionDays)

	var errs []error
	deletedItems, err := j.items.DeleteFetchedBefore(ctx, before)
	if err != nil {
		j.logger.Error("記事クリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		errs = append(errs, fmt.Errorf("記事クリーンアップの実行に失敗: %w", err))
	}

	var deletedSessions int64
	if j.sessions != nil {
		deletedSessions, err = j.sessions.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("セッションクリーンアップの実行に失敗しました",
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedItems),
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
