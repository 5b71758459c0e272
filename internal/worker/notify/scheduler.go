// Package notify はカテゴリごとの新着記事をSlackへ定期投稿するワーカーを提供する。
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/workday/internal/feed"
	"github.com/hitoshi/workday/internal/metrics"
	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/notify"
)

// NewsSource はカテゴリ一覧とカテゴリごとの新着記事を返す。
type NewsSource interface {
	Catalog() *feed.Catalog
	Recent(ctx context.Context, key string, since time.Time) (*model.FeedWithItems, error)
}

// MessageFormatter は投稿メッセージを組み立てる。
type MessageFormatter interface {
	Format(fw *model.FeedWithItems) string
}

// Config は投稿先と対象期間の設定。
type Config struct {
	Channel string
	// Lookback と Buffer の合計だけ遡った時刻以降に公開された記事を対象にする。
	Lookback time.Duration
	Buffer   time.Duration
}

// Scheduler はカテゴリごとの新着記事を定期的にSlackへ投稿する。
type Scheduler struct {
	news      NewsSource
	formatter MessageFormatter
	poster    notify.Poster
	logger    *slog.Logger
	metrics   metrics.MetricsCollector
	config    Config
	now       func() time.Time
}

// NewScheduler はSchedulerを生成する。collectorがnilの場合は記録しない。
func NewScheduler(
	news NewsSource,
	formatter MessageFormatter,
	poster notify.Poster,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	config Config,
) *Scheduler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Scheduler{
		news:      news,
		formatter: formatter,
		poster:    poster,
		logger:    logger,
		metrics:   collector,
		config:    config,
		now:       time.Now,
	}
}

// Start は指定間隔のティッカーで通知を実行する。起動直後には実行しない。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("通知スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.String("channel", s.config.Channel),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("通知スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("通知サイクルで失敗したカテゴリがあります",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全カテゴリについて新着記事を確認し、あれば投稿する。
// 1カテゴリの失敗は他のカテゴリの投稿を止めない。失敗はまとめて返す。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	since := s.now().Add(-s.config.Lookback - s.config.Buffer)
	s.logger.Info("通知サイクルを開始します", slog.Time("since", since))

	var errs []error
	posted := 0
	for _, cat := range s.news.Catalog().All() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		fw, err := s.news.Recent(ctx, cat.Key, since)
		if err != nil {
			s.logger.Error("新着記事の取得に失敗しました",
				slog.String("category", cat.Key),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", cat.Key, err))
			continue
		}
		if len(fw.Items) == 0 {
			s.logger.Debug("通知対象の記事はありません", slog.String("category", cat.Key))
			s.metrics.RecordSlackPost(metrics.ResultSkipped)
			continue
		}

		if err := s.poster.Post(ctx, s.config.Channel, cat.Key, s.formatter.Format(fw)); err != nil {
			s.logger.Error("Slackへの投稿に失敗しました",
				slog.String("category", cat.Key),
				slog.String("error", err.Error()),
			)
			s.metrics.RecordSlackPost(metrics.ResultFailure)
			errs = append(errs, fmt.Errorf("%s: %w", cat.Key, err))
			continue
		}
		s.metrics.RecordSlackPost(metrics.ResultSuccess)
		posted++
	}

	s.logger.Info("通知サイクルが完了しました",
		slog.Int("posted", posted),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}
