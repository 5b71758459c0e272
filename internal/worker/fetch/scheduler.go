// Package fetch はフィードのバックグラウンドフェッチ処理を提供する。
// スケジューラ、フェッチャー、リトライ/バックオフ戦略を含む。
package fetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/workday/internal/model"
	"github.com/hitoshi/workday/internal/repository"
	"github.com/hitoshi/workday/internal/semaphore"
)

// FeedFetcherService はフィードフェッチの実行インターフェース。
type FeedFetcherService interface {
	// Fetch は指定フィードをフェッチし、結果に応じてフィード状態を更新する。
	Fetch(ctx context.Context, feed *model.Feed) error
}

// CategorySyncer はカテゴリ定義をfeedsテーブルへ反映する。
type CategorySyncer interface {
	SyncCategories(ctx context.Context) error
}

// Scheduler はフィードフェッチのスケジューリングと並列制御を行う。
// ティッカーごとにカテゴリ定義を同期してからフェッチ対象フィードを取得し、
// semaphore.Gateで最大並列数を制御しながらフェッチを実行する。
type Scheduler struct {
	feedRepo       repository.FeedRepository
	syncer         CategorySyncer
	fetcher        FeedFetcherService
	logger         *slog.Logger
	maxConcurrency int
	gate           *semaphore.Gate
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。syncerはnilでもよい。
func NewScheduler(
	feedRepo repository.FeedRepository,
	syncer CategorySyncer,
	fetcher FeedFetcherService,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		feedRepo:       feedRepo,
		syncer:         syncer,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		gate:           semaphore.New(maxConcurrency, 0),
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("フェッチスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("フェッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("フェッチスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("フェッチサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はカテゴリを同期し、フェッチ対象フィードを1回取得して並列でフェッチを実行する。
// 同期の失敗はログに残して既存フィードのフェッチを続ける。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	if s.syncer != nil {
		if err := s.syncer.SyncCategories(ctx); err != nil {
			s.logger.Error("カテゴリの同期に失敗しました",
				slog.String("error", err.Error()),
			)
		}
	}

	// フェッチ対象フィードを取得（FOR UPDATE SKIP LOCKED）
	feeds, err := s.feedRepo.ListDueForFetch(ctx)
	if err != nil {
		return err
	}

	if len(feeds) == 0 {
		s.logger.Info("フェッチ対象のフィードはありません")
		return nil
	}

	s.logger.Info("フェッチサイクルを開始します",
		slog.Int("feed_count", len(feeds)),
	)

	var wg sync.WaitGroup

	for _, feed := range feeds {
		if err := s.gate.Acquire(ctx); err != nil {
			s.logger.Warn("フェッチサイクルを中断しました",
				slog.String("error", err.Error()),
			)
			break
		}
		wg.Add(1)

		go func(f *model.Feed) {
			defer wg.Done()
			defer s.gate.Release()

			if err := s.fetcher.Fetch(ctx, f); err != nil {
				s.logger.Error("フィードフェッチに失敗しました",
					slog.String("feed_id", f.ID),
					slog.String("feed_url", f.FeedURL),
					slog.String("error", err.Error()),
				)
			}
		}(feed)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("フェッチサイクルが完了しました",
		slog.Int("feed_count", len(feeds)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
