package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/workday/internal/config"
	"github.com/hitoshi/workday/internal/feed"
	"github.com/hitoshi/workday/internal/handler"
	"github.com/hitoshi/workday/internal/item"
	"github.com/hitoshi/workday/internal/metrics"
	"github.com/hitoshi/workday/internal/notify"
	"github.com/hitoshi/workday/internal/repository"
	"github.com/hitoshi/workday/internal/security"
	"github.com/hitoshi/workday/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/workday/internal/worker/fetch"
	notifypkg "github.com/hitoshi/workday/internal/worker/notify"
)

// cleanupInterval はクリーンアップジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// workerJobs はworkerモードで動かすジョブ一式。
type workerJobs struct {
	fetch    *fetchpkg.Scheduler
	notifier *notifypkg.Scheduler // SLACK_BOT_TOKEN未設定ならnil
	cleanup  *cleanup.CleanupJob
	admin    http.Handler
}

// runWorker はワーカーモードで起動する。
// フェッチスケジューラ・通知スケジューラ・クリーンアップジョブを起動し、
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	logger := slog.Default()

	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	jobs, err := buildWorker(cfg, db, newRegistry(), logger)
	if err != nil {
		return err
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	admin := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           jobs.admin,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = admin.Shutdown(shutdownCtx)
	}()

	logger.Info("worker starting",
		slog.Duration("fetch_interval", cfg.FetchInterval),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
		slog.Duration("notify_interval", cfg.NotifyInterval),
		slog.Bool("notify_enabled", jobs.notifier != nil),
		slog.String("metrics_addr", admin.Addr),
	)

	go jobs.cleanup.Start(ctx, cleanupInterval)
	if jobs.notifier != nil {
		go jobs.notifier.Start(ctx, cfg.NotifyInterval)
	}

	// フェッチスケジューラをメインgoroutineで実行（ブロッキング）
	jobs.fetch.Start(ctx, cfg.FetchInterval)

	logger.Info("worker stopped gracefully")
	return nil
}

// buildWorker はworkerの全依存関係を組み立てる。
func buildWorker(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, logger *slog.Logger) (*workerJobs, error) {
	catalog, err := feed.LoadCategories(cfg.FeedCategoriesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load feed categories: %w", err)
	}

	collector := metrics.NewCollector(reg)

	feedRepo := repository.NewPostgresFeedRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	newsService := feed.NewService(feedRepo, itemRepo, catalog, logger)

	// フェッチ
	upsertSvc := item.NewUpsertService(itemRepo, sanitizer, logger)
	fetcher := fetchpkg.NewFetcher(feedRepo, upsertSvc, ssrfGuard, logger, collector, fetchpkg.FetcherConfig{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		Interval:    cfg.FetchInterval,
	})
	scheduler := fetchpkg.NewScheduler(feedRepo, newsService, fetcher, logger, cfg.FetchMaxConcurrent)

	// 通知
	var notifier *notifypkg.Scheduler
	if cfg.SlackBotToken != "" {
		notifier = notifypkg.NewScheduler(
			newsService,
			notify.NewFormatter(sanitizer),
			notify.NewSlackPoster(cfg.SlackBotToken, "", logger),
			logger, collector,
			notifypkg.Config{
				Channel:  cfg.SlackChannel,
				Lookback: cfg.NotifyLookback,
				Buffer:   cfg.NotifyBuffer,
			},
		)
	} else {
		logger.Warn("SLACK_BOT_TOKEN is not set; notifications are disabled")
	}

	// クリーンアップ
	cleanupJob := cleanup.NewCleanupJob(itemRepo, sessionRepo, logger)
	cleanupJob.RetentionDays = cfg.ItemRetentionDays

	admin := chi.NewRouter()
	admin.Handle("/metrics", metrics.Handler(reg))
	admin.Handle("/health", handler.NewHealthHandler(map[string]handler.Pinger{"postgres": db}, healthTimeout))

	return &workerJobs{
		fetch:    scheduler,
		notifier: notifier,
		cleanup:  cleanupJob,
		admin:    admin,
	}, nil
}
