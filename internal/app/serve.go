package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/workday/internal/auth"
	"github.com/hitoshi/workday/internal/calendar"
	"github.com/hitoshi/workday/internal/config"
	"github.com/hitoshi/workday/internal/database"
	"github.com/hitoshi/workday/internal/feed"
	"github.com/hitoshi/workday/internal/hackernews"
	"github.com/hitoshi/workday/internal/handler"
	"github.com/hitoshi/workday/internal/hr"
	"github.com/hitoshi/workday/internal/metrics"
	"github.com/hitoshi/workday/internal/middleware"
	"github.com/hitoshi/workday/internal/oauth"
	"github.com/hitoshi/workday/internal/repository"
	"github.com/hitoshi/workday/internal/timeval"
)

// healthTimeout は/healthでの依存先ごとの疎通確認の上限時間。
const healthTimeout = 3 * time.Second

// indexEnsurer はRedisの検索インデックスを用意できるリポジトリ。
type indexEnsurer interface {
	EnsureIndex(ctx context.Context) error
}

// runServe はAPIサーバーモードで起動する。
// DBとRedisに接続し、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	logger := slog.Default()
	ctx := context.Background()

	// 1. DB接続
	db, err := openDatabase(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. Redis接続
	rdb, err := database.OpenRedis(ctx, cfg.RedisURL, cfg.RedisConnectRetries, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer rdb.Close()

	// 3. 検索インデックスの作成（失敗した場合は起動しない）
	for name, repo := range map[string]indexEnsurer{
		"hackernews": repository.NewRedisHackerNewsRepo(rdb),
		"freeeuser":  repository.NewRedisHRUserRepo(rdb),
	} {
		if err := repo.EnsureIndex(ctx); err != nil {
			return fmt.Errorf("failed to ensure %s index: %w", name, err)
		}
	}

	// 4. ルーターの構築
	reg := newRegistry()
	router, limiter, err := buildServer(cfg, db, rdb, reg, logger)
	if err != nil {
		return err
	}
	defer limiter.Stop()

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 勤怠の一括登録はゲート待ちを含むため長めに取る
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, logger)
}

// serveUntilSignal はサーバーを起動し、シグナル受信でグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, logger *slog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	logger.Info("shutting down HTTP server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("HTTP server stopped gracefully")
	return nil
}

// openDatabase はPostgreSQLへ接続し、疎通を確認する。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newRegistry はGo・プロセスのメトリクスを含むPrometheusレジストリを返す。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildServer はAPIサーバーの全依存関係を組み立て、ルーターを返す。
// 返されたRateLimiterは終了時にStopすること。
func buildServer(
	cfg *config.Config,
	db *sql.DB,
	rdb *redis.Client,
	reg *prometheus.Registry,
	logger *slog.Logger,
) (http.Handler, *middleware.RateLimiter, error) {
	catalog, err := feed.LoadCategories(cfg.FeedCategoriesFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load feed categories: %w", err)
	}

	collector := metrics.NewCollector(reg)

	// リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	feedRepo := repository.NewPostgresFeedRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	hrUserRepo := repository.NewRedisHRUserRepo(rdb)
	hnRepo := repository.NewRedisHackerNewsRepo(rdb)
	lock := repository.NewRedisLock(rdb)

	// ログイン（Cognito）
	cognitoCfg := auth.CognitoConfig{
		Domain:       cfg.CognitoDomain,
		UserPoolURL:  cfg.CognitoUserPoolURL,
		ClientID:     cfg.CognitoClientID,
		ClientSecret: cfg.CognitoClientSecret,
		RedirectURL:  strings.TrimSuffix(cfg.BaseURL, "/") + "/auth/callback",
	}
	cognito := auth.NewCognitoProvider(
		auth.NewCognitoOAuthClient(cognitoCfg, &http.Client{Timeout: cfg.OAuthHTTPTimeout}),
		cognitoCfg,
	)
	authService := auth.NewService(cognito, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// freee人事労務
	freee := newFreeeOAuthClient(cfg)
	coordinator := hr.NewTokenCoordinator(hrUserRepo, lock, freee, hr.CoordinatorConfig{
		Buffer:      cfg.HRTokenBuffer,
		LockTTL:     cfg.HRLockTTL,
		RetryDelay:  cfg.HRLockRetryDelay,
		MaxAttempts: cfg.HRLockMaxAttempts,
	}, logger, collector)
	hrClient := hr.NewClient(cfg.HRAPIBaseURL, &http.Client{Timeout: cfg.HRHTTPTimeout}, logger)
	hrService := hr.NewService(hrClient, freee, hrUserRepo, coordinator, cfg.HRCompanyName, logger)

	holidays := calendar.NewService(cfg.HolidaysURL, &http.Client{Timeout: cfg.HRHTTPTimeout}, cfg.HolidaysCacheTTL, logger)
	orchestrator := hr.NewOrchestrator(holidays, hrService, hrClient, coordinator, hr.OrchestratorConfig{
		CreateConcurrency: cfg.HRCreateConcurrency,
		CreateDelay:       cfg.HRCreateDelay,
		DeleteConcurrency: cfg.HRDeleteConcurrency,
		DeleteDelay:       cfg.HRDeleteDelay,
		DeleteRetryDelays: hr.DefaultOrchestratorConfig().DeleteRetryDelays,
	}, logger, collector)
	orchestrator.SetCreateFailureHook(logCreateFailure(logger))

	// ニュース
	newsService := feed.NewService(feedRepo, itemRepo, catalog, logger)
	stories := hackernews.NewService(
		hackernews.NewClient(&http.Client{Timeout: cfg.FetchTimeout}, cfg.HackerNewsBaseURL, logger),
		hnRepo, logger, cfg.HackerNewsLimit,
	)

	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitGeneral, cfg.RateLimitMutation))

	health := handler.NewHealthHandler(map[string]handler.Pinger{
		"postgres": db,
		"redis": handler.PingerFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}),
	}, healthTimeout)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		HRService:    hrService,
		Orchestrator: orchestrator,
		HRConfig: handler.HRHandlerConfig{
			BaseURL:      cfg.BaseURL,
			CookieSecure: cfg.CookieSecure,
			RetryAfter:   int(cfg.HRLockRetryDelay / time.Second),
			MaxRangeDays: cfg.HRMaxRangeDays,
		},

		NewsService:  newsService,
		StoryService: stories,

		Metrics: metrics.Handler(reg),
		Health:  health,
	})

	return router, limiter, nil
}

// newFreeeOAuthClient はfreeeの認可・トークンエンドポイントを設定したoauth.Clientを返す。
// 認可コードの交換は/public_api/token、更新は/oauth2/tokenを使う。
// client_secretはフォームボディで送り、認可画面では事業所を選ばせる。
func newFreeeOAuthClient(cfg *config.Config) *oauth.Client {
	accounts := strings.TrimSuffix(cfg.FreeeAccountsURL, "/")
	return oauth.NewClient(oauth.Config{
		ClientID:        cfg.FreeeClientID,
		ClientSecret:    cfg.FreeeClientSecret,
		AuthorizeURL:    accounts + "/public_api/authorize",
		TokenURL:        accounts + "/public_api/token",
		RefreshURL:      accounts + "/oauth2/token",
		AuthStyle:       oauth.AuthStyleInParams,
		AuthorizeParams: url.Values{"prompt": {"select_company"}},
		HTTPClient:      &http.Client{Timeout: cfg.OAuthHTTPTimeout},
	})
}

// logCreateFailure は一括登録が途中で失敗したとき、登録済みの日付を記録する。
func logCreateFailure(logger *slog.Logger) hr.CreateFailureHook {
	return func(_ context.Context, userID string, succeeded []timeval.DateOnly, err error) {
		days := make([]string, 0, len(succeeded))
		for _, d := range succeeded {
			days = append(days, d.String())
		}
		logger.Warn("勤怠の一括登録が途中で失敗しました。登録済みの日付は残ります",
			slog.String("user_id", userID),
			slog.Int("succeeded", len(succeeded)),
			slog.Any("succeeded_dates", days),
			slog.String("error", err.Error()),
		)
	}
}
