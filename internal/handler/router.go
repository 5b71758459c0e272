package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/workday/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRFConfig        middleware.CSRFConfig

	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	HRService    HRServiceInterface
	Orchestrator WorkRecordOrchestrator
	HRConfig     HRHandlerConfig

	NewsService  NewsServiceInterface
	StoryService StoryServiceInterface

	// Metrics は/metricsで公開するハンドラー。nilなら公開しない。
	Metrics http.Handler
	// Health は/healthのハンドラー。nilなら公開しない。
	Health http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// 全ルート共通: Recovery → Logging → SecurityHeaders → CORS
// /api/*: Session → RateLimit(General) → CSRF。勤怠の登録・削除はさらにRateLimit(Mutation)。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	if deps.Health != nil {
		r.Method(http.MethodGet, "/health", deps.Health)
	}
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, logger)
	hrHandler := NewHRHandler(deps.HRService, deps.Orchestrator, deps.HRConfig, logger)
	newsHandler := NewNewsHandler(deps.NewsService, deps.StoryService, logger)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

		r.Route("/hr", func(r chi.Router) {
			r.Get("/authorize", hrHandler.Authorize)
			r.Get("/authorize/callback", hrHandler.AuthorizeCallback)
			r.Get("/me", hrHandler.Me)
			r.Get("/work-records", hrHandler.ListWorkRecords)

			r.Group(func(r chi.Router) {
				r.Use(deps.RateLimiter.MutationMiddleware())
				r.Post("/work-records", hrHandler.CreateWorkRecords)
				r.Delete("/work-records", hrHandler.DeleteWorkRecords)
			})
		})

		r.Route("/news", func(r chi.Router) {
			r.Get("/", newsHandler.ListAll)
			r.Get("/hacker-news/{list}", newsHandler.ListStories)
			r.Get("/{category}", newsHandler.GetCategory)
		})
	})

	return r
}
