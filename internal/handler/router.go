package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/dayplan/internal/metrics"
	"github.com/hitoshi/dayplan/internal/middleware"
	"github.com/hitoshi/dayplan/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	AuthRateLimiter   *middleware.RateLimiter // nilの場合はレート制限なし

	// サービス
	AuthService AuthServiceInterface
	TaskService TaskServiceInterface

	// 運用
	HealthCheckers []repository.HealthChecker
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler // nilの場合は/metricsを公開しない
	StaticDir      string       // 空の場合は静的ファイルを配信しない
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → Metrics → SecurityHeaders → CORS
//
// 認証系ルートにはクライアントIP単位のレート制限、/api/tasks にはベアラー認証を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(metrics.NewMiddleware(mc))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, mc)
	taskHandler := NewTaskHandler(deps.TaskService, mc)

	r.Get("/health", NewHealthHandler(deps.HealthCheckers...))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		// --- 認証不要のルート ---
		r.Group(func(r chi.Router) {
			if deps.AuthRateLimiter != nil {
				r.Use(deps.AuthRateLimiter.Middleware())
			}
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewBearerAuthMiddleware(deps.TokenVerifier))
			r.Get("/tasks/{date}", taskHandler.GetTasks)
			r.Post("/tasks/{date}", taskHandler.SaveTasks)
		})
	})

	if deps.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(deps.StaticDir)))
	}

	return r
}
