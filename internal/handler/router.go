package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devsForFun/starterkit/internal/auth"
	"github.com/devsForFun/starterkit/internal/identity"
	"github.com/devsForFun/starterkit/internal/metrics"
	"github.com/devsForFun/starterkit/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// セッション検証。認証基盤未設定の場合はnil（ゲートはフェイルオープン）。
	Verifier      middleware.SessionVerifier
	CookieOptions identity.CookieOptions

	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// メトリクス。nilを許容する（記録なし）。
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// ヘルスチェックの死活確認（DB ping等）。nilの場合は常に正常とみなす。
	HealthPing func(ctx context.Context) error

	// サービス
	AuthService    AuthServiceInterface
	PageService    PageServiceInterface
	ProfileService ProfileFinder
	Flags          auth.Flags
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	SecurityHeaders → CORS → Logging → Metrics → Recovery → Gate
//
// ゲートはページ遷移だけを判定し、/api・/auth配下は素通りして
// 各グループのミドルウェアが独自に認証・保護を行う。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	r.Use(middleware.NewRecoveryMiddleware())
	// AUTH_ENABLED=falseの場合、ゲートは素通しになりサイトは公開コンテンツとして動く。
	r.Use(middleware.NewGateMiddleware(deps.Verifier,
		middleware.GateConfig{
			CookieOptions: deps.CookieOptions,
			PassThrough:   !deps.Flags.AuthEnabled,
		},
		deps.Metrics, deps.Logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.Verifier,
		AuthHandlerConfig{CookieOptions: deps.CookieOptions}, deps.Logger)
	pageHandler := NewPageHandler(deps.PageService, deps.ProfileService, deps.Flags, deps.Logger)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.Logger)

	// --- ページ（ゲートの判定対象）---

	r.Get("/", pageHandler.Home)
	r.Get("/dashboard", pageHandler.Dashboard)
	r.Get("/login", pageHandler.AuthPage("login"))
	r.Get("/register", pageHandler.AuthPage("register"))
	r.Get("/forgot-password", pageHandler.AuthPage("forgot_password"))
	r.Get("/reset-password", pageHandler.AuthPage("reset_password"))

	// --- 認証アクション（ゲート素通り）---
	// クライアントIPキーのレート制限とCSRF検証をかける。
	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CookieOptions))

		r.Post("/signin", authHandler.SignIn)
		r.Post("/signup", authHandler.SignUp)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/reset-password", authHandler.ResetPassword)
		r.Post("/logout", authHandler.Logout)
		r.Get("/callback", authHandler.Callback)
		r.Get("/me", authHandler.Me)
	})

	// --- API（ゲート素通り）---
	r.Route("/api", func(r chi.Router) {
		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CookieOptions).ServeHTTP)
		r.Get("/pages/{slug}", pageHandler.Page)

		// セッション必須のAPI: Session → RateLimit(General) → CSRF
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAPISessionMiddleware(deps.Verifier, deps.CookieOptions))
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Use(middleware.NewCSRFMiddleware(deps.CookieOptions))

			r.Get("/profiles/me", profileHandler.Me)
			r.Get("/profiles/me/avatar", profileHandler.Avatar)
		})
	})

	// --- 運用エンドポイント ---

	r.Get("/health", newHealthHandler(deps.HealthPing))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	return r
}

// newHealthHandler はヘルスチェックハンドラーを返す。
// pingが失敗した場合は503を返し、ロードバランサーから切り離させる。
func newHealthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			if err := ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
