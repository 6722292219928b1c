package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/devsForFun/starterkit/internal/auth"
	"github.com/devsForFun/starterkit/internal/cms"
	"github.com/devsForFun/starterkit/internal/config"
	"github.com/devsForFun/starterkit/internal/database"
	"github.com/devsForFun/starterkit/internal/handler"
	"github.com/devsForFun/starterkit/internal/identity"
	"github.com/devsForFun/starterkit/internal/logger"
	"github.com/devsForFun/starterkit/internal/metrics"
	"github.com/devsForFun/starterkit/internal/middleware"
	"github.com/devsForFun/starterkit/internal/profile"
	"github.com/devsForFun/starterkit/internal/ratelimit"
	"github.com/devsForFun/starterkit/internal/security"
	"github.com/devsForFun/starterkit/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. 試行回数制限ストアの選択
	attemptStore, closeStore, err := newAttemptStore(cfg, db)
	if err != nil {
		return fmt.Errorf("failed to initialize attempt store: %w", err)
	}
	defer closeStore()

	limiter := ratelimit.NewLimiter(attemptStore, ratelimit.Config{
		Bypass:     cfg.IsDevelopment(),
		FailClosed: cfg.RateLimitFailClosed,
	}, collector)

	slog.Info("attempt limiter initialized",
		slog.String("store", cfg.RateLimitStore),
		slog.Bool("bypass", cfg.IsDevelopment()),
		slog.Bool("fail_closed", cfg.RateLimitFailClosed),
	)

	// 4. 認証基盤クライアント
	// 未設定の場合はverifier/providerをnilのままにし、サイト本体は稼働を続ける。
	var verifier middleware.SessionVerifier
	var provider auth.Provider
	if cfg.AuthConfigured() {
		idClient, err := identity.NewClient(identity.Config{
			BaseURL:   cfg.AuthAPIURL,
			APIKey:    cfg.AuthAPIKey,
			JWTSecret: cfg.AuthJWTSecret,
			Timeout:   cfg.AuthTimeout,
		}, collector)
		if err != nil {
			return fmt.Errorf("failed to initialize identity client: %w", err)
		}
		verifier = idClient
		provider = idClient
		slog.Info("identity provider configured", slog.String("base_url", cfg.AuthAPIURL))
	} else {
		slog.Warn("identity provider not configured, session gate will fail open")
	}

	// 5. プロフィールサービス
	profileRepo := profile.NewPostgresProfileRepo(db)
	avatarFetcher := profile.NewAvatarFetcher(security.NewSSRFGuard())
	profileService := profile.NewService(profileRepo, avatarFetcher, slog.Default())

	// 6. 認証サービス
	flags := auth.Flags{
		AuthEnabled:           cfg.AuthEnabled,
		SignInEnabled:         cfg.SignInEnabled,
		SignUpEnabled:         cfg.SignUpEnabled,
		ForgotPasswordEnabled: cfg.ForgotPasswordEnabled,
		ResetPasswordEnabled:  cfg.ResetPasswordEnabled,
		GoogleSignupEnabled:   cfg.GoogleSignupEnabled,
	}
	if !flags.AuthEnabled {
		// マスタースイッチ停止中はゲートが素通しになり、サイトは公開コンテンツのみで動く
		slog.Warn("authentication disabled, session gate passes all page requests through")
	}
	authService := auth.NewService(provider, limiter, profileService, auth.ServiceConfig{
		Flags:       flags,
		MaxAttempts: cfg.RateLimitMaxAttempts,
		Window:      cfg.RateLimitWindow,
		BaseURL:     cfg.BaseURL,
	}, slog.Default())

	// 7. CMSサービス
	// 未設定の場合はnilのままにし、ページハンドラー側で設定エラーを返す。
	var pageService handler.PageServiceInterface
	if cfg.CMSConfigured() {
		cmsClient := cms.NewClient(
			&http.Client{Timeout: cfg.CMSTimeout},
			cfg.CMSAPIURL, cfg.CMSAPIToken,
			slog.Default(), collector,
		)
		pageService = cms.NewService(cmsClient, cms.NewRenderer())
		slog.Info("CMS configured", slog.String("api_url", cfg.CMSAPIURL))
	} else {
		slog.Warn("CMS not configured, page endpoints will return configuration errors")
	}

	// 8. HTTPレート制限（トークンバケット）
	// 設定値はreq/min単位なのでreq/secに変換する。
	rlConfig := middleware.DefaultRateLimiterConfig()
	rlConfig.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rlConfig.GeneralBurst = cfg.RateLimitGeneral
	rlConfig.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
	rlConfig.AuthBurst = cfg.RateLimitAuth
	httpRateLimiter := middleware.NewRateLimiter(rlConfig)
	defer httpRateLimiter.Stop()

	// 9. ルーターの構築
	cookieOptions := identity.CookieOptions{
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
		MaxAge: cfg.SessionMaxAge,
	}

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		Verifier:          verifier,
		CookieOptions:     cookieOptions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       httpRateLimiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(registry),
		HealthPing:        db.PingContext,
		AuthService:       authService,
		PageService:       pageService,
		ProfileService:    profileService,
		Flags:             flags,
	}

	router := handler.NewRouter(deps)

	// 10. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// Postgresストアの場合、古い試行行の日次クリーンアップをバックグラウンド実行
	if cfg.RateLimitStore == config.StorePostgres {
		go runCleanupLoop(ctx, db, cfg)
	}

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newAttemptStore はRATE_LIMIT_STOREの設定に応じた試行記録ストアを生成する。
// 返されるclose関数はストアが保持するリソースを解放する。
func newAttemptStore(cfg *config.Config, db ratelimit.DBTX) (ratelimit.Store, func(), error) {
	switch cfg.RateLimitStore {
	case config.StoreMemory:
		store := ratelimit.NewMemoryStore(time.Minute, 2*cfg.RateLimitWindow)
		return store, store.Stop, nil

	case config.StorePostgres:
		return ratelimit.NewPostgresStore(db), func() {}, nil

	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		return ratelimit.NewRedisStore(client), func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown rate limit store: %q", cfg.RateLimitStore)
	}
}

// runCleanupLoop はログイン試行クリーンアップジョブを日次で実行する。
// 起動直後に1回実行し、以降は24時間間隔で繰り返す。
func runCleanupLoop(ctx context.Context, db cleanup.Executor, cfg *config.Config) {
	job := cleanup.NewCleanupJob(db, slog.Default())
	if hours := int(cfg.RateLimitRetention.Hours()); hours > 0 {
		job.RetentionHours = hours
	}

	if err := job.Run(ctx); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job.Run(ctx); err != nil {
				slog.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCleanup はログイン試行履歴のクリーンアップを1回実行して終了する。
// cronやECSのスケジュールタスクからの実行を想定している。
func runCleanup(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	job := cleanup.NewCleanupJob(db, slog.Default())
	if hours := int(cfg.RateLimitRetention.Hours()); hours > 0 {
		job.RetentionHours = hours
	}

	return job.Run(context.Background())
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
