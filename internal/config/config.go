package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ログイン試行ストアの種類。RATE_LIMIT_STOREで指定する。
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// 実行環境の種類。ENVIRONMENTで指定する。
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth provider
	// AuthAPIURLとAuthAPIKeyが未設定でも起動は継続する。
	// その場合、セッションゲートはフェイルオープンで全リクエストを素通しする。
	AuthAPIURL    string
	AuthAPIKey    string
	AuthJWTSecret string
	AuthTimeout   time.Duration

	// Feature flags
	AuthEnabled           bool
	SignInEnabled         bool
	SignUpEnabled         bool
	ForgotPasswordEnabled bool
	ResetPasswordEnabled  bool
	GoogleSignupEnabled   bool

	// CMS
	CMSAPIURL   string
	CMSAPIToken string
	CMSTimeout  time.Duration

	// Rate Limit
	RateLimitStore       string
	RateLimitFailClosed  bool
	RateLimitMaxAttempts int
	RateLimitWindow      time.Duration
	RateLimitRetention   time.Duration
	RateLimitGeneral     int
	RateLimitAuth        int
	RedisURL             string

	// Avatar fetch
	AvatarTimeout time.Duration
	AvatarMaxSize int64

	// Session
	SessionMaxAge int

	// Server
	ServerPort  string
	BaseURL     string
	Environment string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// 認証基盤（AUTH_API_URL等）は必須に含めない。未設定のまま起動した場合は
// 認証機能が無効なだけでサイト自体は稼働し続ける。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Auth provider (optional)
	cfg.AuthAPIURL = strings.TrimRight(os.Getenv("AUTH_API_URL"), "/")
	cfg.AuthAPIKey = os.Getenv("AUTH_API_KEY")
	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")
	cfg.AuthTimeout = getEnvDuration("AUTH_TIMEOUT", 10*time.Second)

	// Feature flags (default: all enabled)
	cfg.AuthEnabled = getEnvBool("AUTH_ENABLED", true)
	cfg.SignInEnabled = getEnvBool("AUTH_PASSWORD_SIGNIN_ENABLED", true)
	cfg.SignUpEnabled = getEnvBool("AUTH_PASSWORD_SIGNUP_ENABLED", true)
	cfg.ForgotPasswordEnabled = getEnvBool("AUTH_FORGOT_PASSWORD_ENABLED", true)
	cfg.ResetPasswordEnabled = getEnvBool("AUTH_RESET_PASSWORD_ENABLED", true)
	cfg.GoogleSignupEnabled = getEnvBool("AUTH_GOOGLE_SIGNUP_ENABLED", true)

	// CMS (optional)
	cfg.CMSAPIURL = strings.TrimRight(os.Getenv("CMS_API_URL"), "/")
	cfg.CMSAPIToken = os.Getenv("CMS_API_TOKEN")
	cfg.CMSTimeout = getEnvDuration("CMS_TIMEOUT", 10*time.Second)

	// Rate limit
	cfg.RateLimitStore = getEnvString("RATE_LIMIT_STORE", StoreMemory)
	cfg.RateLimitFailClosed = getEnvBool("RATE_LIMIT_FAIL_CLOSED", false)
	cfg.RateLimitMaxAttempts = getEnvInt("RATE_LIMIT_MAX_ATTEMPTS", 5)
	cfg.RateLimitWindow = getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute)
	cfg.RateLimitRetention = getEnvDuration("RATE_LIMIT_RETENTION", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.RedisURL = os.Getenv("REDIS_URL")

	switch cfg.RateLimitStore {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return nil, fmt.Errorf("invalid RATE_LIMIT_STORE: %q (expected memory, postgres, or redis)", cfg.RateLimitStore)
	}
	if cfg.RateLimitStore == StoreRedis && cfg.RedisURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: [REDIS_URL]")
	}

	// Avatar fetch
	cfg.AvatarTimeout = getEnvDuration("AVATAR_TIMEOUT", 10*time.Second)
	cfg.AvatarMaxSize = getEnvInt64("AVATAR_MAX_SIZE", 1048576)

	// Session / Server
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.Environment = getEnvString("ENVIRONMENT", EnvDevelopment)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// AuthConfigured は認証基盤への接続設定が揃っているかどうかを返す。
// falseの場合、セッションゲートは素通しになり認証系の操作は設定エラーを返す。
func (c *Config) AuthConfigured() bool {
	return c.AuthAPIURL != "" && c.AuthAPIKey != ""
}

// CMSConfigured はCMSへの接続設定が揃っているかどうかを返す。
func (c *Config) CMSConfigured() bool {
	return c.CMSAPIURL != ""
}

// IsDevelopment は開発環境として起動しているかどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
