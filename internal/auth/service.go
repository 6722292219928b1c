// Package auth は認証アクション（サインイン、サインアップ、パスワード再設定、
// ログアウト、OAuthコールバック）のビジネスロジックを提供する。
// 資格情報の検証とセッション発行は認証基盤側の責務で、このパッケージは
// 機能フラグの判定、試行回数制限、プロフィール整合の調整役に徹する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devsForFun/starterkit/internal/identity"
	"github.com/devsForFun/starterkit/internal/model"
	"github.com/devsForFun/starterkit/internal/ratelimit"
)

// 試行回数制限のアクション名。ストアのキーとメトリクスラベルに使う。
const (
	ActionSignIn         = "signin"
	ActionSignUp         = "signup"
	ActionForgotPassword = "forgot_password"
	ActionResetPassword  = "reset_password"
)

// minPasswordLength はパスワードの最小文字数。
const minPasswordLength = 8

// Provider は認証基盤クライアントのインターフェース。
// identity.Clientを抽象化してテスタビリティを向上させる。
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, name string) (*model.Session, error)
	SendRecoveryEmail(ctx context.Context, email, redirectTo string) error
	UpdatePassword(ctx context.Context, accessToken, newPassword string) error
	ExchangeCode(ctx context.Context, code string) (*model.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// AttemptLimiter は試行回数制限のインターフェース。
type AttemptLimiter interface {
	Check(ctx context.Context, identifier, action string, maxAttempts int, window time.Duration) ratelimit.Result
	Record(ctx context.Context, identifier, action string, window time.Duration)
	Clear(ctx context.Context, identifier, action string)
}

// ProfileProvisioner はプロフィール整合のインターフェース。
type ProfileProvisioner interface {
	Provision(ctx context.Context, user *model.User) (*model.Profile, bool, error)
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}

// Flags は認証機能の有効フラグ。すべてサーバー側で強制される。
type Flags struct {
	AuthEnabled           bool
	SignInEnabled         bool
	SignUpEnabled         bool
	ForgotPasswordEnabled bool
	ResetPasswordEnabled  bool
	GoogleSignupEnabled   bool
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	Flags Flags
	// MaxAttempts / Window は試行回数制限のパラメータ。
	MaxAttempts int
	Window      time.Duration
	// BaseURL はパスワード再設定リンクの遷移先を組み立てるベースURL。
	BaseURL string
}

// Service は認証アクションのビジネスロジックを提供する。
// providerがnilの場合（認証基盤未設定）は全アクションが設定エラーを返す。
type Service struct {
	provider Provider
	limiter  AttemptLimiter
	profiles ProfileProvisioner
	config   ServiceConfig
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(provider Provider, limiter AttemptLimiter, profiles ProfileProvisioner, config ServiceConfig, logger *slog.Logger) *Service {
	return &Service{
		provider: provider,
		limiter:  limiter,
		profiles: profiles,
		config:   config,
		logger:   logger,
	}
}

// SignIn はメールアドレスとパスワードでサインインする。
// 試行回数制限はメールアドレス単位。認証失敗時に1回分を記録し、
// 成功時にそのキーの記録を消去する。
func (s *Service) SignIn(ctx context.Context, email, password, clientIP string) (*model.Session, error) {
	if err := s.ensureEnabled(s.config.Flags.SignInEnabled, "サインイン"); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, model.NewValidationError("メールアドレスとパスワードを入力してください")
	}

	if result := s.check(ctx, email, ActionSignIn); !result.Allowed {
		return nil, model.NewRateLimitExceededError(time.Until(result.ResetAt))
	}

	session, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			s.limiter.Record(ctx, email, ActionSignIn, s.config.Window)
			s.logger.Warn("サインイン失敗",
				slog.String("client_ip", clientIP),
			)
			return nil, model.NewAuthenticationError()
		}
		s.logger.Error("認証基盤の呼び出しに失敗しました",
			slog.String("action", ActionSignIn),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInfrastructureError()
	}

	s.limiter.Clear(ctx, email, ActionSignIn)
	s.ensureProfile(ctx, &session.User)

	s.logger.Info("サインイン成功",
		slog.String("user_id", session.User.ID),
	)
	return session, nil
}

// SignUp は新規アカウントを作成しサインインする。
// 試行回数制限はクライアントIP単位（大量登録の抑止）。
// メールアドレスの登録済み判定が漏れないよう、失敗は常に同一メッセージで返す。
func (s *Service) SignUp(ctx context.Context, email, password, name, clientIP string) (*model.Session, error) {
	if err := s.ensureEnabled(s.config.Flags.SignUpEnabled, "新規登録"); err != nil {
		return nil, err
	}

	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	if len(password) < minPasswordLength {
		return nil, model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", minPasswordLength))
	}

	if result := s.check(ctx, clientIP, ActionSignUp); !result.Allowed {
		return nil, model.NewRateLimitExceededError(time.Until(result.ResetAt))
	}

	session, err := s.provider.SignUp(ctx, email, password, name)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			s.limiter.Record(ctx, clientIP, ActionSignUp, s.config.Window)
			return nil, model.NewAuthenticationError()
		}
		s.logger.Error("認証基盤の呼び出しに失敗しました",
			slog.String("action", ActionSignUp),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInfrastructureError()
	}

	if _, created, err := s.profiles.Provision(ctx, &session.User); err != nil {
		// プロフィール作成失敗はサインアップ自体を失敗させない。
		// 次回サインイン時のensureProfileで再試行される。
		s.logger.Error("プロフィール作成に失敗しました",
			slog.String("user_id", session.User.ID),
			slog.String("error", err.Error()),
		)
	} else if created {
		s.logger.Info("新規ユーザーが登録されました",
			slog.String("user_id", session.User.ID),
		)
	}

	return session, nil
}

// ForgotPassword はパスワード再設定メールの送信を依頼する。
// アカウントの有無を推測できないよう、対象が存在しなくても常に成功を返す。
// 試行回数制限はメールアドレス単位（メール爆撃の抑止）で、依頼のたびに記録する。
func (s *Service) ForgotPassword(ctx context.Context, email, clientIP string) error {
	if err := s.ensureEnabled(s.config.Flags.ForgotPasswordEnabled, "パスワード再設定"); err != nil {
		return err
	}

	email = normalizeEmail(email)
	if email == "" {
		return model.NewValidationError("メールアドレスを入力してください")
	}

	if result := s.check(ctx, email, ActionForgotPassword); !result.Allowed {
		return model.NewRateLimitExceededError(time.Until(result.ResetAt))
	}
	s.limiter.Record(ctx, email, ActionForgotPassword, s.config.Window)

	redirectTo := strings.TrimRight(s.config.BaseURL, "/") + "/reset-password"
	if err := s.provider.SendRecoveryEmail(ctx, email, redirectTo); err != nil {
		// 失敗してもレスポンスは成功のまま（存在有無のオラクル防止）。ログのみ残す。
		s.logger.Warn("再設定メールの送信依頼に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// ResetPassword は再設定リンク経由のセッションでパスワードを更新する。
// 試行回数制限はクライアントIP単位。
func (s *Service) ResetPassword(ctx context.Context, accessToken, newPassword, clientIP string) error {
	if err := s.ensureEnabled(s.config.Flags.ResetPasswordEnabled, "パスワード再設定"); err != nil {
		return err
	}

	if accessToken == "" {
		return model.NewSessionRequiredError()
	}
	if len(newPassword) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", minPasswordLength))
	}

	if result := s.check(ctx, clientIP, ActionResetPassword); !result.Allowed {
		return model.NewRateLimitExceededError(time.Until(result.ResetAt))
	}

	if err := s.provider.UpdatePassword(ctx, accessToken, newPassword); err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			s.limiter.Record(ctx, clientIP, ActionResetPassword, s.config.Window)
			return model.NewAuthenticationError()
		}
		s.logger.Error("認証基盤の呼び出しに失敗しました",
			slog.String("action", ActionResetPassword),
			slog.String("error", err.Error()),
		)
		return model.NewInfrastructureError()
	}

	s.limiter.Clear(ctx, clientIP, ActionResetPassword)
	return nil
}

// SignOut は認証基盤側のセッションを失効させる。
// ログアウトは冪等で、トークンがすでに無効でも成功として扱う。
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	if s.provider == nil || accessToken == "" {
		return nil
	}

	if err := s.provider.SignOut(ctx, accessToken); err != nil {
		// 基盤側の失効に失敗してもCookie削除でクライアント側は確実にログアウトする。
		s.logger.Warn("認証基盤のセッション失効に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// HandleCallback はOAuth認可コードをセッションに交換し、プロフィール整合を行う。
// プロフィール行の有無が新規ユーザー判定のground truth:
//   - 行あり: 既存ユーザーとしてセッションを返す
//   - 行なし + Googleサインアップ許可: プロフィールを作成してセッションを返す
//   - 行なし + 不許可: 交換済みセッションを失効させ、SIGNUP_DISABLEDを返す
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if !s.config.Flags.AuthEnabled {
		return nil, model.NewFeatureDisabledError("認証")
	}
	if s.provider == nil {
		return nil, model.NewConfigurationError("AUTH_API_URL, AUTH_API_KEY")
	}
	if code == "" {
		return nil, model.NewValidationError("認可コードがありません")
	}

	session, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			return nil, model.NewAuthenticationError()
		}
		s.logger.Error("認可コードの交換に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewInfrastructureError()
	}

	existing, err := s.profiles.FindByUserID(ctx, session.User.ID)
	if err != nil {
		s.logger.Error("プロフィール照会に失敗しました",
			slog.String("user_id", session.User.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInfrastructureError()
	}

	if existing == nil {
		if !s.config.Flags.GoogleSignupEnabled {
			// 新規ユーザーの受け入れ拒否。交換済みセッションは残さない。
			if err := s.provider.SignOut(ctx, session.AccessToken); err != nil {
				s.logger.Warn("拒否セッションの失効に失敗しました",
					slog.String("error", err.Error()),
				)
			}
			s.logger.Info("Googleサインアップ無効のため新規ユーザーを拒否しました",
				slog.String("user_id", session.User.ID),
			)
			return nil, model.NewSignupDisabledError()
		}

		if _, _, err := s.profiles.Provision(ctx, &session.User); err != nil {
			s.logger.Error("プロフィール作成に失敗しました",
				slog.String("user_id", session.User.ID),
				slog.String("error", err.Error()),
			)
			return nil, model.NewInfrastructureError()
		}
		s.logger.Info("新規ユーザーが登録されました",
			slog.String("user_id", session.User.ID),
			slog.String("via", "oauth_callback"),
		)
	} else {
		s.logger.Info("既存ユーザーがログインしました",
			slog.String("user_id", session.User.ID),
			slog.String("via", "oauth_callback"),
		)
	}

	return session, nil
}

// ensureEnabled は認証全体と個別機能のフラグを検証する。
func (s *Service) ensureEnabled(featureEnabled bool, featureName string) error {
	if !s.config.Flags.AuthEnabled {
		return model.NewFeatureDisabledError("認証")
	}
	if !featureEnabled {
		return model.NewFeatureDisabledError(featureName)
	}
	if s.provider == nil {
		return model.NewConfigurationError("AUTH_API_URL, AUTH_API_KEY")
	}
	return nil
}

// check は試行回数制限を照会する。
func (s *Service) check(ctx context.Context, identifier, action string) ratelimit.Result {
	return s.limiter.Check(ctx, identifier, action, s.config.MaxAttempts, s.config.Window)
}

// ensureProfile はプロフィール行の存在を保証する。失敗はログのみ。
func (s *Service) ensureProfile(ctx context.Context, user *model.User) {
	if _, _, err := s.profiles.Provision(ctx, user); err != nil {
		s.logger.Error("プロフィール整合に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
}

// normalizeEmail はメールアドレスを比較・キー用に正規化する。
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
