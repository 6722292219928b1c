package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/devsForFun/starterkit/internal/identity"
	"github.com/devsForFun/starterkit/internal/model"
	"github.com/devsForFun/starterkit/internal/ratelimit"
)

// mockProvider はProviderのモック実装。
type mockProvider struct {
	signInFunc         func(ctx context.Context, email, password string) (*model.Session, error)
	signUpFunc         func(ctx context.Context, email, password, name string) (*model.Session, error)
	sendRecoveryFunc   func(ctx context.Context, email, redirectTo string) error
	updatePasswordFunc func(ctx context.Context, accessToken, newPassword string) error
	exchangeCodeFunc   func(ctx context.Context, code string) (*model.Session, error)
	signOutFunc        func(ctx context.Context, accessToken string) error
}

func (m *mockProvider) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	return m.signInFunc(ctx, email, password)
}

func (m *mockProvider) SignUp(ctx context.Context, email, password, name string) (*model.Session, error) {
	return m.signUpFunc(ctx, email, password, name)
}

func (m *mockProvider) SendRecoveryEmail(ctx context.Context, email, redirectTo string) error {
	return m.sendRecoveryFunc(ctx, email, redirectTo)
}

func (m *mockProvider) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	return m.updatePasswordFunc(ctx, accessToken, newPassword)
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code string) (*model.Session, error) {
	return m.exchangeCodeFunc(ctx, code)
}

func (m *mockProvider) SignOut(ctx context.Context, accessToken string) error {
	return m.signOutFunc(ctx, accessToken)
}

var _ Provider = (*mockProvider)(nil)

// mockLimiter はAttemptLimiterのモック実装。
type mockLimiter struct {
	checkResult *ratelimit.Result
	recorded    []string
	cleared     []string
}

func (m *mockLimiter) Check(_ context.Context, _, _ string, maxAttempts int, _ time.Duration) ratelimit.Result {
	if m.checkResult != nil {
		return *m.checkResult
	}
	return ratelimit.Result{Allowed: true, Remaining: maxAttempts}
}

func (m *mockLimiter) Record(_ context.Context, identifier, action string, _ time.Duration) {
	m.recorded = append(m.recorded, identifier+"/"+action)
}

func (m *mockLimiter) Clear(_ context.Context, identifier, action string) {
	m.cleared = append(m.cleared, identifier+"/"+action)
}

var _ AttemptLimiter = (*mockLimiter)(nil)

// mockProfiles はProfileProvisionerのモック実装。
type mockProfiles struct {
	provisionFunc    func(ctx context.Context, user *model.User) (*model.Profile, bool, error)
	findByUserIDFunc func(ctx context.Context, userID string) (*model.Profile, error)
}

func (m *mockProfiles) Provision(ctx context.Context, user *model.User) (*model.Profile, bool, error) {
	if m.provisionFunc == nil {
		return &model.Profile{UserID: user.ID}, false, nil
	}
	return m.provisionFunc(ctx, user)
}

func (m *mockProfiles) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	return m.findByUserIDFunc(ctx, userID)
}

var _ ProfileProvisioner = (*mockProfiles)(nil)

func allEnabled() Flags {
	return Flags{
		AuthEnabled:           true,
		SignInEnabled:         true,
		SignUpEnabled:         true,
		ForgotPasswordEnabled: true,
		ResetPasswordEnabled:  true,
		GoogleSignupEnabled:   true,
	}
}

func testConfig() ServiceConfig {
	return ServiceConfig{
		Flags:       allEnabled(),
		MaxAttempts: 5,
		Window:      time.Minute,
		BaseURL:     "https://app.example.com",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testSession(userID string) *model.Session {
	return &model.Session{
		User:         model.User{ID: userID, Email: "taro@example.com"},
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func apiErrorCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error is not APIError: %v", err)
	}
	return apiErr.Code
}

func TestSignIn_Success(t *testing.T) {
	provider := &mockProvider{
		signInFunc: func(_ context.Context, email, password string) (*model.Session, error) {
			if email != "taro@example.com" || password != "correct-password" {
				t.Errorf("credentials = %q/%q", email, password)
			}
			return testSession("user-1"), nil
		},
	}
	limiter := &mockLimiter{}
	svc := NewService(provider, limiter, &mockProfiles{}, testConfig(), testLogger())

	session, err := svc.SignIn(context.Background(), "Taro@Example.com ", "correct-password", "1.2.3.4")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if session.User.ID != "user-1" {
		t.Errorf("user ID = %q", session.User.ID)
	}
	// 成功時はメールアドレスキーの記録を消去する
	if len(limiter.cleared) != 1 || limiter.cleared[0] != "taro@example.com/signin" {
		t.Errorf("cleared = %v", limiter.cleared)
	}
	if len(limiter.recorded) != 0 {
		t.Errorf("成功時に記録してはならない: %v", limiter.recorded)
	}
}

func TestSignIn_InvalidCredentialsRecordsAttempt(t *testing.T) {
	provider := &mockProvider{
		signInFunc: func(_ context.Context, _, _ string) (*model.Session, error) {
			return nil, identity.ErrInvalidCredentials
		},
	}
	limiter := &mockLimiter{}
	svc := NewService(provider, limiter, &mockProfiles{}, testConfig(), testLogger())

	_, err := svc.SignIn(context.Background(), "taro@example.com", "wrong", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeAuthentication {
		t.Errorf("code = %q, want AUTHENTICATION_FAILED", code)
	}
	if len(limiter.recorded) != 1 || limiter.recorded[0] != "taro@example.com/signin" {
		t.Errorf("recorded = %v", limiter.recorded)
	}
}

func TestSignIn_RateLimited(t *testing.T) {
	provider := &mockProvider{
		signInFunc: func(_ context.Context, _, _ string) (*model.Session, error) {
			t.Error("制限超過時に認証基盤を呼んではならない")
			return nil, nil
		},
	}
	limiter := &mockLimiter{
		checkResult: &ratelimit.Result{Allowed: false, Remaining: 0, ResetAt: time.Now().Add(10 * time.Minute)},
	}
	svc := NewService(provider, limiter, &mockProfiles{}, testConfig(), testLogger())

	_, err := svc.SignIn(context.Background(), "taro@example.com", "password", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", code)
	}
}

func TestSignIn_ProviderOutageIsInfrastructureError(t *testing.T) {
	provider := &mockProvider{
		signInFunc: func(_ context.Context, _, _ string) (*model.Session, error) {
			return nil, errors.New("connection refused")
		},
	}
	limiter := &mockLimiter{}
	svc := NewService(provider, limiter, &mockProfiles{}, testConfig(), testLogger())

	_, err := svc.SignIn(context.Background(), "taro@example.com", "password", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeInfrastructure {
		t.Errorf("code = %q, want INFRASTRUCTURE_ERROR", code)
	}
	// 基盤障害は資格情報の失敗ではないので記録しない
	if len(limiter.recorded) != 0 {
		t.Errorf("recorded = %v", limiter.recorded)
	}
}

func TestSignIn_DisabledByFlag(t *testing.T) {
	cfg := testConfig()
	cfg.Flags.SignInEnabled = false
	svc := NewService(&mockProvider{}, &mockLimiter{}, &mockProfiles{}, cfg, testLogger())

	_, err := svc.SignIn(context.Background(), "taro@example.com", "password", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeFeatureDisabled {
		t.Errorf("code = %q, want FEATURE_DISABLED", code)
	}
}

func TestSignIn_MasterSwitchDisablesAll(t *testing.T) {
	cfg := testConfig()
	cfg.Flags.AuthEnabled = false
	svc := NewService(&mockProvider{}, &mockLimiter{}, &mockProfiles{}, cfg, testLogger())

	_, err := svc.SignIn(context.Background(), "taro@example.com", "password", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeFeatureDisabled {
		t.Errorf("code = %q, want FEATURE_DISABLED", code)
	}
}

func TestSignIn_NoProviderIsConfigurationError(t *testing.T) {
	svc := NewService(nil, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())

	_, err := svc.SignIn(context.Background(), "taro@example.com", "password", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeConfiguration {
		t.Errorf("code = %q, want CONFIGURATION_ERROR", code)
	}
}

func TestSignIn_EmptyInputIsValidationError(t *testing.T) {
	svc := NewService(&mockProvider{}, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())

	_, err := svc.SignIn(context.Background(), "", "", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeValidation {
		t.Errorf("code = %q, want VALIDATION_FAILED", code)
	}
}

func TestSignUp_Success(t *testing.T) {
	var provisioned bool
	provider := &mockProvider{
		signUpFunc: func(_ context.Context, email, password, name string) (*model.Session, error) {
			if name != "山田太郎" {
				t.Errorf("name = %q", name)
			}
			return testSession("user-new"), nil
		},
	}
	profiles := &mockProfiles{
		provisionFunc: func(_ context.Context, user *model.User) (*model.Profile, bool, error) {
			provisioned = true
			return &model.Profile{UserID: user.ID}, true, nil
		},
	}
	svc := NewService(provider, &mockLimiter{}, profiles, testConfig(), testLogger())

	session, err := svc.SignUp(context.Background(), "taro@example.com", "password123", "山田太郎", "1.2.3.4")
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if session.User.ID != "user-new" {
		t.Errorf("user ID = %q", session.User.ID)
	}
	if !provisioned {
		t.Error("サインアップでプロフィールが作成されるべき")
	}
}

func TestSignUp_ShortPasswordIsValidationError(t *testing.T) {
	svc := NewService(&mockProvider{}, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())

	_, err := svc.SignUp(context.Background(), "taro@example.com", "short", "", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeValidation {
		t.Errorf("code = %q, want VALIDATION_FAILED", code)
	}
}

func TestSignUp_ProviderRejectionIsGenericError(t *testing.T) {
	// 登録済みメールアドレスの判定が漏れないよう、拒否は常に同一メッセージ
	provider := &mockProvider{
		signUpFunc: func(_ context.Context, _, _, _ string) (*model.Session, error) {
			return nil, identity.ErrInvalidCredentials
		},
	}
	limiter := &mockLimiter{}
	svc := NewService(provider, limiter, &mockProfiles{}, testConfig(), testLogger())

	_, err := svc.SignUp(context.Background(), "taken@example.com", "password123", "", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeAuthentication {
		t.Errorf("code = %q, want AUTHENTICATION_FAILED", code)
	}
	// サインアップの制限キーはクライアントIP
	if len(limiter.recorded) != 1 || limiter.recorded[0] != "1.2.3.4/signup" {
		t.Errorf("recorded = %v", limiter.recorded)
	}
}

func TestSignUp_ProfileFailureIsNonFatal(t *testing.T) {
	provider := &mockProvider{
		signUpFunc: func(_ context.Context, _, _, _ string) (*model.Session, error) {
			return testSession("user-new"), nil
		},
	}
	profiles := &mockProfiles{
		provisionFunc: func(_ context.Context, _ *model.User) (*model.Profile, bool, error) {
			return nil, false, errors.New("db down")
		},
	}
	svc := NewService(provider, &mockLimiter{}, profiles, testConfig(), testLogger())

	if _, err := svc.SignUp(context.Background(), "taro@example.com", "password123", "", "1.2.3.4"); err != nil {
		t.Errorf("プロフィール作成失敗でサインアップが失敗してはならない: %v", err)
	}
}

func TestForgotPassword_AlwaysSucceeds(t *testing.T) {
	tests := []struct {
		name        string
		providerErr error
	}{
		{"送信成功", nil},
		{"対象メール不存在", identity.ErrInvalidCredentials},
		{"基盤障害", errors.New("connection refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &mockProvider{
				sendRecoveryFunc: func(_ context.Context, _, redirectTo string) error {
					if redirectTo != "https://app.example.com/reset-password" {
						t.Errorf("redirectTo = %q", redirectTo)
					}
					return tt.providerErr
				},
			}
			svc := NewService(provider, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())

			// メールの存在有無・基盤の状態によらず同一の成功レスポンス
			if err := svc.ForgotPassword(context.Background(), "anyone@example.com", "1.2.3.4"); err != nil {
				t.Errorf("ForgotPassword should always succeed, got: %v", err)
			}
		})
	}
}

func TestForgotPassword_RecordsEveryRequest(t *testing.T) {
	provider := &mockProvider{
		sendRecoveryFunc: func(_ context.Context, _, _ string) error { return nil },
	}
	limiter := &mockLimiter{}
	svc := NewService(provider, limiter, &mockProfiles{}, testConfig(), testLogger())

	if err := svc.ForgotPassword(context.Background(), "taro@example.com", "1.2.3.4"); err != nil {
		t.Fatalf("ForgotPassword failed: %v", err)
	}
	if len(limiter.recorded) != 1 || limiter.recorded[0] != "taro@example.com/forgot_password" {
		t.Errorf("recorded = %v", limiter.recorded)
	}
}

func TestForgotPassword_RateLimited(t *testing.T) {
	limiter := &mockLimiter{
		checkResult: &ratelimit.Result{Allowed: false, ResetAt: time.Now().Add(5 * time.Minute)},
	}
	svc := NewService(&mockProvider{}, limiter, &mockProfiles{}, testConfig(), testLogger())

	err := svc.ForgotPassword(context.Background(), "taro@example.com", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeRateLimitExceeded {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", code)
	}
}

func TestResetPassword_Success(t *testing.T) {
	provider := &mockProvider{
		updatePasswordFunc: func(_ context.Context, accessToken, newPassword string) error {
			if accessToken != "recovery-token" || newPassword != "new-password-1" {
				t.Errorf("args = %q/%q", accessToken, newPassword)
			}
			return nil
		},
	}
	limiter := &mockLimiter{}
	svc := NewService(provider, limiter, &mockProfiles{}, testConfig(), testLogger())

	if err := svc.ResetPassword(context.Background(), "recovery-token", "new-password-1", "1.2.3.4"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if len(limiter.cleared) != 1 {
		t.Errorf("成功時に記録を消去すべき: %v", limiter.cleared)
	}
}

func TestResetPassword_MissingTokenIsSessionRequired(t *testing.T) {
	svc := NewService(&mockProvider{}, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())

	err := svc.ResetPassword(context.Background(), "", "new-password-1", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeSessionRequired {
		t.Errorf("code = %q, want SESSION_REQUIRED", code)
	}
}

func TestResetPassword_ExpiredRecoverySession(t *testing.T) {
	provider := &mockProvider{
		updatePasswordFunc: func(_ context.Context, _, _ string) error {
			return identity.ErrInvalidCredentials
		},
	}
	svc := NewService(provider, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())

	err := svc.ResetPassword(context.Background(), "expired-token", "new-password-1", "1.2.3.4")
	if code := apiErrorCode(t, err); code != model.ErrCodeAuthentication {
		t.Errorf("code = %q, want AUTHENTICATION_FAILED", code)
	}
}

func TestSignOut_IsIdempotent(t *testing.T) {
	provider := &mockProvider{
		signOutFunc: func(_ context.Context, _ string) error {
			return errors.New("token already revoked")
		},
	}
	svc := NewService(provider, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())

	// 基盤側の失効失敗でもログアウト自体は成功
	if err := svc.SignOut(context.Background(), "stale-token"); err != nil {
		t.Errorf("SignOut should not fail, got: %v", err)
	}

	// トークンなし・プロバイダーなしでも成功
	svcNoProvider := NewService(nil, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())
	if err := svcNoProvider.SignOut(context.Background(), ""); err != nil {
		t.Errorf("SignOut should not fail without provider, got: %v", err)
	}
}

func TestHandleCallback_ExistingUser(t *testing.T) {
	provider := &mockProvider{
		exchangeCodeFunc: func(_ context.Context, code string) (*model.Session, error) {
			if code != "auth-code-1" {
				t.Errorf("code = %q", code)
			}
			return testSession("user-1"), nil
		},
	}
	profiles := &mockProfiles{
		findByUserIDFunc: func(_ context.Context, _ string) (*model.Profile, error) {
			return &model.Profile{ID: "profile-1", UserID: "user-1"}, nil
		},
		provisionFunc: func(_ context.Context, _ *model.User) (*model.Profile, bool, error) {
			t.Error("既存ユーザーでProvisionを呼んではならない")
			return nil, false, nil
		},
	}
	svc := NewService(provider, &mockLimiter{}, profiles, testConfig(), testLogger())

	session, err := svc.HandleCallback(context.Background(), "auth-code-1")
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if session.User.ID != "user-1" {
		t.Errorf("user ID = %q", session.User.ID)
	}
}

func TestHandleCallback_NewUserProvisioned(t *testing.T) {
	var provisioned bool
	provider := &mockProvider{
		exchangeCodeFunc: func(_ context.Context, _ string) (*model.Session, error) {
			return testSession("user-new"), nil
		},
	}
	profiles := &mockProfiles{
		findByUserIDFunc: func(_ context.Context, _ string) (*model.Profile, error) {
			return nil, nil
		},
		provisionFunc: func(_ context.Context, user *model.User) (*model.Profile, bool, error) {
			provisioned = true
			return &model.Profile{UserID: user.ID}, true, nil
		},
	}
	svc := NewService(provider, &mockLimiter{}, profiles, testConfig(), testLogger())

	session, err := svc.HandleCallback(context.Background(), "auth-code-1")
	if err != nil {
		t.Fatalf("HandleCallback failed: %v", err)
	}
	if !provisioned {
		t.Error("新規ユーザーはプロフィールが作成されるべき")
	}
	if session == nil {
		t.Fatal("セッションが返るべき")
	}
}

func TestHandleCallback_NewUserSignupDisabled(t *testing.T) {
	// 新規ユーザー + Googleサインアップ無効: セッション失効、SIGNUP_DISABLED、プロフィール行なし
	var signedOut bool
	provider := &mockProvider{
		exchangeCodeFunc: func(_ context.Context, _ string) (*model.Session, error) {
			return testSession("user-new"), nil
		},
		signOutFunc: func(_ context.Context, accessToken string) error {
			if accessToken != "access-token" {
				t.Errorf("accessToken = %q", accessToken)
			}
			signedOut = true
			return nil
		},
	}
	profiles := &mockProfiles{
		findByUserIDFunc: func(_ context.Context, _ string) (*model.Profile, error) {
			return nil, nil
		},
		provisionFunc: func(_ context.Context, _ *model.User) (*model.Profile, bool, error) {
			t.Error("拒否時にプロフィールを作成してはならない")
			return nil, false, nil
		},
	}
	cfg := testConfig()
	cfg.Flags.GoogleSignupEnabled = false
	svc := NewService(provider, &mockLimiter{}, profiles, cfg, testLogger())

	session, err := svc.HandleCallback(context.Background(), "auth-code-1")
	if session != nil {
		t.Error("拒否時にセッションが返ってはならない")
	}
	if code := apiErrorCode(t, err); code != model.ErrCodeSignupDisabled {
		t.Errorf("code = %q, want SIGNUP_DISABLED", code)
	}
	if !signedOut {
		t.Error("交換済みセッションは失効させるべき")
	}
}

func TestHandleCallback_InvalidCode(t *testing.T) {
	provider := &mockProvider{
		exchangeCodeFunc: func(_ context.Context, _ string) (*model.Session, error) {
			return nil, identity.ErrInvalidCredentials
		},
	}
	svc := NewService(provider, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())

	_, err := svc.HandleCallback(context.Background(), "bad-code")
	if code := apiErrorCode(t, err); code != model.ErrCodeAuthentication {
		t.Errorf("code = %q, want AUTHENTICATION_FAILED", code)
	}
}

func TestHandleCallback_EmptyCode(t *testing.T) {
	svc := NewService(&mockProvider{}, &mockLimiter{}, &mockProfiles{}, testConfig(), testLogger())

	_, err := svc.HandleCallback(context.Background(), "")
	if code := apiErrorCode(t, err); code != model.ErrCodeValidation {
		t.Errorf("code = %q, want VALIDATION_FAILED", code)
	}
}

func TestHandleCallback_ProfileLookupFailure(t *testing.T) {
	provider := &mockProvider{
		exchangeCodeFunc: func(_ context.Context, _ string) (*model.Session, error) {
			return testSession("user-1"), nil
		},
	}
	profiles := &mockProfiles{
		findByUserIDFunc: func(_ context.Context, _ string) (*model.Profile, error) {
			return nil, errors.New("db down")
		},
	}
	svc := NewService(provider, &mockLimiter{}, profiles, testConfig(), testLogger())

	_, err := svc.HandleCallback(context.Background(), "auth-code-1")
	if code := apiErrorCode(t, err); code != model.ErrCodeInfrastructure {
		t.Errorf("code = %q, want INFRASTRUCTURE_ERROR", code)
	}
}
