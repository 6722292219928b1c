// Package identity は外部認証基盤との連携を提供する。
// セッション発行、パスワードハッシュ、トークン交換はすべて認証基盤側の責務で、
// このパッケージはHTTP APIの呼び出しとアクセストークンのローカル検証のみを行う。
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/devsForFun/starterkit/internal/model"
)

// ErrInvalidCredentials は認証基盤が資格情報を拒否したことを表す。
// 原因（アカウント不存在、パスワード不一致等）は区別しない。
var ErrInvalidCredentials = fmt.Errorf("identity: invalid credentials")

// Config は認証基盤クライアントの設定。
type Config struct {
	// BaseURL は認証基盤APIのベースURL（末尾スラッシュなし）。
	BaseURL string
	// APIKey は認証基盤のAPIキー。全リクエストのapikeyヘッダーに付与する。
	APIKey string
	// JWTSecret はアクセストークン（HS256）の検証用共有シークレット。
	JWTSecret string
	// Timeout はHTTPリクエストのタイムアウト。
	Timeout time.Duration
}

// LatencyRecorder は認証基盤呼び出しのレイテンシ記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type LatencyRecorder interface {
	RecordProviderLatency(operation string, duration time.Duration)
}

// Client は認証基盤のHTTP APIクライアント。
type Client struct {
	config     Config
	httpClient *http.Client
	metrics    LatencyRecorder
}

// NewClient はClientを生成する。
// BaseURLまたはAPIKeyが未設定の場合は設定エラーを返す。
// metricsはnilを許容する（記録なし）。
func NewClient(config Config, metrics LatencyRecorder) (*Client, error) {
	if config.BaseURL == "" {
		return nil, model.NewConfigurationError("AUTH_API_URL")
	}
	if config.APIKey == "" {
		return nil, model.NewConfigurationError("AUTH_API_KEY")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		metrics:    metrics,
	}, nil
}

// tokenResponse は認証基盤のトークンエンドポイントのレスポンス。
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int          `json:"expires_in"`
	User         providerUser `json:"user"`
}

// providerUser は認証基盤が返すユーザー情報。
type providerUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
	UserMetadata struct {
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user_metadata"`
}

// providerError は認証基盤のエラーレスポンス。
type providerError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
}

// SignInWithPassword はメールアドレスとパスワードでセッションを発行する。
// 資格情報の不一致はErrInvalidCredentialsを返す。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	body := map[string]string{"email": email, "password": password}

	var resp tokenResponse
	if err := c.post(ctx, "/token?grant_type=password", "", body, &resp); err != nil {
		return nil, err
	}

	return sessionFromToken(&resp), nil
}

// SignUp は新規アカウントを作成しセッションを発行する。
func (c *Client) SignUp(ctx context.Context, email, password, name string) (*model.Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]string{"name": name},
	}

	var resp tokenResponse
	if err := c.post(ctx, "/signup", "", body, &resp); err != nil {
		return nil, err
	}

	return sessionFromToken(&resp), nil
}

// SendRecoveryEmail はパスワード再設定メールの送信を依頼する。
// redirectToは再設定リンクの遷移先URL。
// 対象メールアドレスの存在有無はレスポンスからは判別できない（認証基盤側の仕様）。
func (c *Client) SendRecoveryEmail(ctx context.Context, email, redirectTo string) error {
	body := map[string]string{"email": email}
	if redirectTo != "" {
		body["redirect_to"] = redirectTo
	}

	return c.post(ctx, "/recover", "", body, nil)
}

// UpdatePassword はアクセストークンの持ち主のパスワードを更新する。
// リカバリーセッション（再設定リンク経由）のトークンでも使用できる。
func (c *Client) UpdatePassword(ctx context.Context, accessToken, newPassword string) error {
	body := map[string]string{"password": newPassword}

	req, err := c.newRequest(ctx, http.MethodPut, "/user", accessToken, body)
	if err != nil {
		return err
	}

	return c.do(req, "update_password", nil)
}

// ExchangeCode はOAuth認可コードをセッションに交換する。
// PKCE付きの認可コードフローで、コード検証は認証基盤側が行う。
func (c *Client) ExchangeCode(ctx context.Context, code string) (*model.Session, error) {
	body := map[string]string{"auth_code": code}

	var resp tokenResponse
	if err := c.post(ctx, "/token?grant_type=pkce", "", body, &resp); err != nil {
		return nil, err
	}

	return sessionFromToken(&resp), nil
}

// RefreshSession はリフレッシュトークンで新しいセッションを発行する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*model.Session, error) {
	body := map[string]string{"refresh_token": refreshToken}

	var resp tokenResponse
	if err := c.post(ctx, "/token?grant_type=refresh_token", "", body, &resp); err != nil {
		return nil, err
	}

	return sessionFromToken(&resp), nil
}

// SignOut は認証基盤側のセッションを失効させる。
// トークンがすでに無効な場合もエラーにしない（ログアウトは冪等）。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/logout", accessToken, nil)
	if err != nil {
		return err
	}

	err = c.do(req, "sign_out", nil)
	if err == ErrInvalidCredentials {
		return nil
	}
	return err
}

// --- HTTP helpers ---

// post はJSONボディのPOSTリクエストを送信する。outがnilの場合はボディを読み捨てる。
func (c *Client) post(ctx context.Context, path, accessToken string, body, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, accessToken, body)
	if err != nil {
		return err
	}
	return c.do(req, operationName(path), out)
}

// newRequest は認証基盤へのHTTPリクエストを構築する。
func (c *Client) newRequest(ctx context.Context, method, path, accessToken string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("apikey", c.config.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return req, nil
}

// do はリクエストを実行し、レスポンスをoutにデコードする。
// 4xxはErrInvalidCredentials、5xx・通信エラーはインフラエラーとして返す。
func (c *Client) do(req *http.Request, operation string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.RecordProviderLatency(operation, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		var perr providerError
		_ = json.Unmarshal(respBody, &perr)
		return fmt.Errorf("%w (status %d)", ErrInvalidCredentials, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse provider response: %w", err)
	}
	return nil
}

// sessionFromToken はトークンレスポンスをドメインモデルに変換する。
func sessionFromToken(resp *tokenResponse) *model.Session {
	return &model.Session{
		User: model.User{
			ID:        resp.User.ID,
			Email:     resp.User.Email,
			Name:      resp.User.UserMetadata.Name,
			AvatarURL: resp.User.UserMetadata.AvatarURL,
			CreatedAt: resp.User.CreatedAt,
		},
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
}

// operationName はメトリクスラベル用にパスから操作名を導出する。
func operationName(path string) string {
	switch {
	case path == "/signup":
		return "sign_up"
	case path == "/recover":
		return "recover"
	case path == "/token?grant_type=password":
		return "sign_in"
	case path == "/token?grant_type=pkce":
		return "exchange_code"
	case path == "/token?grant_type=refresh_token":
		return "refresh"
	default:
		return "other"
	}
}
