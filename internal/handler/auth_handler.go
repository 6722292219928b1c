// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/devsForFun/starterkit/internal/identity"
	"github.com/devsForFun/starterkit/internal/middleware"
	"github.com/devsForFun/starterkit/internal/model"
	"github.com/devsForFun/starterkit/internal/ratelimit"
	"github.com/devsForFun/starterkit/internal/routes"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	SignIn(ctx context.Context, email, password, clientIP string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, name, clientIP string) (*model.Session, error)
	ForgotPassword(ctx context.Context, email, clientIP string) error
	ResetPassword(ctx context.Context, accessToken, newPassword, clientIP string) error
	SignOut(ctx context.Context, accessToken string) error
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieOptions identity.CookieOptions
}

// AuthHandler は認証関連のHTTPハンドラー。
// セッションの発行・検証は認証基盤側の責務で、このハンドラーは
// リクエストの解釈とCookieの読み書きだけを行う。
type AuthHandler struct {
	service  AuthServiceInterface
	verifier middleware.SessionVerifier
	config   AuthHandlerConfig
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
// verifierは/auth/meのセッション検証に使う。nilを許容する（認証基盤未設定）。
func NewAuthHandler(service AuthServiceInterface, verifier middleware.SessionVerifier, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		verifier: verifier,
		config:   config,
		logger:   logger,
	}
}

// userPayload はレスポンスに含めるユーザー情報。
type userPayload struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

func toUserPayload(user *model.User) userPayload {
	return userPayload{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	session, err := h.service.SignIn(r.Context(), req.Email, req.Password, ratelimit.ClientIP(r))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	identity.WriteSessionCookies(w, session, h.config.CookieOptions)
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserPayload(&session.User)})
}

// SignUp は新規アカウントを作成しサインインする。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	session, err := h.service.SignUp(r.Context(), req.Email, req.Password, req.Name, ratelimit.ClientIP(r))
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	identity.WriteSessionCookies(w, session, h.config.CookieOptions)
	writeJSON(w, http.StatusCreated, map[string]any{"user": toUserPayload(&session.User)})
}

// ForgotPassword はパスワード再設定メールの送信を依頼する。
// POST /auth/forgot-password
// アカウントの有無によらず常に同一の成功レスポンスを返す。
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	if err := h.service.ForgotPassword(r.Context(), req.Email, ratelimit.ClientIP(r)); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ResetPassword はリカバリーセッションでパスワードを更新する。
// POST /auth/reset-password
// アクセストークンは再設定リンク経由で設定されたセッションCookieから読む。
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewValidationError("リクエストボディの形式が正しくありません"))
		return
	}

	accessToken, _ := identity.ReadSessionCookies(r)
	if err := h.service.ResetPassword(r.Context(), accessToken, req.Password, ratelimit.ClientIP(r)); err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Logout はセッションを破棄する。
// POST /auth/logout
// 基盤側の失効に失敗してもCookieは必ず削除する（冪等）。
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken, _ := identity.ReadSessionCookies(r)
	if err := h.service.SignOut(r.Context(), accessToken); err != nil {
		h.logger.Warn("ログアウト処理に失敗しました", slog.String("error", err.Error()))
	}

	identity.ClearSessionCookies(w, h.config.CookieOptions)
	w.WriteHeader(http.StatusNoContent)
}

// Callback はOAuth認可コードをセッションに交換する。
// GET /auth/callback?code=xxx&next=/path
// 新規ユーザーがGoogleサインアップ無効で拒否された場合は
// /login?error=signup_disabled へ誘導する。
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")

	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeSignupDisabled {
			http.Redirect(w, r, routes.SignInPath+"?error=signup_disabled", http.StatusTemporaryRedirect)
			return
		}
		h.logger.Warn("OAuthコールバックに失敗しました", slog.String("error", err.Error()))
		http.Redirect(w, r, routes.SignInPath+"?error=auth_failed", http.StatusTemporaryRedirect)
		return
	}

	identity.WriteSessionCookies(w, session, h.config.CookieOptions)
	http.Redirect(w, r, sanitizeNext(r.URL.Query().Get("next")), http.StatusTemporaryRedirect)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable,
			model.NewConfigurationError("AUTH_API_URL, AUTH_API_KEY"))
		return
	}

	accessToken, refreshToken := identity.ReadSessionCookies(r)
	if accessToken == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionRequiredError())
		return
	}

	user, refreshed, err := h.verifier.VerifySession(r.Context(), accessToken, refreshToken)
	if err != nil || user == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionRequiredError())
		return
	}

	if refreshed != nil {
		identity.WriteSessionCookies(w, refreshed, h.config.CookieOptions)
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": toUserPayload(user)})
}

// sanitizeNext はコールバックの遷移先を検証する。
// オープンリダイレクト防止のため、相対パス以外はダッシュボードに倒す。
func sanitizeNext(next string) string {
	if next == "" {
		return routes.DashboardPath
	}
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return routes.DashboardPath
	}
	if u, err := url.Parse(next); err != nil || u.Host != "" || u.Scheme != "" {
		return routes.DashboardPath
	}
	return next
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
