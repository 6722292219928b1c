package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devsForFun/starterkit/internal/auth"
	"github.com/devsForFun/starterkit/internal/cms"
	"github.com/devsForFun/starterkit/internal/middleware"
	"github.com/devsForFun/starterkit/internal/model"
)

// homeSlug はトップページに対応するCMSページのslug。
const homeSlug = "home"

// PageServiceInterface はページハンドラーが必要とするCMSサービスインターフェース。
type PageServiceInterface interface {
	GetPage(ctx context.Context, slug string) (*cms.RenderedPage, error)
}

// ProfileFinder はユーザーIDでプロフィールを照会するインターフェース。
type ProfileFinder interface {
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)
}

// PageHandler はページ配信のHTTPハンドラー。
// CMS由来のコンテンツページと、認証ページのディスクリプタを返す。
type PageHandler struct {
	pages    PageServiceInterface
	profiles ProfileFinder
	flags    auth.Flags
	logger   *slog.Logger
}

// NewPageHandler はPageHandlerを生成する。
// pagesはnilを許容する（CMS未設定）。その場合コンテンツページは503を返す。
func NewPageHandler(pages PageServiceInterface, profiles ProfileFinder, flags auth.Flags, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		pages:    pages,
		profiles: profiles,
		flags:    flags,
		logger:   logger,
	}
}

// Home はトップページを返す。
// GET /
func (h *PageHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, homeSlug)
}

// Page はslug指定のCMSページを返す。
// GET /api/pages/{slug}
func (h *PageHandler) Page(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, chi.URLParam(r, "slug"))
}

func (h *PageHandler) servePage(w http.ResponseWriter, r *http.Request, slug string) {
	if h.pages == nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable,
			model.NewConfigurationError("CMS_API_URL"))
		return
	}

	page, err := h.pages.GetPage(r.Context(), slug)
	if err != nil {
		h.logger.Error("ページの取得に失敗しました",
			slog.String("slug", slug),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewContentUnavailableError())
		return
	}
	if page == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewContentUnavailableError())
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// Dashboard は認証済みユーザーのダッシュボードデータを返す。
// GET /dashboard（ゲート保護。未認証はゲートがログインへ誘導する）
func (h *PageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionRequiredError())
		return
	}

	body := map[string]any{"user": toUserPayload(user)}

	if h.profiles != nil {
		profile, err := h.profiles.FindByUserID(r.Context(), user.ID)
		if err != nil {
			h.logger.Error("プロフィール照会に失敗しました",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		} else if profile != nil {
			body["profile"] = toProfilePayload(profile)
		}
	}

	writeJSON(w, http.StatusOK, body)
}

// pageDescriptor は認証ページのディスクリプタ。
// UIが表示を組み立てるために必要な機能フラグの状態を含む。
// フラグはサーバー側でも強制されるため、これはあくまで表示用の情報。
type pageDescriptor struct {
	Page  string          `json:"page"`
	Flags descriptorFlags `json:"flags"`
}

type descriptorFlags struct {
	AuthEnabled           bool `json:"auth_enabled"`
	SignInEnabled         bool `json:"signin_enabled"`
	SignUpEnabled         bool `json:"signup_enabled"`
	ForgotPasswordEnabled bool `json:"forgot_password_enabled"`
	ResetPasswordEnabled  bool `json:"reset_password_enabled"`
	GoogleSignupEnabled   bool `json:"google_signup_enabled"`
}

// AuthPage は認証ページのディスクリプタを返すハンドラーを生成する。
// GET /login, /register, /forgot-password, /reset-password
func (h *PageHandler) AuthPage(page string) http.HandlerFunc {
	descriptor := pageDescriptor{
		Page: page,
		Flags: descriptorFlags{
			AuthEnabled:           h.flags.AuthEnabled,
			SignInEnabled:         h.flags.SignInEnabled,
			SignUpEnabled:         h.flags.SignUpEnabled,
			ForgotPasswordEnabled: h.flags.ForgotPasswordEnabled,
			ResetPasswordEnabled:  h.flags.ResetPasswordEnabled,
			GoogleSignupEnabled:   h.flags.GoogleSignupEnabled,
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, descriptor)
	}
}
