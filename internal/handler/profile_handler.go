package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/devsForFun/starterkit/internal/middleware"
	"github.com/devsForFun/starterkit/internal/model"
)

// ProfileHandler はプロフィール関連のHTTPハンドラー。
// APIセッションミドルウェアの後段に配置され、コンテキストのユーザーを前提とする。
type ProfileHandler struct {
	profiles ProfileFinder
	logger   *slog.Logger
}

// NewProfileHandler はProfileHandlerを生成する。
func NewProfileHandler(profiles ProfileFinder, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		profiles: profiles,
		logger:   logger,
	}
}

// profilePayload はレスポンスに含めるプロフィール情報。
// アバターのバイト列は含めず、専用エンドポイントのURLで参照させる。
type profilePayload struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	HasAvatar   bool      `json:"has_avatar"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toProfilePayload(profile *model.Profile) profilePayload {
	p := profilePayload{
		ID:          profile.ID,
		UserID:      profile.UserID,
		DisplayName: profile.DisplayName,
		HasAvatar:   len(profile.AvatarData) > 0,
		CreatedAt:   profile.CreatedAt,
		UpdatedAt:   profile.UpdatedAt,
	}
	if p.HasAvatar {
		p.AvatarURL = "/api/profiles/me/avatar"
	}
	return p
}

// Me は現在のユーザーのプロフィールを返す。
// GET /api/profiles/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionRequiredError())
		return
	}

	profile, err := h.profiles.FindByUserID(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("プロフィール照会に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewInfrastructureError())
		return
	}
	if profile == nil {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, toProfilePayload(profile))
}

// Avatar は現在のユーザーのアバター画像を返す。
// GET /api/profiles/me/avatar
// アバターは取得時に検証済みのバイト列としてDBに保存されている。
func (h *ProfileHandler) Avatar(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionRequiredError())
		return
	}

	profile, err := h.profiles.FindByUserID(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("プロフィール照会に失敗しました",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusInternalServerError, model.NewInfrastructureError())
		return
	}
	if profile == nil || len(profile.AvatarData) == 0 {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewProfileNotFoundError())
		return
	}

	mimeType := profile.AvatarMime
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(profile.AvatarData)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	w.Write(profile.AvatarData)
}
