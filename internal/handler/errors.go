package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/devsForFun/starterkit/internal/middleware"
	"github.com/devsForFun/starterkit/internal/model"
)

// handleServiceError はサービス層のエラーを統一フォーマットのHTTPレスポンスに変換する。
// model.APIError以外のエラーは詳細をログにのみ残し、一般的な500を返す。
func handleServiceError(w http.ResponseWriter, err error, logger *slog.Logger) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		logger.Error("unexpected error", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	middleware.WriteErrorResponse(w, statusForCode(apiErr.Code), apiErr)
}

// statusForCode はエラーコードをHTTPステータスコードに対応付ける。
func statusForCode(code string) int {
	switch code {
	case model.ErrCodeValidation:
		return http.StatusBadRequest
	case model.ErrCodeAuthentication, model.ErrCodeSessionRequired:
		return http.StatusUnauthorized
	case model.ErrCodeFeatureDisabled, model.ErrCodeSignupDisabled:
		return http.StatusForbidden
	case model.ErrCodeProfileNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeContentUnavailable:
		return http.StatusBadGateway
	case model.ErrCodeConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
