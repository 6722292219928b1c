// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, config, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeConfiguration      = "CONFIGURATION_ERROR"
	ErrCodeAuthentication     = "AUTHENTICATION_FAILED"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeInfrastructure     = "INFRASTRUCTURE_ERROR"
	ErrCodeFeatureDisabled    = "FEATURE_DISABLED"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeSessionRequired    = "SESSION_REQUIRED"
	ErrCodeSignupDisabled     = "SIGNUP_DISABLED"
	ErrCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	ErrCodeContentUnavailable = "CONTENT_UNAVAILABLE"
)

// NewConfigurationError は認証基盤の設定不足エラーを生成する。
// 未設定の変数名を含め、開発者が何を設定すべきか分かるようにする。
func NewConfigurationError(missing string) *APIError {
	return &APIError{
		Code:     ErrCodeConfiguration,
		Message:  fmt.Sprintf("認証基盤の設定が不足しています: %s", missing),
		Category: "config",
		Action:   "環境変数を設定してサーバーを再起動してください。",
	}
}

// NewAuthenticationError は認証失敗エラーを生成する。
// アカウントの有無を推測できないよう、原因によらず常に同一メッセージを返す。
func NewAuthenticationError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthentication,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewRateLimitExceededError は試行回数超過エラーを生成する。
// retryAfterから再試行可能になるまでの目安（分単位、最低1分）を案内する。
func NewRateLimitExceededError(retryAfter time.Duration) *APIError {
	minutes := int(retryAfter.Minutes())
	if retryAfter > 0 && retryAfter%time.Minute != 0 {
		minutes++
	}
	if minutes < 1 {
		minutes = 1
	}
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  fmt.Sprintf("試行回数が上限に達しました。約%d分後に再度お試しください。", minutes),
		Category: "auth",
		Action:   "時間をおいてから再度お試しください。",
	}
}

// NewInfrastructureError は外部基盤の障害エラーを生成する。
func NewInfrastructureError() *APIError {
	return &APIError{
		Code:     ErrCodeInfrastructure,
		Message:  "サーバー内部でエラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewFeatureDisabledError は機能フラグで無効化された操作へのエラーを生成する。
func NewFeatureDisabledError(feature string) *APIError {
	return &APIError{
		Code:     ErrCodeFeatureDisabled,
		Message:  fmt.Sprintf("この機能は現在利用できません: %s", feature),
		Category: "auth",
		Action:   "管理者にお問い合わせください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容に誤りがあります: %s", reason),
		Category: "validation",
		Action:   "入力内容を修正して再度お試しください。",
	}
}

// NewSessionRequiredError は未認証アクセスエラーを生成する。
func NewSessionRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionRequired,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewSignupDisabledError はGoogleサインアップ無効時の新規登録拒否エラーを生成する。
func NewSignupDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeSignupDisabled,
		Message:  "現在、新規アカウント登録を受け付けていません。",
		Category: "auth",
		Action:   "既存のアカウントでログインするか、管理者にお問い合わせください。",
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeProfileNotFound,
		Message:  "プロフィールが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewContentUnavailableError はCMSコンテンツ取得失敗エラーを生成する。
func NewContentUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeContentUnavailable,
		Message:  "コンテンツの取得に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
