// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/devsForFun/starterkit/internal/identity"
	"github.com/devsForFun/starterkit/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// sessionContextKey はリクエストコンテキストに検証済みセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionVerifier はセッション検証のインターフェース。
// identity.Clientの部分集合として定義する。
// アクセストークンが期限切れでリフレッシュに成功した場合は新セッションを返す。
type SessionVerifier interface {
	VerifySession(ctx context.Context, accessToken, refreshToken string) (*model.User, *model.Session, error)
}

// NewAPISessionMiddleware はHTTP Only Cookieのセッションを検証するミドルウェアを返す。
// ゲートを素通りする/api/配下のルートで使用し、認証済みユーザーを
// リクエストコンテキストに注入する。未認証リクエストには401を返す。
// リフレッシュでセッションが更新された場合は新しいCookieをレスポンスに付与する。
func NewAPISessionMiddleware(verifier SessionVerifier, cookieOpts identity.CookieOptions) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				// 認証基盤未設定。保護APIは利用できない。
				WriteErrorResponse(w, http.StatusServiceUnavailable,
					model.NewConfigurationError("AUTH_API_URL, AUTH_API_KEY"))
				return
			}

			accessToken, refreshToken := identity.ReadSessionCookies(r)
			if accessToken == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionRequiredError())
				return
			}

			user, refreshed, err := verifier.VerifySession(r.Context(), accessToken, refreshToken)
			if err != nil || user == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionRequiredError())
				return
			}

			if refreshed != nil {
				identity.WriteSessionCookies(w, refreshed, cookieOpts)
			}

			ctx := ContextWithUser(r.Context(), user)
			if refreshed != nil {
				ctx = ContextWithSession(ctx, refreshed)
			} else {
				ctx = ContextWithSession(ctx, &model.Session{
					User:         *user,
					AccessToken:  accessToken,
					RefreshToken: refreshToken,
				})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// ゲートまたはAPIセッションミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストに認証済みユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// SessionFromContext はリクエストコンテキストから検証済みセッションを取得する。
// アクセストークンが必要な処理（ログアウト等）で使用する。
func SessionFromContext(ctx context.Context) (*model.Session, error) {
	session, ok := ctx.Value(sessionContextKey).(*model.Session)
	if !ok || session == nil {
		return nil, fmt.Errorf("session not found in context")
	}
	return session, nil
}

// ContextWithSession はコンテキストに検証済みセッションを注入する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
