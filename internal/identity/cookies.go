package identity

import (
	"net/http"

	"github.com/devsForFun/starterkit/internal/model"
)

const (
	// AccessTokenCookie はアクセストークンを保持するCookieの名前。
	AccessTokenCookie = "sk_access_token"
	// RefreshTokenCookie はリフレッシュトークンを保持するCookieの名前。
	RefreshTokenCookie = "sk_refresh_token"
)

// CookieOptions はセッションCookieの属性。
type CookieOptions struct {
	// Secure は本番環境（BASE_URLがhttps）でのみtrueにする。
	Secure bool
	Domain string
	// MaxAge はCookieの有効期間（秒）。
	MaxAge int
}

// ReadSessionCookies はリクエストからアクセストークンとリフレッシュトークンを読み取る。
// 存在しないCookieは空文字列として返す。
func ReadSessionCookies(r *http.Request) (accessToken, refreshToken string) {
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		accessToken = c.Value
	}
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		refreshToken = c.Value
	}
	return accessToken, refreshToken
}

// WriteSessionCookies はセッションのトークンをHTTP Only Cookieとして書き込む。
// SameSite=Laxでトップレベル遷移時のみCookieが送信される。
func WriteSessionCookies(w http.ResponseWriter, session *model.Session, opts CookieOptions) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    session.AccessToken,
		Path:     "/",
		Domain:   opts.Domain,
		MaxAge:   opts.MaxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    session.RefreshToken,
		Path:     "/",
		Domain:   opts.Domain,
		MaxAge:   opts.MaxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromTokens は検証済みトークンからセッションを再構成する。
// リフレッシュが発生しなかった場合にCookieの値からセッションを復元するために使う。
func SessionFromTokens(user *model.User, accessToken, refreshToken string) *model.Session {
	return &model.Session{
		User:         *user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}
}

// ClearSessionCookies はセッションCookieを削除する。
func ClearSessionCookies(w http.ResponseWriter, opts CookieOptions) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   opts.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   opts.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
