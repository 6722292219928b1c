package middleware

import "net/http"

// corsAllowedHeaders はプリフライトで許可するリクエストヘッダー。
// CSRF検証でX-CSRF-Tokenヘッダーを必須にしているため、ここで許可しないと
// フロントエンドからの状態変更リクエストがプリフライトで落ちる。
const corsAllowedHeaders = "Content-Type, X-CSRF-Token"

// NewCORSMiddleware は指定されたオリジンに対するCORSミドルウェアを返す。
// セッションCookieを伴うcredentials送信と共存するため、ワイルドカード(*)は使用しない。
// Allow-Originがオリジンごとに変わるため、キャッシュ汚染防止にVary: Originを付与する。
// OPTIONSプリフライトリクエストには204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")

			// OPTIONSプリフライトリクエストには204で応答
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
