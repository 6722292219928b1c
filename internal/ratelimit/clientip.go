package ratelimit

import (
	"net/http"
	"strings"
)

// UnknownClient はクライアントIPを特定できなかった場合の識別子。
// ヘッダーのない匿名クライアントは全員この1つのバケットを共有する。
// 特定失敗でリクエストを落とすより、共有バケットの粗い制限を受け入れる。
const UnknownClient = "unknown"

// ClientIP はリクエストヘッダーからクライアントのネットワーク識別子を抽出する。
// X-Forwarded-Forの先頭値（カンマ区切りの最初、trim済み）を優先し、
// 次にX-Real-IPを参照する。どちらも無い場合はUnknownClientを返す。
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.SplitN(xff, ",", 2)[0]
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	return UnknownClient
}
