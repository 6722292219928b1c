package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/devsForFun/starterkit/internal/identity"
	"github.com/devsForFun/starterkit/internal/routes"
)

// gateDecisionの種類。メトリクスラベルに使う。
const (
	decisionContinue          = "continue"
	decisionBypass            = "bypass"
	decisionRedirectLogin     = "redirect_login"
	decisionRedirectDashboard = "redirect_dashboard"
)

// routeClassContextKey はリクエストコンテキストにルート分類を格納するためのキー。
var routeClassContextKey = contextKey("route_class")

// GateDecisionRecorder はゲート判定のメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type GateDecisionRecorder interface {
	RecordGateDecision(class string, decision string)
}

// GateConfig はセッションゲートの設定。
type GateConfig struct {
	// CookieOptions はリフレッシュ時に再発行するセッションCookieの属性。
	CookieOptions identity.CookieOptions
	// PassThrough は認証機能全体が停止（AUTH_ENABLED=false）されている場合にtrueにする。
	// ゲートは判定もリダイレクトも行わず、全リクエストを素通しする。
	// 保護ページへ誘導してもログイン手段がないため、サイトを公開コンテンツとして提供し続ける。
	PassThrough bool
}

// NewGateMiddleware はページ遷移の認証ゲートを返す。判定手順:
//  1. 認証停止中（PassThrough）または検証器がない（認証基盤未設定）場合は素通しする。
//     サイト全体が設定不備でダウンするより公開コンテンツだけでも提供する。
//  2. セッションCookieを検証する。リフレッシュで更新された場合は
//     新しいCookieをこのレスポンスに載せ替える。検証失敗は未認証として扱う。
//  3. 素通り対象のパス（API、OAuthコールバック、静的ファイル等）はそのまま通す。
//  4. 認証済みユーザーの未認証者専用ページ（ログイン等）はダッシュボードへ誘導する。
//  5. 未認証ユーザーの保護ページは復帰先付きでログインへ誘導する。
//  6. それ以外は認証済みユーザーをコンテキストに注入して続行する。
func NewGateMiddleware(verifier SessionVerifier, config GateConfig, metrics GateDecisionRecorder, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			class := routes.Classify(r.URL.Path)
			ctx := context.WithValue(r.Context(), routeClassContextKey, class.String())
			r = r.WithContext(ctx)

			if config.PassThrough {
				// 認証停止中: 判定せず素通しする
				recordDecision(metrics, class, decisionContinue)
				next.ServeHTTP(w, r)
				return
			}

			if verifier == nil {
				// 認証基盤未設定: ゲートはフェイルオープン
				logger.Debug("セッション検証器が未設定のためゲートを素通しします",
					slog.String("path", r.URL.Path),
					slog.String("class", class.String()),
				)
				recordDecision(metrics, class, decisionContinue)
				next.ServeHTTP(w, r)
				return
			}

			authenticated := false
			accessToken, refreshToken := identity.ReadSessionCookies(r)
			if accessToken != "" {
				user, refreshed, err := verifier.VerifySession(r.Context(), accessToken, refreshToken)
				if err == nil && user != nil {
					authenticated = true
					if refreshed != nil {
						identity.WriteSessionCookies(w, refreshed, config.CookieOptions)
						r = r.WithContext(ContextWithSession(ContextWithUser(r.Context(), user), refreshed))
					} else {
						session := identity.SessionFromTokens(user, accessToken, refreshToken)
						r = r.WithContext(ContextWithSession(ContextWithUser(r.Context(), user), session))
					}
				} else if err != nil {
					// 検証失敗は未認証として扱う。詳細はデバッグ用途のみ。
					logger.Debug("セッション検証に失敗しました",
						slog.String("path", r.URL.Path),
						slog.String("error", err.Error()),
					)
				}
			}

			if class == routes.ClassBypassed {
				recordDecision(metrics, class, decisionBypass)
				next.ServeHTTP(w, r)
				return
			}

			if authenticated && class == routes.ClassAuthOnly {
				recordDecision(metrics, class, decisionRedirectDashboard)
				http.Redirect(w, r, routes.DashboardPath, http.StatusTemporaryRedirect)
				return
			}

			if !authenticated && class == routes.ClassProtected {
				recordDecision(metrics, class, decisionRedirectLogin)
				redirectTo := url.QueryEscape(r.URL.Path)
				http.Redirect(w, r, routes.SignInPath+"?redirectTo="+redirectTo, http.StatusTemporaryRedirect)
				return
			}

			recordDecision(metrics, class, decisionContinue)
			next.ServeHTTP(w, r)
		})
	}
}

// RouteClassFromContext はリクエストコンテキストからルート分類名を取得する。
// ゲートを通過していない場合は空文字を返す。
func RouteClassFromContext(ctx context.Context) string {
	class, _ := ctx.Value(routeClassContextKey).(string)
	return class
}

func recordDecision(metrics GateDecisionRecorder, class routes.Class, decision string) {
	if metrics != nil {
		metrics.RecordGateDecision(class.String(), decision)
	}
}
