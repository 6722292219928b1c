// Package routes はパスの分類規則を宣言的なテーブルとして定義する。
// セッションゲートはこの分類だけを根拠にリダイレクト判断を行うため、
// ページを追加する場合はハンドラの登録とあわせてこのテーブルを更新する。
package routes

import "strings"

// Class はパスの認証上の分類を表す。
type Class int

const (
	// ClassProtected は認証必須のパス。テーブルに載らないパスの既定値。
	ClassProtected Class = iota
	// ClassPublic は未認証でも閲覧できるパス。
	ClassPublic
	// ClassAuthOnly は未認証ユーザー専用のパス。
	// 認証済みユーザーがアクセスした場合はダッシュボードへ誘導する。
	ClassAuthOnly
	// ClassBypassed はゲートの評価対象外のパス。
	// APIとOAuthコールバックはハンドラ側で独自に認証を検証する。
	ClassBypassed
)

// String はログ出力用の分類名を返す。
func (c Class) String() string {
	switch c {
	case ClassPublic:
		return "public"
	case ClassAuthOnly:
		return "auth_only"
	case ClassBypassed:
		return "bypassed"
	default:
		return "protected"
	}
}

// ゲートのリダイレクト先。
const (
	// SignInPath は未認証ユーザーの誘導先。
	SignInPath = "/login"
	// DashboardPath は認証済みユーザーの誘導先。
	DashboardPath = "/dashboard"
)

// Rule は公開パス1件の分類規則を表す。
type Rule struct {
	// Path は対象パス。
	Path string
	// Exact はprefix一致を無効化し完全一致のみ許可する。
	// ルート("/")をprefix一致させると全パスが公開になるため必須。
	Exact bool
	// AuthOnly は認証済みユーザーの閲覧を禁止する。
	AuthOnly bool
}

// publicRules は公開パスの分類テーブル。
// /reset-passwordはAuthOnlyにしない。パスワード再設定はメールのリンク経由で
// リカバリーセッション（=認証済み扱い）を持った状態で開くページのため、
// AuthOnlyにするとダッシュボードへ飛ばされて再設定が完了できなくなる。
var publicRules = []Rule{
	{Path: "/", Exact: true},
	{Path: "/login", AuthOnly: true},
	{Path: "/register", AuthOnly: true},
	{Path: "/forgot-password", AuthOnly: true},
	{Path: "/reset-password"},
}

// bypassPrefixes はゲートを素通りするパスのprefix。
var bypassPrefixes = []string{
	"/api/",
	"/auth/",
	"/static/",
}

// bypassExact はゲートを素通りするパスの完全一致エントリ。
var bypassExact = []string{
	"/health",
	"/metrics",
}

// Classify はリクエストパスを分類する。
// 判定順: Bypassed → Public/AuthOnly → Protected（既定）。
func Classify(path string) Class {
	if isBypassed(path) {
		return ClassBypassed
	}
	for _, r := range publicRules {
		if !matches(path, r) {
			continue
		}
		if r.AuthOnly {
			return ClassAuthOnly
		}
		return ClassPublic
	}
	return ClassProtected
}

// matches はパスが規則に一致するかどうかを返す。
// Exact以外は完全一致に加えて配下パス（"/login/..."等）も一致とみなす。
func matches(path string, r Rule) bool {
	if path == r.Path {
		return true
	}
	if r.Exact {
		return false
	}
	return strings.HasPrefix(path, r.Path+"/")
}

func isBypassed(path string) bool {
	for _, p := range bypassExact {
		if path == p {
			return true
		}
	}
	for _, prefix := range bypassPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
