// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証基盤が管理するユーザーの射影を表す。
// 認証情報（パスワードハッシュ等）は認証基盤側にのみ存在し、
// このアプリケーションは検証済みの属性だけを受け取る。
type User struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string
	CreatedAt time.Time
}

// Session は認証基盤が発行したセッションを表す。
// AccessTokenはJWT、RefreshTokenはトークン更新用の不透明文字列。
type Session struct {
	User         User
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired はセッションのアクセストークンが期限切れかどうかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
