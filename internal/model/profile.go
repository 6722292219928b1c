// Package model はドメインモデルを定義する。
package model

import "time"

// Profile はアプリケーション側DBに保持するユーザープロフィールを表す。
// 認証基盤のユーザーと1対1で対応し、初回ログイン時に自動作成される。
// AvatarData / AvatarMime はプロバイダーのアバター画像をサーバー側で
// 取得して保存したもの。取得失敗時はnull（画像なし）。
type Profile struct {
	ID          string
	UserID      string
	DisplayName string
	AvatarData  []byte
	AvatarMime  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
