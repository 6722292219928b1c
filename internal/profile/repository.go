// Package profile はユーザープロフィールの管理機能を提供する。
// プロフィール行はアプリケーション側DBのground truthであり、
// 認証基盤上のユーザーに対応する行が存在しないことが「新規ユーザー」の定義になる。
package profile

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devsForFun/starterkit/internal/model"
)

// Repository はプロフィールデータの永続化インターフェース。
type Repository interface {
	// FindByUserID は認証基盤のユーザーIDでプロフィールを取得する。
	// 見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// Create はプロフィールを作成する。
	Create(ctx context.Context, profile *model.Profile) error

	// UpdateAvatar はプロフィールのアバターデータを更新する。
	UpdateAvatar(ctx context.Context, profileID string, avatarData []byte, avatarMime string) error
}

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID は認証基盤のユーザーIDでプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	profile := &model.Profile{}
	var avatarData []byte
	var avatarMime sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, display_name, avatar_data, avatar_mime, created_at, updated_at
		 FROM profiles WHERE user_id = $1`,
		userID,
	).Scan(&profile.ID, &profile.UserID, &profile.DisplayName, &avatarData, &avatarMime,
		&profile.CreatedAt, &profile.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by user ID: %w", err)
	}

	profile.AvatarData = avatarData
	if avatarMime.Valid {
		profile.AvatarMime = avatarMime.String
	}

	return profile, nil
}

// Create はプロフィールを作成する。
func (r *PostgresProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	var avatarMime any
	if profile.AvatarMime != "" {
		avatarMime = profile.AvatarMime
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, display_name, avatar_data, avatar_mime, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		profile.ID, profile.UserID, profile.DisplayName, profile.AvatarData, avatarMime,
		profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}

	return nil
}

// UpdateAvatar はプロフィールのアバターデータを更新する。
func (r *PostgresProfileRepo) UpdateAvatar(ctx context.Context, profileID string, avatarData []byte, avatarMime string) error {
	var mime any
	if avatarMime != "" {
		mime = avatarMime
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET avatar_data = $1, avatar_mime = $2, updated_at = now() WHERE id = $3`,
		avatarData, mime, profileID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile avatar: %w", err)
	}

	return nil
}

// compile-time interface check
var _ Repository = (*PostgresProfileRepo)(nil)
