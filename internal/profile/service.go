package profile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devsForFun/starterkit/internal/model"
)

// Service はプロフィールのドメインロジックを提供する。
type Service struct {
	repo    Repository
	fetcher AvatarFetcherService
	logger  *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// fetcherはnilを許容する（アバター取得なしで運用する場合）。
func NewService(repo Repository, fetcher AvatarFetcherService, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		fetcher: fetcher,
		logger:  logger,
	}
}

// FindByUserID は認証基盤のユーザーIDでプロフィールを取得する。
// 見つからない場合はnilを返す。
func (s *Service) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	return s.repo.FindByUserID(ctx, userID)
}

// Provision はユーザーのプロフィールが存在することを保証する。
// 既存の行があればそれを返し、なければ新規作成してcreated=trueを返す。
// 新規作成時、認証基盤のアバターURLがあればサーバー側で画像を取得して保存する。
// アバター取得の失敗はプロフィール作成を失敗させない。
func (s *Service) Provision(ctx context.Context, user *model.User) (*model.Profile, bool, error) {
	existing, err := s.repo.FindByUserID(ctx, user.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up profile: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	var avatarData []byte
	var avatarMime string
	if s.fetcher != nil && user.AvatarURL != "" {
		avatarData, avatarMime, _ = s.fetcher.FetchAvatar(ctx, user.AvatarURL)
	}

	now := time.Now()
	profile := &model.Profile{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		DisplayName: displayNameFor(user),
		AvatarData:  avatarData,
		AvatarMime:  avatarMime,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, profile); err != nil {
		return nil, false, fmt.Errorf("failed to create profile: %w", err)
	}

	s.logger.Info("プロフィールを作成しました",
		slog.String("profile_id", profile.ID),
		slog.String("user_id", user.ID),
		slog.Bool("has_avatar", len(avatarData) > 0),
	)

	return profile, true, nil
}

// RefreshAvatar は認証基盤のアバターURLから画像を再取得して保存する。
// 取得できなかった場合は既存のアバターを維持する。
func (s *Service) RefreshAvatar(ctx context.Context, profileID, avatarURL string) error {
	if s.fetcher == nil || avatarURL == "" {
		return nil
	}

	data, mime, _ := s.fetcher.FetchAvatar(ctx, avatarURL)
	if data == nil {
		return nil
	}

	if err := s.repo.UpdateAvatar(ctx, profileID, data, mime); err != nil {
		return fmt.Errorf("failed to store avatar: %w", err)
	}
	return nil
}

// displayNameFor はプロフィールの初期表示名を決める。
// 認証基盤の名前 > メールアドレスのローカル部 > ユーザーID の順で採用する。
func displayNameFor(user *model.User) string {
	if user.Name != "" {
		return user.Name
	}
	if at := strings.Index(user.Email, "@"); at > 0 {
		return user.Email[:at]
	}
	return user.ID
}
