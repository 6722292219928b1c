package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/devsForFun/starterkit/internal/model"
)

// accessClaims は認証基盤が発行するアクセストークンのクレーム。
type accessClaims struct {
	Email        string `json:"email"`
	UserMetadata struct {
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user_metadata"`
	jwt.RegisteredClaims
}

// parseAccessToken はアクセストークンをローカルで検証しクレームを返す。
// 署名方式はHS256に固定し、共有シークレットで検証する。
// 期限切れはjwt.ErrTokenExpiredを含むエラーとして返る。
func (c *Client) parseAccessToken(tokenStr string) (*accessClaims, error) {
	if c.config.JWTSecret == "" {
		return nil, model.NewConfigurationError("AUTH_JWT_SECRET")
	}

	claims := &accessClaims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(token *jwt.Token) (interface{}, error) {
			return []byte(c.config.JWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	return claims, nil
}

// VerifySession はCookie由来のトークンからユーザーを解決する。
// アクセストークンが有効ならそのままユーザーを返す。
// 期限切れでリフレッシュトークンがある場合は認証基盤でセッションを更新し、
// 新しいセッションを第2戻り値で返す（呼び出し元がCookieを更新する）。
// それ以外の検証失敗はすべて「未認証」としてエラーを返す。リトライはしない。
func (c *Client) VerifySession(ctx context.Context, accessToken, refreshToken string) (*model.User, *model.Session, error) {
	if accessToken == "" {
		return nil, nil, fmt.Errorf("no session token")
	}

	claims, err := c.parseAccessToken(accessToken)
	if err == nil {
		user := userFromClaims(claims)
		return &user, nil, nil
	}

	// 期限切れのみリフレッシュを試みる。署名不正等は即座に未認証扱い。
	if !errors.Is(err, jwt.ErrTokenExpired) || refreshToken == "" {
		return nil, nil, err
	}

	session, refreshErr := c.RefreshSession(ctx, refreshToken)
	if refreshErr != nil {
		slog.Debug("セッションのリフレッシュに失敗しました",
			slog.String("error", refreshErr.Error()),
		)
		return nil, nil, refreshErr
	}

	return &session.User, session, nil
}

// userFromClaims はアクセストークンのクレームからユーザー射影を構築する。
// アカウント作成日時はトークンに含まれないためゼロ値のまま。
func userFromClaims(claims *accessClaims) model.User {
	return model.User{
		ID:        claims.Subject,
		Email:     claims.Email,
		Name:      claims.UserMetadata.Name,
		AvatarURL: claims.UserMetadata.AvatarURL,
	}
}
