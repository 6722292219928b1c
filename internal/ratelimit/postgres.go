package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DBTX はPostgresStoreが必要とするSQL操作のインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore はlogin_attemptsテーブルに試行を追記するストア。
// 行の追記とウィンドウ内のカウントのみを行い、古い行の削除は
// 保持期間ベースのクリーンアップジョブ（worker/cleanup）に委ねる。
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore はPostgresStoreを生成する。
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Count はsince以降の試行回数と最古の試行時刻を返す。
func (s *PostgresStore) Count(ctx context.Context, identifier, action string, since time.Time) (int, time.Time, error) {
	var count int
	var oldest sql.NullTime

	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), min(attempted_at)
		 FROM login_attempts
		 WHERE identifier = $1 AND action = $2 AND attempted_at >= $3`,
		identifier, action, since,
	).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to count attempts: %w", err)
	}

	if !oldest.Valid {
		return count, time.Time{}, nil
	}
	return count, oldest.Time, nil
}

// Record は試行を1行追記する。windowは使用しない（削除はクリーンアップジョブが行う）。
func (s *PostgresStore) Record(ctx context.Context, identifier, action string, at time.Time, window time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO login_attempts (id, identifier, action, attempted_at)
		 VALUES ($1, $2, $3, $4)`,
		uuid.New().String(), identifier, action, at,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// Clear は指定キーの試行行をすべて削除する。
func (s *PostgresStore) Clear(ctx context.Context, identifier, action string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM login_attempts WHERE identifier = $1 AND action = $2`,
		identifier, action,
	)
	if err != nil {
		return fmt.Errorf("failed to clear attempts: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Store = (*PostgresStore)(nil)
