// Package cleanup はログイン試行履歴の自動削除ジョブを提供する。
// 試行回数制限の判定ウィンドウを十分に超えた古いlogin_attempts行を
// 日次バッチで削除し、テーブルの肥大化を防ぐ。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CleanupJob は保持期間を超過したログイン試行行の自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	db             Executor
	logger         *slog.Logger
	RetentionHours int // 試行履歴の保持時間（デフォルト: 24）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持時間は24時間。判定ウィンドウ（15分）より十分長く、
// 調査時に直近の試行履歴を参照できる程度に短い。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:             db,
		logger:         logger,
		RetentionHours: 24,
	}
}

// Run は保持期間を超過したログイン試行行を削除する。
// attempted_atがRetentionHours時間前より古い行をDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	interval := fmt.Sprintf("%d hours", j.RetentionHours)

	query := `DELETE FROM login_attempts WHERE attempted_at < now() - $1::interval`
	result, err := j.db.ExecContext(ctx, query, interval)
	if err != nil {
		j.logger.Error("ログイン試行クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_hours", j.RetentionHours),
		)
		return fmt.Errorf("ログイン試行クリーンアップの実行に失敗: %w", err)
	}

	deletedCount, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("削除件数の取得に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("ログイン試行クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_hours", j.RetentionHours),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
