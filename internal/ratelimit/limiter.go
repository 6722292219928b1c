// Package ratelimit はログイン等の試行回数制限を提供する。
// ストアは差し替え可能で、単一インスタンス向けのメモリストア、
// 永続化するPostgresストア、複数インスタンスで共有できるRedisストアを持つ。
// 全ストアでスライディングウィンドウ方式に統一している。
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Store は試行記録の永続化インターフェース。
// 実装はmemory/postgres/redisの3種類。
type Store interface {
	// Count はsince以降の試行回数と、その中で最も古い試行時刻を返す。
	// 試行が存在しない場合はcount=0とゼロ値の時刻を返す。
	Count(ctx context.Context, identifier, action string, since time.Time) (int, time.Time, error)

	// Record は試行を1件記録する。windowはストア側の自動削除（TTL等）のヒント。
	Record(ctx context.Context, identifier, action string, at time.Time, window time.Duration) error

	// Clear は指定キーの試行記録をすべて削除する。操作成功時に呼ぶ。
	Clear(ctx context.Context, identifier, action string) error
}

// Result は試行回数チェックの結果を表す。
type Result struct {
	Allowed   bool      // 試行を許可するかどうか
	Remaining int       // ウィンドウ内の残り試行回数
	ResetAt   time.Time // 最古の試行がウィンドウ外に出て枠が回復する時刻
}

// Config はLimiterの動作設定。
type Config struct {
	// Bypass がtrueの場合、すべてのチェックを無条件に許可する。
	// ローカル開発環境（ENVIRONMENT=development）用。
	Bypass bool
	// FailClosed がtrueの場合、ストア障害時に拒否する。
	// デフォルトはフェイルオープン（障害時に許可）。レート制限基盤の障害で
	// 本来の操作まで止めないための可用性優先の既定値。
	FailClosed bool
}

// OutcomeRecorder はチェック結果のメトリクス記録インターフェース。
// metrics.Collectorの部分集合として定義する。
type OutcomeRecorder interface {
	RecordLimiterOutcome(action string, outcome string)
}

// Limiter は試行回数制限のチェックと記録を提供する。
// Check→操作→Record/Clearの3ステップは独立したラウンドトリップであり、
// 同一キーへの同時リクエストではmaxAttemptsをわずかに超過しうる。
// ベストエフォートの防御であり、厳密な上限保証はしない。
type Limiter struct {
	store   Store
	config  Config
	metrics OutcomeRecorder
	now     func() time.Time
}

// NewLimiter はLimiterを生成する。
// metricsはnilを許容する（記録なし）。
func NewLimiter(store Store, config Config, metrics OutcomeRecorder) *Limiter {
	return &Limiter{
		store:   store,
		config:  config,
		metrics: metrics,
		now:     time.Now,
	}
}

// WithClock は現在時刻の取得関数を差し替えたLimiterを返す。テスト用。
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	clone := *l
	clone.now = now
	return &clone
}

// Check は試行が許可されるかどうかを返す。
// 記録はRecordが行うため、Checkはストアを変更しない。
func (l *Limiter) Check(ctx context.Context, identifier, action string, maxAttempts int, window time.Duration) Result {
	if l.config.Bypass {
		return Result{Allowed: true, Remaining: maxAttempts}
	}

	now := l.now()
	count, oldest, err := l.store.Count(ctx, identifier, action, now.Add(-window))
	if err != nil {
		return l.failureResult(action, maxAttempts, err)
	}

	remaining := maxAttempts - count
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now
	if count > 0 && !oldest.IsZero() {
		resetAt = oldest.Add(window)
	}

	allowed := count < maxAttempts
	l.recordOutcome(action, allowed)

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Record は失敗した試行を記録する。成功時には呼ばない。
// ストア障害時はログのみ残して処理を継続する（フェイルオープン）。
func (l *Limiter) Record(ctx context.Context, identifier, action string, window time.Duration) {
	if l.config.Bypass {
		return
	}

	if err := l.store.Record(ctx, identifier, action, l.now(), window); err != nil {
		slog.Warn("試行記録の保存に失敗しました",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
		l.recordOutcome(action, true)
	}
}

// Clear は指定キーの試行記録を削除する。操作成功時に呼ぶ。
func (l *Limiter) Clear(ctx context.Context, identifier, action string) {
	if l.config.Bypass {
		return
	}

	if err := l.store.Clear(ctx, identifier, action); err != nil {
		slog.Warn("試行記録の削除に失敗しました",
			slog.String("action", action),
			slog.String("error", err.Error()),
		)
	}
}

// failureResult はストア障害時の結果を返す。
// デフォルトはフェイルオープン（許可・残り回数満タン）。
// FailClosed設定時のみ拒否に倒す。
func (l *Limiter) failureResult(action string, maxAttempts int, err error) Result {
	slog.Warn("試行回数チェックに失敗しました",
		slog.String("action", action),
		slog.Bool("fail_closed", l.config.FailClosed),
		slog.String("error", err.Error()),
	)

	if l.metrics != nil {
		l.metrics.RecordLimiterOutcome(action, "store_error")
	}

	if l.config.FailClosed {
		return Result{Allowed: false, Remaining: 0, ResetAt: l.now()}
	}
	return Result{Allowed: true, Remaining: maxAttempts}
}

func (l *Limiter) recordOutcome(action string, allowed bool) {
	if l.metrics == nil {
		return
	}
	if allowed {
		l.metrics.RecordLimiterOutcome(action, "allowed")
	} else {
		l.metrics.RecordLimiterOutcome(action, "denied")
	}
}
