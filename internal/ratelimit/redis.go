package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore はRedisのソート済みセットに試行を記録するストア。
// 複数インスタンスのデプロイで試行回数を共有するためのストア。
// スコアに試行時刻（UnixNano）を持ち、ウィンドウ外のメンバーを
// スコア範囲削除で刈り取ってからカウントする。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Count はsince以降の試行回数と最古の試行時刻を返す。
// カウント前にsinceより古いメンバーを削除する。
func (s *RedisStore) Count(ctx context.Context, identifier, action string, since time.Time) (int, time.Time, error) {
	key := redisKey(identifier, action)
	minScore := strconv.FormatInt(since.UnixNano(), 10)

	if err := s.client.ZRemRangeByScore(ctx, key, "-inf", "("+minScore).Err(); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to prune attempts: %w", err)
	}

	members, err := s.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read attempts: %w", err)
	}

	if len(members) == 0 {
		return 0, time.Time{}, nil
	}

	oldest := time.Unix(0, int64(members[0].Score))
	return len(members), oldest, nil
}

// Record は試行を1件記録し、キーのTTLをウィンドウ長に更新する。
// キー全体が放置されてもウィンドウ経過後にRedis側で自動削除される。
func (s *RedisStore) Record(ctx context.Context, identifier, action string, at time.Time, window time.Duration) error {
	key := redisKey(identifier, action)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(at.UnixNano()),
		Member: uuid.New().String(),
	})
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}
	return nil
}

// Clear は指定キーの試行記録をすべて削除する。
func (s *RedisStore) Clear(ctx context.Context, identifier, action string) error {
	if err := s.client.Del(ctx, redisKey(identifier, action)).Err(); err != nil {
		return fmt.Errorf("failed to clear attempts: %w", err)
	}
	return nil
}

// redisKey は(identifier, action)の組をRedisキーに変換する。
func redisKey(identifier, action string) string {
	return "attempts:" + action + ":" + identifier
}

// compile-time interface check
var _ Store = (*RedisStore)(nil)
