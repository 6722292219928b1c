package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore はプロセス内メモリの試行記録ストア。
// 単一インスタンスのデプロイ向けで、インスタンス間の共有はしない。
// キーごとの試行時刻を保持し、スライディングウィンドウで数える。
// 古いキーはバックグラウンドのジャニターが定期的に削除する。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time

	maxIdle time.Duration
	stopCh  chan struct{}
	now     func() time.Time
}

// NewMemoryStore はMemoryStoreを生成し、ジャニターを起動する。
// maxIdleより長く新規記録がないキーはジャニターが削除する。
// cleanupIntervalはジャニターの実行間隔。
func NewMemoryStore(cleanupInterval, maxIdle time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string][]time.Time),
		maxIdle: maxIdle,
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}

	go s.cleanupLoop(cleanupInterval)

	return s
}

// Stop はジャニターのバックグラウンドゴルーチンを停止する。
func (s *MemoryStore) Stop() {
	close(s.stopCh)
}

// Count はsince以降の試行回数と最古の試行時刻を返す。
func (s *MemoryStore) Count(ctx context.Context, identifier, action string, since time.Time) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	var oldest time.Time
	for _, at := range s.entries[storeKey(identifier, action)] {
		if at.Before(since) {
			continue
		}
		count++
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}

	return count, oldest, nil
}

// Record は試行を1件記録する。
// 記録のついでにウィンドウ外へ出た古い試行を刈り取る。
func (s *MemoryStore) Record(ctx context.Context, identifier, action string, at time.Time, window time.Duration) error {
	key := storeKey(identifier, action)
	cutoff := at.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[key][:0]
	for _, t := range s.entries[key] {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	s.entries[key] = append(kept, at)

	return nil
}

// Clear は指定キーの試行記録をすべて削除する。
func (s *MemoryStore) Clear(ctx context.Context, identifier, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, storeKey(identifier, action))
	return nil
}

// EntryCount は現在保持しているキー数を返す。テストおよびメトリクス用。
func (s *MemoryStore) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// cleanupLoop はバックグラウンドで古いキーを定期的に削除する。
func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup は最終試行がmaxIdleより古いキーを削除する。
// 成功によるClearを通らなかったキーが無限に溜まるのを防ぐ。
func (s *MemoryStore) cleanup() {
	cutoff := s.now().Add(-s.maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, attempts := range s.entries {
		var newest time.Time
		for _, t := range attempts {
			if t.After(newest) {
				newest = t
			}
		}
		if newest.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

// storeKey は(identifier, action)の組をマップキーに変換する。
func storeKey(identifier, action string) string {
	return identifier + "|" + action
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
