package memory

import (
	"context"
	"sync"
	"time"
)

type lockEntry struct {
	token     string
	expiresAt time.Time
}

// LockStore 进程内的 set-if-absent / compare-and-delete，过期按注入的时钟判断。
type LockStore struct {
	mu      sync.Mutex
	entries map[string]lockEntry
	now     func() time.Time
}

func NewLockStore(now func() time.Time) *LockStore {
	if now == nil {
		now = time.Now
	}
	return &LockStore{entries: make(map[string]lockEntry), now: now}
}

func (s *LockStore) SetIfAbsent(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	s.entries[key] = lockEntry{token: token, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *LockStore) CompareAndDelete(_ context.Context, key, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return false, nil
	}
	if e.token != token {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Holder 测试辅助，返回 key 当前的持有 token。
func (s *LockStore) Holder(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return "", false
	}
	return e.token, true
}
