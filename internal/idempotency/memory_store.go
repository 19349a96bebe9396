package idempotency

import (
	"context"
	"sync"
	"time"
)

type storedEntry struct {
	resp      StoredResponse
	expiresAt time.Time
}

// MemoryReplayStore — in-memory replay-хранилище для тестов и локального
// запуска без Redis.
type MemoryReplayStore struct {
	mu    sync.Mutex
	items map[string]storedEntry
}

var _ ReplayStore = (*MemoryReplayStore)(nil)

// NewMemoryReplayStore создаёт пустое in-memory replay-хранилище.
func NewMemoryReplayStore() *MemoryReplayStore {
	return &MemoryReplayStore{items: make(map[string]storedEntry)}
}

func (s *MemoryReplayStore) Get(_ context.Context, scope, key string) (StoredResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[replayKey(scope, key)]
	if !ok {
		return StoredResponse{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.items, replayKey(scope, key))
		return StoredResponse{}, false, nil
	}

	resp := entry.resp
	resp.Body = append([]byte(nil), entry.resp.Body...)
	return resp, true, nil
}

func (s *MemoryReplayStore) Set(_ context.Context, scope, key string, resp StoredResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}

	stored := resp
	stored.Body = append([]byte(nil), resp.Body...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[replayKey(scope, key)] = storedEntry{
		resp:      stored,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
