package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisReplayStore хранит replay-ответы в Redis с TTL на ключ.
type RedisReplayStore struct {
	client *redis.Client
}

var _ ReplayStore = (*RedisReplayStore)(nil)

// NewRedisReplayStore создаёт replay-хранилище поверх подключения к Redis.
func NewRedisReplayStore(client *redis.Client) *RedisReplayStore {
	return &RedisReplayStore{client: client}
}

func (s *RedisReplayStore) Get(ctx context.Context, scope, key string) (StoredResponse, bool, error) {
	raw, err := s.client.Get(ctx, replayKey(scope, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StoredResponse{}, false, nil
		}
		return StoredResponse{}, false, fmt.Errorf("get replay response: %w", err)
	}

	var resp StoredResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return StoredResponse{}, false, fmt.Errorf("decode replay response: %w", err)
	}
	return resp, true, nil
}

func (s *RedisReplayStore) Set(ctx context.Context, scope, key string, resp StoredResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultReplayTTL
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode replay response: %w", err)
	}
	if err := s.client.Set(ctx, replayKey(scope, key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("store replay response: %w", err)
	}
	return nil
}
