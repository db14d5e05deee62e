package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend persists snapshots in Redis, letting multiple server
// instances share session state behind a load balancer.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend creates a backend talking to the given Redis instance.
// Snapshots expire after ttl; zero means no expiry.
func NewRedisBackend(addr, password string, db int, ttl time.Duration) *RedisBackend {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisBackend{client: rdb, ttl: ttl}
}

func stateKey(sessionID string) string {
	return fmt.Sprintf("reflow:state:%s", sessionID)
}

func (r *RedisBackend) SaveState(ctx context.Context, sessionID string, state map[string]any) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state for %s: %w", sessionID, err)
	}
	if err := r.client.Set(ctx, stateKey(sessionID), blob, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis save state: %w", err)
	}
	return nil
}

func (r *RedisBackend) LoadState(ctx context.Context, sessionID string) (map[string]any, error) {
	blob, err := r.client.Get(ctx, stateKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis load state: %w", err)
	}
	var state map[string]any
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", sessionID, err)
	}
	return state, nil
}

func (r *RedisBackend) DeleteState(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, stateKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete state: %w", err)
	}
	return nil
}

func (r *RedisBackend) Close() error { return r.client.Close() }
