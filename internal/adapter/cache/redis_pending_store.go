package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainoauth "github.com/darkvelocity/darkvelocity-auth/internal/domain/oauth"
)

const pendingPrefix = "auth:pending:"

// RedisPendingStore holds intermediate flow records (org selection, PIN
// user lists) under short TTLs.
type RedisPendingStore struct {
	client *redis.Client
}

// NewRedisPendingStore constructs a Redis-backed pending store.
func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

func (s *RedisPendingStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal pending record: %w", err)
	}

	if err := s.client.Set(ctx, pendingPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save pending record: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Get(ctx context.Context, key string, dest any) error {
	payload, err := s.client.Get(ctx, pendingPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainoauth.ErrPendingNotFound
		}
		return fmt.Errorf("load pending record: %w", err)
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("unmarshal pending record: %w", err)
	}
	return nil
}

func (s *RedisPendingStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, pendingPrefix+key).Err(); err != nil {
		return fmt.Errorf("remove pending record: %w", err)
	}
	return nil
}
