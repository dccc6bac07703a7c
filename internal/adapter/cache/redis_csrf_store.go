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

const (
	statePrefix    = "auth:state:"
	consumedPrefix = "auth:state:used:"
	seenPrefix     = "auth:state:seen:"
)

// consumeScript atomically reads and deletes the state payload, leaving a
// short-lived marker behind. Together with the seen marker written on Save,
// it lets Consume tell a replayed token from an expired one from one that
// never existed.
var consumeScript = redis.NewScript(`
local payload = redis.call("GET", KEYS[1])
if payload then
  redis.call("DEL", KEYS[1])
  redis.call("SET", KEYS[2], "1", "EX", ARGV[1])
  return payload
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return "consumed"
end
if redis.call("EXISTS", KEYS[3]) == 1 then
  return "expired"
end
return false
`)

// RedisCsrfStateStore keeps one-time CSRF state in Redis with a TTL.
type RedisCsrfStateStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCsrfStateStore constructs a Redis-backed CSRF state store.
func NewRedisCsrfStateStore(client *redis.Client, ttl time.Duration) *RedisCsrfStateStore {
	return &RedisCsrfStateStore{client: client, ttl: ttl}
}

// Save stores the flow state under the token for at most ttl.
func (s *RedisCsrfStateStore) Save(ctx context.Context, tok string, state domainoauth.AuthState, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}

	if err := s.client.Set(ctx, statePrefix+tok, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save auth state: %w", err)
	}
	// The seen marker outlives the payload so an expired token stays
	// recognizable for a while instead of collapsing into not-found.
	if err := s.client.Set(ctx, seenPrefix+tok, "1", 2*ttl).Err(); err != nil {
		return fmt.Errorf("save auth state marker: %w", err)
	}
	return nil
}

// Consume removes the state and returns it. Exactly one concurrent caller
// wins; later callers get ErrStateConsumed, expired tokens ErrStateExpired,
// unknown tokens ErrStateNotFound.
func (s *RedisCsrfStateStore) Consume(ctx context.Context, tok string) (*domainoauth.AuthState, error) {
	keys := []string{statePrefix + tok, consumedPrefix + tok, seenPrefix + tok}
	res, err := consumeScript.Run(ctx, s.client, keys, int(s.ttl.Seconds())).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domainoauth.ErrStateNotFound
		}
		return nil, fmt.Errorf("consume auth state: %w", err)
	}

	payload, ok := res.(string)
	if !ok {
		return nil, domainoauth.ErrStateNotFound
	}
	if payload == "consumed" {
		return nil, domainoauth.ErrStateConsumed
	}
	if payload == "expired" {
		return nil, domainoauth.ErrStateExpired
	}

	var state domainoauth.AuthState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("unmarshal auth state: %w", err)
	}
	return &state, nil
}

// Peek reads the state without consuming it.
func (s *RedisCsrfStateStore) Peek(ctx context.Context, tok string) (*domainoauth.AuthState, error) {
	payload, err := s.client.Get(ctx, statePrefix+tok).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domainoauth.ErrStateNotFound
		}
		return nil, fmt.Errorf("peek auth state: %w", err)
	}

	var state domainoauth.AuthState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, fmt.Errorf("unmarshal auth state: %w", err)
	}
	return &state, nil
}
