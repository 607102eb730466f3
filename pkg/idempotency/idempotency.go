// Package idempotency implements the at-most-once side-effect guard in
// spec §4.2: callers check, act, then mark — always while holding the
// distributed lock that guards the same key (spec's stated rule), so a
// redelivered request never repeats a side effect.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is the auto-expiry spec §4.2 names as its default.
const DefaultTTL = 24 * time.Hour

// Store is the idempotency contract. Expired entries behave as unseen.
type Store interface {
	HasBeenProcessed(ctx context.Context, key string) (bool, error)
	MarkAsProcessed(ctx context.Context, key, referenceID string) error
	GetReferenceID(ctx context.Context, key string) (string, bool, error)
}

// RedisStore backs the contract with Redis keys written by SET with a TTL;
// marking a key again overwrites its reference id and restarts its TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func redisKey(key string) string {
	return "idempotency:" + key
}

func (s *RedisStore) HasBeenProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) MarkAsProcessed(ctx context.Context, key, referenceID string) error {
	return s.client.Set(ctx, redisKey(key), referenceID, s.ttl).Err()
}

func (s *RedisStore) GetReferenceID(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, redisKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// InMemoryStore is a TTL map used by tests and single-replica deployments.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

type entry struct {
	referenceID string
	expiresAt   time.Time
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &InMemoryStore{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

func (s *InMemoryStore) HasBeenProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *InMemoryStore) MarkAsProcessed(_ context.Context, key, referenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry{referenceID: referenceID, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemoryStore) GetReferenceID(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || s.now().After(e.expiresAt) {
		return "", false, nil
	}
	return e.referenceID, true, nil
}
