package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// defaultTTL bounds how long a Redis-backed lock can outlive its holder —
// the self-expiry safety net spec §4.1 requires of a cache-server backend.
const defaultTTL = 5 * time.Minute

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// RedisLocker implements Locker with SET resource token NX EX ttl and a
// compare-and-delete release script, so one replica can never release a
// lock fenced by another replica's token.
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	pollEvery  time.Duration
	logger     logrus.FieldLogger
}

func NewRedisLocker(client *redis.Client, logger logrus.FieldLogger) *RedisLocker {
	return &RedisLocker{client: client, ttl: defaultTTL, pollEvery: 50 * time.Millisecond, logger: logger}
}

func (l *RedisLocker) AcquireLock(ctx context.Context, resource string, timeout time.Duration) (Handle, error) {
	deadline := time.Now().Add(timeout)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, resource, token, l.ttl).Result()
		if err == nil && ok {
			return &redisHandle{client: l.client, resource: resource, token: token, held: true}, nil
		}
		if time.Now().After(deadline) {
			return nil, timeoutError(resource)
		}
		select {
		case <-ctx.Done():
			return nil, timeoutError(resource)
		case <-time.After(l.pollEvery):
		}
	}
}

type redisHandle struct {
	mu       sync.Mutex
	client   *redis.Client
	resource string
	token    string
	held     bool
}

func (h *redisHandle) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.held {
		return nil
	}
	h.held = false
	// Best-effort: TTL expiry is the safety net if this fails.
	_ = h.client.Eval(ctx, releaseScript, []string{h.resource}, h.token).Err()
	return nil
}

func (h *redisHandle) IsHeld() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.held
}

func (h *redisHandle) Resource() string { return h.resource }
