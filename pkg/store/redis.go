package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIdempotency is the shared idempotency backend. Processed marks are
// plain SET with an expiry; presence is the membership test.
type RedisIdempotency struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisIdempotency creates a Redis-backed idempotency store.
func NewRedisIdempotency(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (s *RedisIdempotency) key(messageID string) string {
	return fmt.Sprintf("%s:idempotency:%s", s.keyPrefix, messageID)
}

func (s *RedisIdempotency) HasProcessed(ctx context.Context, messageID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis idempotency check: %w", err)
	}
	return n == 1, nil
}

func (s *RedisIdempotency) MarkProcessed(ctx context.Context, messageID string) error {
	if err := s.client.Set(ctx, s.key(messageID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency mark: %w", err)
	}
	return nil
}

// RedisReplay is the shared replay backend. SET NX with a millisecond
// expiry is Redis's native atomic insert-if-absent, which is exactly the
// MarkIfNew contract.
type RedisReplay struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisReplay creates a Redis-backed replay store.
func NewRedisReplay(client redis.UniversalClient, keyPrefix string) *RedisReplay {
	return &RedisReplay{client: client, keyPrefix: keyPrefix}
}

func (s *RedisReplay) MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	redisKey := fmt.Sprintf("%s:replay:%s", s.keyPrefix, key)
	ok, err := s.client.SetNX(ctx, redisKey, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis replay mark: %w", err)
	}
	return ok, nil
}

// RedisRateLimiter is the shared fixed-window limiter: INCR on a
// window-scoped key, with the key expiring just past the window so stale
// counters self-clean.
type RedisRateLimiter struct {
	client    redis.UniversalClient
	keyPrefix string
	perMinute int
}

// NewRedisRateLimiter creates a Redis-backed rate limiter allowing
// perMinute calls per subject per window.
func NewRedisRateLimiter(client redis.UniversalClient, keyPrefix string, perMinute int) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, keyPrefix: keyPrefix, perMinute: perMinute}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, subject string, now time.Time) (bool, error) {
	window := windowIndex(now)
	redisKey := fmt.Sprintf("%s:ratelimit:%s:%d", l.keyPrefix, subject, window)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis rate limit incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, windowSize+time.Second).Err(); err != nil {
			return false, fmt.Errorf("redis rate limit expire: %w", err)
		}
	}

	return count <= int64(l.perMinute), nil
}
