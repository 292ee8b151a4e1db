// Package store defines the three consistency stores the bridge pipeline
// shares across concurrent message runs — idempotency, replay protection,
// and rate limiting — with two interchangeable backends: an in-process
// memory backend and a Redis backend. Both expose identical atomic
// operation contracts, so code above them is backend-agnostic.
package store

import (
	"context"
	"time"
)

// Idempotency records fully processed message ids. Entries persist for a
// long TTL (days) to guard against redelivery after the replay window
// closed.
type Idempotency interface {
	HasProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
}

// Replay marks nonce keys as seen within a TTL window. MarkIfNew is a
// single atomic operation: if key is absent it is inserted with expiry
// and true is returned; if present and unexpired, false. A non-atomic
// check-then-insert would let a duplicate slip through the race window.
type Replay interface {
	MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RateLimiter applies a fixed-window per-minute quota to a subject. The
// window is floor(nowMs/60000); the first call in a window counts 1 and
// subsequent calls increment up to the configured ceiling.
type RateLimiter interface {
	Allow(ctx context.Context, subject string, now time.Time) (bool, error)
}

const windowSize = time.Minute

func windowIndex(now time.Time) int64 {
	return now.UnixMilli() / windowSize.Milliseconds()
}
