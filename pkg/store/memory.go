package store

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotency is the in-process idempotency backend. Entries are
// TTL-bound and lazily evicted so the map does not grow unbounded.
type MemoryIdempotency struct {
	mu        sync.Mutex
	ttl       time.Duration
	processed map[string]time.Time // message id -> expiry
	now       func() time.Time
}

// NewMemoryIdempotency creates an in-process idempotency store whose
// entries expire after ttl.
func NewMemoryIdempotency(ttl time.Duration) *MemoryIdempotency {
	return &MemoryIdempotency{
		ttl:       ttl,
		processed: make(map[string]time.Time),
		now:       time.Now,
	}
}

func (s *MemoryIdempotency) HasProcessed(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()
	_, ok := s.processed[messageID]
	return ok, nil
}

func (s *MemoryIdempotency) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed[messageID] = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryIdempotency) evictLocked() {
	now := s.now()
	for id, expiry := range s.processed {
		if !expiry.After(now) {
			delete(s.processed, id)
		}
	}
}

// MemoryReplay is the in-process replay backend. MarkIfNew is atomic
// under the store mutex; expired keys are swept on each call.
type MemoryReplay struct {
	mu     sync.Mutex
	nonces map[string]time.Time // key -> expiry
	now    func() time.Time
}

// NewMemoryReplay creates an in-process replay store.
func NewMemoryReplay() *MemoryReplay {
	return &MemoryReplay{
		nonces: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *MemoryReplay) MarkIfNew(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for nonce, expiry := range s.nonces {
		if !expiry.After(now) {
			delete(s.nonces, nonce)
		}
	}

	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = now.Add(ttl)
	return true, nil
}

type windowCounter struct {
	window int64
	count  int
}

// MemoryRateLimiter is the in-process fixed-window rate limiter. Stale
// windows are swept on each call.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	perMinute int
	counters  map[string]*windowCounter
}

// NewMemoryRateLimiter creates a limiter allowing perMinute calls per
// subject per window.
func NewMemoryRateLimiter(perMinute int) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		perMinute: perMinute,
		counters:  make(map[string]*windowCounter),
	}
}

func (l *MemoryRateLimiter) Allow(_ context.Context, subject string, now time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := windowIndex(now)
	for key, counter := range l.counters {
		if counter.window < window {
			delete(l.counters, key)
		}
	}

	current, ok := l.counters[subject]
	if !ok || current.window != window {
		l.counters[subject] = &windowCounter{window: window, count: 1}
		return true, nil
	}

	if current.count >= l.perMinute {
		return false, nil
	}
	current.count++
	return true, nil
}
