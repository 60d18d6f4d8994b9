// Package resilience provides fault-tolerance patterns used around the
// store: retry with exponential backoff, circuit breaker, and keyed
// per-account serialization with bounded wait.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
)

// Config holds resilience parameters.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	LockWait       time.Duration
}

// RetryWithBackoff executes fn with exponential backoff + jitter.
// It respects context cancellation.
func RetryWithBackoff(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt < cfg.MaxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * cfg.InitialBackoff
			jitter := time.Duration(rand.Int63n(int64(backoff/2) + 1))
			wait := backoff + jitter

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}

// NewCircuitBreaker creates a circuit breaker guarding store access.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,                // half-open: allow 3 requests
		Interval:    30 * time.Second, // closed: reset counters every 30s
		Timeout:     10 * time.Second, // open -> half-open after 10s
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

// KeyedLimiter serializes operations per key (account id, ledger id).
// Acquire blocks with a bounded wait so a stuck holder cannot wedge the
// caller indefinitely.
type KeyedLimiter struct {
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
	wait time.Duration
}

// NewKeyedLimiter creates a limiter with the given maximum wait per
// acquisition. A zero wait means wait as long as the caller's context.
func NewKeyedLimiter(wait time.Duration) *KeyedLimiter {
	return &KeyedLimiter{
		sems: make(map[string]*semaphore.Weighted),
		wait: wait,
	}
}

func (l *KeyedLimiter) sem(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[key] = s
	}
	return s
}

// Acquire takes the key's slot, waiting at most the configured bound.
func (l *KeyedLimiter) Acquire(ctx context.Context, key string) error {
	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}
	return l.sem(key).Acquire(ctx, 1)
}

// Release frees the key's slot.
func (l *KeyedLimiter) Release(key string) {
	l.sem(key).Release(1)
}
