package guard

import (
	"context"
	"sync"
	"time"

	"github.com/BasicFist/tradeguard/internal/domain"
)

// TokenBucket is a rate-limiting primitive holding up to capacity tokens,
// refilled continuously at refillRate tokens per second. Refill is lazy:
// it happens on every acquisition attempt based on elapsed time.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64
	lastRefill time.Time
}

func NewTokenBucket(capacity, refillRate float64) *TokenBucket {
	// A non-positive rate would make the blocking wait computation divide
	// by zero and spin; clamp bad config the way breaker defaults work.
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	return &TokenBucket{
		tokens:     capacity,
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

// refill adds tokens for elapsed wall time. Must be called with mu held.
func (b *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// TryConsume attempts to take n tokens without blocking. It returns false
// with no side effects when the bucket holds fewer than n tokens, and
// domain.ErrCapacityExceeded when n can never be satisfied.
func (b *TokenBucket) TryConsume(n float64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.capacity {
		return false, domain.ErrCapacityExceeded
	}

	b.refill()
	if b.tokens >= n {
		b.tokens -= n
		return true, nil
	}
	return false, nil
}

// Consume takes n tokens, sleeping for the refill deficit when the bucket
// is short. The lock is released around the sleep so other callers are not
// blocked; the deficit is recomputed after waking to absorb spurious or
// contended wakeups.
func (b *TokenBucket) Consume(ctx context.Context, n float64) error {
	b.mu.Lock()

	if n > b.capacity {
		b.mu.Unlock()
		return domain.ErrCapacityExceeded
	}

	for {
		b.refill()
		if b.tokens >= n {
			b.tokens -= n
			b.mu.Unlock()
			return nil
		}

		wait := time.Duration((n - b.tokens) / b.refillRate * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		b.mu.Lock()
	}
}

// Available returns the current token count after a lazy refill.
func (b *TokenBucket) Available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Capacity returns the bucket's maximum token count.
func (b *TokenBucket) Capacity() float64 {
	return b.capacity
}
