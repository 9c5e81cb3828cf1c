package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// ErrRateLimitExceeded is returned when a bucket has no tokens left.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket implements a per-key token bucket rate limiter. Tokens
// replenish with time, one per refill interval; releasing a permit does not
// return its token, so the bucket bounds call rate rather than concurrency.
type TokenBucket struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	capacity int
	refill   time.Duration
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a rate limiter where each key gets capacity tokens
// and regains one every refill interval.
func NewTokenBucket(capacity int, refill time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	if refill <= 0 {
		refill = time.Second
	}
	return &TokenBucket{
		buckets:  make(map[string]*bucket),
		capacity: capacity,
		refill:   refill,
	}
}

// Acquire consumes a token for the key, or fails fast with
// ErrRateLimitExceeded when the bucket is empty.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: tb.capacity, lastRefill: time.Now()}
		tb.buckets[key] = b
	}

	// Credit tokens earned since the last refill, anchored to the refill
	// grid so partial intervals carry over.
	elapsed := time.Since(b.lastRefill)
	if earned := int(elapsed / tb.refill); earned > 0 {
		b.tokens = min(b.tokens+earned, tb.capacity)
		b.lastRefill = b.lastRefill.Add(time.Duration(earned) * tb.refill)
	}

	if b.tokens <= 0 {
		return nil, ErrRateLimitExceeded
	}
	b.tokens--

	return func() {}, nil
}

// Ensure TokenBucket implements the RateLimiter interface.
var _ ports.RateLimiter = (*TokenBucket)(nil)
