package ratelimit

import (
	"math"
	"sync"
	"time"
)

// bucket is a token bucket. Tokens are fractional so refill is exact at any
// elapsed duration.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	last     time.Time
	lastSeen time.Time
	evicted  bool
}

func newBucket(capacity float64, now time.Time) *bucket {
	return &bucket{tokens: capacity, last: now, lastSeen: now}
}

// refill must be called with mu held. A clock that moves backwards refills
// nothing and leaves last untouched.
func (b *bucket) refill(capacity, rate float64, now time.Time) {
	if now.After(b.last) {
		b.tokens = math.Min(capacity, b.tokens+now.Sub(b.last).Seconds()*rate)
		b.last = now
	}
	if now.After(b.lastSeen) {
		b.lastSeen = now
	}
}

func (b *bucket) take(capacity, rate, cost float64, now time.Time) Decision {
	b.refill(capacity, rate, now)
	if cost > capacity {
		return Decision{TokensRemaining: b.tokens, Impossible: true}
	}
	if b.tokens >= cost {
		b.tokens -= cost
		return Decision{Allowed: true, TokensRemaining: b.tokens}
	}
	return Decision{
		TokensRemaining: b.tokens,
		RetryAfter:      retryAfter(cost-b.tokens, rate),
	}
}

func (b *bucket) charge(capacity, rate, cost float64, now time.Time) float64 {
	b.refill(capacity, rate, now)
	b.tokens = math.Max(0, b.tokens-cost)
	return b.tokens
}

// retryAfter rounds up to the next nanosecond so a retry at now+RetryAfter
// always finds the deficit refilled.
func retryAfter(deficit, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(deficit / rate * float64(time.Second)))
}
