// Package ratelimit implements per-caller token buckets.
//
// Buckets live in fnv-hashed shards. A shard mutex is held only for the map
// lookup; admission runs under the bucket's own mutex, so checks for different
// callers never serialize on a shared lock.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/straja-ai/graphgate/internal/config"
)

// Decision is the result of a Check.
type Decision struct {
	Allowed         bool          `json:"allowed"`
	TokensRemaining float64       `json:"tokens_remaining"`
	RetryAfter      time.Duration `json:"retry_after"`
	// Impossible is set when the cost exceeds the bucket capacity. RetryAfter is
	// zero because waiting never helps.
	Impossible bool `json:"impossible,omitempty"`
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock.
var SystemClock Clock = systemClock{}

// Options configures a Limiter.
type Options struct {
	Capacity      float64
	Rate          float64 // tokens per second
	Shards        int
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

// OptionsFrom converts the config section.
func OptionsFrom(c config.RateLimitConfig) Options {
	return Options{
		Capacity:      c.Burst,
		Rate:          c.Rate(),
		Shards:        c.Shards,
		IdleTTL:       c.IdleTTL,
		SweepInterval: c.SweepInterval,
	}
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Limiter holds one bucket per key. It is safe for concurrent use.
type Limiter struct {
	opts   Options
	shards []shard
}

func New(cfg *config.Config) *Limiter {
	if cfg == nil {
		panic("ratelimit: nil config")
	}
	return NewWithOptions(OptionsFrom(cfg.RateLimit))
}

// NewWithOptions builds a limiter. Zero shard, TTL and interval values get
// defaults.
func NewWithOptions(opts Options) *Limiter {
	if opts.Shards <= 0 {
		opts.Shards = 32
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	l := &Limiter{opts: opts, shards: make([]shard, opts.Shards)}
	for i := range l.shards {
		l.shards[i].buckets = make(map[string]*bucket)
	}
	return l
}

func (l *Limiter) Options() Options { return l.opts }

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &l.shards[h.Sum32()%uint32(len(l.shards))]
}

func (l *Limiter) bucketFor(key string, now time.Time) *bucket {
	s := l.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[key]
	if !ok {
		b = newBucket(l.opts.Capacity, now)
		s.buckets[key] = b
	}
	return b
}

// with runs fn under the lock of key's bucket, retrying when the bucket was
// swept between lookup and lock.
func (l *Limiter) with(key string, now time.Time, fn func(*bucket)) {
	for {
		b := l.bucketFor(key, now)
		b.mu.Lock()
		if b.evicted {
			b.mu.Unlock()
			continue
		}
		fn(b)
		b.mu.Unlock()
		return
	}
}

// Check admits a request of the given cost for key at now.
func (l *Limiter) Check(key string, cost float64, now time.Time) Decision {
	var d Decision
	l.with(key, now, func(b *bucket) {
		d = b.take(l.opts.Capacity, l.opts.Rate, cost, now)
	})
	return d
}

// Charge debits cost from key's bucket without admitting anything. The balance
// saturates at zero. It returns the remaining tokens.
func (l *Limiter) Charge(key string, cost float64, now time.Time) float64 {
	var left float64
	l.with(key, now, func(b *bucket) {
		left = b.charge(l.opts.Capacity, l.opts.Rate, cost, now)
	})
	return left
}

// Sweep removes buckets idle for longer than IdleTTL and returns the number
// removed.
func (l *Limiter) Sweep(now time.Time) int {
	removed := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for key, b := range s.buckets {
			b.mu.Lock()
			if now.Sub(b.lastSeen) > l.opts.IdleTTL {
				b.evicted = true
				delete(s.buckets, key)
				removed++
			}
			b.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}

// Len is the number of live buckets.
func (l *Limiter) Len() int {
	n := 0
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}

// Run sweeps every SweepInterval until ctx is done.
func (l *Limiter) Run(ctx context.Context, clock Clock) {
	if clock == nil {
		clock = SystemClock
	}
	t := time.NewTicker(l.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Sweep(clock.Now())
		}
	}
}
