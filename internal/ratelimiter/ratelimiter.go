package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides request rate limiting using the token bucket algorithm.
//
// The token bucket algorithm works as follows:
//  1. Tokens are added to the bucket at a constant rate (requests per second)
//  2. Each request consumes one token from the bucket
//  3. If the bucket is empty, the request is rejected
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a new RateLimiter with the specified rate and burst capacity.
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: burst equals requestsPerSecond
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// DefaultIdleTTL is how long an unused per-key bucket is kept.
const DefaultIdleTTL = 10 * time.Minute

// KeyedLimiter keeps one token bucket per key (typically a client address).
//
// Buckets that have not been used for the idle TTL are pruned on access, so
// memory stays proportional to the number of recently active clients.
type KeyedLimiter struct {
	requestsPerSecond uint
	burst             uint
	idleTTL           time.Duration

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewKeyed creates a keyed limiter. Every key gets its own bucket of the
// given rate and burst. A zero rate disables limiting.
func NewKeyed(requestsPerSecond, burst uint, idleTTL time.Duration) *KeyedLimiter {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &KeyedLimiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		idleTTL:           idleTTL,
		buckets:           make(map[string]*bucket),
		now:               time.Now,
	}
}

// Enabled reports whether the limiter restricts anything.
func (k *KeyedLimiter) Enabled() bool {
	return k.requestsPerSecond > 0
}

// Allow reports whether a request for key may proceed now.
func (k *KeyedLimiter) Allow(key string) bool {
	if !k.Enabled() {
		return true
	}

	k.mu.Lock()
	now := k.now()
	if now.Sub(k.lastPrune) >= k.idleTTL {
		k.pruneLocked(now)
	}

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: New(k.requestsPerSecond, k.burst)}
		k.buckets[key] = b
	}
	b.lastSeen = now
	k.mu.Unlock()

	return b.limiter.Allow()
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *KeyedLimiter) pruneLocked(now time.Time) {
	for key, b := range k.buckets {
		if now.Sub(b.lastSeen) >= k.idleTTL {
			delete(k.buckets, key)
		}
	}
	k.lastPrune = now
}
