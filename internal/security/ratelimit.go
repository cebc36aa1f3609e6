package security

import (
	"sync"
	"time"
)

// EndpointClass groups endpoints that share a rate-limit policy
type EndpointClass string

const (
	ClassChatMessage   EndpointClass = "chat_message"
	ClassSessionCreate EndpointClass = "session_create"
	ClassConnect       EndpointClass = "connect"
)

// Decision is the outcome of an admission check. Denial is a normal,
// expected outcome, not an error.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  float64
}

// RateLimitPolicy holds per-class limits in requests per minute
type RateLimitPolicy struct {
	ChatPerMinute    int
	SessionPerMinute int
	ConnectPerMinute int
	Burst            int
}

// DefaultRateLimitPolicy mirrors the documented pilot limits
func DefaultRateLimitPolicy() RateLimitPolicy {
	return RateLimitPolicy{
		ChatPerMinute:    20,
		SessionPerMinute: 6,
		ConnectPerMinute: 10,
		Burst:            5,
	}
}

const bucketIdleExpiry = time.Hour

type bucketKey struct {
	userID string
	class  EndpointClass
}

type bucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter implements per-user, per-endpoint-class token buckets.
// Buckets are refilled lazily on each check; no background timer.
// Contention is scoped per bucket, the outer lock only guards the map.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[bucketKey]*bucket
	policy    RateLimitPolicy
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a rate limiter with the given policy
func NewRateLimiter(policy RateLimitPolicy) *RateLimiter {
	return &RateLimiter{
		buckets:   make(map[bucketKey]*bucket),
		policy:    policy,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (r *RateLimiter) limitFor(class EndpointClass) int {
	switch class {
	case ClassSessionCreate:
		return r.policy.SessionPerMinute
	case ClassConnect:
		return r.policy.ConnectPerMinute
	default:
		return r.policy.ChatPerMinute
	}
}

// Admit checks whether one request for (userID, class) may proceed and
// consumes a token if so. Unknown users get a fresh bucket at full
// capacity.
func (r *RateLimiter) Admit(userID string, class EndpointClass) Decision {
	limit := r.limitFor(class)
	capacity := float64(limit + r.policy.Burst)
	now := r.now()

	b := r.bucketFor(bucketKey{userID: userID, class: class}, capacity, now)

	b.mu.Lock()
	defer b.mu.Unlock()

	// Lazy refill from elapsed time
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed / 60.0 * float64(limit)
	if b.tokens > capacity {
		b.tokens = capacity
	}
	b.lastRefill = now

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return Decision{Allowed: true, Remaining: b.tokens}
	}

	deficit := 1.0 - b.tokens
	wait := time.Duration(deficit * 60.0 / float64(limit) * float64(time.Second))
	return Decision{Allowed: false, RetryAfter: wait}
}

// Reset clears all buckets for a user (operator action)
func (r *RateLimiter) Reset(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.buckets {
		if key.userID == userID {
			delete(r.buckets, key)
		}
	}
}

func (r *RateLimiter) bucketFor(key bucketKey, capacity float64, now time.Time) *bucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastSweep) > bucketIdleExpiry {
		r.sweepLocked(now)
		r.lastSweep = now
	}

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, lastRefill: now}
		r.buckets[key] = b
	}
	return b
}

// sweepLocked drops buckets that have not been touched within the
// expiry window. Caller holds r.mu.
func (r *RateLimiter) sweepLocked(now time.Time) {
	for key, b := range r.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastRefill)
		b.mu.Unlock()
		if idle > bucketIdleExpiry {
			delete(r.buckets, key)
		}
	}
}
