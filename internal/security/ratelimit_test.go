package security

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func fixedClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestRateLimiter_DeniesExcessRequests(t *testing.T) {
	policy := RateLimitPolicy{ChatPerMinute: 20, Burst: 0}
	limiter := NewRateLimiter(policy)
	_, clock := fixedClock(time.Now())
	limiter.now = clock

	// 20 requests in the same instant are admitted, the 21st is not
	for i := 1; i <= 20; i++ {
		if d := limiter.Admit("alice", ClassChatMessage); !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i)
		}
	}

	d := limiter.Admit("alice", ClassChatMessage)
	if d.Allowed {
		t.Fatal("21st request allowed, want denied")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", d.RetryAfter)
	}
}

func TestRateLimiter_BurstHeadroom(t *testing.T) {
	policy := RateLimitPolicy{ChatPerMinute: 20, Burst: 5}
	limiter := NewRateLimiter(policy)
	_, clock := fixedClock(time.Now())
	limiter.now = clock

	for i := 1; i <= 25; i++ {
		if d := limiter.Admit("alice", ClassChatMessage); !d.Allowed {
			t.Fatalf("request %d denied within burst capacity", i)
		}
	}
	if d := limiter.Admit("alice", ClassChatMessage); d.Allowed {
		t.Fatal("request beyond burst capacity allowed")
	}
}

func TestRateLimiter_RefillsOverTime(t *testing.T) {
	policy := RateLimitPolicy{ChatPerMinute: 20, Burst: 0}
	limiter := NewRateLimiter(policy)
	nowPtr, clock := fixedClock(time.Now())
	limiter.now = clock

	for i := 0; i < 20; i++ {
		limiter.Admit("alice", ClassChatMessage)
	}
	if d := limiter.Admit("alice", ClassChatMessage); d.Allowed {
		t.Fatal("bucket not empty after draining")
	}

	// 3 seconds at 20/minute refills one token
	*nowPtr = nowPtr.Add(3 * time.Second)
	if d := limiter.Admit("alice", ClassChatMessage); !d.Allowed {
		t.Fatal("request denied after refill interval")
	}
	if d := limiter.Admit("alice", ClassChatMessage); d.Allowed {
		t.Fatal("second request allowed without further refill")
	}
}

func TestRateLimiter_PerUserIsolation(t *testing.T) {
	policy := DefaultRateLimitPolicy()
	limiter := NewRateLimiter(policy)
	_, clock := fixedClock(time.Now())
	limiter.now = clock

	// 5 distinct users in the same second are all admitted
	var wg sync.WaitGroup
	denied := make(chan string, 5)
	for i := 0; i < 5; i++ {
		userID := fmt.Sprintf("user-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d := limiter.Admit(userID, ClassSessionCreate); !d.Allowed {
				denied <- userID
			}
		}()
	}
	wg.Wait()
	close(denied)

	for userID := range denied {
		t.Errorf("user %s denied, limits must be per-user", userID)
	}
}

func TestRateLimiter_PerClassBuckets(t *testing.T) {
	policy := RateLimitPolicy{ChatPerMinute: 1, SessionPerMinute: 1, ConnectPerMinute: 1, Burst: 0}
	limiter := NewRateLimiter(policy)
	_, clock := fixedClock(time.Now())
	limiter.now = clock

	// Draining one class leaves the others untouched
	if d := limiter.Admit("alice", ClassChatMessage); !d.Allowed {
		t.Fatal("first chat message denied")
	}
	if d := limiter.Admit("alice", ClassChatMessage); d.Allowed {
		t.Fatal("second chat message allowed at limit 1")
	}
	if d := limiter.Admit("alice", ClassSessionCreate); !d.Allowed {
		t.Fatal("session create denied by chat bucket")
	}
	if d := limiter.Admit("alice", ClassConnect); !d.Allowed {
		t.Fatal("connect denied by chat bucket")
	}
}

func TestRateLimiter_Reset(t *testing.T) {
	policy := RateLimitPolicy{ChatPerMinute: 1, Burst: 0}
	limiter := NewRateLimiter(policy)
	_, clock := fixedClock(time.Now())
	limiter.now = clock

	limiter.Admit("alice", ClassChatMessage)
	if d := limiter.Admit("alice", ClassChatMessage); d.Allowed {
		t.Fatal("second request allowed at limit 1")
	}

	limiter.Reset("alice")
	if d := limiter.Admit("alice", ClassChatMessage); !d.Allowed {
		t.Fatal("request denied after reset")
	}
}
