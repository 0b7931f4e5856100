package ratelimit

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestTokenBucket_BurstThenEmpty(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 5, 5, time.Second)

	if !b.Allow(5) {
		t.Fatalf("expected initial burst to succeed")
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty")
	}

	clk.Advance(200 * time.Millisecond) // one token back at 5 tokens/sec
	if !b.Allow(1) {
		t.Fatalf("expected refill after time advance")
	}
}

func TestTokenBucket_WindowedRefill(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 100, 100, time.Minute)

	for i := 0; i < 100; i++ {
		if !b.Allow(1) {
			t.Fatalf("token %d: expected allow", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("expected empty bucket after 100 tokens")
	}

	// 100 tokens per 60s is one token per 600ms.
	clk.Advance(700 * time.Millisecond)
	if !b.Allow(1) {
		t.Fatalf("expected one refilled token")
	}
	if b.Allow(1) {
		t.Fatalf("expected only one refilled token")
	}

	clk.Advance(time.Minute)
	for i := 0; i < 100; i++ {
		if !b.Allow(1) {
			t.Fatalf("token %d after full window: expected allow", i)
		}
	}
}

func TestTokenBucket_DoesNotExceedCapacity(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	b := NewTokenBucket(clk, 1, 1, time.Second)

	if !b.Allow(1) {
		t.Fatalf("expected initial token")
	}

	clk.Advance(10 * time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill up to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("expected capacity clamp (only 1 token available)")
	}
}

func TestTokenBucket_TimeGoingBackwards(t *testing.T) {
	clk := &fakeClock{now: time.Unix(100, 0)}
	b := NewTokenBucket(clk, 2, 2, time.Second)

	if !b.Allow(2) {
		t.Fatalf("expected initial burst")
	}

	clk.Advance(-50 * time.Second)
	if b.Allow(1) {
		t.Fatalf("expected no refill when time goes backwards")
	}

	clk.Advance(time.Second)
	if !b.Allow(1) {
		t.Fatalf("expected refill after time moves forward again")
	}
}
