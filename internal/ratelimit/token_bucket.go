package ratelimit

import (
	"sync"
	"time"
)

const nanoTokensPerToken int64 = int64(time.Second) // 1e9

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket that refills a fixed number of
// tokens over a configurable window, using a provided Clock.
//
// The implementation uses fixed-point "nano-tokens" to avoid float rounding:
// one token is 1e9 nano-tokens. A refill of R tokens per window W corresponds
// to R*1e9/W.Seconds() nano-tokens per second, which stays exact for the
// integer rates used here and off by at most one nano-token per second
// otherwise.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacityNano     int64
	nanoTokensPerSec int64

	available int64
	last      time.Time
}

// NewTokenBucket creates a bucket holding up to capacity tokens, starting
// full, refilling refillTokens per window.
func NewTokenBucket(clock Clock, capacity, refillTokens int64, window time.Duration) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	// The window is truncated to whole seconds, with a 1s floor.
	var rate int64
	if refillTokens > 0 && window > 0 {
		secs := int64(window / time.Second)
		if secs < 1 {
			secs = 1
		}
		rate = mulSat(refillTokens, nanoTokensPerToken) / secs
	}

	capacityNano := mulSat(capacity, nanoTokensPerToken)
	return &TokenBucket{
		clock:            clock,
		capacityNano:     capacityNano,
		nanoTokensPerSec: rate,
		available:        capacityNano,
		last:             clock.Now(),
	}
}

// Allow consumes the provided number of tokens if available.
//
// tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}

	cost := mulSat(tokens, nanoTokensPerToken)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < cost {
		return false
	}

	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards. Avoid refilling and move the reference point.
		b.last = now
		return
	}

	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.nanoTokensPerSec <= 0 || b.capacityNano <= 0 {
		return
	}
	if b.available >= b.capacityNano {
		b.available = b.capacityNano
		return
	}

	// If enough time passed to fill the bucket completely, clamp to capacity
	// instead of doing incremental math that could overflow.
	need := b.capacityNano - b.available
	fillSecs := need/b.nanoTokensPerSec + 1
	if int64(elapsed/time.Second) >= fillSecs {
		b.available = b.capacityNano
		return
	}

	elapsedNanos := elapsed.Nanoseconds()
	whole := elapsedNanos / int64(time.Second)
	frac := elapsedNanos % int64(time.Second)

	add := satAdd(mulSat(whole, b.nanoTokensPerSec), mulSat(frac, b.nanoTokensPerSec)/int64(time.Second))
	b.available = satAdd(b.available, add)
	if b.available > b.capacityNano {
		b.available = b.capacityNano
	}
}

func mulSat(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > maxInt64/b {
		return maxInt64
	}
	return a * b
}

func satAdd(a, b int64) int64 {
	if a > maxInt64-b {
		return maxInt64
	}
	return a + b
}
