package ratelimit

import (
	"container/list"
	"sync"
	"time"
)

// AddressLimiter gates connection admission per source address: each address
// gets a token bucket and every admission attempt costs one token.
//
// Bucket state is bounded: at most maxTracked addresses are kept, evicting
// the least-recently seen address when the bound is hit. An evicted address
// that reappears starts with a fresh (full) bucket, which intentionally
// trades exactness for bounded memory under source-address spray.
type AddressLimiter struct {
	clock Clock

	burst      int64
	refill     int64
	window     time.Duration
	maxTracked int

	onEvicted func()

	mu      sync.Mutex
	buckets map[string]*addressEntry
	lru     *list.List
}

type addressEntry struct {
	bucket *TokenBucket
	elem   *list.Element
}

// DefaultMaxTrackedAddresses bounds bucket state when no explicit limit is
// configured.
const DefaultMaxTrackedAddresses = 4096

// NewAddressLimiter creates a limiter granting burst tokens per address,
// refilled at refillTokens per window.
//
// onEvicted, if non-nil, is invoked once per evicted address bucket, outside
// the limiter's mutex.
func NewAddressLimiter(clock Clock, burst, refillTokens int64, window time.Duration, maxTracked int, onEvicted func()) *AddressLimiter {
	if clock == nil {
		clock = RealClock{}
	}
	if maxTracked <= 0 {
		maxTracked = DefaultMaxTrackedAddresses
	}
	return &AddressLimiter{
		clock:      clock,
		burst:      burst,
		refill:     refillTokens,
		window:     window,
		maxTracked: maxTracked,
		onEvicted:  onEvicted,
		buckets:    make(map[string]*addressEntry),
		lru:        list.New(),
	}
}

// Admit reports whether a connection attempt from addr may proceed,
// consuming one token when it does. It never blocks waiting for a refill.
func (l *AddressLimiter) Admit(addr string) bool {
	if l.burst <= 0 {
		// Limiting disabled.
		return true
	}
	return l.bucketFor(addr).Allow(1)
}

func (l *AddressLimiter) bucketFor(addr string) *TokenBucket {
	var onEvicted func()

	l.mu.Lock()

	if entry, ok := l.buckets[addr]; ok {
		l.lru.MoveToFront(entry.elem)
		bucket := entry.bucket
		l.mu.Unlock()
		return bucket
	}

	if len(l.buckets) >= l.maxTracked {
		if elem := l.lru.Back(); elem != nil {
			evictAddr := elem.Value.(string)
			l.lru.Remove(elem)
			delete(l.buckets, evictAddr)
			onEvicted = l.onEvicted
		}
	}

	bucket := NewTokenBucket(l.clock, l.burst, l.refill, l.window)
	l.buckets[addr] = &addressEntry{
		bucket: bucket,
		elem:   l.lru.PushFront(addr),
	}

	l.mu.Unlock()

	if onEvicted != nil {
		onEvicted()
	}
	return bucket
}

// Tracked returns the number of addresses currently holding bucket state.
func (l *AddressLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
