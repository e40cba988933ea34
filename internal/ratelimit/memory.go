package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Eviction tuning for idle keys. Ticket traffic is bursty per customer IP,
// so a key that has been quiet for idleTTL is unlikely to come back before
// its bucket would have refilled to full anyway.
const (
	idleTTL   = 10 * time.Minute
	reapEvery = time.Minute
	tokenCost = 1.0 // tokens one request consumes
)

// tokenBucket tracks the refill state for one key. Tokens accrue lazily on
// access rather than on a timer, so an idle bucket costs nothing.
type tokenBucket struct {
	tokens float64
	seen   time.Time
}

// MemoryLimiter is the in-process Limiter: one lazily refilled token bucket
// per key, a single mutex over the whole map, and a reaper goroutine that
// drops idle keys so the map stays bounded by the active client set.
type MemoryLimiter struct {
	refillRate float64 // tokens per second
	capacity   float64

	mu      sync.Mutex
	buckets map[string]*tokenBucket

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewMemoryLimiter creates a limiter allowing a sustained `rate` requests
// per second per key with bursts up to `burst`. Close stops the reaper.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		refillRate: rate,
		capacity:   float64(burst),
		buckets:    make(map[string]*tokenBucket),
		stopped:    make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Allow consumes one token for key, reporting whether the request may
// proceed. Never returns an error; the signature matches Limiter so a
// networked implementation can slot in.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	b, ok := m.buckets[key]
	if !ok {
		// New key starts from a full bucket.
		m.buckets[key] = &tokenBucket{tokens: m.capacity - tokenCost, seen: now}
		return true, nil
	}

	b.tokens += now.Sub(b.seen).Seconds() * m.refillRate
	if b.tokens > m.capacity {
		b.tokens = m.capacity
	}
	b.seen = now

	if b.tokens < tokenCost {
		return false, nil
	}
	b.tokens -= tokenCost
	return true, nil
}

// Close stops the reaper goroutine. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.stopped) })
	return nil
}

func (m *MemoryLimiter) reapLoop() {
	ticker := time.NewTicker(reapEvery)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopped:
			return
		case <-ticker.C:
			m.reap(time.Now().Add(-idleTTL))
		}
	}
}

// reap drops every bucket not seen since the cutoff.
func (m *MemoryLimiter) reap(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, b := range m.buckets {
		if b.seen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
