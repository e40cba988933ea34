// Package ratelimit provides a pluggable rate limiting interface.
//
// Ticket intake fans out to external classification and generation services,
// so unthrottled clients translate directly into upstream cost. The default
// implementation is an in-memory token bucket (MemoryLimiter); deployments
// running multiple instances can substitute a shared backend behind the
// Limiter interface.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// The key is opaque; callers construct it (e.g. "intake:10.0.0.1").
	// Errors signal a limiter malfunction and callers should fail open.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
