package ratelimit

import (
	"context"
)

// Store is the storage backend for rate limit state. Keys are opaque strings
// such as "frame:u1:metube"; the caller decides the keying scheme.
type Store interface {
	// Allow checks and consumes one token for the key.
	Allow(ctx context.Context, key string, capacity, refillRate float64) (allowed bool, remaining float64, err error)

	// Remaining returns the tokens currently available for the key.
	Remaining(ctx context.Context, key string, capacity, refillRate float64) (float64, error)

	// Reset refills the key's bucket.
	Reset(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// Limiter applies one bucket per key using a pluggable backend. MemoryStore
// suits a single instance; RedisStore shares state across replicas.
type Limiter struct {
	store      Store
	capacity   float64
	refillRate float64
}

// Config holds limiter settings.
type Config struct {
	// Store defaults to MemoryStore when nil.
	Store Store

	// RequestsPerSecond is the sustained rate per key.
	RequestsPerSecond float64
	// BurstSize is the per-key burst capacity.
	BurstSize float64
}

// DefaultConfig returns the defaults used for the frame gateway: generous
// enough for an embedded SPA fetching assets, tight enough to keep one user
// from hammering a module upstream.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 25,
		BurstSize:         100,
	}
}

// NewLimiter creates a limiter with the given configuration.
func NewLimiter(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 25
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 100
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}
	return &Limiter{
		store:      store,
		capacity:   cfg.BurstSize,
		refillRate: cfg.RequestsPerSecond,
	}
}

// Allow reports whether a request for the key may proceed. An empty key and
// any backend error both fail open.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if key == "" {
		return true
	}
	allowed, _, err := l.store.Allow(ctx, key, l.capacity, l.refillRate)
	if err != nil {
		return true
	}
	return allowed
}

// Remaining returns the tokens left for the key.
func (l *Limiter) Remaining(ctx context.Context, key string) float64 {
	if key == "" {
		return l.capacity
	}
	remaining, err := l.store.Remaining(ctx, key, l.capacity, l.refillRate)
	if err != nil {
		return l.capacity
	}
	return remaining
}

// Capacity returns the configured burst size.
func (l *Limiter) Capacity() float64 {
	return l.capacity
}

// RefillRate returns the configured sustained rate.
func (l *Limiter) RefillRate() float64 {
	return l.refillRate
}

// Reset refills the key's bucket.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}

// Close stops the limiter and releases resources.
func (l *Limiter) Close() error {
	return l.store.Close()
}
