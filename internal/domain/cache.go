package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a renewable exclusive lock. Keep blocks, renewing the lease until
// ctx is done or the lease is lost; Release is safe to call more than once.
type Lease interface {
	Keep(ctx context.Context) error
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// NonceStore remembers single-use values. Claim reports false when key was
// already claimed within ttl.
type NonceStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
