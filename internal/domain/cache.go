package domain

import (
	"context"
	"time"
)

// BookCache stores the latest consolidated book per instrument so other
// processes (API, dashboards) can read it without touching the tracker.
type BookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, instrument string) (BookSnapshot, error)
}

// PositionCache holds the authoritative position state reported by the
// execution side. It seeds the decision state machine at startup.
type PositionCache interface {
	SetPosition(ctx context.Context, instrument string, state PositionState) error
	GetPosition(ctx context.Context, instrument string) (PositionState, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager hands out exclusive, expiring ownership of a key. The
// returned release func is safe to call more than once.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RateLimiter throttles repeated actions per key over a sliding window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
