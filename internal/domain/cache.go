package domain

import (
	"context"
	"time"
)

// ProbabilityCache provides fast access to the latest implied probability
// per (market, answer) pair. Best-effort; a cache failure never fails a
// trade.
type ProbabilityCache interface {
	SetProbability(ctx context.Context, marketID, answerID string, prob float64, ts time.Time) error
	GetProbability(ctx context.Context, marketID, answerID string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for fire-and-forget event fan-out plus
// durable, ordered streams for the redemption retry queue.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
