package db

import (
	"context"
	"time"
)

// Store is the main database facade combining all sub-interfaces.
type Store interface {
	Pinger
	KVStore
	WindowCounter
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value operations.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// WindowCounter is an atomic fixed-window counter.
type WindowCounter interface {
	// IncrWindow increments key unless it already reached limit. The key expires
	// window after its first increment. Returns whether the increment happened.
	IncrWindow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}
