// Package memory is a process-local db.Store used when no Redis is configured.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kailas-cloud/guestid/internal/db"
)

// Compile-time check: Store implements db.Store.
var _ db.Store = (*Store)(nil)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store keeps keys in a map guarded by a mutex. Expired keys are dropped lazily.
type Store struct {
	mu    sync.Mutex
	items map[string]entry
	count map[string]counter
	now   func() time.Time
}

type counter struct {
	n         int64
	expiresAt time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		items: make(map[string]entry),
		count: make(map[string]counter),
		now:   time.Now,
	}
}

// WithClock overrides the time source (tests).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(_ context.Context, _ time.Duration) error { return nil }

// Get retrieves a copy of the value stored at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		// Window counters read back as decimal strings, as INCR keys do in Redis.
		if c, ok := s.count[key]; ok && s.now().Before(c.expiresAt) {
			return []byte(strconv.FormatInt(c.n, 10)), nil
		}
		return nil, db.ErrKeyNotFound
	}
	if e.expired(s.now()) {
		delete(s.items, key)
		return nil, db.ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores value without expiration.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry{value: append([]byte(nil), value...)}
	return nil
}

// SetWithTTL stores value that disappears after ttl.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = entry{value: append([]byte(nil), value...), expiresAt: s.now().Add(ttl)}
	return nil
}

// Del removes key from both the value and counter spaces.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	delete(s.count, key)
	return nil
}

// IncrWindow implements db.WindowCounter with the same semantics as the Redis script,
// including expiry at exactly window after the first increment.
func (s *Store) IncrWindow(_ context.Context, key string, limit int64, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := s.count[key]
	if !c.expiresAt.IsZero() && !now.Before(c.expiresAt) {
		c = counter{}
	}
	if c.n >= limit {
		return false, nil
	}
	c.n++
	if c.n == 1 {
		c.expiresAt = now.Add(window)
	}
	s.count[key] = c
	return true, nil
}
