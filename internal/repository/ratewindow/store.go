// Package ratewindow shares per-organization admission windows across processes.
package ratewindow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kailas-cloud/guestid/internal/db"
)

// store is the consumer interface for window operations (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrWindow(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// Store implements admission.WindowStore on top of DB.
type Store struct {
	store  store
	prefix string
}

// New creates a window store. Keys are prefix + "ratelimit:" + orgID.
func New(s store, prefix string) *Store {
	return &Store{store: s, prefix: prefix}
}

// Admit counts one model call for orgID unless the window is already full.
func (s *Store) Admit(ctx context.Context, orgID string, limit int, window time.Duration) (bool, error) {
	key := s.key(orgID)
	ok, err := s.store.IncrWindow(ctx, key, int64(limit), window)
	if err != nil {
		return false, fmt.Errorf("ratewindow incr %s: %w", key, err)
	}
	return ok, nil
}

// Reset clears the organization's window.
func (s *Store) Reset(ctx context.Context, orgID string) error {
	key := s.key(orgID)
	if err := s.store.Del(ctx, key); err != nil {
		return fmt.Errorf("ratewindow DEL %s: %w", key, err)
	}
	return nil
}

// Count reads the organization's current window counter.
func (s *Store) Count(ctx context.Context, orgID string) (int, error) {
	key := s.key(orgID)
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ratewindow GET %s: %w", key, err)
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("ratewindow %s holds %q: %w", key, raw, err)
	}
	return n, nil
}

func (s *Store) key(orgID string) string {
	return s.prefix + "ratelimit:" + orgID
}
