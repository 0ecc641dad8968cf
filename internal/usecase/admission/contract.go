package admission

import (
	"context"
	"time"
)

// WindowStore is a shared fixed-window counter used when several processes serve one organization.
// Admit must check and increment atomically and must not count rejected calls.
type WindowStore interface {
	Admit(ctx context.Context, orgID string, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, orgID string) error
	// Count returns the calls admitted in the current shared window, 0 when none.
	Count(ctx context.Context, orgID string) (int, error)
}
