// Package admission enforces a per-organization model-call quota over a fixed window.
package admission

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/guestid/internal/metrics"
)

// Defaults: 10 calls per organization per minute.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Minute
)

const shardCount = 16

// WindowState is the per-organization counter.
type WindowState struct {
	RequestCount int
	WindowStart  time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*WindowState
}

// Admitter decides whether an organization may make another model call.
// Hot path is in-memory; organizations hash onto independently locked shards.
type Admitter struct {
	limit  int
	window time.Duration
	now    func() time.Time
	shards [shardCount]*shard
	store  WindowStore
	logger *zap.Logger
}

// New creates an Admitter. Non-positive limit or window fall back to the defaults.
func New(limit int, window time.Duration, logger *zap.Logger) *Admitter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	a := &Admitter{limit: limit, window: window, now: time.Now, logger: logger}
	for i := range a.shards {
		a.shards[i] = &shard{windows: make(map[string]*WindowState)}
	}
	return a
}

// WithClock replaces the time source.
func (a *Admitter) WithClock(now func() time.Time) *Admitter {
	a.now = now
	return a
}

// WithStore attaches a shared window store. On store errors the in-memory window decides.
func (a *Admitter) WithStore(store WindowStore) *Admitter {
	a.store = store
	return a
}

// Limit returns the per-window call quota.
func (a *Admitter) Limit() int { return a.limit }

// TryAdmit reports whether the organization may make another call now.
// Never blocks on other organizations and never fails; rejection does not consume quota.
func (a *Admitter) TryAdmit(ctx context.Context, orgID string) bool {
	if a.store != nil {
		ok, err := a.store.Admit(ctx, orgID, a.limit, a.window)
		if err == nil {
			record(ok)
			return ok
		}
		a.logger.Warn("Shared admission window unavailable, using local window",
			zap.String("organization_id", orgID), zap.Error(err))
	}

	ok := a.admitLocal(orgID)
	record(ok)
	return ok
}

func (a *Admitter) admitLocal(orgID string) bool {
	sh := a.shardFor(orgID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := a.now()
	st, ok := sh.windows[orgID]
	if !ok {
		st = &WindowState{WindowStart: now}
		sh.windows[orgID] = st
	}
	if now.Sub(st.WindowStart) > a.window {
		st.RequestCount = 0
		st.WindowStart = now
	}
	if st.RequestCount >= a.limit {
		return false
	}
	st.RequestCount++
	return true
}

// ResetOrganization clears the organization's window locally and in the shared store.
func (a *Admitter) ResetOrganization(ctx context.Context, orgID string) {
	sh := a.shardFor(orgID)
	sh.mu.Lock()
	delete(sh.windows, orgID)
	sh.mu.Unlock()

	if a.store != nil {
		if err := a.store.Reset(ctx, orgID); err != nil {
			a.logger.Warn("Failed to reset shared admission window",
				zap.String("organization_id", orgID), zap.Error(err))
		}
	}
	a.logger.Info("Admission window reset", zap.String("organization_id", orgID))
}

// Window sources reported by Usage.
const (
	SourceLocal  = "local"
	SourceShared = "shared"
)

// Usage is an organization's window as seen by whichever counter decides admission.
// WindowStart is only known for the local window.
type Usage struct {
	RequestCount int
	WindowStart  *time.Time
	Source       string
}

// Usage reads the shared counter when a store is attached and falls back to the
// local window on store errors, mirroring TryAdmit.
func (a *Admitter) Usage(ctx context.Context, orgID string) Usage {
	if a.store != nil {
		n, err := a.store.Count(ctx, orgID)
		if err == nil {
			return Usage{RequestCount: n, Source: SourceShared}
		}
		a.logger.Warn("Shared admission window unavailable, reporting local window",
			zap.String("organization_id", orgID), zap.Error(err))
	}
	u := Usage{Source: SourceLocal}
	if st, ok := a.State(orgID); ok {
		u.RequestCount = st.RequestCount
		start := st.WindowStart
		u.WindowStart = &start
	}
	return u
}

// State returns a copy of the organization's local window.
func (a *Admitter) State(orgID string) (WindowState, bool) {
	sh := a.shardFor(orgID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st, ok := sh.windows[orgID]
	if !ok {
		return WindowState{}, false
	}
	return *st, true
}

func (a *Admitter) shardFor(orgID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(orgID))
	return a.shards[h.Sum32()%shardCount]
}

func record(admitted bool) {
	if admitted {
		metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()
		return
	}
	metrics.AdmissionsTotal.WithLabelValues("rejected").Inc()
}
