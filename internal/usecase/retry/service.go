// Package retry wraps a single model call with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/guestid/internal/domain"
	"github.com/kailas-cloud/guestid/internal/metrics"
)

// Policy defaults.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialDelay   = time.Second
	DefaultMaxDelay       = 10 * time.Second
	DefaultMultiplier     = 2.0
	DefaultAttemptTimeout = 30 * time.Second
)

// Policy parameterizes the invoker.
type Policy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	AttemptTimeout time.Duration
}

// DefaultPolicy returns 3 attempts, 1s..10s backoff doubling, 30s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialDelay:   DefaultInitialDelay,
		MaxDelay:       DefaultMaxDelay,
		Multiplier:     DefaultMultiplier,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Class is the retry category of an error.
type Class string

// Error classes.
const (
	ClassTransient   Class = "transient"
	ClassRateLimited Class = "rate_limited"
	ClassFatal       Class = "fatal"
)

// Sleeper waits between attempts. Replaced in tests.
type Sleeper func(d time.Duration)

// Invoker runs calls under Policy.
type Invoker struct {
	policy Policy
	sleep  Sleeper
	logger *zap.Logger
}

// New creates an Invoker. Zero policy fields fall back to the defaults.
func New(p Policy, logger *zap.Logger) *Invoker {
	return &Invoker{policy: withDefaults(p), sleep: time.Sleep, logger: logger}
}

// WithSleeper replaces the wait function.
func (inv *Invoker) WithSleeper(s Sleeper) *Invoker {
	inv.sleep = s
	return inv
}

// Policy returns the effective policy.
func (inv *Invoker) Policy() Policy { return inv.policy }

// Result is the typed outcome of Do. Err is nil on success.
type Result[T any] struct {
	Value    T
	Err      error
	Attempts int
	Elapsed  time.Duration
	Waits    []time.Duration
}

// OK reports success.
func (r Result[T]) OK() bool { return r.Err == nil }

// Do calls fn until it succeeds, a fatal error occurs or attempts run out.
// Each attempt gets its own hard timeout detached from ctx cancellation, so an
// abandoned caller does not abort an in-flight call. Do never panics.
func Do[T any](ctx context.Context, inv *Invoker, fn func(ctx context.Context) (T, error)) Result[T] {
	start := time.Now()
	delay := inv.policy.InitialDelay
	var res Result[T]

	for attempt := 1; attempt <= inv.policy.MaxAttempts; attempt++ {
		res.Attempts = attempt

		v, err := runAttempt(ctx, inv.policy.AttemptTimeout, fn)
		if err == nil {
			res.Value = v
			res.Err = nil
			res.Elapsed = time.Since(start)
			return res
		}
		res.Err = err

		class := Classify(err)
		metrics.RetryAttemptsTotal.WithLabelValues(string(class)).Inc()
		inv.logger.Warn("model attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", inv.policy.MaxAttempts),
			zap.String("class", string(class)),
			zap.Error(err),
		)

		if class == ClassFatal || attempt == inv.policy.MaxAttempts {
			break
		}

		var wait time.Duration
		if class == ClassRateLimited {
			wait = inv.policy.MaxDelay
		} else {
			wait = min(delay, inv.policy.MaxDelay)
			delay = time.Duration(float64(delay) * inv.policy.Multiplier)
		}
		res.Waits = append(res.Waits, wait)
		inv.sleep(wait)
	}

	res.Elapsed = time.Since(start)
	return res
}

// Classify maps an error to its retry class. Typed sentinels take precedence;
// message inspection covers errors from collaborators that do not wrap them.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassTransient
	case errors.Is(err, domain.ErrModelAuthentication), errors.Is(err, domain.ErrModelNotConfigured):
		return ClassFatal
	case errors.Is(err, domain.ErrModelRateLimited):
		return ClassRateLimited
	case errors.Is(err, domain.ErrModelUnavailable):
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authentication"), strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"), strings.Contains(msg, "401"):
		return ClassFatal
	case strings.Contains(msg, "rate_limit"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return ClassRateLimited
	default:
		return ClassTransient
	}
}

type outcome[T any] struct {
	v   T
	err error
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome[T]{v: zero, err: fmt.Errorf("model call panicked: %v: %w", r, domain.ErrModelUnavailable)}
			}
		}()
		v, err := fn(attemptCtx)
		done <- outcome[T]{v: v, err: err}
	}()

	timedOut := func() (T, error) {
		var zero T
		return zero, fmt.Errorf("attempt timed out after %s: %w", timeout, domain.ErrModelUnavailable)
	}

	select {
	case o := <-done:
		if o.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return timedOut()
		}
		return o.v, o.err
	case <-attemptCtx.Done():
		return timedOut()
	}
}

func withDefaults(p Policy) Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultAttemptTimeout
	}
	return p
}
