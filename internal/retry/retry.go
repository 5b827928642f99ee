// Package retry implements the bounded exponential-backoff policy applied
// around backend calibration and inference calls.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"steerbench/internal/steerable"
)

// Default policy values.
const (
	DefaultAttempts  = 6
	DefaultBaseDelay = time.Second
	DefaultMult      = 2.0
)

// Policy is a bounded retry schedule: delays grow BaseDelay * Mult^n, capped
// at MaxDelay when set. Only transient errors are retried; anything else is
// returned to the caller on first occurrence.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Mult      float64
	MaxDelay  time.Duration

	// sleep is swapped out by tests to record the schedule.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the baseline policy: 6 attempts, 1s base delay, doubling.
func Default() Policy {
	return Policy{Attempts: DefaultAttempts, BaseDelay: DefaultBaseDelay, Mult: DefaultMult}
}

// ExhaustedError reports that every attempt failed with a transient error.
// It wraps the last cause. Callers treat it as a contained per-pair failure,
// not a run-fatal one.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do runs fn under the policy. Transient failures are logged and retried
// after an exponentially growing delay; the delay sequence for a 1s base is
// 1, 2, 4, 8, ... seconds. Non-transient errors and context cancellation
// return immediately.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := p.delay(attempt - 1)
			logger.Warn("retrying after transient backend error",
				"op", op, "attempt", attempt+1, "max_attempts", attempts,
				"delay", delay, "error", lastErr)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !steerable.IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return &ExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
}

// delay returns BaseDelay * Mult^n, capped at MaxDelay when set.
func (p Policy) delay(n int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	mult := p.Mult
	if mult <= 0 {
		mult = DefaultMult
	}
	d := float64(base)
	for i := 0; i < n; i++ {
		d *= mult
	}
	out := time.Duration(d)
	if p.MaxDelay > 0 && out > p.MaxDelay {
		out = p.MaxDelay
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
