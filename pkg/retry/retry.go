// Package retry provides exponential backoff retry logic with jitter for
// shopcore's upstream calls
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

var (
	// Thread-safe random source for jitter
	randMu     sync.Mutex
	randSource = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// ErrInterrupted marks a retry abandoned because the caller's context
// settled during a backoff wait or between attempts. The context error is
// wrapped alongside it.
var ErrInterrupted = errors.New("retry interrupted")

// Policy controls how an operation is retried. ShouldRetry decides, per
// failure and attempt number, whether another attempt is worthwhile; it
// must be pure so a retry sequence is deterministic for a given failure
// sequence. A nil ShouldRetry retries every failure up to MaxAttempts.
type Policy struct {
	MaxAttempts   int           // Total attempts including the first (min 1)
	MinDelay      time.Duration // Delay before the second attempt
	MaxDelay      time.Duration // Cap on the backoff delay
	BackoffFactor float64       // Growth factor between attempts (typically 2.0)
	JitterRatio   float64       // Widens each delay by a uniform ±ratio*delay
	ShouldRetry   func(err error, attempt int) bool
}

// Default returns the policy used for idempotent upstream calls
func Default() Policy {
	return Policy{
		MaxAttempts:   3,
		MinDelay:      200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterRatio:   0.25,
	}
}

// Single returns a policy that runs the operation exactly once. Used for
// non-idempotent calls where a silent retry could repeat a write.
func Single() Policy {
	return Policy{MaxAttempts: 1}
}

// WithPredicate returns a copy of the policy with the given retry predicate
func (p Policy) WithPredicate(shouldRetry func(err error, attempt int) bool) Policy {
	p.ShouldRetry = shouldRetry
	return p
}

// normalize fills zero fields with defaults and clamps pathological values
func (p Policy) normalize() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.MinDelay <= 0 {
		p.MinDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2.0
	}
	if p.BackoffFactor > 1000 {
		p.BackoffFactor = 1000
	}
	if p.JitterRatio < 0 {
		p.JitterRatio = 0
	}
	if p.JitterRatio > 1 {
		p.JitterRatio = 1
	}
	return p
}

// Delay returns the un-jittered backoff delay that follows the given
// attempt (attempt numbering starts at 1). The delay grows geometrically
// from MinDelay and is capped at MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalize()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.MinDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if d > float64(p.MaxDelay) || d < 0 {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// jittered widens a delay by a uniform random offset in ±JitterRatio*delay
func (p Policy) jittered(delay time.Duration) time.Duration {
	if p.JitterRatio == 0 || delay <= 0 {
		return delay
	}
	randMu.Lock()
	offset := (randSource.Float64()*2 - 1) * p.JitterRatio * float64(delay)
	randMu.Unlock()
	d := delay + time.Duration(offset)
	if d < 0 {
		return 0
	}
	return d
}

// Do executes fn with retries according to the policy. fn receives the
// attempt number, starting at 1. The first attempt runs immediately; the
// backoff wait before each further attempt is cancellable, so an expired
// context returns promptly instead of waiting out the full delay. Once the
// policy declines a retry, the last failure is returned unchanged.
//
// Concurrent Do calls are fully independent.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	p = p.normalize()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w before attempt %d: %w", ErrInterrupted, attempt, err)
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= p.MaxAttempts {
			break
		}
		if p.ShouldRetry != nil && !p.ShouldRetry(err, attempt) {
			break
		}

		wait := p.jittered(p.Delay(attempt))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w during backoff before attempt %d: %w",
				ErrInterrupted, attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// DoWithResult executes fn with retries and returns its result
func DoWithResult[T any](ctx context.Context, p Policy, fn func(attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(attempt int) error {
		var innerErr error
		result, innerErr = fn(attempt)
		return innerErr
	})
	return result, err
}

// Interrupted reports whether err came from a cancelled backoff wait
// rather than from the operation itself
func Interrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}
