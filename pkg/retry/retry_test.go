package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:   attempts,
		MinDelay:      10 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterRatio:   0, // Disable for predictable tests
	}
}

func TestDo_SuccessAfterFailures(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := Do(ctx, fastPolicy(3), func(attempt int) error {
		attempts++
		assert.Equal(t, attempts, attempt)
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_AttemptBudget(t *testing.T) {
	ctx := context.Background()
	persistent := errors.New("persistent error")

	attempts := 0
	err := Do(ctx, fastPolicy(3), func(int) error {
		attempts++
		return persistent
	})

	// The last failure propagates unchanged once attempts are exhausted
	assert.Equal(t, persistent, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_SingleAttempt(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := Do(ctx, Single(), func(int) error {
		attempts++
		return errors.New("write failed")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_PredicateStopsRetry(t *testing.T) {
	ctx := context.Background()
	definitive := errors.New("definitive")

	p := fastPolicy(5).WithPredicate(func(err error, attempt int) bool {
		return false
	})

	attempts := 0
	err := Do(ctx, p, func(int) error {
		attempts++
		return definitive
	})

	assert.Equal(t, definitive, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_PredicateSeesAttemptNumber(t *testing.T) {
	ctx := context.Background()

	var seen []int
	p := fastPolicy(4).WithPredicate(func(_ error, attempt int) bool {
		seen = append(seen, attempt)
		return attempt < 2
	})

	_ = Do(ctx, p, func(int) error { return errors.New("e") })

	// Predicate is not consulted after the final attempt
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_BackoffInterruptedByDeadline(t *testing.T) {
	// MinDelay far above the context deadline: the wait must be cut short
	p := Policy{
		MaxAttempts:   3,
		MinDelay:      5 * time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	attempts := 0
	err := Do(ctx, p, func(int) error {
		attempts++
		return errors.New("transient")
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, Interrupted(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
	assert.Less(t, elapsed, 1*time.Second)
}

func TestDo_CancelledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, fastPolicy(3), func(int) error {
		attempts++
		return nil
	})

	assert.True(t, Interrupted(err))
	assert.Equal(t, 0, attempts)
}

func TestDelay_MonotonicAndCapped(t *testing.T) {
	p := Policy{
		MinDelay:      100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}

	var prev time.Duration
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay must be non-decreasing")
		assert.LessOrEqual(t, d, p.MaxDelay)
		prev = d
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	assert.Equal(t, 2*time.Second, p.Delay(10))
}

func TestDelay_OverflowClampsToMax(t *testing.T) {
	p := Policy{
		MinDelay:      1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 1000,
	}

	assert.Equal(t, 30*time.Second, p.Delay(50))
}

func TestJittered_StaysWithinRatio(t *testing.T) {
	p := Policy{JitterRatio: 0.25}
	base := 100 * time.Millisecond

	for i := 0; i < 200; i++ {
		d := p.jittered(base)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestDo_BackoffTiming(t *testing.T) {
	ctx := context.Background()

	start := time.Now()
	attempts := 0
	_ = Do(ctx, fastPolicy(4), func(int) error {
		attempts++
		return errors.New("error")
	})
	elapsed := time.Since(start)

	// Delays: 10ms + 20ms + 40ms = 70ms minimum
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
	assert.Less(t, elapsed, 300*time.Millisecond)
	assert.Equal(t, 4, attempts)
}

func TestDoWithResult(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	result, err := DoWithResult(ctx, fastPolicy(3), func(int) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("not ready")
		}
		return "ok", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, attempts)
}

func TestDo_ConcurrentCallsIndependent(t *testing.T) {
	ctx := context.Background()

	done := make(chan int, 8)
	for i := 0; i < 8; i++ {
		go func() {
			attempts := 0
			_ = Do(ctx, fastPolicy(2), func(int) error {
				attempts++
				return errors.New("e")
			})
			done <- attempts
		}()
	}

	for i := 0; i < 8; i++ {
		assert.Equal(t, 2, <-done)
	}
}

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, p.MinDelay)
	assert.Equal(t, 5*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.BackoffFactor)
	assert.Equal(t, 0.25, p.JitterRatio)
}

func TestNormalize_ZeroAttemptsRunsOnce(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	err := Do(ctx, Policy{}, func(int) error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}
