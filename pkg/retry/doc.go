// Package retry implements the retry engine behind shopcore's upstream
// calls: exponential backoff with jitter, a caller-supplied retry
// predicate, and cancellable waits.
//
// The engine knows nothing about failure kinds. Call sites wire in a
// predicate (usually built on the errors package's IsRetryable) so the
// transient/definitive split lives in one place:
//
//	policy := retry.Default().WithPredicate(func(err error, _ int) bool {
//		return errors.IsRetryable(err)
//	})
//	resp, err := retry.DoWithResult(ctx, policy, func(attempt int) (*Response, error) {
//		return doOnce(ctx, desc)
//	})
//
// The un-jittered delay before attempt n+1 is
// min(MaxDelay, MinDelay*BackoffFactor^(n-1)), widened by a uniform random
// offset of ±JitterRatio of the delay. Attempts within one Do call are
// strictly sequential; separate Do calls share no state.
//
// A policy with MaxAttempts 1 (retry.Single) disables retrying entirely,
// which is what non-idempotent calls use.
package retry
