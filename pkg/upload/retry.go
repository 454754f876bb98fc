package upload

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/photoprep/photoprep/pkg/fault"
)

// ErrNoAttempts is returned by policies with MaxAttempts of zero.
var ErrNoAttempts = errors.New("retry policy has no attempts configured")

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) error

// RetryObserver is invoked before each backoff wait with the number of the
// attempt that just failed, the upcoming delay and the failure. On the
// failing path it fires exactly attempts-1 times and never on first-attempt
// success.
type RetryObserver func(attempt int, delay time.Duration, err error)

// ExecuteWithRetry runs op under the policy. The delay before attempt n+1 is
// min(MaxDelay, InitialDelay * BackoffMultiplier^(n-1)) and the wait is a
// cancellable timer honoring ctx. Errors whose kind is outside the policy's
// retryable set, and the error of the final attempt, are returned untouched.
func ExecuteWithRetry(ctx context.Context, op Operation, policy Policy, onRetry RetryObserver) error {
	if policy.MaxAttempts <= 0 {
		return ErrNoAttempts
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = policy.InitialDelay
	expo.RandomizationFactor = 0
	expo.Multiplier = policy.BackoffMultiplier
	expo.MaxInterval = policy.MaxDelay
	expo.MaxElapsedTime = 0
	expo.Reset()

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !policy.Retries(fault.KindOf(err)) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(policy.MaxAttempts-1)), ctx)
	return backoff.RetryNotify(wrapped, b, notify)
}

// RetryWrapper binds an operation to a policy, for callers that want a
// reusable pre-configured call.
func RetryWrapper(op Operation, policy Policy) func(context.Context) error {
	return func(ctx context.Context) error {
		return ExecuteWithRetry(ctx, op, policy, nil)
	}
}
