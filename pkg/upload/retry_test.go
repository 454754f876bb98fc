package upload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photoprep/photoprep/pkg/fault"
)

// fastPolicy keeps test wall time negligible.
func fastPolicy(maxAttempts int, kinds ...fault.Kind) Policy {
	return Policy{
		MaxAttempts:       maxAttempts,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          50 * time.Millisecond,
		RetryableKinds:    kinds,
	}
}

func TestExecuteWithRetryFirstAttemptSuccess(t *testing.T) {
	calls, observed := 0, 0
	err := ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, fastPolicy(3, fault.KindNetwork), func(int, time.Duration, error) { observed++ })

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Zero(t, observed, "observer must not fire on first-attempt success")
}

func TestExecuteWithRetryFailTwiceThenSucceed(t *testing.T) {
	calls, observed := 0, 0
	err := ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fault.New(fault.KindNetwork, "net_down", "connection reset")
		}
		return nil
	}, fastPolicy(3, fault.KindNetwork), func(int, time.Duration, error) { observed++ })

	require.NoError(t, err)
	assert.Equal(t, 3, calls, "operation failing twice then succeeding is called exactly 3 times")
	assert.Equal(t, 2, observed, "observer fires exactly twice")
}

func TestExecuteWithRetryExhaustionPreservesIdentity(t *testing.T) {
	terminal := fault.New(fault.KindNetwork, "net_down", "connection reset")
	calls, observed := 0, 0

	err := ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return terminal
	}, fastPolicy(3, fault.KindNetwork), func(int, time.Duration, error) { observed++ })

	assert.Equal(t, 3, calls, "always-failing operation is called exactly MaxAttempts times")
	assert.Equal(t, 2, observed)
	require.Error(t, err)
	assert.Same(t, terminal, err, "terminal error must be reference-identical, not a wrapper")
}

func TestExecuteWithRetryNonRetryableKind(t *testing.T) {
	permission := fault.New(fault.KindPermission, "denied", "camera access denied")
	calls := 0

	err := ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return permission
	}, fastPolicy(5, fault.KindNetwork, fault.KindUpload), nil)

	assert.Equal(t, 1, calls, "non-retryable kinds must never be retried")
	assert.Same(t, permission, err)
}

func TestExecuteWithRetryZeroAttempts(t *testing.T) {
	calls := 0
	err := ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	}, NoRetryPolicy, nil)

	assert.Zero(t, calls, "MaxAttempts 0 performs zero attempts")
	assert.ErrorIs(t, err, ErrNoAttempts)
}

func TestExecuteWithRetryBackoffSchedule(t *testing.T) {
	policy := Policy{
		MaxAttempts:       4,
		InitialDelay:      10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          15 * time.Millisecond,
		RetryableKinds:    []fault.Kind{fault.KindNetwork},
	}

	var delays []time.Duration
	_ = ExecuteWithRetry(context.Background(), func(ctx context.Context) error {
		return fault.New(fault.KindNetwork, "net_down", "connection reset")
	}, policy, func(_ int, delay time.Duration, _ error) {
		delays = append(delays, delay)
	})

	// 10ms, then 20ms capped at 15ms, then capped again.
	require.Len(t, delays, 3)
	assert.Equal(t, 10*time.Millisecond, delays[0])
	assert.Equal(t, 15*time.Millisecond, delays[1])
	assert.Equal(t, 15*time.Millisecond, delays[2])
}

func TestExecuteWithRetryCancellableWait(t *testing.T) {
	policy := Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Hour, // would hang without a cancellable timer
		BackoffMultiplier: 2,
		MaxDelay:          time.Hour,
		RetryableKinds:    []fault.Kind{fault.KindNetwork},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ExecuteWithRetry(ctx, func(ctx context.Context) error {
			return fault.New(fault.KindNetwork, "net_down", "connection reset")
		}, policy, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("backoff wait did not honor cancellation")
	}
}

func TestRetryWrapper(t *testing.T) {
	calls := 0
	wrapped := RetryWrapper(func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return fault.New(fault.KindNetwork, "net_down", "connection reset")
		}
		return nil
	}, fastPolicy(3, fault.KindNetwork))

	require.NoError(t, wrapped(context.Background()))
	assert.Equal(t, 2, calls)

	// The wrapper is reusable and carries the same policy.
	calls = 0
	require.NoError(t, wrapped(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestPolicyRetries(t *testing.T) {
	assert.True(t, DefaultPolicy.Retries(fault.KindNetwork))
	assert.True(t, DefaultPolicy.Retries(fault.KindUpload))
	assert.False(t, DefaultPolicy.Retries(fault.KindValidation))
	assert.False(t, NetworkOnlyPolicy.Retries(fault.KindUpload))
	assert.True(t, CriticalPolicy.Retries(fault.KindProcessing))
}
