// Package upload transmits the corrected asset to the remote service and
// drives bounded retry with exponential backoff. Failures are classified by
// kind; errors outside a policy's retryable set, or surviving the final
// attempt, propagate to the caller untouched.
package upload

import (
	"time"

	"github.com/photoprep/photoprep/pkg/fault"
)

// Policy bounds the retry behavior of one call site. Policies are value
// objects: the canonical instances below are never mutated at call time.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	RetryableKinds    []fault.Kind
}

// Retries reports whether the policy retries failures of the given kind.
func (p Policy) Retries(kind fault.Kind) bool {
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Canonical policies.
var (
	// NetworkOnlyPolicy retries connectivity failures and nothing else.
	NetworkOnlyPolicy = Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          10 * time.Second,
		RetryableKinds:    []fault.Kind{fault.KindNetwork},
	}

	// DefaultPolicy is the standard upload policy.
	DefaultPolicy = Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          30 * time.Second,
		RetryableKinds:    []fault.Kind{fault.KindNetwork, fault.KindUpload},
	}

	// CriticalPolicy is for must-succeed transfers; it additionally retries
	// processing failures and allows more attempts.
	CriticalPolicy = Policy{
		MaxAttempts:       5,
		InitialDelay:      500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxDelay:          time.Minute,
		RetryableKinds:    []fault.Kind{fault.KindNetwork, fault.KindUpload, fault.KindProcessing},
	}

	// NoRetryPolicy explicitly disables retries for a call site: zero
	// attempts are performed and the call fails immediately.
	NoRetryPolicy = Policy{MaxAttempts: 0}
)
