// Package fault defines the error taxonomy shared by every pipeline stage.
//
// Errors are classified by Kind, not by concrete type: the retry layer and the
// state machine only ever look at the kind and the Retryable flag. Validation
// and geometry failures are resolved locally with safe fallbacks; transport
// failures travel through the retry policy and surface to the UI unchanged.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind categorizes a pipeline failure.
type Kind string

const (
	KindValidation Kind = "validation" // bad size/type/dimensions, never retryable
	KindGeometry   Kind = "geometry"   // degenerate corner configuration
	KindProcessing Kind = "processing" // warp/enhance/encode failure
	KindUpload     Kind = "upload"     // transport-level failure (non-2xx)
	KindNetwork    Kind = "network"    // connectivity or timeout
	KindPermission Kind = "permission" // access denied, requires user action
	KindStorage    Kind = "storage"    // remote capacity or quota
)

// Error is the typed error carried through the pipeline.
type Error struct {
	Code      string
	Kind      Kind
	Message   string
	Retryable bool
	Details   map[string]any
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// New creates an Error with the default retryability for its kind.
func New(kind Kind, code, message string) *Error {
	return &Error{
		Code:      code,
		Kind:      kind,
		Message:   message,
		Retryable: kind == KindUpload || kind == KindNetwork,
	}
}

// Newf is New with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return New(kind, code, fmt.Sprintf(format, args...))
}

// WithDetail attaches a detail entry and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithRetryable overrides the default retryability.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// KindOf classifies an arbitrary error. Typed pipeline errors report their own
// kind; context and net timeouts classify as network failures; everything else
// is treated as a transport failure.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindNetwork
	}
	return KindUpload
}

// IsRetryable reports whether an error may be retried. Unknown errors inherit
// the default retryability of their classified kind.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable
	}
	k := KindOf(err)
	return k == KindUpload || k == KindNetwork
}
