// Package errs provides the kind-tagged error taxonomy used across the pipeline.
//
// Components classify failures rather than inspecting provider-specific errors:
// transient network faults are retried, empty provider responses trigger failover,
// timeouts invoke documented fallbacks, cancellation surfaces upward untouched.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for recovery policy.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientNetwork
	KindRateLimited
	KindProviderEmpty
	KindTimeout
	KindCancelled
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindRateLimited:
		return "rate_limited"
	case KindProviderEmpty:
		return "provider_empty"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrProviderEmpty indicates a provider answered with a valid shape but no data.
	ErrProviderEmpty = &Error{Kind: KindProviderEmpty, Msg: "provider returned no data"}
	// ErrShuttingDown indicates an operation was refused because shutdown is in progress.
	ErrShuttingDown = &Error{Kind: KindCancelled, Msg: "shutting down"}
)

// Error is a kind-tagged error with an operation label.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two tagged errors by kind, so errors.Is(err, ErrProviderEmpty)
// works across independently constructed instances.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// E wraps err with a kind and operation label.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Tag creates a new tagged error from a message.
func Tag(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// KindOf classifies any error. Context errors map to their pipeline kinds;
// untagged errors are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsCancelled reports whether err represents shutdown propagation.
// Cleanup paths must re-raise these rather than absorb them.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled
}

// IsTimeout reports whether err is a bounded wait that elapsed. A timeout is
// not a cancellation: it is a normal failure followed by the documented fallback.
func IsTimeout(err error) bool {
	return KindOf(err) == KindTimeout
}

// Retryable reports whether the retry layer should attempt err again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransientNetwork, KindUnknown:
		return true
	default:
		return false
	}
}
