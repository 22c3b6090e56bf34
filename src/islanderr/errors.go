// Package islanderr defines the island control plane's error taxonomy as
// named outcome variants rather than exception classes. Kernel code
// constructs and classifies errors through this package and never inspects
// err.Error() text to make a decision. Below the kernel, the driver reports
// missing containers with its own driver.NotFoundError, and the driver and
// database packages recognise a few raw LXD and Postgres failures by their
// message text.
package islanderr

import (
	"errors"
	"fmt"
)

// Kind enumerates the outcome taxonomy from SPEC_FULL §7.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalidState
	KindCapacityExhausted
	KindDriverUnavailable
	KindDriverTimeout
	KindRetryExceeded
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindInvalidState:
		return "invalid_state"
	case KindCapacityExhausted:
		return "capacity_exhausted"
	case KindDriverUnavailable:
		return "driver_unavailable"
	case KindDriverTimeout:
		return "driver_timeout"
	case KindRetryExceeded:
		return "retry_exceeded"
	default:
		return "internal"
	}
}

// Error is the concrete error type carried through the kernel. Message is
// safe to show to a caller; Cause is the wrapped underlying error, if any.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NotFound(message string, cause error) *Error          { return new(KindNotFound, message, cause) }
func AlreadyExists(message string, cause error) *Error     { return new(KindAlreadyExists, message, cause) }
func InvalidState(message string, cause error) *Error      { return new(KindInvalidState, message, cause) }
func CapacityExhausted(message string, cause error) *Error { return new(KindCapacityExhausted, message, cause) }
func DriverUnavailable(message string, cause error) *Error { return new(KindDriverUnavailable, message, cause) }
func DriverTimeout(message string, cause error) *Error     { return new(KindDriverTimeout, message, cause) }
func RetryExceeded(message string, cause error) *Error     { return new(KindRetryExceeded, message, cause) }
func Internal(message string, cause error) *Error          { return new(KindInternal, message, cause) }

// KindOf classifies an arbitrary error, defaulting to KindInternal when it
// is not one of ours.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
