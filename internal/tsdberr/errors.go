// Package tsdberr classifies errors raised by TSDB client operations into
// retryable and fatal buckets, the way the Retry Executor needs them
// classified, and defines the error kinds each component is required to
// surface to its caller.
package tsdberr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories from the error handling
// design: Unreachable is retryable, everything else is fatal within the
// scope of the operation that raised it.
type Kind string

const (
	KindUnreachable        Kind = "unreachable"
	KindQueryError         Kind = "query_error"
	KindWriteRejected      Kind = "write_rejected"
	KindAuthFailed         Kind = "auth_failed"
	KindConfigurationError Kind = "configuration_error"
)

// Error wraps an underlying cause with a Kind so the retry layer and the
// backup manager can branch on classification without string matching.
type Error struct {
	Kind    Kind
	Op      string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs a classified error for operation op.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Unreachable wraps cause as a retryable transport failure.
func Unreachable(op string, cause error) *Error {
	return New(KindUnreachable, op, cause)
}

// QueryError wraps cause as a fatal, non-retryable malformed/rejected query.
func QueryError(op string, cause error) *Error {
	return New(KindQueryError, op, cause)
}

// WriteRejected wraps cause as a fatal, non-retryable destination rejection.
func WriteRejected(op string, cause error) *Error {
	return New(KindWriteRejected, op, cause)
}

// AuthFailed wraps cause as a fatal authentication failure.
func AuthFailed(op string, cause error) *Error {
	return New(KindAuthFailed, op, cause)
}

// ConfigurationError wraps cause as an invalid-or-missing-config failure.
func ConfigurationError(op string, cause error) *Error {
	return New(KindConfigurationError, op, cause)
}

// IsRetryable reports whether err should be retried by the Retry Executor.
// Only KindUnreachable is retryable; everything else, including unclassified
// errors, is treated as fatal for the current operation scope.
func IsRetryable(err error) bool {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind == KindUnreachable
	}
	return false
}

// Classify extracts the Kind from err, if it is or wraps an *Error.
// The second return value is false when err carries no classification.
func Classify(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, true
	}
	return "", false
}
