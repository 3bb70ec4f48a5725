package carrier

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies a gateway failure.
type FailureKind string

const (
	FailureTimeout   FailureKind = "timeout"
	FailureRejected  FailureKind = "rejected"
	FailureTransient FailureKind = "transient"
)

// Error is a typed carrier failure.
type Error struct {
	Carrier    string
	Kind       FailureKind
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("carrier %s %s: %s: %v", e.Carrier, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("carrier %s %s: %s", e.Carrier, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable is false only for rejections: the carrier refused this input.
func (e *Error) Retryable() bool {
	return e.Kind != FailureRejected
}

func Timeout(carrier string, cause error) *Error {
	return &Error{Carrier: carrier, Kind: FailureTimeout, Message: "request timed out", Cause: cause}
}

func Rejected(carrier string, statusCode int, msg string) *Error {
	return &Error{Carrier: carrier, Kind: FailureRejected, Message: msg, StatusCode: statusCode}
}

func Transient(carrier string, statusCode int, msg string, cause error) *Error {
	return &Error{Carrier: carrier, Kind: FailureTransient, Message: msg, StatusCode: statusCode, Cause: cause}
}

// Classify maps any gateway error onto a FailureKind. Untyped errors are transient.
func Classify(err error) FailureKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	return FailureTransient
}
