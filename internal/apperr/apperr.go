// Package apperr is the error taxonomy shared by the shipping core and its transports.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindInvalidState       Kind = "INVALID_STATE"
	KindCarrierIntegration Kind = "CARRIER_INTEGRATION"
	KindConflict           Kind = "CONFLICT"
	KindStorage            Kind = "STORAGE"
)

// Error is a classified failure. Two errors match under errors.Is when their kinds match.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidState       = &Error{Kind: KindInvalidState}
	ErrCarrierIntegration = &Error{Kind: KindCarrierIntegration}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrStorage            = &Error{Kind: KindStorage}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// Conflict is always retryable: the caller lost a race and may try again.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...), Retryable: true}
}

func CarrierIntegration(cause error, retryable bool, format string, args ...any) *Error {
	return &Error{
		Kind:      KindCarrierIntegration,
		Message:   fmt.Sprintf(format, args...),
		Retryable: retryable,
		Cause:     cause,
	}
}

// Storage errors are surfaced as retryable; the core never retries them itself.
func Storage(cause error, format string, args ...any) *Error {
	return &Error{
		Kind:      KindStorage,
		Message:   fmt.Sprintf(format, args...),
		Retryable: true,
		Cause:     cause,
	}
}

// FromStore keeps classified errors and turns anything else into a storage error.
func FromStore(err error, op string) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return Storage(err, "%s", op)
}

// KindOf returns the kind of the first classified error in the chain, or "".
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsTerminal reports failures that will not succeed on retry with the same input.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindInvalidState:
		return true
	case KindCarrierIntegration:
		return !IsRetryable(err)
	default:
		return false
	}
}
