// Package apperr defines the payout engine's business-visible error taxonomy.
//
// Kind values are the business-visible kinds from the error handling
// design, not Go type names. Each ServiceError wraps an underlying cause
// (if any) so callers can still errors.Is/errors.As through it.
package apperr

import "fmt"

// Kind enumerates the business-visible error kinds.
type Kind string

const (
	KindInvalidRequest        Kind = "invalid_request"
	KindInsufficientBalance   Kind = "insufficient_balance"
	KindNotAuthorized         Kind = "not_authorized"
	KindDuplicateKeyCollision Kind = "duplicate_key_collision"
	KindTransientSubmit       Kind = "transient_submit"
	KindPermanentSubmit       Kind = "permanent_submit"
	KindProcessingError       Kind = "processing_error"
	KindSLAViolation          Kind = "sla_violation"
	KindHoldExpired           Kind = "hold_expired"
	KindNotFound              Kind = "not_found"
	KindNotCancellable        Kind = "not_cancellable"
	KindNotRetryable          Kind = "not_retryable"
	KindAlreadyResolved       Kind = "already_resolved"
)

// ServiceError is the error type returned across all component boundaries
// that need to surface a business-visible kind to a caller.
type ServiceError struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Cause: cause}
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

// Is reports whether err is a *ServiceError of the given kind.
func Is(err error, kind Kind) bool {
	se, ok := err.(*ServiceError)
	if !ok {
		return false
	}
	return se.Kind == kind
}

// sentinelError is a lightweight string-based error, matching the
// teacher's meteringError pattern for package-local invariants that
// don't need a business Kind attached.
type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const (
	ErrNotFound             = sentinelError("not found")
	ErrAlreadyExists         = sentinelError("already exists")
	ErrNoActiveHold          = sentinelError("no active hold")
	ErrHoldAlreadyTerminal   = sentinelError("hold already released or reversed")
	ErrInvalidTransition     = sentinelError("invalid status transition")
	ErrConnectorNotFound     = sentinelError("connector not found")
	ErrBatchNotCollecting    = sentinelError("batch is not in collecting state")
	ErrBatchNotLocked        = sentinelError("batch is not locked")
)
