// Package domain holds the error taxonomy shared by every layer of the booking service.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel kinds. A DomainError unwraps to exactly one of these.
var (
	ErrValidation       = errors.New("validation failed")
	ErrConflict         = errors.New("conflict")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrGateway          = errors.New("payment gateway error")
	ErrWebhookSignature = errors.New("invalid webhook signature")
	ErrStaleTransition  = errors.New("stale transition")
)

// DomainError carries a sentinel kind, a human readable message and an optional cause.
type DomainError struct {
	Err     error
	Message string
	Cause   error

	// Transient is only meaningful for gateway errors: true when a retry with the
	// same idempotency key may succeed (timeouts, 5xx, rate limiting).
	Transient bool
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Err, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *DomainError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

// NewValidationError reports bad input that must not be retried as-is.
func NewValidationError(format string, args ...any) *DomainError {
	return &DomainError{Err: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NewConflictError reports a state conflict such as an unavailable room.
func NewConflictError(message string) *DomainError {
	return &DomainError{Err: ErrConflict, Message: message}
}

// NewNotFoundError reports a missing entity.
func NewNotFoundError(entity, id string) *DomainError {
	return &DomainError{Err: ErrNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// NewForbiddenError reports a caller that is not allowed to act on a resource.
func NewForbiddenError(message string) *DomainError {
	return &DomainError{Err: ErrForbidden, Message: message}
}

// NewUnauthorizedError reports a missing or invalid identity.
func NewUnauthorizedError(message string) *DomainError {
	return &DomainError{Err: ErrUnauthorized, Message: message}
}

// NewInvalidStateError reports a transition the state machine does not allow.
func NewInvalidStateError(from, to string) *DomainError {
	return &DomainError{Err: ErrInvalidState, Message: fmt.Sprintf("cannot transition from %s to %s", from, to)}
}

// NewGatewayError wraps a failure of the external payment gateway.
func NewGatewayError(op string, transient bool, cause error) *DomainError {
	return &DomainError{Err: ErrGateway, Message: op, Cause: cause, Transient: transient}
}

// NewWebhookSignatureError reports a webhook payload that failed verification.
func NewWebhookSignatureError(cause error) *DomainError {
	return &DomainError{Err: ErrWebhookSignature, Message: "signature verification failed", Cause: cause}
}

// NewStaleTransitionError reports an action that arrived after the booking moved on.
func NewStaleTransitionError(bookingID, status, action string) *DomainError {
	return &DomainError{
		Err:     ErrStaleTransition,
		Message: fmt.Sprintf("booking %s is %s, %s already handled", bookingID, status, action),
	}
}

// IsTransient reports whether err is a gateway error worth retrying.
func IsTransient(err error) bool {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Transient
	}
	return false
}
