// Package errors provides standardized error handling for the quote engine.
package errors

import (
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeConflict          ErrorCode = "CONFLICT"

	ErrCodePersistenceFailure ErrorCode = "PERSISTENCE_FAILURE"
	ErrCodeDeliveryFailure    ErrorCode = "DELIVERY_FAILURE"
	ErrCodeTemplateFailure    ErrorCode = "TEMPLATE_FAILURE"

	ErrCodeRevisionPending ErrorCode = "REVISION_PENDING"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is lets errors.Is match two StandardErrors by code.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	return ok && t.Code == e.Code
}

// NewInvalidTransitionError creates a non-retryable lifecycle error.
func NewInvalidTransitionError(entity, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Status transition not allowed",
		Details:   fmt.Sprintf("entity: %s, from: %s, to: %s", entity, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConflictError is returned when a conditional update lost to a concurrent writer.
func NewConflictError(entity, id, status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConflict,
		Message:   "Conditional update did not match current state",
		Details:   fmt.Sprintf("entity: %s, id: %s, status: %s", entity, id, status),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceFailureError creates a retryable store error. The sweep
// retries these implicitly on its next tick.
func NewPersistenceFailureError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailure,
		Message:   "Quote store operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryFailureError creates a non-retryable gateway error. Delivery
// failures are logged per recipient and never retried automatically.
func NewDeliveryFailureError(channel, recipientID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryFailure,
		Message:   "Delivery gateway call failed",
		Details:   fmt.Sprintf("channel: %s, recipientId: %s, error: %s", channel, recipientID, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTemplateFailureError creates a non-retryable rendering error.
func NewTemplateFailureError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTemplateFailure,
		Message:   "Notification template rendering failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRevisionPendingError is returned when a second revision request is
// submitted while one is still pending on the same quote response.
func NewRevisionPendingError(quoteResponseID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRevisionPending,
		Message:   "A pending revision request already exists",
		Details:   fmt.Sprintf("quoteResponseId: %s", quoteResponseID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotFoundError creates a non-retryable lookup error.
func NewNotFoundError(entity, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   "Record not found",
		Details:   fmt.Sprintf("entity: %s, id: %s", entity, id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsRetryable reports whether the error is a retryable StandardError.
func IsRetryable(err error) bool {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr.Retryable
	}
	return false
}

// CodeOf extracts the error code, or "INTERNAL_ERROR" for foreign errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr.Code
	}
	return "INTERNAL_ERROR"
}
