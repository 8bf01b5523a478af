package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unified error code across the scheduler.
type ErrorCode string

// Scheduling error codes
const (
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrCircuitOpen      ErrorCode = "CIRCUIT_OPEN"
	ErrBudgetExceeded   ErrorCode = "BUDGET_EXCEEDED"
	ErrNoValidBids      ErrorCode = "NO_VALID_BIDS"
	ErrResponder        ErrorCode = "RESPONDER_ERROR"
	ErrMalformedMessage ErrorCode = "MALFORMED_MESSAGE"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrUnavailable      ErrorCode = "TRANSIENT_UNAVAILABLE"
)

// Conversation error codes
const (
	ErrConversationNotFound ErrorCode = "CONVERSATION_NOT_FOUND"
	ErrInvalidTransition    ErrorCode = "INVALID_TRANSITION"
	ErrTurnInFlight         ErrorCode = "TURN_IN_FLIGHT"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Retryable   bool      `json:"retryable"`
	ResponderID string    `json:"responder_id,omitempty"`
	Cause       error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithResponder attaches the responsible responder id.
func (e *Error) WithResponder(responderID string) *Error {
	e.ResponderID = responderID
	return e
}

// NewTimeoutError builds the error for an operation that exceeded its deadline.
// Timeouts are retryable.
func NewTimeoutError(operation string, elapsed time.Duration) *Error {
	return &Error{
		Code:      ErrTimeout,
		Message:   fmt.Sprintf("%s timed out after %s", operation, elapsed),
		Retryable: true,
	}
}

// NewCircuitOpenError builds the short-circuit error for an open breaker.
// Not retryable: retrying would defeat the breaker.
func NewCircuitOpenError(responderID string) *Error {
	return &Error{
		Code:        ErrCircuitOpen,
		Message:     fmt.Sprintf("circuit open for responder %s", responderID),
		ResponderID: responderID,
	}
}

// NewBudgetExceededError builds the error for a token budget violation.
// Scope is "conversation" or "responder".
func NewBudgetExceededError(scope string, limit, used int) *Error {
	return &Error{
		Code:    ErrBudgetExceeded,
		Message: fmt.Sprintf("%s token budget exceeded: used %d of %d", scope, used, limit),
	}
}

// NewNoValidBidsError signals that zero responders remained eligible.
// The orchestrator must fall back to round-robin rather than stalling.
func NewNoValidBidsError() *Error {
	return &Error{Code: ErrNoValidBids, Message: "no valid bids"}
}

// NewResponderError wraps an opaque failure from a responder capability.
func NewResponderError(responderID string, cause error) *Error {
	return &Error{
		Code:        ErrResponder,
		Message:     fmt.Sprintf("responder %s failed", responderID),
		ResponderID: responderID,
		Retryable:   true,
		Cause:       cause,
	}
}

// NewMalformedMessageError builds the error for an envelope that fails
// schema validation on ingress.
func NewMalformedMessageError(message string) *Error {
	return &Error{Code: ErrMalformedMessage, Message: message}
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
