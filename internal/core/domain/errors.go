package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of a session error.
type ErrorType string

const (
	// ErrorTypePermissionDenied indicates capability access was declined.
	// Recoverable by retesting after a settings change.
	ErrorTypePermissionDenied ErrorType = "permission_denied"

	// ErrorTypeDeviceUnavailable indicates hardware is busy or missing.
	ErrorTypeDeviceUnavailable ErrorType = "device_unavailable"

	// ErrorTypeNetworkDegraded indicates a poor link. Always overridable.
	ErrorTypeNetworkDegraded ErrorType = "network_degraded"

	// ErrorTypeEngineInitialization indicates the conferencing engine could
	// not start. Fatal for the current attempt.
	ErrorTypeEngineInitialization ErrorType = "engine_initialization"

	// ErrorTypeFeedbackSubmission indicates feedback could not be delivered.
	// Never blocks closing the session.
	ErrorTypeFeedbackSubmission ErrorType = "feedback_submission"

	// ErrorTypeIneligibleSession indicates the appointment cannot be joined by video.
	ErrorTypeIneligibleSession ErrorType = "ineligible_session"

	// ErrorTypeReadinessBlocked indicates join was attempted without a
	// sufficient override.
	ErrorTypeReadinessBlocked ErrorType = "readiness_blocked"

	// ErrorTypeInvalidTransition indicates an operation not valid in the
	// current call state.
	ErrorTypeInvalidTransition ErrorType = "invalid_transition"

	// ErrorTypeInvalidFeedback indicates a malformed feedback record.
	ErrorTypeInvalidFeedback ErrorType = "invalid_feedback"

	// ErrorTypeInvalidRequest indicates a malformed request.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeUpstream indicates an external collaborator failed.
	ErrorTypeUpstream ErrorType = "upstream"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeHardBlock         ErrorCode = "hard_block"
	ErrorCodeSoftBlock         ErrorCode = "soft_block"
	ErrorCodeNotVideo          ErrorCode = "not_video"
	ErrorCodeCancelled         ErrorCode = "cancelled"
	ErrorCodeRatingOutOfRange  ErrorCode = "rating_out_of_range"
	ErrorCodeProbeInProgress   ErrorCode = "probe_in_progress"
	ErrorCodeAttemptInProgress ErrorCode = "attempt_in_progress"
	ErrorCodeUnknownDevice     ErrorCode = "unknown_device"
)

// Error is the canonical error returned across the session core.
type Error struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Capability is set for device and network errors.
	Capability CapabilityKind `json:"capability,omitempty"`

	// Retryable reports whether the same operation may succeed later.
	Retryable bool `json:"retryable,omitempty"`

	// Readiness carries the snapshot that caused a readiness_blocked error.
	Readiness *ReadinessSnapshot `json:"readiness,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatusCode returns the status code used by the local host API.
func (e *Error) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeInvalidFeedback:
		return http.StatusBadRequest
	case ErrorTypePermissionDenied:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeInvalidTransition, ErrorTypeReadinessBlocked:
		return http.StatusConflict
	case ErrorTypeIneligibleSession:
		return http.StatusUnprocessableEntity
	case ErrorTypeDeviceUnavailable, ErrorTypeNetworkDegraded:
		return http.StatusServiceUnavailable
	case ErrorTypeEngineInitialization, ErrorTypeFeedbackSubmission, ErrorTypeUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new session error.
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *Error) WithCode(code ErrorCode) *Error {
	e.Code = code
	return e
}

// WithCapability sets the capability the error refers to.
func (e *Error) WithCapability(kind CapabilityKind) *Error {
	e.Capability = kind
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithCause attaches the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// Convenience constructors for common errors

// ErrPermissionDenied creates a permission error for a capability.
func ErrPermissionDenied(kind CapabilityKind, message string) *Error {
	return NewError(ErrorTypePermissionDenied, message).
		WithCapability(kind).
		WithRetryable(true)
}

// ErrDeviceUnavailable creates a busy-or-missing hardware error.
func ErrDeviceUnavailable(kind CapabilityKind, message string) *Error {
	return NewError(ErrorTypeDeviceUnavailable, message).
		WithCapability(kind).
		WithRetryable(true)
}

// ErrEngineInitialization creates a conferencing engine start-up error.
func ErrEngineInitialization(message string) *Error {
	return NewError(ErrorTypeEngineInitialization, message).WithRetryable(true)
}

// ErrFeedbackSubmission creates a feedback delivery error.
func ErrFeedbackSubmission(message string) *Error {
	return NewError(ErrorTypeFeedbackSubmission, message).WithRetryable(true)
}

// ErrIneligibleSession creates an error for appointments that cannot be joined.
func ErrIneligibleSession(code ErrorCode, message string) *Error {
	return NewError(ErrorTypeIneligibleSession, message).WithCode(code)
}

// ErrReadinessBlocked creates the error returned when join lacks a sufficient
// override. The code distinguishes hard from soft blocks.
func ErrReadinessBlocked(snapshot ReadinessSnapshot) *Error {
	code := ErrorCodeSoftBlock
	msg := "network quality is poor; confirm to join anyway"
	if snapshot.BlockLevel() == BlockHard {
		code = ErrorCodeHardBlock
		msg = "device checks have not passed; explicit confirmation is required to join"
	}
	e := NewError(ErrorTypeReadinessBlocked, msg).WithCode(code)
	e.Readiness = &snapshot
	return e
}

// ErrInvalidTransition creates an error for an operation not allowed in state.
func ErrInvalidTransition(state CallState, operation string) *Error {
	return NewError(ErrorTypeInvalidTransition,
		fmt.Sprintf("cannot %s while session is %s", operation, state))
}

// ErrInvalidFeedback creates a feedback validation error.
func ErrInvalidFeedback(message string) *Error {
	return NewError(ErrorTypeInvalidFeedback, message)
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *Error {
	return NewError(ErrorTypeInvalidRequest, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *Error {
	return NewError(ErrorTypeNotFound, message)
}

// ErrUpstream creates an error for a failing external collaborator.
func ErrUpstream(message string) *Error {
	return NewError(ErrorTypeUpstream, message).WithRetryable(true)
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// TypeOf returns the ErrorType of err, or the empty string for foreign errors.
func TypeOf(err error) ErrorType {
	if e, ok := AsError(err); ok {
		return e.Type
	}
	return ""
}
