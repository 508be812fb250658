package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Domain errors
	ErrorTypeValidation ErrorType = "VALIDATION"
	ErrorTypeNotFound   ErrorType = "NOT_FOUND"
	ErrorTypeConflict   ErrorType = "CONFLICT"

	// Ingestion errors
	ErrorTypeOutOfOrderSegment ErrorType = "OUT_OF_ORDER_SEGMENT"

	// Extraction errors
	ErrorTypeAgentUnavailable   ErrorType = "AGENT_UNAVAILABLE"
	ErrorTypeAgentEmptyResponse ErrorType = "AGENT_EMPTY_RESPONSE"
	ErrorTypeJobTimeout         ErrorType = "JOB_TIMEOUT"
	ErrorTypeDuplicateJob       ErrorType = "DUPLICATE_JOB"

	// Application errors
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
	ErrorTypeInternal     ErrorType = "INTERNAL"
	ErrorTypeRateLimit    ErrorType = "RATE_LIMIT"

	// Infrastructure errors
	ErrorTypeDatabase ErrorType = "DATABASE"
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		StackTrace: captureStackTrace(),
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewOutOfOrderSegmentError creates an out-of-order segment error.
// These are non-fatal: the segment is still appended, callers only log them.
func NewOutOfOrderSegmentError(sessionID string, lastStart, newStart float64) *AppError {
	return &AppError{
		Type:    ErrorTypeOutOfOrderSegment,
		Message: fmt.Sprintf("segment start time regressed in session %s", sessionID),
		Details: map[string]interface{}{
			"last_start": lastStart,
			"new_start":  newStart,
		},
		HTTPStatus: http.StatusAccepted,
		StackTrace: captureStackTrace(),
	}
}

// NewAgentUnavailableError creates an agent transport failure error
func NewAgentUnavailableError(kind string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeAgentUnavailable,
		Message:    fmt.Sprintf("extraction agent '%s' is unavailable", kind),
		Cause:      err,
		HTTPStatus: http.StatusBadGateway,
		StackTrace: captureStackTrace(),
	}
}

// NewAgentEmptyResponseError creates an error for an ambiguous 200 with no
// parseable body. An empty body is indistinguishable from a crash and must
// not be conflated with "zero extracted items".
func NewAgentEmptyResponseError(kind string) *AppError {
	return &AppError{
		Type:       ErrorTypeAgentEmptyResponse,
		Message:    fmt.Sprintf("extraction agent '%s' returned an empty response", kind),
		HTTPStatus: http.StatusBadGateway,
		StackTrace: captureStackTrace(),
	}
}

// NewJobTimeoutError creates an error for a job whose deadline was swept
// with no callback
func NewJobTimeoutError(jobID, kind string) *AppError {
	return &AppError{
		Type:       ErrorTypeJobTimeout,
		Message:    fmt.Sprintf("extraction job '%s' (%s) timed out", jobID, kind),
		HTTPStatus: http.StatusGatewayTimeout,
		StackTrace: captureStackTrace(),
	}
}

// NewDuplicateJobError creates an error for a finalize re-trigger while a
// job for the same kind is still pending
func NewDuplicateJobError(conversationID, kind string) *AppError {
	return &AppError{
		Type:       ErrorTypeDuplicateJob,
		Message:    fmt.Sprintf("a '%s' job is already pending for conversation %s", kind, conversationID),
		HTTPStatus: http.StatusConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewRateLimitError creates a rate limit error
func NewRateLimitError(limit int, window string) *AppError {
	return &AppError{
		Type:       ErrorTypeRateLimit,
		Message:    fmt.Sprintf("rate limit exceeded: %d requests per %s", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
		StackTrace: captureStackTrace(),
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeDatabase,
		Message:    fmt.Sprintf("database operation '%s' failed", operation),
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsOutOfOrderSegment checks if an error is an out-of-order segment error
func IsOutOfOrderSegment(err error) bool {
	return IsType(err, ErrorTypeOutOfOrderSegment)
}

// IsAgentUnavailable checks if an error is an agent transport failure
func IsAgentUnavailable(err error) bool {
	return IsType(err, ErrorTypeAgentUnavailable)
}

// IsAgentEmptyResponse checks if an error is an ambiguous empty agent response
func IsAgentEmptyResponse(err error) bool {
	return IsType(err, ErrorTypeAgentEmptyResponse)
}

// IsJobTimeout checks if an error is a swept job deadline
func IsJobTimeout(err error) bool {
	return IsType(err, ErrorTypeJobTimeout)
}

// IsDuplicateJob checks if an error is a duplicate job registration
func IsDuplicateJob(err error) bool {
	return IsType(err, ErrorTypeDuplicateJob)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to message
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
