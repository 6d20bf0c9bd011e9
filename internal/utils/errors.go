// internal/utils/errors.go

// Package utils provides logging and structured error helpers shared by
// every vinparts component.
package utils

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorCode categorises failures of a lookup.
type ErrorCode string

const (
	// Fetch failures, one per failure kind a strategy can report
	ErrCodeNetworkFailure      ErrorCode = "NETWORK_FAILURE"
	ErrCodeChallengeDetected   ErrorCode = "CHALLENGE_DETECTED"
	ErrCodeChallengeUnresolved ErrorCode = "CHALLENGE_UNRESOLVED"
	ErrCodeParseFailure        ErrorCode = "PARSE_FAILURE"
	ErrCodeUpstreamAuth        ErrorCode = "UPSTREAM_AUTH_FAILURE"

	// Orchestrator
	ErrCodeAllMethodsExhausted ErrorCode = "ALL_METHODS_EXHAUSTED"
	ErrCodeInvalidVIN          ErrorCode = "INVALID_VIN"

	// Infrastructure
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	ErrCodeBrowserFailed ErrorCode = "BROWSER_FAILED"
	ErrCodeCacheFailure  ErrorCode = "CACHE_FAILURE"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
)

// StructuredError provides rich error information for better debugging and handling
type StructuredError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a StructuredError carrying the same code.
func (e *StructuredError) Is(target error) bool {
	if se, ok := target.(*StructuredError); ok {
		return e.Code == se.Code
	}
	return false
}

// ErrorBuilder provides a fluent interface for creating structured errors
type ErrorBuilder struct {
	error *StructuredError
}

// NewError creates a new error builder
func NewError(code ErrorCode, message string) *ErrorBuilder {
	return &ErrorBuilder{
		error: &StructuredError{
			Code:      code,
			Message:   message,
			Timestamp: time.Now(),
		},
	}
}

// WithCause sets the underlying cause
func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.error.Cause = cause
	return eb
}

// WithContext adds contextual information
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	if eb.error.Context == nil {
		eb.error.Context = make(map[string]interface{})
	}
	eb.error.Context[key] = value
	return eb
}

// WithRetryable marks the error as retryable
func (eb *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	eb.error.Retryable = retryable
	return eb
}

// Build returns the constructed error
func (eb *ErrorBuilder) Build() *StructuredError {
	return eb.error
}

// Sentinels for errors.Is comparisons against a code.
var (
	ErrChallengeDetected   = &StructuredError{Code: ErrCodeChallengeDetected}
	ErrChallengeUnresolved = &StructuredError{Code: ErrCodeChallengeUnresolved}
	ErrUpstreamAuth        = &StructuredError{Code: ErrCodeUpstreamAuth}
	ErrAllMethodsExhausted = &StructuredError{Code: ErrCodeAllMethodsExhausted}
	ErrInvalidVIN          = &StructuredError{Code: ErrCodeInvalidVIN}
	ErrInvalidConfig       = &StructuredError{Code: ErrCodeInvalidConfig}
)

// WrapError wraps an existing error in a structured error
func WrapError(err error, code ErrorCode, message string) *StructuredError {
	return NewError(code, message).WithCause(err).Build()
}

// CodeOf returns the code of the first StructuredError in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsRetryableError reports whether a request that failed with err is worth
// repeating. Structured errors carry the answer; transport errors are judged
// by timeout status and message.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Retryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errorStr := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"eof",
		"temporary failure",
		"502 bad gateway",
		"503 service unavailable",
		"504 gateway timeout",
	} {
		if strings.Contains(errorStr, pattern) {
			return true
		}
	}
	return false
}
