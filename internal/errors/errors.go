package errors

import (
	stderrors "errors"
	"fmt"
)

// HukmError is the structured error type for hukm.
// It carries an error code, category, and retryability so callers can map
// failures onto the HTTP contract without string matching.
type HukmError struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_QUERY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Field names the offending request field for validation errors.
	Field string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *HukmError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *HukmError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with HukmError.
func (e *HukmError) Is(target error) bool {
	if t, ok := target.(*HukmError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *HukmError) WithDetail(key, value string) *HukmError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithField names the request field that failed validation.
func (e *HukmError) WithField(field string) *HukmError {
	e.Field = field
	return e
}

// New creates a new HukmError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *HukmError {
	return &HukmError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a HukmError around an existing error with a new message.
// Returns nil when err is nil.
func Wrap(code string, message string, err error) *HukmError {
	if err == nil {
		return nil
	}
	return New(code, message, err)
}

// InvalidQuery creates an error for empty or malformed query text.
func InvalidQuery(message string) *HukmError {
	return New(ErrCodeInvalidQuery, message, nil).WithField("query_text")
}

// InvalidLimit creates an error for an out-of-range limit parameter.
func InvalidLimit(got, min, max int) *HukmError {
	return New(ErrCodeInvalidLimit,
		fmt.Sprintf("limit %d outside [%d,%d]", got, min, max), nil).
		WithField("limit")
}

// InvalidThreshold creates an error for an out-of-range score threshold.
func InvalidThreshold(got float64) *HukmError {
	return New(ErrCodeInvalidThreshold,
		fmt.Sprintf("score_threshold %g outside [0,1]", got), nil).
		WithField("score_threshold")
}

// IndexUnavailable creates a retryable error for an unreachable backing store.
func IndexUnavailable(message string, cause error) *HukmError {
	return New(ErrCodeIndexUnavailable, message, cause)
}

// Internal creates an internal error.
func Internal(message string, cause error) *HukmError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable. The error chain is
// walked, so a HukmError wrapped by fmt.Errorf still reports correctly.
func IsRetryable(err error) bool {
	var he *HukmError
	if stderrors.As(err, &he) {
		return he.Retryable
	}
	return false
}

// IsValidation reports whether the error is a request validation error.
func IsValidation(err error) bool {
	var he *HukmError
	if stderrors.As(err, &he) {
		return he.Category == CategoryValidation
	}
	return false
}

// GetCode extracts the error code from the first HukmError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var he *HukmError
	if stderrors.As(err, &he) {
		return he.Code
	}
	return ""
}

// GetField extracts the offending field name, if any.
func GetField(err error) string {
	var he *HukmError
	if stderrors.As(err, &he) {
		return he.Field
	}
	return ""
}
