package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error types for the Vision Read worker
 *
 * Every fallible operation returns one of these as an explicit error value.
 * Codes are stable strings; they are stored in the job table as-is.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Job lifecycle errors
	ErrorSubmissionFailed   ErrorCode = "SUBMISSION_FAILED"
	ErrorPollTimeout        ErrorCode = "POLL_TIMEOUT"
	ErrorPollCancelled      ErrorCode = "POLL_CANCELLED"
	ErrorJobFailed          ErrorCode = "JOB_FAILED"
	ErrorServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrorParseFailed        ErrorCode = "PARSE_FAILED"

	// Query errors
	ErrorIndexOutOfRange ErrorCode = "INDEX_OUT_OF_RANGE"
	ErrorInvalidPattern  ErrorCode = "INVALID_PATTERN"

	// Input and storage errors
	ErrorUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorStorageFailed     ErrorCode = "STORAGE_FAILED"
)

// Sentinels for errors.Is. A sentinel matches any ProcessingError with the same code.
var (
	ErrSubmission        = &ProcessingError{Code: ErrorSubmissionFailed}
	ErrTimeout           = &ProcessingError{Code: ErrorPollTimeout}
	ErrCancelled         = &ProcessingError{Code: ErrorPollCancelled}
	ErrJobFailed         = &ProcessingError{Code: ErrorJobFailed}
	ErrUnavailable       = &ProcessingError{Code: ErrorServiceUnavailable}
	ErrParse             = &ProcessingError{Code: ErrorParseFailed}
	ErrIndexOutOfRange   = &ProcessingError{Code: ErrorIndexOutOfRange}
	ErrInvalidPattern    = &ProcessingError{Code: ErrorInvalidPattern}
	ErrUnsupportedFormat = &ProcessingError{Code: ErrorUnsupportedFormat}
	ErrStorage           = &ProcessingError{Code: ErrorStorageFailed}
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code       ErrorCode
	Message    string
	JobID      string
	StatusCode int // HTTP status observed, 0 when not applicable
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a sentinel (no message) carrying the same code.
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Code == e.Code
}

// CodeOf returns the code of the first ProcessingError in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsPollError reports whether err is one of the terminal polling outcomes.
func IsPollError(err error) bool {
	switch CodeOf(err) {
	case ErrorPollTimeout, ErrorPollCancelled, ErrorJobFailed, ErrorServiceUnavailable, ErrorParseFailed:
		return true
	}
	return false
}

// Factory functions for common errors

func NewSubmissionError(statusCode int, message string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorSubmissionFailed,
		Message:    message,
		StatusCode: statusCode,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"status_code": statusCode,
		},
		Cause: cause,
	}
}

func NewPollTimeoutError(handle string, attempts int, elapsed time.Duration) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPollTimeout,
		Message:   fmt.Sprintf("read operation '%s' not finished after %d attempts (%v)", handle, attempts, elapsed.Round(time.Millisecond)),
		JobID:     handle,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
			"elapsed":  elapsed.String(),
		},
	}
}

func NewPollCancelledError(handle string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorPollCancelled,
		Message:   fmt.Sprintf("polling of '%s' cancelled", handle),
		JobID:     handle,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewJobFailedError(handle string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorJobFailed,
		Message:   fmt.Sprintf("Read result retrieval failed for '%s', document will not be processed", handle),
		JobID:     handle,
		Timestamp: time.Now(),
	}
}

func NewUnavailableError(handle string, attempts int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorServiceUnavailable,
		Message:   fmt.Sprintf("read results for '%s' unavailable after %d attempts", handle, attempts),
		JobID:     handle,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"attempts": attempts,
		},
		Cause: cause,
	}
}

func NewParseError(what string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorParseFailed,
		Message:   fmt.Sprintf("failed to parse %s", what),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewIndexError(level string, index, count int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorIndexOutOfRange,
		Message:   fmt.Sprintf("%s index %d out of range [0, %d)", level, index, count),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"level": level,
			"index": index,
			"count": count,
		},
	}
}

func NewPatternError(pattern string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidPattern,
		Message:   fmt.Sprintf("invalid search pattern %q", pattern),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"pattern": pattern,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string, reason string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported document: %s (%s)", reason, mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store job status",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	if e.JobID != "" {
		result["job_id"] = e.JobID
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
