package apperrors

import (
	"context"
	"errors"
	"fmt"
)

// Application exit codes define the standard exit statuses for the application.
// These codes are used to signal the outcome of the program execution to the OS.
const (
	ExitSuccess       = 0   // Indicates successful execution.
	ExitErrorGeneric  = 1   // Indicates a generic error.
	ExitErrorPartial  = 2   // Indicates some, but not all, loads failed.
	ExitErrorConfig   = 4   // Indicates a configuration error.
	ExitErrorCanceled = 130 // Indicates the operation was canceled (e.g., SIGINT).
)

// ConfigError represents a user configuration error, such as invalid flags or
// values. It indicates that the application cannot proceed due to incorrect user input.
type ConfigError struct {
	// Message explains the specific configuration error.
	Message string
}

// Error returns the error message for a ConfigError.
func (e ConfigError) Error() string { return e.Message }

// NewConfigError creates a new ConfigError with a formatted message.
//
// Parameters:
//   - format: A format string (see fmt.Sprintf).
//   - a: Arguments to be formatted into the string.
//
// Returns:
//   - error: A new ConfigError instance containing the formatted message.
func NewConfigError(format string, a ...any) error {
	return ConfigError{Message: fmt.Sprintf(format, a...)}
}

// TransportError encapsulates a network fetch failure while preserving the
// original cause reported by the transport collaborator. The orchestrator
// passes transport failures through verbatim; every logical task attached to
// the failed fetch receives the same TransportError value.
type TransportError struct {
	// URL is the address whose fetch failed.
	URL string
	// StatusCode is the HTTP status code, if the failure came from a
	// non-success response. Zero when the failure happened below HTTP.
	StatusCode int
	// Cause is the underlying error that triggered this transport error.
	Cause error
}

// Error returns a formatted message describing the transport failure.
func (e TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error for %q: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transport error for %q: %v", e.URL, e.Cause)
}

// Unwrap returns the original wrapped error, allowing for error chain
// inspection (e.g., using errors.Is or errors.As).
func (e TransportError) Unwrap() error { return e.Cause }

// DecodingError indicates the decoder collaborator returned no image for
// non-empty fetched bytes. It is terminal for the affected logical task only.
type DecodingError struct {
	// URL is the address whose payload could not be decoded.
	URL string
	// Cause is the underlying decoder error, if any.
	Cause error
}

// Error returns a formatted message describing the decode failure.
func (e DecodingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decoding failed for %q: %v", e.URL, e.Cause)
	}
	return fmt.Sprintf("decoding failed for %q", e.URL)
}

// Unwrap returns the underlying decoder error.
func (e DecodingError) Unwrap() error { return e.Cause }

// ProcessingError indicates a stage of the processing pipeline returned no
// image. The first failing stage short-circuits the remainder of the chain.
type ProcessingError struct {
	// Stage identifies the pipeline stage that failed.
	Stage string
	// Cause is the underlying processor error, if any.
	Cause error
}

// Error returns a formatted message describing the processing failure.
func (e ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("processing stage %q failed: %v", e.Stage, e.Cause)
	}
	return fmt.Sprintf("processing stage %q failed", e.Stage)
}

// Unwrap returns the underlying processor error.
func (e ProcessingError) Unwrap() error { return e.Cause }

// ValidationError represents an input validation failure. It identifies which
// field failed validation and provides a human-readable explanation.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string
	// Message explains the validation failure.
	Message string
}

// Error returns a formatted message describing the validation failure.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
}

// WrapError wraps an error with additional context using fmt.Errorf and %w.
// This allows the wrapped error to be unwrapped with errors.Unwrap() and
// checked with errors.Is() and errors.As().
//
// Parameters:
//   - err: The error to wrap.
//   - format: A format string for the context message.
//   - args: Arguments for the format string.
//
// Returns:
//   - error: The wrapped error, or nil if err is nil.
func WrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsContextError checks if the error is a context cancellation or deadline exceeded error.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
