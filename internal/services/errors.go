package services

import "errors"

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// UpstreamError wraps any failure of the generative model call: transport,
// quota, auth, timeout or an empty answer.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upstream model error: " + e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

var (
	ErrNotConfigured = errors.New("GEMINI_API_KEY is not set")
	ErrEmptyReply    = errors.New("model returned no text")
)
