package client

import (
	"errors"
	"fmt"
)

// ErrContextCancelled is returned when the context is cancelled during a
// fetch or a retry backoff.
var ErrContextCancelled = errors.New("context cancelled")

// ErrorKind classifies a failed page request.
type ErrorKind string

const (
	// ErrorKindAuth represents a credential rejection (401/403). Never
	// retried against the same credential; handled by a single refresh.
	ErrorKindAuth ErrorKind = "auth"

	// ErrorKindTransient represents timeouts, connection errors, 5xx
	// responses, and malformed bodies. Retried with backoff.
	ErrorKindTransient ErrorKind = "transient"
)

// APIError represents an upstream API error with its classification.
type APIError struct {
	StatusCode int
	Kind       ErrorKind
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("api %s error (status %d): %s: %v",
			e.Kind, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("api %s error (status %d): %s",
		e.Kind, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to an error kind. Network errors
// and malformed bodies are classified transient by the caller directly.
func classifyStatus(status int) ErrorKind {
	if status == 401 || status == 403 {
		return ErrorKindAuth
	}
	// 5xx and everything else that is not a success counts as transient:
	// the page gets the full retry budget and is abandoned afterwards
	// rather than aborting the run.
	return ErrorKindTransient
}
