package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAdmissionRejected signals that the organization exhausted its model-call window.
	ErrAdmissionRejected = errors.New("rate limit exceeded, try again in a minute")
	// ErrModelNotConfigured signals missing vision model credentials.
	ErrModelNotConfigured = errors.New("vision model not configured: set vision.api_key in configuration")
	// ErrModelAuthentication signals rejected credentials. Never retried.
	ErrModelAuthentication = errors.New("vision model authentication failed")
	// ErrModelRateLimited signals upstream throttling (HTTP 429).
	ErrModelRateLimited = errors.New("vision model rate limited")
	// ErrModelUnavailable signals a transient upstream failure (network, 5xx, timeout).
	ErrModelUnavailable = errors.New("vision model unavailable")
	// ErrParseFailure signals that model output could not be turned into fields.
	ErrParseFailure = errors.New("failed to parse model response")
	// ErrInvalidTransition signals a forbidden document status change.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDocumentNotFound signals a missing guest document.
	ErrDocumentNotFound = errors.New("document not found")
)

// ModelError carries the upstream HTTP status next to the classified sentinel.
type ModelError struct {
	StatusCode int
	Message    string
	Kind       error
}

func (e *ModelError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Kind.Error(), e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

func (e *ModelError) Unwrap() error { return e.Kind }

// NewModelError classifies an upstream failure by HTTP status code.
// 401/403 are authentication failures, 429 is throttling, everything else is transient.
func NewModelError(status int, message string) error {
	kind := ErrModelUnavailable
	switch status {
	case 401, 403:
		kind = ErrModelAuthentication
	case 429:
		kind = ErrModelRateLimited
	}
	return &ModelError{StatusCode: status, Message: message, Kind: kind}
}
