package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies a normalized API error.
type ErrorKind string

const (
	KindNetwork      ErrorKind = "network"
	KindClient       ErrorKind = "client"
	KindUnauthorized ErrorKind = "unauthorized"
	KindServer       ErrorKind = "server"
	KindValidation   ErrorKind = "validation"
)

// APIError is the single error shape surfaced by the gateway and by local
// request validation. Transport errors are kept in Err and never returned bare.
type APIError struct {
	Message string    `json:"message"`
	Status  int       `json:"status"`
	Details any       `json:"details,omitempty"`
	Kind    ErrorKind `json:"kind"`

	// RetryAfter carries a parsed Retry-After header for 429/503 responses.
	RetryAfter *time.Duration `json:"-"`
	Err        error          `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
	}
	return e.Message
}

// Unwrap returns the underlying transport error, if any.
func (e *APIError) Unwrap() error {
	return e.Err
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindClient
	default:
		return KindServer
	}
}

// NewStatusError builds an error for a non-2xx response.
func NewStatusError(status int, message string, details any) *APIError {
	if message == "" {
		message = http.StatusText(status)
	}
	if message == "" {
		message = "An error occurred"
	}
	return &APIError{
		Message: message,
		Status:  status,
		Details: details,
		Kind:    KindForStatus(status),
	}
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(err error) *APIError {
	msg := "network error"
	if err != nil {
		msg = err.Error()
	}
	return &APIError{
		Message: msg,
		Kind:    KindNetwork,
		Err:     err,
	}
}

// NewValidationError builds a local validation failure. No request is sent.
func NewValidationError(format string, args ...interface{}) *APIError {
	return &APIError{
		Message: fmt.Sprintf(format, args...),
		Kind:    KindValidation,
	}
}

// NewMalformedResponseError reports a 2xx body that could not be decoded.
func NewMalformedResponseError(status int, err error) *APIError {
	return &APIError{
		Message: "malformed response",
		Status:  status,
		Kind:    KindServer,
		Err:     err,
	}
}

// AsAPIError extracts an *APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindUnauthorized
}

// IsValidation reports whether err is a local validation failure.
func IsValidation(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Kind == KindValidation
}

// IsRetryable reports whether a read that failed with err may be retried.
// Cancelled contexts are never retried.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	switch apiErr.Kind {
	case KindNetwork:
		return true
	case KindServer:
		return apiErr.Status >= 500
	case KindClient:
		return apiErr.Status == http.StatusTooManyRequests
	}
	return false
}
