package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

// =============================================================================
// ErrorWithSuggestion Tests
// =============================================================================

// TestErrorWithSuggestionError verifies Error() method output
func TestErrorWithSuggestionError(t *testing.T) {
	err := &ErrorWithSuggestion{
		Err:        errors.New("something went wrong"),
		Suggestion: "Try doing X",
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "something went wrong") {
		t.Errorf("Error() should contain error message, got: %s", errStr)
	}
	if !strings.Contains(errStr, "Suggestion: Try doing X") {
		t.Errorf("Error() should contain suggestion, got: %s", errStr)
	}
}

// TestWrapWithSuggestion verifies the wrapped error stays in the chain
func TestWrapWithSuggestion(t *testing.T) {
	underlying := errors.New("original error")
	wrapped := WrapWithSuggestion(underlying, "custom suggestion")

	var errWithSuggestion *ErrorWithSuggestion
	if !errors.As(wrapped, &errWithSuggestion) {
		t.Fatal("WrapWithSuggestion should return *ErrorWithSuggestion")
	}
	if errWithSuggestion.GetSuggestion() != "custom suggestion" {
		t.Errorf("Suggestion = %s, want 'custom suggestion'", errWithSuggestion.GetSuggestion())
	}
	if !errors.Is(wrapped, underlying) {
		t.Error("wrapped error should unwrap to the original")
	}
}

// TestErrSessionExpiredEnv verifies the environment variable is named
func TestErrSessionExpiredEnv(t *testing.T) {
	err := ErrSessionExpiredEnv("TASKDASH_ACCESS_TOKEN")
	if !strings.HasPrefix(err.Error(), "session expired") {
		t.Errorf("Error should start with 'session expired', got: %s", err)
	}
	var errWithSuggestion *ErrorWithSuggestion
	if !errors.As(err, &errWithSuggestion) {
		t.Fatal("Should return *ErrorWithSuggestion")
	}
	if !strings.Contains(errWithSuggestion.GetSuggestion(), "Unset TASKDASH_ACCESS_TOKEN") {
		t.Errorf("Suggestion should name the variable, got: %s", errWithSuggestion.GetSuggestion())
	}
}

// TestErrTaskNotFound verifies the task id and a suggestion are present
func TestErrTaskNotFound(t *testing.T) {
	err := ErrTaskNotFound("t-42")
	if !strings.Contains(err.Error(), "t-42") {
		t.Errorf("Error should contain task id, got: %s", err)
	}
	var errWithSuggestion *ErrorWithSuggestion
	if !errors.As(err, &errWithSuggestion) || errWithSuggestion.GetSuggestion() == "" {
		t.Fatal("Should return *ErrorWithSuggestion with a suggestion")
	}
}

// TestErrAPIOfflineSmartSuggestions verifies reason-specific suggestions
func TestErrAPIOfflineSmartSuggestions(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"dial tcp: lookup api.example: no such host", "DNS"},
		{"dial tcp 127.0.0.1:1: connect: connection refused", "api.base_url"},
		{"context deadline exceeded", "slow"},
		{"circuit open: offline", "cooldown"},
		{"something else", "internet connection"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			err := ErrAPIOffline(tt.reason)
			var errWithSuggestion *ErrorWithSuggestion
			if !errors.As(err, &errWithSuggestion) {
				t.Fatal("Should return *ErrorWithSuggestion")
			}
			if !strings.Contains(errWithSuggestion.GetSuggestion(), tt.want) {
				t.Errorf("suggestion for %q = %q, want it to mention %q", tt.reason, errWithSuggestion.GetSuggestion(), tt.want)
			}
		})
	}
}

// =============================================================================
// APIError Tests
// =============================================================================

// TestKindForStatus verifies the status code taxonomy
func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusBadRequest, KindClient},
		{http.StatusNotFound, KindClient},
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusInternalServerError, KindServer},
		{http.StatusServiceUnavailable, KindServer},
	}
	for _, tt := range tests {
		if got := KindForStatus(tt.status); got != tt.want {
			t.Errorf("KindForStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

// TestNewStatusErrorDefaultsMessage verifies empty messages fall back to the status text
func TestNewStatusErrorDefaultsMessage(t *testing.T) {
	err := NewStatusError(http.StatusNotFound, "", nil)
	if err.Message != "Not Found" {
		t.Errorf("Message = %q, want 'Not Found'", err.Message)
	}
	if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("Error() should include status, got %q", err.Error())
	}
}

// TestAPIErrorHelpers verifies errors.As based helpers work through wrapping
func TestAPIErrorHelpers(t *testing.T) {
	unauthorized := fmt.Errorf("get tasks: %w", NewStatusError(http.StatusUnauthorized, "token expired", nil))
	if !IsUnauthorized(unauthorized) {
		t.Error("IsUnauthorized should see through wrapping")
	}

	validation := NewValidationError("title is required")
	if !IsValidation(validation) {
		t.Error("IsValidation should be true for validation errors")
	}
	if validation.Status != 0 {
		t.Errorf("validation errors carry no status, got %d", validation.Status)
	}

	if _, ok := AsAPIError(errors.New("plain")); ok {
		t.Error("AsAPIError should be false for plain errors")
	}
}

// TestNetworkErrorUnwrap verifies transport errors stay reachable
func TestNetworkErrorUnwrap(t *testing.T) {
	err := NewNetworkError(context.Canceled)
	if !errors.Is(err, context.Canceled) {
		t.Error("network error should unwrap to context.Canceled")
	}
	if err.Kind != KindNetwork {
		t.Errorf("Kind = %s, want network", err.Kind)
	}
}

// TestIsRetryable verifies which failures allow another read attempt
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", NewNetworkError(errors.New("connection reset")), true},
		{"server", NewStatusError(http.StatusBadGateway, "", nil), true},
		{"too many requests", NewStatusError(http.StatusTooManyRequests, "", nil), true},
		{"client", NewStatusError(http.StatusBadRequest, "", nil), false},
		{"unauthorized", NewStatusError(http.StatusUnauthorized, "", nil), false},
		{"malformed", NewMalformedResponseError(http.StatusOK, errors.New("bad json")), false},
		{"validation", NewValidationError("bad"), false},
		{"cancelled", NewNetworkError(context.Canceled), false},
		{"plain", errors.New("plain"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
