package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrTaskNotFound returns an error for when a task is not found.
func ErrTaskNotFound(id string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task not found: %s", id),
		Suggestion: "Check the task ID or use 'taskdash tasks' to see all tasks",
	}
}

// ErrNotLoggedIn returns an error for commands that need a session.
func ErrNotLoggedIn() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("not logged in"),
		Suggestion: "Run 'taskdash login <email>' first",
	}
}

// ErrSessionExpired returns an error after the API rejected the stored token.
func ErrSessionExpired() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("session expired"),
		Suggestion: "Run 'taskdash login' to sign in again",
	}
}

// ErrSessionExpiredEnv is ErrSessionExpired for a token taken from the
// environment, which a logout cannot remove.
func ErrSessionExpiredEnv(envVar string) error {
	return &ErrorWithSuggestion{
		Err:        errors.New("session expired"),
		Suggestion: fmt.Sprintf("Unset %s, then run 'taskdash login' to sign in again", envVar),
	}
}

// ErrAPIOffline returns an error when the API is unreachable with smart suggestions.
func ErrAPIOffline(reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task API is unreachable: %s", reason),
		Suggestion: getSmartSuggestion(reason),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check your DNS settings and internet connection"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return "Check that api.base_url points at a running server"
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "deadline") {
		return "The server may be slow or unreachable. Try again later"
	}

	if strings.Contains(lowerReason, "offline") {
		return "Too many consecutive failures; requests resume automatically after a cooldown"
	}

	return "Check your internet connection and try again"
}

// ErrInvalidPriority returns an error for an invalid priority value.
func ErrInvalidPriority(priority int) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid priority: %d", priority),
		Suggestion: "Priority must be 1 (high), 2 (medium) or 3 (low)",
	}
}

// ErrInvalidDate returns an error for an invalid date string.
func ErrInvalidDate(dateStr string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid date: %s", dateStr),
		Suggestion: "Use date format YYYY-MM-DD (e.g., 2026-01-15), RFC 3339, or today/tomorrow/+3d",
	}
}

// ErrInvalidStatus returns an error for an invalid status with valid options.
func ErrInvalidStatus(status string, valid []string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid status: %s", status),
		Suggestion: fmt.Sprintf("Valid options: %s", strings.Join(valid, ", ")),
	}
}

// ErrInvalidImport returns an error for an import file that cannot be used.
func ErrInvalidImport(reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("invalid import data: %s", reason),
		Suggestion: "Use a file produced by 'taskdash export'; it must contain a \"tasks\" array",
	}
}

// ErrAuthenticationFailed returns an error when the login is rejected.
func ErrAuthenticationFailed() error {
	return &ErrorWithSuggestion{
		Err:        errors.New("authentication failed"),
		Suggestion: "Verify your email and password are correct",
	}
}
