package utils

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

// =============================================================================
// Validation Tests
// =============================================================================

// TestValidatePriority verifies only 1..3 are accepted
func TestValidatePriority(t *testing.T) {
	for _, p := range []int{1, 2, 3} {
		if err := ValidatePriority(p); err != nil {
			t.Errorf("ValidatePriority(%d) = %v, want nil", p, err)
		}
	}

	for _, p := range []int{-1, 0, 4, 9} {
		t.Run("Priority"+strconv.Itoa(p), func(t *testing.T) {
			err := ValidatePriority(p)
			var errWithSuggestion *ErrorWithSuggestion
			if !errors.As(err, &errWithSuggestion) {
				t.Errorf("ValidatePriority(%d) should return *ErrorWithSuggestion, got %v", p, err)
			}
		})
	}
}

// TestParseDateFlagAt verifies absolute and relative formats
func TestParseDateFlagAt(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2026-01-15", time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2026-01-15T09:00:00Z", time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)},
		{"today", today},
		{"tomorrow", today.AddDate(0, 0, 1)},
		{"yesterday", today.AddDate(0, 0, -1)},
		{"+3d", today.AddDate(0, 0, 3)},
		{"-2d", today.AddDate(0, 0, -2)},
		{"+2w", today.AddDate(0, 0, 14)},
		{"+1m", today.AddDate(0, 1, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseDateFlagAt(tt.input, now)
			if err != nil {
				t.Fatalf("ParseDateFlagAt(%q) error: %v", tt.input, err)
			}
			if !result.Equal(tt.expected) {
				t.Errorf("ParseDateFlagAt(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

// TestParseDateFlagEmpty verifies an empty string means "no date"
func TestParseDateFlagEmpty(t *testing.T) {
	result, err := ParseDateFlag("")
	if err != nil || result != nil {
		t.Errorf("ParseDateFlag(\"\") = %v, %v; want nil, nil", result, err)
	}
}

// TestParseDateFlagInvalid verifies invalid dates return a suggestion error
func TestParseDateFlagInvalid(t *testing.T) {
	for _, input := range []string{"2026-13-01", "next week", "15/01/2026"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseDateFlag(input)
			var errWithSuggestion *ErrorWithSuggestion
			if !errors.As(err, &errWithSuggestion) {
				t.Errorf("ParseDateFlag(%q) should return *ErrorWithSuggestion, got %v", input, err)
			}
		})
	}
}
