package utils

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ValidatePriority validates that priority is one of 1 (high), 2 (medium), 3 (low).
func ValidatePriority(priority int) error {
	if priority < 1 || priority > 3 {
		return ErrInvalidPriority(priority)
	}
	return nil
}

// relativePattern matches relative date formats like +7d, -3d, +2w, +1m
var relativePattern = regexp.MustCompile(`^([+-])(\d+)([dwm])$`)

// parseRelativeDate parses "today", "tomorrow", "yesterday", "+7d", "-3d", "+2w", "+1m".
// Returns nil, nil if the string is not a relative date.
func parseRelativeDate(dateStr string, now time.Time) (*time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	lower := strings.ToLower(dateStr)

	switch lower {
	case "today":
		return &today, nil
	case "tomorrow":
		t := today.AddDate(0, 0, 1)
		return &t, nil
	case "yesterday":
		t := today.AddDate(0, 0, -1)
		return &t, nil
	}

	matches := relativePattern.FindStringSubmatch(lower)
	if matches == nil {
		return nil, nil
	}

	num, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, ErrInvalidDate(dateStr)
	}
	if matches[1] == "-" {
		num = -num
	}

	var result time.Time
	switch matches[3] {
	case "d":
		result = today.AddDate(0, 0, num)
	case "w":
		result = today.AddDate(0, 0, num*7)
	case "m":
		result = today.AddDate(0, num, 0)
	}

	return &result, nil
}

// ParseDateFlag parses a due date given on the command line.
// Supported: today, tomorrow, yesterday, +Nd, -Nd, +Nw, +Nm, YYYY-MM-DD, RFC 3339.
// Returns nil, nil for an empty string.
func ParseDateFlag(dateStr string) (*time.Time, error) {
	return ParseDateFlagAt(dateStr, time.Now())
}

// ParseDateFlagAt is ParseDateFlag with an explicit reference time.
func ParseDateFlagAt(dateStr string, now time.Time) (*time.Time, error) {
	if dateStr == "" {
		return nil, nil
	}

	t, err := parseRelativeDate(dateStr, now)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}

	if parsed, err := time.Parse(time.RFC3339, dateStr); err == nil {
		return &parsed, nil
	}

	parsed, err := time.ParseInLocation("2006-01-02", dateStr, now.Location())
	if err != nil {
		return nil, ErrInvalidDate(dateStr)
	}

	return &parsed, nil
}
