package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Control characters (except common whitespace)
var controlCharPattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)

// NormalizeWhitespace collapses every run of whitespace to a single space and trims the ends
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// TruncateRunes cuts text to at most max runes. When it cuts, the result ends
// with marker and the whole string, marker included, is still at most max runes.
func TruncateRunes(text string, max int, marker string) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	markerLen := utf8.RuneCountInString(marker)
	if markerLen >= max {
		return string([]rune(marker)[:max])
	}
	keep := max - markerLen
	return string([]rune(text)[:keep]) + marker
}

// SanitizeText strips control characters from user-supplied text, keeping newlines and tabs
func SanitizeText(text string) string {
	return strings.TrimSpace(controlCharPattern.ReplaceAllString(text, ""))
}

// ValidateIncidentID validates that an incident ID is a well-formed UUID
func ValidateIncidentID(id string) error {
	if id == "" {
		return fmt.Errorf("incident ID is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid incident ID format")
	}
	return nil
}

// EscapeForLogging shortens text and escapes line breaks for single-line logging
func EscapeForLogging(text string, maxLen int) string {
	text = TruncateRunes(text, maxLen, "...")

	text = strings.ReplaceAll(text, "\n", "\\n")
	text = strings.ReplaceAll(text, "\r", "\\r")
	text = strings.ReplaceAll(text, "\t", "\\t")

	return text
}
