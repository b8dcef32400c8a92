package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// PlainText strips markup from s and returns the trimmed, unescaped text.
func PlainText(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(plainTextPolicy.Sanitize(trimmed)))
}

// Fold returns the Unicode case-folded form of s with surrounding space removed.
func Fold(s string) string {
	// Casers keep state between calls, so each call gets its own.
	return cases.Fold().String(strings.TrimSpace(s))
}

// EqualFold reports whether a and b are equal under Unicode case folding.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}
