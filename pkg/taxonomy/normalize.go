package taxonomy

import (
	"regexp"
	"strings"
)

var (
	// Sites append "(kõik)" ("all") to catalog-level labels
	allSuffixRe = regexp.MustCompile(`(?i)\s*\(kõik\)\s*$`)
	// "3. seeria" and "3 seeria" are the same series
	ordinalDotRe = regexp.MustCompile(`\b(\d+)\.`)
)

// CleanLabel tidies a raw taxonomy label for display: trims whitespace,
// drops a trailing "(kõik)" marker, folds ordinal dots ("3." -> "3") and
// collapses internal whitespace. Casing is preserved.
func CleanLabel(label string) string {
	s := allSuffixRe.ReplaceAllString(label, "")
	s = ordinalDotRe.ReplaceAllString(s, "$1")
	return strings.Join(strings.Fields(s), " ")
}

// Normalize produces the matching key for a label: CleanLabel plus
// lowercasing. Normalize is idempotent.
func Normalize(label string) string {
	return strings.ToLower(CleanLabel(label))
}
