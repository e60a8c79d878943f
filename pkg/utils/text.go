package utils

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numericRe = regexp.MustCompile(`[\d.,]+`)
	yearRe    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
)

// ExtractNumber pulls the first numeric value out of free text like
// "185 000 km" or "12 500 €". Thousands separators (spaces, NBSP) are
// dropped and a decimal comma is folded to a point.
// Returns the value and whether anything numeric was found.
func ExtractNumber(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	cleaned := strings.NewReplacer(" ", "", " ", "").Replace(text)
	match := numericRe.FindString(cleaned)
	if match == "" {
		return 0, false
	}
	match = strings.ReplaceAll(match, ",", ".")
	// "1.234.567" style grouping: keep only the last point as decimal
	if parts := strings.Split(match, "."); len(parts) > 2 {
		match = strings.Join(parts[:len(parts)-1], "") + "." + parts[len(parts)-1]
	}
	v, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FirstYear finds the first plausible vehicle year (19xx/20xx) in free text,
// e.g. "esmane reg: 03/2018" -> 2018.
func FirstYear(text string) (int, bool) {
	match := yearRe.FindString(text)
	if match == "" {
		return 0, false
	}
	y, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return y, true
}

// Truncate cuts s to at most n bytes on a rune boundary.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	for len(string(runes)) > n {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}
