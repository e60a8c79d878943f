package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		input string
		want  float64
		found bool
	}{
		{"12 500 €", 12500, true},
		{"185 000 km", 185000, true},
		{"185 000 km", 185000, true}, // NBSP separators
		{"19,90", 19.9, true},
		{"3.5 l", 3.5, true},
		{"price: 5000", 5000, true},
		{"", 0, false},
		{"no digits here", 0, false},
	}
	for _, tc := range tests {
		got, found := ExtractNumber(tc.input)
		assert.Equal(t, tc.found, found, "input %q", tc.input)
		if tc.found {
			assert.InDelta(t, tc.want, got, 0.001, "input %q", tc.input)
		}
	}
}

func TestFirstYear(t *testing.T) {
	tests := []struct {
		input string
		want  int
		found bool
	}{
		{"esmane reg: 03/2018", 2018, true},
		{"1998", 1998, true},
		{"aasta 2022, läbisõit 120 000", 2022, true},
		{"12345", 0, false}, // not a standalone year
		{"", 0, false},
	}
	for _, tc := range tests {
		got, found := FirstYear(tc.input)
		assert.Equal(t, tc.found, found, "input %q", tc.input)
		assert.Equal(t, tc.want, got, "input %q", tc.input)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "ab", Truncate("abcd", 2))
	// Never splits a multibyte rune
	assert.Equal(t, "hü", Truncate("hübriid", 3))
	assert.Equal(t, "h", Truncate("hübriid", 2))
}
