// Package textnorm normalizes free text and names before matching.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	spaceRun        = regexp.MustCompile(`\s+`)
	spaceBeforePunc = regexp.MustCompile(`\s+([.,;:!?])`)
)

// Fold lowercases s and strips combining marks, so "Averías" becomes
// "averias". The ñ is folded to n as well.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// NormalizeName derives the lookup key for a client name: folded, trimmed,
// with internal whitespace collapsed.
func NormalizeName(name string) string {
	return CollapseSpaces(Fold(name))
}

// CollapseSpaces trims s and replaces every whitespace run with one space.
func CollapseSpaces(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// CleanTranscript collapses whitespace and removes spaces before punctuation.
func CleanTranscript(s string) string {
	return spaceBeforePunc.ReplaceAllString(CollapseSpaces(s), "$1")
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
