package parser

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/jmm-1987/agente/internal/textnorm"
)

// dualText keeps the user's text and its folded form aligned rune by rune,
// so patterns written without accents can cut spans out of the original.
type dualText struct {
	orig []rune
	fold []rune
}

func newDualText(s string) *dualText {
	s = norm.NFC.String(s)
	d := &dualText{orig: []rune(s), fold: []rune(textnorm.Fold(s))}
	if len(d.orig) != len(d.fold) {
		// Folding changed the length (rare decomposed input). Work on the
		// folded text only.
		d.orig = append([]rune(nil), d.fold...)
	}
	return d
}

func (d *dualText) folded() string   { return string(d.fold) }
func (d *dualText) original() string { return string(d.orig) }

// slice returns the original text between folded byte offsets.
func (d *dualText) slice(start, end int) string {
	f := d.folded()
	rs := utf8.RuneCountInString(f[:start])
	re := rs + utf8.RuneCountInString(f[start:end])
	return string(d.orig[rs:re])
}

// cut replaces the given folded byte span with a single space in both
// texts.
func (d *dualText) cut(start, end int) {
	f := d.folded()
	rs := utf8.RuneCountInString(f[:start])
	re := rs + utf8.RuneCountInString(f[start:end])
	d.orig = splice(d.orig, rs, re)
	d.fold = splice(d.fold, rs, re)
}

func splice(r []rune, start, end int) []rune {
	out := make([]rune, 0, len(r)-(end-start)+1)
	out = append(out, r[:start]...)
	out = append(out, ' ')
	return append(out, r[end:]...)
}

// removeAll cuts every match of submatch group of re, repeating until
// nothing matches. It reports whether anything was cut.
func (d *dualText) removeAll(re *regexp.Regexp, group int) bool {
	changed := false
	for {
		loc := re.FindStringSubmatchIndex(d.folded())
		if loc == nil || loc[2*group] < 0 || loc[2*group] == loc[2*group+1] {
			return changed
		}
		d.cut(loc[2*group], loc[2*group+1])
		changed = true
	}
}

// cleanTitle collapses whitespace and trims stray separators left behind by
// removals.
func cleanTitle(s string) string {
	return strings.Trim(textnorm.CollapseSpaces(s), " ,;:.-")
}
