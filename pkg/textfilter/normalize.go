package textfilter

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeLabel case-folds a label and strips diacritics and surrounding
// punctuation, so "Narración", " narracion " and "NARRACION." compare equal.
// Inner whitespace and hyphens collapse to a single underscore.
func NormalizeLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	stripped = folder.String(stripped)
	stripped = strings.TrimFunc(stripped, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var b strings.Builder
	pendingSep := false
	for _, r := range stripped {
		if unicode.IsSpace(r) || r == '-' || r == '_' {
			pendingSep = true
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}

// SameName reports whether two character names refer to the same person,
// ignoring case, accents and spacing.
func SameName(a, b string) bool {
	na := NormalizeLabel(a)
	return na != "" && na == NormalizeLabel(b)
}
