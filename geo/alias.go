package geo

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize folds a place name into its lookup key: diacritics are
// stripped, "&" reads as AND, letters are upper-cased and every run of
// non-alphanumeric characters collapses to a single space.
//
//	"Côte d'Ivoire" -> "COTE D IVOIRE"
//	"Trinidad & Tobago" -> "TRINIDAD AND TOBAGO"
func Canonicalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// transform.Chain keeps state, so each call builds its own.
	stripper := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(stripper, s); err == nil {
		s = folded
	}
	s = strings.ReplaceAll(s, "&", " and ")

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		pendingSpace = true
	}
	return b.String()
}
