// Package normalize canonicalizes free text so that fact names, rule
// conditions and goals can be compared reliably.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Text folds case, strips diacritics, trims and collapses whitespace.
// Example: "  Maior   de IDADE  " → "maior de idade", "Ação" → "acao"
func Text(s string) string {
	if s == "" {
		return ""
	}

	// A transform.Chain keeps internal state, so build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	return strings.Join(strings.Fields(strings.ToLower(stripped)), " ")
}

// Equal reports whether a and b are the same text after normalization.
func Equal(a, b string) bool {
	return Text(a) == Text(b)
}
