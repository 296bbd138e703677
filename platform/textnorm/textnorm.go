// Package textnorm folds free text for keyword matching.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s, strips diacritics and collapses whitespace so that
// "Pijn op de BORST" and "pijn  op de borst" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// ContainsAny reports the first keyword contained in text, comparing folded forms.
func ContainsAny(text string, keywords []string) (string, bool) {
	haystack := " " + Fold(text) + " "
	for _, kw := range keywords {
		needle := Fold(kw)
		if needle == "" {
			continue
		}
		if strings.Contains(haystack, needle) {
			return kw, true
		}
	}
	return "", false
}
