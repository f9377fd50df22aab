package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizeRule folds case, collapses whitespace, and trims surrounding
// punctuation so trivially different phrasings of one rule compare equal.
func NormalizeRule(rule string) string {
	folded := folder.String(norm.NFKC.String(rule))
	folded = CollapseWhitespace(folded)
	return strings.TrimFunc(folded, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// CollapseWhitespace replaces every whitespace run with one space.
func CollapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Truncate limits text to max runes, cutting at the last word boundary and
// appending an ellipsis when anything was removed.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:max])
	if idx := strings.LastIndexFunc(cut, unicode.IsSpace); idx > max/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
