package textutil

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Fingerprint represents a term-frequency vector for text similarity comparison.
type Fingerprint struct {
	tokens map[string]float64
	norm   float64
}

// NewFingerprint creates a fingerprint from the provided text.
// Returns nil if the text produces no valid tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	var sum float64
	for _, count := range counts {
		sum += count * count
	}
	return &Fingerprint{
		tokens: counts,
		norm:   math.Sqrt(sum),
	}
}

// Tokenize splits text into folded tokens, filtering short tokens.
func Tokenize(text string) []string {
	folded := folder.String(norm.NFKC.String(text))
	raw := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(raw))
	for _, token := range raw {
		if utf8.RuneCountInString(token) < 3 {
			continue
		}
		terms = append(terms, token)
	}
	return terms
}

// TokenCount returns the number of unique tokens in the fingerprint.
func (f *Fingerprint) TokenCount() int {
	if f == nil {
		return 0
	}
	return len(f.tokens)
}

// Cosine scores how close two rule fingerprints are, from 0 for no shared
// terms to 1 for the same term mix. A nil fingerprint scores 0.
func (f *Fingerprint) Cosine(other *Fingerprint) float64 {
	if f == nil || other == nil || f.norm == 0 || other.norm == 0 {
		return 0
	}
	small, large := f.tokens, other.tokens
	if len(small) > len(large) {
		small, large = large, small
	}
	var dot float64
	for token, count := range small {
		dot += count * large[token]
	}
	return dot / (f.norm * other.norm)
}

// Similarity fingerprints both texts and returns their cosine score.
func Similarity(a, b string) float64 {
	return NewFingerprint(a).Cosine(NewFingerprint(b))
}
