// Package textmatch holds the text normalization and similarity scoring shared
// by the parser, the resolver and the validator.
package textmatch

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// Normalize trims, collapses internal whitespace and, unless exact is set,
// folds case. It is the single definition of "the same text" in assertions.
func Normalize(s string, exact bool) string {
	s = strings.Join(strings.Fields(s), " ")
	if !exact {
		s = strings.ToLower(s)
	}
	return s
}

// Contains reports whether needle occurs in haystack after normalization.
func Contains(haystack, needle string, exact bool) bool {
	return strings.Contains(Normalize(haystack, exact), Normalize(needle, exact))
}

// Equal reports whether a and b are equal after normalization.
func Equal(a, b string, exact bool) bool {
	return Normalize(a, exact) == Normalize(b, exact)
}

// Similarity is the difflib ratio of two strings compared rune by rune after
// case-insensitive normalization. It returns 1 for identical strings and 0
// when either side is empty.
func Similarity(a, b string) float64 {
	a, b = Normalize(a, false), Normalize(b, false)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return difflib.NewMatcher(runes(a), runes(b)).Ratio()
}

// TokenSimilarity compares word sequences, which is more forgiving of word
// order and filler words than Similarity.
func TokenSimilarity(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	return difflib.NewMatcher(ta, tb).Ratio()
}

// PhraseScore rates how well a phrase describes a label. Exact matches score
// 1, containment scores by coverage, and anything else falls back to the best
// of character and token similarity.
func PhraseScore(phrase, label string) float64 {
	p, l := Normalize(phrase, false), Normalize(label, false)
	if p == "" || l == "" {
		return 0
	}
	if p == l {
		return 1
	}
	if strings.Contains(l, p) {
		// "login" in "login now" is a strong but not perfect match.
		coverage := float64(len(p)) / float64(len(l))
		return 0.8 + 0.15*coverage
	}
	if strings.Contains(p, l) {
		coverage := float64(len(l)) / float64(len(p))
		return 0.6 + 0.25*coverage
	}
	char := Similarity(p, l)
	tok := TokenSimilarity(p, l)
	if tok > char {
		return tok * 0.9
	}
	return char * 0.9
}

// Tokens splits s into lower-case words, dropping punctuation.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '@' && r != '.' && r != '-' && r != '_'
	})
}

// Unquote strips one pair of matching single or double quotes.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func runes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
