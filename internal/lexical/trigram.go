package lexical

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultPhraseBoost is the weight of the verbatim signal in Blend.
const DefaultPhraseBoost = 0.5

// gramSet is a set of trigrams.
type gramSet map[string]struct{}

// words splits s into lowercase runs of letters and digits. Every other rune
// separates words, so punctuation and operators in a query carry no meaning.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// trigramSet extracts the trigrams of s the way pg_trgm does: each word is
// padded with two leading blanks and one trailing blank before slicing.
func trigramSet(s string) gramSet {
	set := make(gramSet)
	for _, w := range words(s) {
		r := []rune("  " + w + " ")
		for i := 0; i+3 <= len(r); i++ {
			set[string(r[i:i+3])] = struct{}{}
		}
	}
	return set
}

// hasLongWord reports whether s has a word of at least three runes. Such a
// word shares an unpadded trigram with any text containing it verbatim.
func hasLongWord(s string) bool {
	for _, w := range words(s) {
		if utf8.RuneCountInString(w) >= 3 {
			return true
		}
	}
	return false
}

// Trigrams returns the distinct trigrams of s in ascending order.
func Trigrams(s string) []string {
	set := trigramSet(s)
	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// Similarity is the pg_trgm similarity of a and b: shared trigrams over the
// union of both trigram sets. Strings without any letter or digit score 0.
func Similarity(a, b string) float64 {
	return jaccard(trigramSet(a), trigramSet(b))
}

func jaccard(a, b gramSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	shared := 0
	for g := range a {
		if _, ok := b[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}

// Blend folds the verbatim signal into a fuzzy similarity:
//
//	boost*verbatim + (1-boost)*sim
//
// With boost >= 0.5 a field containing the query verbatim never scores below a
// field that only matches fuzzily.
func Blend(sim float64, verbatim bool, boost float64) float64 {
	s := (1 - boost) * sim
	if verbatim {
		s += boost
	}
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}

// validBoost reports whether boost keeps verbatim matches above fuzzy ones.
func validBoost(boost float64) bool {
	return boost >= 0.5 && boost <= 1
}

// normalize lowercases s and collapses runs of whitespace. Queries and field
// text are both normalized before the verbatim check.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// containsVerbatim reports whether the normalized query occurs literally in
// the normalized text.
func containsVerbatim(text, query string) bool {
	return query != "" && strings.Contains(text, query)
}
