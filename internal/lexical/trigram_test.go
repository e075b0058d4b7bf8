package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrigrams(t *testing.T) {
	assert.Equal(t, []string{"  c", " ca", "at ", "cat"}, Trigrams("Cat"))
	assert.Equal(t, []string{"  a", " a "}, Trigrams("a"))
	assert.Empty(t, Trigrams("   ++ -- "))
	// punctuation separates words
	assert.Equal(t, Trigrams("foo bar"), Trigrams("foo.bar"))
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "search engine", "search engine", 1},
		{"case insensitive", "TypeScript", "typescript", 1},
		{"word order ignored", "engine search", "search engine", 1},
		{"disjoint", "python", "typescript", 0},
		{"empty", "", "typescript", 0},
		{"only symbols", "%_*", "%_*", 0},
		// "word" has 5 trigrams, "words" 6, sharing 4
		{"suffix", "word", "words", 4.0 / 7.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-12)
		})
	}
}

func TestSimilarityToleratesTypos(t *testing.T) {
	typo := Similarity("typescrpt", "typescript")
	assert.Greater(t, typo, 0.3)
	assert.Less(t, typo, 1.0)
	assert.Greater(t, typo, Similarity("typescrpt", "python"))
}

func TestBlend(t *testing.T) {
	assert.InDelta(t, 0.2, Blend(0.4, false, 0.5), 1e-12)
	assert.InDelta(t, 0.7, Blend(0.4, true, 0.5), 1e-12)
	assert.Equal(t, 0.5, Blend(0, true, 0.5))
	assert.Equal(t, 1.0, Blend(1, true, 0.5))
	assert.Equal(t, 0.0, Blend(-0.2, false, 0.5))
	assert.Equal(t, 1.0, Blend(0, true, 1))

	// the weakest verbatim field ties the strongest fuzzy one at most
	for _, boost := range []float64{0.5, 0.6, 0.9} {
		assert.GreaterOrEqual(t, Blend(0, true, boost), Blend(1, false, boost))
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "c++ and rust", normalize("  C++\tand   Rust "))
	assert.True(t, containsVerbatim(normalize("Learn C++ fast"), normalize("c++")))
	assert.False(t, containsVerbatim("anything", ""))
}
