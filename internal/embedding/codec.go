package embedding

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dshills/contribrank/pkg/types"
)

// Encode renders v in the bracketed storage form "[v1,v2,...,v1536]".
// Components use the shortest representation that parses back to the same float64.
func Encode(v types.Embedding) string {
	var b strings.Builder
	b.Grow(len(v) * 12)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// EncodeSlice validates the length of v and encodes it.
func EncodeSlice(v []float64) (string, error) {
	e, err := FromSlice(v)
	if err != nil {
		return "", err
	}
	return Encode(e), nil
}

// FromSlice copies v into a fixed-length embedding.
// Returns a DimensionError when len(v) != types.EmbeddingDimensions, and an
// InvalidArgumentError when a component is NaN or infinite.
func FromSlice(v []float64) (types.Embedding, error) {
	var e types.Embedding
	if len(v) != types.EmbeddingDimensions {
		return e, &types.DimensionError{Got: len(v)}
	}
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return e, &types.InvalidArgumentError{
				Field:  "embedding",
				Reason: fmt.Sprintf("component %d is not finite", i),
			}
		}
	}
	copy(e[:], v)
	return e, nil
}

// FromFloat32 widens a float32 vector, as produced by most embedding models.
func FromFloat32(v []float32) (types.Embedding, error) {
	wide := make([]float64, len(v))
	for i, x := range v {
		wide[i] = float64(x)
	}
	return FromSlice(wide)
}

// ToFloat32 narrows e for drivers that store single precision vectors.
func ToFloat32(e *types.Embedding) []float32 {
	out := make([]float32, len(e))
	for i, x := range e {
		out[i] = float32(x)
	}
	return out
}

// Decode parses the bracketed storage form.
// Anything other than exactly types.EmbeddingDimensions finite numbers is a
// CorruptEmbeddingError; short or long vectors are never padded or truncated.
func Decode(s string) (types.Embedding, error) {
	var e types.Embedding

	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return e, &types.CorruptEmbeddingError{Reason: "missing bracket delimiters"}
	}
	body := s[1 : len(s)-1]
	if strings.TrimSpace(body) == "" {
		return e, &types.CorruptEmbeddingError{Reason: "0 components"}
	}

	parts := strings.Split(body, ",")
	if len(parts) != types.EmbeddingDimensions {
		return e, &types.CorruptEmbeddingError{
			Reason: fmt.Sprintf("%d components, want %d", len(parts), types.EmbeddingDimensions),
		}
	}

	for i, field := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return types.Embedding{}, &types.CorruptEmbeddingError{
				Reason: fmt.Sprintf("component %d", i),
				Err:    err,
			}
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return types.Embedding{}, &types.CorruptEmbeddingError{
				Reason: fmt.Sprintf("component %d is not finite", i),
			}
		}
		e[i] = x
	}
	return e, nil
}
