package embedding

import (
	"math"

	"github.com/dshills/contribrank/pkg/types"
)

// Dot returns the inner product of a and b.
func Dot(a, b *types.Embedding) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the Euclidean length of v.
func Norm(v *types.Embedding) float64 {
	return math.Sqrt(Dot(v, v))
}

// CosineDistance returns 1 - cosine similarity, clamped to [0,2].
// A zero vector has no direction and is treated as orthogonal to everything.
func CosineDistance(a, b *types.Embedding) float64 {
	return CosineDistanceSq(a, b, Dot(a, a), Dot(b, b))
}

// CosineDistanceSq is CosineDistance with precomputed squared norms.
// Dividing by sqrt(na2*nb2) keeps the distance of a vector to itself exactly 0.
func CosineDistanceSq(a, b *types.Embedding, na2, nb2 float64) float64 {
	if na2 == 0 || nb2 == 0 {
		return 1
	}
	d := 1 - Dot(a, b)/math.Sqrt(na2*nb2)
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	}
	return d
}
