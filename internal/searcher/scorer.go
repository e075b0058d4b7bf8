package searcher

import (
	"math"
	"sort"

	"github.com/dshills/contribrank/pkg/types"
)

// Weights are the per-source multipliers of the combined score. They need not
// sum to 1.
type Weights struct {
	Text   float64 `json:"text_weight" yaml:"text_weight"`
	Vector float64 `json:"vector_weight" yaml:"vector_weight"`
}

// Validate rejects negative or non-finite weights and the all-zero pair.
func (w Weights) Validate() error {
	if math.IsNaN(w.Text) || math.IsInf(w.Text, 0) || w.Text < 0 {
		return &types.InvalidArgumentError{Field: "text_weight", Reason: "must be a finite number >= 0"}
	}
	if math.IsNaN(w.Vector) || math.IsInf(w.Vector, 0) || w.Vector < 0 {
		return &types.InvalidArgumentError{Field: "vector_weight", Reason: "must be a finite number >= 0"}
	}
	if w.Text == 0 && w.Vector == 0 {
		return &types.InvalidArgumentError{Field: "weights", Reason: "text_weight and vector_weight must not both be 0"}
	}
	return nil
}

// VectorSimilarity maps a cosine distance in [0,2] to [0,1], 1 being identical.
func VectorSimilarity(distance float64) float64 {
	return 1 - math.Min(math.Max(distance, 0), 2)/2
}

// Combine computes the blended score of one entity. A nil component contributes 0.
func Combine(w Weights, distance, similarity *float64) float64 {
	var score float64
	if distance != nil {
		score += w.Vector * VectorSimilarity(*distance)
	}
	if similarity != nil {
		score += w.Text * *similarity
	}
	return score
}

// Rank merges vector and lexical hits by entity id, scores them with Combine,
// drops every entity scoring below minScore and orders the rest by descending
// score, then ascending id. A positive limit truncates the result.
//
// With a zero text weight the order is the ascending distance order of vector;
// with a zero vector weight it is the order of lexical.
func Rank(vector []types.Neighbor, lexical []types.LexicalMatch, w Weights, minScore float64, limit int) []types.SimilarityResult {
	byID := make(map[string]*types.SimilarityResult, len(vector)+len(lexical))
	get := func(id string) *types.SimilarityResult {
		r, ok := byID[id]
		if !ok {
			r = &types.SimilarityResult{EntityID: id}
			byID[id] = r
		}
		return r
	}
	for _, n := range vector {
		d := n.Distance
		get(n.ID).VectorDistance = &d
	}
	for _, m := range lexical {
		s := m.Similarity
		get(m.ID).TextSimilarity = &s
	}

	out := make([]types.SimilarityResult, 0, len(byID))
	for _, r := range byID {
		r.CombinedScore = Combine(w, r.VectorDistance, r.TextSimilarity)
		if r.CombinedScore < minScore {
			continue
		}
		out = append(out, *r)
	}
	sortResults(out)

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// sortResults orders by combined score descending, then entity id ascending.
func sortResults(results []types.SimilarityResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].CombinedScore != results[j].CombinedScore {
			return results[i].CombinedScore > results[j].CombinedScore
		}
		return results[i].EntityID < results[j].EntityID
	})
}
