package types

// SimilarityResult is one ranked hit of a hybrid query. It lives only for the
// duration of the query that produced it.
type SimilarityResult struct {
	EntityID string `json:"entity_id"`

	// VectorDistance is the cosine distance in [0,2]; nil when the entity has no embedding
	// or was not among the vector candidates.
	VectorDistance *float64 `json:"vector_distance"`

	// TextSimilarity is in [0,1]; nil when the entity had no lexical match.
	TextSimilarity *float64 `json:"text_similarity"`

	CombinedScore float64 `json:"combined_score"`
}

// Neighbor is one vector index hit.
type Neighbor struct {
	ID       string  `json:"entity_id"`
	Distance float64 `json:"distance"`
}

// LexicalMatch is one lexical index hit.
type LexicalMatch struct {
	ID         string  `json:"entity_id"`
	Similarity float64 `json:"similarity"`
}
