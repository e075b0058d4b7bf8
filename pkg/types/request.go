package types

// SearchRequest is one hybrid query against a single entity partition.
type SearchRequest struct {
	EntityType EntityType
	QueryText  string

	// QueryEmbedding is optional; an empty slice means no vector lookup.
	// Any other length than EmbeddingDimensions is a DimensionError.
	QueryEmbedding []float64

	TextWeight   float64
	VectorWeight float64
	MinScore     float64
	Limit        int
	Filters      Filters

	// EfSearch overrides the vector index search breadth; 0 uses the configured default.
	EfSearch int
}

// MatchRequest asks for opportunities matching a user's profile.
type MatchRequest struct {
	UserID   string
	MinScore float64
	Limit    int
	Filters  Filters
}
