// Package types provides shared type definitions for the contribrank engine.
//
// This package defines the searchable entities (repositories, opportunities and
// user profiles), the fixed-length Embedding vector, request and result types for
// hybrid search and recommendation matching, and the error taxonomy shared by
// every component.
//
// # Entities
//
// Every searchable entity has a string id, a set of text fields used for lexical
// matching and an optional Embedding:
//
//	repo := &types.Repository{
//	    ID:          "r-42",
//	    Name:        "ripgrep",
//	    Description: "fast line-oriented search tool",
//	    Language:    "rust",
//	    Stars:       45000,
//	}
//
// Embeddings are produced elsewhere and supplied to the engine as a
// [EmbeddingDimensions]float64 array. A slice of any other length is rejected
// with a DimensionError before it reaches an index.
//
// # Filters
//
// Filters narrow the candidate set before ranking. Requests coming from loosely
// typed callers are parsed with ParseFilters, which rejects unknown keys:
//
//	f, err := types.ParseFilters(map[string]any{"language": "go", "minStars": 100})
//
// Not every filter applies to every entity type; Filters.ValidateFor reports a
// filter that has no meaning for the requested partition.
//
// # Results
//
// SimilarityResult carries the per-source components (either may be nil) and the
// combined score. Result lists are always ordered by descending combined score
// with ties broken by ascending entity id.
//
// # Errors
//
// Each error type matches one sentinel through errors.Is:
//
//	if errors.Is(err, types.ErrNotFound) { ... }
//	if types.IsRetryable(err) { ... }
package types
