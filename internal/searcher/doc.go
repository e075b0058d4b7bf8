// Package searcher executes hybrid similarity queries and recommendation matching.
//
// A query is answered in three steps:
//   - Filters are resolved to a candidate scope through storage.Store.Candidates
//   - The vector and lexical lookups run concurrently, both restricted to that scope
//   - Rank merges the hits by entity id and orders them by combined score
//
// # Basic Usage
//
//	s := searcher.New(store, vectors, text, searcher.WithTimeout(2*time.Second))
//
//	results, err := s.HybridSearch(ctx, types.SearchRequest{
//	    EntityType:     types.EntityRepository,
//	    QueryText:      "graph database",
//	    QueryEmbedding: embedding,
//	    TextWeight:     0.3,
//	    VectorWeight:   0.7,
//	    Limit:          10,
//	})
//
//	for _, r := range results {
//	    fmt.Printf("%s %.3f\n", r.EntityID, r.CombinedScore)
//	}
//
// # Scoring
//
// The combined score of an entity is
//
//	VectorWeight * (1 - distance/2) + TextWeight * similarity
//
// where distance is the cosine distance in [0,2] and similarity the lexical
// similarity in [0,1]. A component the entity has no hit for contributes 0.
// Results below MinScore are dropped. Ties order by ascending entity id, so
// the output is deterministic.
//
// A source is not consulted when its weight is 0 or its input is missing: no
// embedding means no vector lookup, an empty text means no lexical lookup.
// The vector lookup fetches Limit times the candidate multiplier neighbors so
// lexical hits have vector partners to blend with.
//
// # Failures
//
// Each query runs under its own budget (WithTimeout). When the budget expires
// the call returns types.TimeoutError. A cancellation or deadline of the
// caller's context is returned as the context error itself.
//
// When both sources run and exactly one reports types.IndexUnavailableError
// the query is answered by the other source and a warning is logged.
//
// # Matching
//
// Matcher recommends open opportunities for a stored user profile, limited to
// the contribution types the user declared. See MatchOpportunitiesForUser.
package searcher
