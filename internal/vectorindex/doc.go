// Package vectorindex implements nearest-neighbor search over embeddings, one
// partition per entity type.
//
// Three implementations share the Index interface:
//   - HNSW: in-memory approximate index (M=16, ef_construction=200,
//     ef_search=100 by default)
//   - Flat: exact exhaustive scan, selected explicitly when recall must be
//     complete and the corpus is small
//   - Postgres: pgvector's <=> operator against the platform database
//
// Distances are cosine distances in [0,2]: 0 for identical directions, 1 for
// orthogonal vectors, 2 for opposite ones. Results are ordered by ascending
// distance with ties broken by ascending id.
//
// # Approximate Recall
//
// HNSW and Postgres may omit true nearest neighbors; raising EfSearch trades
// latency for recall. The order of the neighbors that are returned is always
// exact. With a Scope no larger than EfSearch, HNSW scans the allowed ids
// exhaustively.
//
// # Usage
//
//	idx := vectorindex.NewHNSW(vectorindex.DefaultConfig())
//	idx.Upsert(types.EntityRepository, "r1", &v)
//
//	neighbors, err := idx.Nearest(ctx, types.EntityRepository, &q, vectorindex.NearestOptions{
//	    K:        10,
//	    EfSearch: 200,
//	})
package vectorindex
