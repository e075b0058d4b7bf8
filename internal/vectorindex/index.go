package vectorindex

import (
	"context"
	"sort"

	"github.com/dshills/contribrank/pkg/types"
)

// NearestOptions controls one nearest-neighbor lookup.
type NearestOptions struct {
	// K is the number of neighbors requested. Must be positive.
	K int

	// EfSearch is the candidate list size of the graph search; 0 uses the index default.
	// Values below K are raised to K.
	EfSearch int

	// Scope restricts results to an id set; nil means unrestricted.
	Scope types.Scope
}

// Index answers nearest-neighbor queries for one entity-type partition at a time.
// Results are ordered by ascending distance, ties by ascending id. Entities
// without an embedding never appear.
type Index interface {
	Nearest(ctx context.Context, entityType types.EntityType, query *types.Embedding, opts NearestOptions) ([]types.Neighbor, error)

	// Distances returns the exact distance from query to each listed id that
	// has an embedding. Unknown ids and ids without an embedding are omitted.
	Distances(ctx context.Context, entityType types.EntityType, query *types.Embedding, ids []string) ([]types.Neighbor, error)
}

// Mutable is an in-process index maintained by the indexer.
type Mutable interface {
	Index
	Upsert(entityType types.EntityType, id string, v *types.Embedding)
	Remove(entityType types.EntityType, id string) bool
	Len(entityType types.EntityType) int
}

func validateOptions(opts NearestOptions) error {
	if opts.K <= 0 {
		return &types.InvalidArgumentError{Field: "k", Reason: "must be positive"}
	}
	if opts.EfSearch < 0 {
		return &types.InvalidArgumentError{Field: "ef_search", Reason: "must not be negative"}
	}
	return nil
}

// sortNeighbors orders by distance then id.
func sortNeighbors(ns []types.Neighbor) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].Distance != ns[j].Distance {
			return ns[i].Distance < ns[j].Distance
		}
		return ns[i].ID < ns[j].ID
	})
}

func truncate(ns []types.Neighbor, k int) []types.Neighbor {
	if len(ns) > k {
		return ns[:k]
	}
	return ns
}
