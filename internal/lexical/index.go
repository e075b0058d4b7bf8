package lexical

import (
	"context"
	"sort"

	"github.com/dshills/contribrank/pkg/types"
)

// Index scores free text against the text fields of one entity-type partition.
//
// An entity's similarity is the best Blend over its fields. Only entities with
// a positive similarity are returned, ordered by descending similarity and then
// ascending id. An empty query returns no matches and no error.
type Index interface {
	Score(ctx context.Context, entityType types.EntityType, query string, scope types.Scope) ([]types.LexicalMatch, error)
}

func sortMatches(ms []types.LexicalMatch) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Similarity != ms[j].Similarity {
			return ms[i].Similarity > ms[j].Similarity
		}
		return ms[i].ID < ms[j].ID
	})
}

func validPartition(entityType types.EntityType) error {
	if !entityType.Valid() {
		return &types.InvalidArgumentError{Field: "entity_type", Reason: "unknown entity type " + string(entityType)}
	}
	return nil
}
