package vectorindex

import (
	"context"
	"sync"

	"github.com/dshills/contribrank/internal/embedding"
	"github.com/dshills/contribrank/pkg/types"
)

// Flat is an exact index that scans every stored vector. It is slower than HNSW
// on large partitions but never misses a true neighbor.
type Flat struct {
	mu    sync.RWMutex
	parts map[types.EntityType]map[string]*flatEntry
}

type flatEntry struct {
	vec   types.Embedding
	norm2 float64
}

// NewFlat creates an empty exact index.
func NewFlat() *Flat {
	return &Flat{parts: make(map[types.EntityType]map[string]*flatEntry)}
}

// Upsert stores a copy of v, replacing any previous vector for id.
func (f *Flat) Upsert(entityType types.EntityType, id string, v *types.Embedding) {
	e := &flatEntry{vec: *v}
	e.norm2 = embedding.Dot(&e.vec, &e.vec)

	f.mu.Lock()
	defer f.mu.Unlock()
	part, ok := f.parts[entityType]
	if !ok {
		part = make(map[string]*flatEntry)
		f.parts[entityType] = part
	}
	part[id] = e
}

// Remove deletes id. Reports whether it was present.
func (f *Flat) Remove(entityType types.EntityType, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	part := f.parts[entityType]
	if _, ok := part[id]; !ok {
		return false
	}
	delete(part, id)
	return true
}

// Len returns the number of stored vectors in the partition.
func (f *Flat) Len(entityType types.EntityType) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.parts[entityType])
}

// Nearest implements Index with an exhaustive scan. EfSearch is ignored.
func (f *Flat) Nearest(ctx context.Context, entityType types.EntityType, query *types.Embedding, opts NearestOptions) ([]types.Neighbor, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qn2 := embedding.Dot(query, query)

	// Entries are immutable, so a snapshot of the pointers is enough.
	f.mu.RLock()
	part := f.parts[entityType]
	type ref struct {
		id string
		e  *flatEntry
	}
	refs := make([]ref, 0, len(part))
	for id, e := range part {
		if opts.Scope.Allows(id) {
			refs = append(refs, ref{id, e})
		}
	}
	f.mu.RUnlock()

	out := make([]types.Neighbor, 0, len(refs))
	for i, r := range refs {
		if i%256 == 255 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		out = append(out, types.Neighbor{
			ID:       r.id,
			Distance: embedding.CosineDistanceSq(query, &r.e.vec, qn2, r.e.norm2),
		})
	}
	sortNeighbors(out)
	return truncate(out, opts.K), nil
}

// Distances implements Index.
func (f *Flat) Distances(ctx context.Context, entityType types.EntityType, query *types.Embedding, ids []string) ([]types.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qn2 := embedding.Dot(query, query)

	f.mu.RLock()
	part := f.parts[entityType]
	out := make([]types.Neighbor, 0, len(ids))
	for _, id := range ids {
		if e, ok := part[id]; ok {
			out = append(out, types.Neighbor{ID: id, Distance: embedding.CosineDistanceSq(query, &e.vec, qn2, e.norm2)})
		}
	}
	f.mu.RUnlock()

	sortNeighbors(out)
	return out, nil
}
