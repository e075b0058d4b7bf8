package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/contribrank/internal/storage"
	"github.com/dshills/contribrank/internal/vectorindex"
	"github.com/dshills/contribrank/pkg/types"
)

// ErrBuildInProgress is returned when Build is called while another build runs.
var ErrBuildInProgress = errors.New("index build already in progress")

// TextIndex is the write side of an in-process lexical index.
type TextIndex interface {
	Upsert(entityType types.EntityType, id string, text []string)
	Remove(entityType types.EntityType, id string) bool
	Len(entityType types.EntityType) int
}

// Indexer keeps the in-process vector and lexical indexes in step with a Store.
type Indexer struct {
	store   storage.Store
	vectors vectorindex.Mutable
	text    TextIndex
	logger  *slog.Logger

	lock IndexLock
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Indexer) {
		idx.logger = logger
	}
}

// Config contains configuration for a build
type Config struct {
	// Workers bounds the partitions built concurrently (default: runtime.NumCPU()).
	Workers int

	// EntityTypes limits the build to these partitions (default: all).
	EntityTypes []types.EntityType
}

// Statistics describes one build.
type Statistics struct {
	Partitions map[types.EntityType]PartitionStatistics
	Duration   time.Duration
}

// PartitionStatistics counts what was indexed in one partition.
type PartitionStatistics struct {
	Indexed       int `json:"indexed"`
	WithEmbedding int `json:"with_embedding"`
}

// New creates an Indexer writing into vectors and text.
func New(store storage.Store, vectors vectorindex.Mutable, text TextIndex, opts ...Option) *Indexer {
	idx := &Indexer{
		store:   store,
		vectors: vectors,
		text:    text,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Build loads every entity of the configured partitions into the indexes.
// Partitions are scanned concurrently. A corrupt stored embedding aborts the
// build with a CorruptEmbeddingError.
func (idx *Indexer) Build(ctx context.Context, config *Config) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrBuildInProgress
	}
	defer idx.lock.Release()

	if config == nil {
		config = &Config{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	entityTypes := config.EntityTypes
	if len(entityTypes) == 0 {
		entityTypes = types.EntityTypes
	}

	startTime := time.Now()
	stats := &Statistics{Partitions: make(map[types.EntityType]PartitionStatistics, len(entityTypes))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, et := range entityTypes {
		g.Go(func() error {
			ps, err := idx.buildPartition(gctx, et)
			if err != nil {
				return fmt.Errorf("failed to index %s partition: %w", et, err)
			}
			mu.Lock()
			stats.Partitions[et] = ps
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.Duration = time.Since(startTime)
	idx.logger.Info("index build complete",
		slog.Duration("duration", stats.Duration),
		slog.Any("partitions", stats.Partitions))
	return stats, nil
}

func (idx *Indexer) buildPartition(ctx context.Context, entityType types.EntityType) (PartitionStatistics, error) {
	var ps PartitionStatistics
	err := idx.store.ScanEntities(ctx, entityType, func(e storage.Entity) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if idx.apply(e) {
			ps.WithEmbedding++
		}
		ps.Indexed++
		return nil
	})
	return ps, err
}

// apply writes e into both indexes and reports whether it carried an embedding.
func (idx *Indexer) apply(e storage.Entity) bool {
	idx.text.Upsert(e.Type, e.ID, e.Text)
	if e.Embedding == nil {
		idx.vectors.Remove(e.Type, e.ID)
		return false
	}
	idx.vectors.Upsert(e.Type, e.ID, e.Embedding)
	return true
}

// Refresh re-reads one entity from the store and updates both indexes. An
// entity that no longer exists is removed from them.
func (idx *Indexer) Refresh(ctx context.Context, entityType types.EntityType, id string) error {
	e, err := idx.store.GetEntity(ctx, entityType, id)
	if errors.Is(err, storage.ErrNotFound) {
		idx.vectors.Remove(entityType, id)
		idx.text.Remove(entityType, id)
		idx.logger.Debug("removed entity from indexes", slog.String("entity_type", string(entityType)), slog.String("id", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to refresh %s %s: %w", entityType, id, err)
	}
	idx.apply(*e)
	return nil
}

// Sizes reports the current number of entries per partition in each index.
func (idx *Indexer) Sizes() map[types.EntityType]PartitionStatistics {
	out := make(map[types.EntityType]PartitionStatistics, len(types.EntityTypes))
	for _, et := range types.EntityTypes {
		out[et] = PartitionStatistics{
			Indexed:       idx.text.Len(et),
			WithEmbedding: idx.vectors.Len(et),
		}
	}
	return out
}
