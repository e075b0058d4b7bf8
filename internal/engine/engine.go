// Package engine assembles a store, its similarity indexes, the searcher and
// the matcher from a Config.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/contribrank/internal/config"
	"github.com/dshills/contribrank/internal/indexer"
	"github.com/dshills/contribrank/internal/lexical"
	"github.com/dshills/contribrank/internal/searcher"
	"github.com/dshills/contribrank/internal/storage"
	"github.com/dshills/contribrank/internal/vectorindex"
	"github.com/dshills/contribrank/pkg/types"
)

// Engine is an opened store plus everything needed to query it. It is safe
// for concurrent use.
type Engine struct {
	strategy config.StoreStrategy
	store    storage.Store
	indexer  *indexer.Indexer // nil for the postgres strategy
	searcher *searcher.Searcher
	matcher  *searcher.Matcher
	logger   *slog.Logger
	opened   time.Time
}

// Option configures Open.
type Option func(*options)

type options struct {
	logger *slog.Logger
	store  storage.Store
}

// WithLogger sets the logger used by the engine and everything it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStore uses an already opened store instead of opening one from the
// config. The engine takes ownership and closes it.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// Open connects the configured store and prepares its indexes. With the
// sqlite strategy the in-process indexes are built before Open returns.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{strategy: cfg.Store.Strategy, logger: o.logger, opened: time.Now()}
	searchOpts := []searcher.Option{
		searcher.WithLogger(o.logger),
		searcher.WithTimeout(cfg.Search.Timeout),
		searcher.WithCandidateMultiplier(cfg.Search.CandidateMultiplier),
	}

	switch cfg.Store.Strategy {
	case config.StrategyPostgres:
		store, ok := o.store.(*storage.PostgresStore)
		if o.store != nil && !ok {
			return nil, fmt.Errorf("postgres strategy needs a *storage.PostgresStore, got %T", o.store)
		}
		if store == nil {
			var err error
			if store, err = storage.NewPostgresStore(ctx, cfg.Store.PostgresDSN); err != nil {
				return nil, err
			}
		}
		e.store = store
		vectors := vectorindex.NewPostgres(store.DB(), cfg.HNSW.EfSearch)
		text := lexical.NewPostgres(store.DB(), cfg.Search.PhraseBoost, cfg.Search.LexicalThreshold)
		e.searcher = searcher.New(store, vectors, text, searchOpts...)

	case config.StrategySQLite:
		store := o.store
		if store == nil {
			s, err := openSQLite(cfg.Store.SQLitePath)
			if err != nil {
				return nil, err
			}
			store = s
		}
		e.store = store

		var vectors vectorindex.Mutable
		if cfg.Search.ExactVectors {
			vectors = vectorindex.NewFlat()
		} else {
			vectors = vectorindex.NewHNSW(cfg.HNSW)
		}
		text := lexical.NewMemory(cfg.Search.PhraseBoost)
		e.indexer = indexer.New(store, vectors, text, indexer.WithLogger(o.logger))

		stats, err := e.indexer.Build(ctx, &indexer.Config{Workers: cfg.Search.BuildWorkers})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to build indexes: %w", err)
		}
		o.logger.Info("indexes built",
			slog.Bool("exact_vectors", cfg.Search.ExactVectors),
			slog.Duration("duration", stats.Duration))
		e.searcher = searcher.New(store, vectors, text, searchOpts...)
	}

	e.matcher = searcher.NewMatcher(e.searcher, cfg.Match)
	o.logger.Info("engine ready", slog.String("strategy", string(e.strategy)))
	return e, nil
}

func openSQLite(path string) (*storage.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// Searcher returns the query executor.
func (e *Engine) Searcher() *searcher.Searcher { return e.searcher }

// Matcher returns the recommendation matcher.
func (e *Engine) Matcher() *searcher.Matcher { return e.matcher }

// Store returns the underlying store.
func (e *Engine) Store() storage.Store { return e.store }

// Strategy reports the store strategy in use.
func (e *Engine) Strategy() config.StoreStrategy { return e.strategy }

// Refresh brings the in-process indexes up to date with one stored entity.
// It is a no-op for the postgres strategy, whose indexes live in the database.
func (e *Engine) Refresh(ctx context.Context, entityType types.EntityType, id string) error {
	if e.indexer == nil {
		return nil
	}
	return e.indexer.Refresh(ctx, entityType, id)
}

// Rebuild rebuilds every in-process index from the store.
func (e *Engine) Rebuild(ctx context.Context) (*indexer.Statistics, error) {
	if e.indexer == nil {
		return nil, errors.New("indexes are maintained by the database for the postgres strategy")
	}
	return e.indexer.Build(ctx, nil)
}

// Status describes the store and its indexes.
type Status struct {
	Strategy  string                                           `json:"strategy"`
	BuildMode string                                           `json:"build_mode"`
	Driver    string                                           `json:"driver,omitempty"`
	Uptime    time.Duration                                    `json:"-"`
	Store     map[types.EntityType]storage.PartitionStats      `json:"store"`
	Indexed   map[types.EntityType]indexer.PartitionStatistics `json:"indexed,omitempty"`
}

// Status counts stored entities and, for the sqlite strategy, indexed ones.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	stats, err := e.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get store statistics: %w", err)
	}
	st := &Status{
		Strategy:  string(e.strategy),
		BuildMode: storage.BuildMode,
		Uptime:    time.Since(e.opened),
		Store:     stats.Partitions,
	}
	if e.strategy == config.StrategySQLite {
		st.Driver = storage.DriverName
	}
	if e.indexer != nil {
		st.Indexed = e.indexer.Sizes()
	}
	return st, nil
}

// Close releases the store.
func (e *Engine) Close() error {
	return e.store.Close()
}
