// Package indexer keeps the in-process similarity indexes in step with the
// relational store.
//
// The sqlite strategy answers nearest-neighbor and lexical lookups from memory:
// an HNSW (or Flat) vector index and a trigram lexical index, one partition per
// entity type. The indexer fills them from storage.Store.ScanEntities at
// startup and refreshes single entities after writes.
//
// # Basic Usage
//
//	idx := indexer.New(store, vectors, text, indexer.WithLogger(logger))
//
//	stats, err := idx.Build(ctx, &indexer.Config{Workers: 3})
//	if err != nil {
//	    return err
//	}
//
//	// after an upsert or delete in the store
//	err = idx.Refresh(ctx, types.EntityOpportunity, "o42")
//
// # Build
//
// Partitions are scanned concurrently through an errgroup, bounded by
// Config.Workers. The first failing partition cancels the others. A stored
// embedding that fails to decode aborts the build; it is never skipped.
//
// Only one Build runs at a time. A concurrent call returns ErrBuildInProgress
// immediately.
//
// # Refresh
//
// Refresh re-reads one entity. Its text always replaces the lexical entry. Its
// embedding replaces the vector entry, or removes it when the entity no longer
// has one. An entity missing from the store is removed from both indexes.
//
// The Postgres strategy keeps its indexes server side and does not use this
// package.
package indexer
