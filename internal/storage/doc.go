// Package storage provides the relational store adapters behind the engine.
//
// Two strategies implement the same Store interface:
//   - SQLiteStore: an embedded database (in-process, ":memory:" for tests).
//     Vector and lexical scoring run in the in-memory indexes built from it.
//   - PostgresStore: the platform database with pgvector and pg_trgm; the
//     vectorindex and lexical packages query it directly.
//
// The strategy is chosen explicitly through configuration, never through
// environment-driven global state.
//
// # Database Schema (embedded store)
//
// Tables:
//   - repositories: name, description, language, stars, archived, embedding
//   - opportunities: title, body, language, difficulty, contribution type,
//     repository stars, open state, embedding
//   - user_profiles: username, bio, embedding
//   - entity_tags: multi-valued attributes (topics, skills, languages,
//     contribution types) keyed by entity type and id
//
// Embeddings are stored in the bracketed text form "[v1,...,v1536]" produced by
// the embedding codec. A stored value that does not decode to exactly 1536
// numbers surfaces as a CorruptEmbeddingError on read.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStore(":memory:")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	err = store.UpsertRepository(ctx, &types.Repository{ID: "r1", Name: "ripgrep"})
//
//	// Resolve eligibility filters to an id scope
//	scope, err := store.Candidates(ctx, types.EntityRepository, storage.CandidateQuery{
//	    Filters: types.Filters{Language: "rust", ActiveOnly: true},
//	})
//
// A query without constraints returns a nil Scope, meaning unrestricted.
//
// # Build Modes
//
// The embedded store uses modernc.org/sqlite by default (pure Go) and
// github.com/mattn/go-sqlite3 when built with the sqlite_vec tag. BuildMode and
// DriverName report which one is compiled in.
//
// # Migrations
//
// ApplyMigrations versions the embedded schema with semantic versions recorded
// in schema_version. The Postgres schema is owned by the platform.
package storage
