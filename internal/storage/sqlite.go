package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/contribrank/internal/embedding"
	"github.com/dshills/contribrank/pkg/types"
)

// decodeCacheSize bounds the number of decoded embeddings kept per store
const decodeCacheSize = 4096

// SQLiteStore implements Store on an embedded SQLite database. Embeddings are
// kept in their bracketed text form; decoded vectors are cached by row version.
type SQLiteStore struct {
	db    *sql.DB
	cache *lru.Cache[string, *types.Embedding]
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from single writer; this also keeps :memory: databases shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies migrations.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	cache, err := lru.New[string, *types.Embedding](decodeCacheSize)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, cache: cache}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn in a transaction, committing on success
func (s *SQLiteStore) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Write operations

func encodeNullable(v *types.Embedding) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: embedding.Encode(*v), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// UpsertRepository inserts or replaces a repository and its topics
func (s *SQLiteStore) UpsertRepository(ctx context.Context, r *types.Repository) error {
	if err := validateID(r.ID); err != nil {
		return err
	}
	return s.withTx(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO repositories (id, name, description, language, stars, archived, embedding, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name, description = excluded.description, language = excluded.language,
				stars = excluded.stars, archived = excluded.archived, embedding = excluded.embedding,
				updated_at = excluded.updated_at
		`, r.ID, r.Name, r.Description, r.Language, r.Stars, boolInt(r.Archived),
			encodeNullable(r.Embedding), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to upsert repository %s: %w", r.ID, err)
		}
		return replaceTags(ctx, q, types.EntityRepository, r.ID, map[string][]string{tagTopic: r.Topics})
	})
}

// UpsertOpportunity inserts or replaces an opportunity and its skills
func (s *SQLiteStore) UpsertOpportunity(ctx context.Context, o *types.Opportunity) error {
	if err := validateID(o.ID); err != nil {
		return err
	}
	if _, err := types.ParseDifficulty(string(o.Difficulty)); err != nil {
		return err
	}
	return s.withTx(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO opportunities (id, repository_id, title, body, language, difficulty,
				contribution_type, repo_stars, is_open, embedding, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				repository_id = excluded.repository_id, title = excluded.title, body = excluded.body,
				language = excluded.language, difficulty = excluded.difficulty,
				contribution_type = excluded.contribution_type, repo_stars = excluded.repo_stars,
				is_open = excluded.is_open, embedding = excluded.embedding, updated_at = excluded.updated_at
		`, o.ID, o.RepositoryID, o.Title, o.Body, o.Language, string(o.Difficulty),
			o.ContributionType, o.RepoStars, boolInt(o.Open), encodeNullable(o.Embedding), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to upsert opportunity %s: %w", o.ID, err)
		}
		return replaceTags(ctx, q, types.EntityOpportunity, o.ID, map[string][]string{tagSkill: o.Skills})
	})
}

// UpsertUserProfile inserts or replaces a user profile and its declared preferences
func (s *SQLiteStore) UpsertUserProfile(ctx context.Context, u *types.UserProfile) error {
	if err := validateID(u.ID); err != nil {
		return err
	}
	return s.withTx(ctx, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO user_profiles (id, username, bio, embedding, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = excluded.username, bio = excluded.bio,
				embedding = excluded.embedding, updated_at = excluded.updated_at
		`, u.ID, u.Username, u.Bio, encodeNullable(u.Embedding), time.Now().UnixNano())
		if err != nil {
			return fmt.Errorf("failed to upsert user profile %s: %w", u.ID, err)
		}
		return replaceTags(ctx, q, types.EntityUser, u.ID, map[string][]string{
			tagSkill:            u.Skills,
			tagLanguage:         u.Languages,
			tagContributionType: u.ContributionTypes,
		})
	})
}

func replaceTags(ctx context.Context, q querier, entityType types.EntityType, id string, tags map[string][]string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM entity_tags WHERE entity_type = ? AND entity_id = ?", string(entityType), id); err != nil {
		return fmt.Errorf("failed to clear tags of %s %s: %w", entityType, id, err)
	}
	for kind, values := range tags {
		for pos, v := range values {
			_, err := q.ExecContext(ctx,
				"INSERT INTO entity_tags (entity_type, entity_id, kind, value, position) VALUES (?, ?, ?, ?, ?)",
				string(entityType), id, kind, v, pos)
			if err != nil {
				return fmt.Errorf("failed to store %s tag of %s %s: %w", kind, entityType, id, err)
			}
		}
	}
	return nil
}

// DeleteEntity removes an entity and its tags
func (s *SQLiteStore) DeleteEntity(ctx context.Context, entityType types.EntityType, id string) error {
	table, err := TableFor(entityType)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(q querier) error {
		res, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete %s %s: %w", entityType, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s %s: %w", entityType, id, ErrNotFound)
		}
		_, err = q.ExecContext(ctx, "DELETE FROM entity_tags WHERE entity_type = ? AND entity_id = ?", string(entityType), id)
		return err
	})
}

// Read operations

// decode parses a stored embedding, consulting the cache keyed by row version
func (s *SQLiteStore) decode(table, id string, version int64, raw sql.NullString) (*types.Embedding, error) {
	if !raw.Valid {
		return nil, nil
	}
	key := fmt.Sprintf("%s/%s/%d", table, id, version)
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}
	v, err := embedding.Decode(raw.String)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", table, id, err)
	}
	s.cache.Add(key, &v)
	return &v, nil
}

// loadTags returns kind -> values per entity id, in declared order.
// An empty id loads the tags of every entity of the type.
func (s *SQLiteStore) loadTags(ctx context.Context, entityType types.EntityType, id string) (map[string]map[string][]string, error) {
	query := "SELECT entity_id, kind, value FROM entity_tags WHERE entity_type = ?"
	args := []interface{}{string(entityType)}
	if id != "" {
		query += " AND entity_id = ?"
		args = append(args, id)
	}
	query += " ORDER BY entity_id, kind, position"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]map[string][]string)
	for rows.Next() {
		var entityID, kind, value string
		if err := rows.Scan(&entityID, &kind, &value); err != nil {
			return nil, err
		}
		byKind, ok := out[entityID]
		if !ok {
			byKind = make(map[string][]string)
			out[entityID] = byKind
		}
		byKind[kind] = append(byKind[kind], value)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const repositoryColumns = "id, name, description, language, stars, archived, embedding, updated_at"

func (s *SQLiteStore) scanRepository(row rowScanner, tags map[string]map[string][]string) (*types.Repository, error) {
	var (
		r        types.Repository
		archived int
		raw      sql.NullString
		version  int64
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Language, &r.Stars, &archived, &raw, &version); err != nil {
		return nil, err
	}
	r.Archived = archived != 0
	r.Topics = tags[r.ID][tagTopic]
	emb, err := s.decode("repositories", r.ID, version, raw)
	if err != nil {
		return nil, err
	}
	r.Embedding = emb
	return &r, nil
}

const opportunityColumns = "id, repository_id, title, body, language, difficulty, contribution_type, repo_stars, is_open, embedding, updated_at"

func (s *SQLiteStore) scanOpportunity(row rowScanner, tags map[string]map[string][]string) (*types.Opportunity, error) {
	var (
		o          types.Opportunity
		difficulty string
		open       int
		raw        sql.NullString
		version    int64
	)
	if err := row.Scan(&o.ID, &o.RepositoryID, &o.Title, &o.Body, &o.Language, &difficulty,
		&o.ContributionType, &o.RepoStars, &open, &raw, &version); err != nil {
		return nil, err
	}
	o.Difficulty = types.Difficulty(difficulty)
	o.Open = open != 0
	o.Skills = tags[o.ID][tagSkill]
	emb, err := s.decode("opportunities", o.ID, version, raw)
	if err != nil {
		return nil, err
	}
	o.Embedding = emb
	return &o, nil
}

const userColumns = "id, username, bio, embedding, updated_at"

func (s *SQLiteStore) scanUser(row rowScanner, tags map[string]map[string][]string) (*types.UserProfile, error) {
	var (
		u       types.UserProfile
		raw     sql.NullString
		version int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Bio, &raw, &version); err != nil {
		return nil, err
	}
	u.Skills = tags[u.ID][tagSkill]
	u.Languages = tags[u.ID][tagLanguage]
	u.ContributionTypes = tags[u.ID][tagContributionType]
	emb, err := s.decode("user_profiles", u.ID, version, raw)
	if err != nil {
		return nil, err
	}
	u.Embedding = emb
	return &u, nil
}

// GetUserProfile returns the profile with its declared skills and preferences
func (s *SQLiteStore) GetUserProfile(ctx context.Context, id string) (*types.UserProfile, error) {
	e, err := s.getOne(ctx, types.EntityUser, id)
	if err != nil {
		return nil, err
	}
	return e.(*types.UserProfile), nil
}

// GetEntity returns the indexable view of one entity
func (s *SQLiteStore) GetEntity(ctx context.Context, entityType types.EntityType, id string) (*Entity, error) {
	v, err := s.getOne(ctx, entityType, id)
	if err != nil {
		return nil, err
	}
	e := toEntity(v)
	return &e, nil
}

func toEntity(v interface{}) Entity {
	switch x := v.(type) {
	case *types.Repository:
		return repositoryEntity(x)
	case *types.Opportunity:
		return opportunityEntity(x)
	default:
		return userEntity(x.(*types.UserProfile))
	}
}

// getOne loads one row of the partition; tags are read after the row so the
// single connection is never shared by two open result sets.
func (s *SQLiteStore) getOne(ctx context.Context, entityType types.EntityType, id string) (interface{}, error) {
	table, err := TableFor(entityType)
	if err != nil {
		return nil, err
	}
	tags, err := s.loadTags(ctx, entityType, id)
	if err != nil {
		return nil, err
	}

	var v interface{}
	switch entityType {
	case types.EntityRepository:
		v, err = s.scanRepository(s.db.QueryRowContext(ctx, "SELECT "+repositoryColumns+" FROM "+table+" WHERE id = ?", id), tags)
	case types.EntityOpportunity:
		v, err = s.scanOpportunity(s.db.QueryRowContext(ctx, "SELECT "+opportunityColumns+" FROM "+table+" WHERE id = ?", id), tags)
	default:
		v, err = s.scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM "+table+" WHERE id = ?", id), tags)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", entityType, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", entityType, id, err)
	}
	return v, nil
}

// ScanEntities calls fn for every entity of the type in ascending id order.
// Rows are fully read before fn is called, so fn may use the store.
func (s *SQLiteStore) ScanEntities(ctx context.Context, entityType types.EntityType, fn func(Entity) error) error {
	table, err := TableFor(entityType)
	if err != nil {
		return err
	}
	tags, err := s.loadTags(ctx, entityType, "")
	if err != nil {
		return err
	}

	var columns string
	switch entityType {
	case types.EntityRepository:
		columns = repositoryColumns
	case types.EntityOpportunity:
		columns = opportunityColumns
	default:
		columns = userColumns
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+columns+" FROM "+table+" ORDER BY id")
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", table, err)
	}
	var entities []Entity
	for rows.Next() {
		var v interface{}
		switch entityType {
		case types.EntityRepository:
			v, err = s.scanRepository(rows, tags)
		case types.EntityOpportunity:
			v, err = s.scanOpportunity(rows, tags)
		default:
			v, err = s.scanUser(rows, tags)
		}
		if err != nil {
			_ = rows.Close()
			return err
		}
		entities = append(entities, toEntity(v))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, e := range entities {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Candidates resolves filters to the matching ids of the partition
func (s *SQLiteStore) Candidates(ctx context.Context, entityType types.EntityType, q CandidateQuery) (types.Scope, error) {
	table, err := TableFor(entityType)
	if err != nil {
		return nil, err
	}
	w := newWhereBuilder(dialectSQLite)
	if err := applyCandidateFilters(w, entityType, q); err != nil {
		return nil, err
	}
	if q.IsZero() {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM "+table+" WHERE 1=1"+w.clause(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s candidates: %w", entityType, err)
	}
	defer func() { _ = rows.Close() }()

	scope := make(types.Scope)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		scope[id] = struct{}{}
	}
	return scope, rows.Err()
}

// Stats counts entities and embeddings per partition
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Strategy: "sqlite", Partitions: make(map[types.EntityType]PartitionStats)}
	for _, et := range types.EntityTypes {
		table, _ := TableFor(et)
		var p PartitionStats
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*), COUNT(embedding) FROM "+table).Scan(&p.Total, &p.WithEmbedding)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats.Partitions[et] = p
	}
	return stats, nil
}
