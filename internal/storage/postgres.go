package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dshills/contribrank/internal/embedding"
	"github.com/dshills/contribrank/pkg/types"
)

// PostgresStore implements Store on PostgreSQL with the pgvector and pg_trgm
// extensions. The schema is owned by the platform's migration tooling; the
// store expects:
//
//	repositories  (id, name, description, language, topics text[], stars, archived, embedding vector(1536))
//	opportunities (id, repository_id, title, body, language, difficulty, skills text[],
//	               contribution_type, repo_stars, is_open, embedding vector(1536))
//	user_profiles (id, username, bio, skills text[], languages text[], contribution_types text[],
//	               embedding vector(1536))
//
// Embeddings are read as embedding::text, which pgvector renders in the same
// bracketed form the codec parses.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects to dsn with the lib/pq driver.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	return NewPostgresStoreWithRetry(ctx, dsn, DefaultRetryConfig())
}

// NewPostgresStoreWithRetry connects like NewPostgresStore, retrying with
// backoff while the server is unreachable.
func NewPostgresStoreWithRetry(ctx context.Context, dsn string, retry RetryConfig) (*PostgresStore, error) {
	db, err := retryWithBackoff(ctx, retry, func() (*sqlx.DB, error) {
		db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err != nil {
			return nil, Classify(ctx, "store", fmt.Errorf("failed to connect to postgres: %w", err))
		}
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle.
func NewPostgresStoreFromDB(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// DB exposes the handle so the pgvector and pg_trgm indexes share the pool.
func (p *PostgresStore) DB() *sqlx.DB { return p.db }

// Close closes the connection pool
func (p *PostgresStore) Close() error { return p.db.Close() }

// ClassifyError wraps connectivity failures in an IndexUnavailableError for the
// named index. Context errors, cancelled statements and query errors pass
// through unchanged.
func ClassifyError(index string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var opErr *net.OpError
	var pqErr *pq.Error
	switch {
	case errors.Is(err, sql.ErrConnDone), errors.Is(err, driver.ErrBadConn), errors.As(err, &opErr):
		return &types.IndexUnavailableError{Index: index, Err: err}
	case errors.As(err, &pqErr) && pqErr.Code == queryCanceled:
		return err
	case errors.As(err, &pqErr) && (pqErr.Code.Class() == "08" || pqErr.Code.Class() == "57"):
		// connection_exception and operator_intervention (shutdown, cannot connect now)
		return &types.IndexUnavailableError{Index: index, Err: err}
	}
	return err
}

// queryCanceled is what lib/pq reports when a context ends mid-statement.
const queryCanceled pq.ErrorCode = "57014"

// Classify is ClassifyError for a call made under ctx. Once ctx has ended its
// own error is returned, so the caller can tell budget expiry and
// cancellation apart from an unreachable server.
func Classify(ctx context.Context, index string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(err, ctxErr) {
			return err
		}
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return ClassifyError(index, err)
}

type pgRepositoryRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	Description string         `db:"description"`
	Language    string         `db:"language"`
	Topics      pq.StringArray `db:"topics"`
	Stars       int            `db:"stars"`
	Archived    bool           `db:"archived"`
	Embedding   sql.NullString `db:"embedding"`
}

type pgOpportunityRow struct {
	ID               string         `db:"id"`
	RepositoryID     string         `db:"repository_id"`
	Title            string         `db:"title"`
	Body             string         `db:"body"`
	Language         string         `db:"language"`
	Difficulty       string         `db:"difficulty"`
	Skills           pq.StringArray `db:"skills"`
	ContributionType string         `db:"contribution_type"`
	RepoStars        int            `db:"repo_stars"`
	IsOpen           bool           `db:"is_open"`
	Embedding        sql.NullString `db:"embedding"`
}

type pgUserRow struct {
	ID                string         `db:"id"`
	Username          string         `db:"username"`
	Bio               string         `db:"bio"`
	Skills            pq.StringArray `db:"skills"`
	Languages         pq.StringArray `db:"languages"`
	ContributionTypes pq.StringArray `db:"contribution_types"`
	Embedding         sql.NullString `db:"embedding"`
}

const (
	pgRepositorySelect  = `SELECT id, name, description, language, topics, stars, archived, embedding::text AS embedding FROM repositories`
	pgOpportunitySelect = `SELECT id, repository_id, title, body, language, difficulty, skills, contribution_type, repo_stars, is_open, embedding::text AS embedding FROM opportunities`
	pgUserSelect        = `SELECT id, username, bio, skills, languages, contribution_types, embedding::text AS embedding FROM user_profiles`
)

func decodePG(table, id string, raw sql.NullString) (*types.Embedding, error) {
	if !raw.Valid {
		return nil, nil
	}
	v, err := embedding.Decode(raw.String)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", table, id, err)
	}
	return &v, nil
}

func (r *pgRepositoryRow) toDomain() (*types.Repository, error) {
	emb, err := decodePG("repositories", r.ID, r.Embedding)
	if err != nil {
		return nil, err
	}
	return &types.Repository{
		ID: r.ID, Name: r.Name, Description: r.Description, Language: r.Language,
		Topics: []string(r.Topics), Stars: r.Stars, Archived: r.Archived, Embedding: emb,
	}, nil
}

func (o *pgOpportunityRow) toDomain() (*types.Opportunity, error) {
	emb, err := decodePG("opportunities", o.ID, o.Embedding)
	if err != nil {
		return nil, err
	}
	return &types.Opportunity{
		ID: o.ID, RepositoryID: o.RepositoryID, Title: o.Title, Body: o.Body, Language: o.Language,
		Difficulty: types.Difficulty(o.Difficulty), Skills: []string(o.Skills),
		ContributionType: o.ContributionType, RepoStars: o.RepoStars, Open: o.IsOpen, Embedding: emb,
	}, nil
}

func (u *pgUserRow) toDomain() (*types.UserProfile, error) {
	emb, err := decodePG("user_profiles", u.ID, u.Embedding)
	if err != nil {
		return nil, err
	}
	return &types.UserProfile{
		ID: u.ID, Username: u.Username, Bio: u.Bio, Skills: []string(u.Skills),
		Languages: []string(u.Languages), ContributionTypes: []string(u.ContributionTypes), Embedding: emb,
	}, nil
}

// Candidates resolves filters to the matching ids of the partition
func (p *PostgresStore) Candidates(ctx context.Context, entityType types.EntityType, q CandidateQuery) (types.Scope, error) {
	table, err := TableFor(entityType)
	if err != nil {
		return nil, err
	}
	w := newWhereBuilder(dialectPostgres)
	if err := applyCandidateFilters(w, entityType, q); err != nil {
		return nil, err
	}
	if q.IsZero() {
		return nil, nil
	}

	var ids []string
	if err := p.db.SelectContext(ctx, &ids, "SELECT id FROM "+table+" WHERE TRUE"+w.clause(), w.args...); err != nil {
		return nil, Classify(ctx, "store", fmt.Errorf("failed to resolve %s candidates: %w", entityType, err))
	}
	return types.NewScope(ids...), nil
}

// GetUserProfile returns the profile with its declared skills and preferences
func (p *PostgresStore) GetUserProfile(ctx context.Context, id string) (*types.UserProfile, error) {
	var row pgUserRow
	if err := p.db.GetContext(ctx, &row, pgUserSelect+" WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", types.EntityUser, id, ErrNotFound)
		}
		return nil, Classify(ctx, "store", fmt.Errorf("failed to get user %s: %w", id, err))
	}
	return row.toDomain()
}

// GetEntity returns the indexable view of one entity
func (p *PostgresStore) GetEntity(ctx context.Context, entityType types.EntityType, id string) (*Entity, error) {
	var (
		e   Entity
		err error
	)
	notFound := func(err error) error {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", entityType, id, ErrNotFound)
		}
		return Classify(ctx, "store", fmt.Errorf("failed to get %s %s: %w", entityType, id, err))
	}

	switch entityType {
	case types.EntityRepository:
		var row pgRepositoryRow
		if err = p.db.GetContext(ctx, &row, pgRepositorySelect+" WHERE id = $1", id); err != nil {
			return nil, notFound(err)
		}
		r, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		e = repositoryEntity(r)
	case types.EntityOpportunity:
		var row pgOpportunityRow
		if err = p.db.GetContext(ctx, &row, pgOpportunitySelect+" WHERE id = $1", id); err != nil {
			return nil, notFound(err)
		}
		o, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		e = opportunityEntity(o)
	case types.EntityUser:
		u, err := p.GetUserProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		e = userEntity(u)
	default:
		_, err = TableFor(entityType)
		return nil, err
	}
	return &e, nil
}

// ScanEntities calls fn for every entity of the type in ascending id order
func (p *PostgresStore) ScanEntities(ctx context.Context, entityType types.EntityType, fn func(Entity) error) error {
	switch entityType {
	case types.EntityRepository:
		var rows []pgRepositoryRow
		if err := p.db.SelectContext(ctx, &rows, pgRepositorySelect+" ORDER BY id"); err != nil {
			return Classify(ctx, "store", fmt.Errorf("failed to scan repositories: %w", err))
		}
		for i := range rows {
			r, err := rows[i].toDomain()
			if err != nil {
				return err
			}
			if err := fn(repositoryEntity(r)); err != nil {
				return err
			}
		}
	case types.EntityOpportunity:
		var rows []pgOpportunityRow
		if err := p.db.SelectContext(ctx, &rows, pgOpportunitySelect+" ORDER BY id"); err != nil {
			return Classify(ctx, "store", fmt.Errorf("failed to scan opportunities: %w", err))
		}
		for i := range rows {
			o, err := rows[i].toDomain()
			if err != nil {
				return err
			}
			if err := fn(opportunityEntity(o)); err != nil {
				return err
			}
		}
	case types.EntityUser:
		var rows []pgUserRow
		if err := p.db.SelectContext(ctx, &rows, pgUserSelect+" ORDER BY id"); err != nil {
			return Classify(ctx, "store", fmt.Errorf("failed to scan user_profiles: %w", err))
		}
		for i := range rows {
			u, err := rows[i].toDomain()
			if err != nil {
				return err
			}
			if err := fn(userEntity(u)); err != nil {
				return err
			}
		}
	default:
		_, err := TableFor(entityType)
		return err
	}
	return nil
}

// UpsertRepository inserts or replaces a repository
func (p *PostgresStore) UpsertRepository(ctx context.Context, r *types.Repository) error {
	if err := validateID(r.ID); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO repositories (id, name, description, language, topics, stars, archived, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description, language = EXCLUDED.language,
			topics = EXCLUDED.topics, stars = EXCLUDED.stars, archived = EXCLUDED.archived,
			embedding = EXCLUDED.embedding
	`, r.ID, r.Name, r.Description, r.Language, pq.Array(r.Topics), r.Stars, r.Archived, encodeNullable(r.Embedding))
	if err != nil {
		return Classify(ctx, "store", fmt.Errorf("failed to upsert repository %s: %w", r.ID, err))
	}
	return nil
}

// UpsertOpportunity inserts or replaces an opportunity
func (p *PostgresStore) UpsertOpportunity(ctx context.Context, o *types.Opportunity) error {
	if err := validateID(o.ID); err != nil {
		return err
	}
	if _, err := types.ParseDifficulty(string(o.Difficulty)); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO opportunities (id, repository_id, title, body, language, difficulty, skills,
			contribution_type, repo_stars, is_open, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::vector)
		ON CONFLICT (id) DO UPDATE SET
			repository_id = EXCLUDED.repository_id, title = EXCLUDED.title, body = EXCLUDED.body,
			language = EXCLUDED.language, difficulty = EXCLUDED.difficulty, skills = EXCLUDED.skills,
			contribution_type = EXCLUDED.contribution_type, repo_stars = EXCLUDED.repo_stars,
			is_open = EXCLUDED.is_open, embedding = EXCLUDED.embedding
	`, o.ID, o.RepositoryID, o.Title, o.Body, o.Language, string(o.Difficulty), pq.Array(o.Skills),
		o.ContributionType, o.RepoStars, o.Open, encodeNullable(o.Embedding))
	if err != nil {
		return Classify(ctx, "store", fmt.Errorf("failed to upsert opportunity %s: %w", o.ID, err))
	}
	return nil
}

// UpsertUserProfile inserts or replaces a user profile
func (p *PostgresStore) UpsertUserProfile(ctx context.Context, u *types.UserProfile) error {
	if err := validateID(u.ID); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_profiles (id, username, bio, skills, languages, contribution_types, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username, bio = EXCLUDED.bio, skills = EXCLUDED.skills,
			languages = EXCLUDED.languages, contribution_types = EXCLUDED.contribution_types,
			embedding = EXCLUDED.embedding
	`, u.ID, u.Username, u.Bio, pq.Array(u.Skills), pq.Array(u.Languages), pq.Array(u.ContributionTypes),
		encodeNullable(u.Embedding))
	if err != nil {
		return Classify(ctx, "store", fmt.Errorf("failed to upsert user profile %s: %w", u.ID, err))
	}
	return nil
}

// DeleteEntity removes an entity
func (p *PostgresStore) DeleteEntity(ctx context.Context, entityType types.EntityType, id string) error {
	table, err := TableFor(entityType)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = $1", id)
	if err != nil {
		return Classify(ctx, "store", fmt.Errorf("failed to delete %s %s: %w", entityType, id, err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", entityType, id, ErrNotFound)
	}
	return nil
}

// Stats counts entities and embeddings per partition
func (p *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Strategy: "postgres", Partitions: make(map[types.EntityType]PartitionStats)}
	for _, et := range types.EntityTypes {
		table, _ := TableFor(et)
		var ps PartitionStats
		err := p.db.QueryRowxContext(ctx, "SELECT COUNT(*), COUNT(embedding) FROM "+table).Scan(&ps.Total, &ps.WithEmbedding)
		if err != nil {
			return nil, Classify(ctx, "store", fmt.Errorf("failed to count %s: %w", table, err))
		}
		stats.Partitions[et] = ps
	}
	return stats, nil
}
