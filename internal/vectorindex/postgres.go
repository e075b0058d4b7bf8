package vectorindex

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/dshills/contribrank/internal/embedding"
	"github.com/dshills/contribrank/internal/storage"
	"github.com/dshills/contribrank/pkg/types"
)

// Postgres answers nearest-neighbor queries with the pgvector cosine operator.
// The server-side HNSW index gives the same approximate recall contract as the
// in-memory index; hnsw.ef_search is set per transaction.
type Postgres struct {
	db       *sqlx.DB
	efSearch int
}

// NewPostgres creates a pgvector-backed index. efSearch <= 0 uses DefaultEfSearch.
func NewPostgres(db *sqlx.DB, efSearch int) *Postgres {
	if efSearch <= 0 {
		efSearch = DefaultEfSearch
	}
	return &Postgres{db: db, efSearch: efSearch}
}

type neighborRow struct {
	ID       string  `db:"id"`
	Distance float64 `db:"distance"`
}

// Nearest implements Index.
func (p *Postgres) Nearest(ctx context.Context, entityType types.EntityType, query *types.Embedding, opts NearestOptions) ([]types.Neighbor, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	table, err := storage.TableFor(entityType)
	if err != nil {
		return nil, err
	}
	if opts.Scope != nil && len(opts.Scope) == 0 {
		return nil, nil
	}

	ef := opts.EfSearch
	if ef == 0 {
		ef = p.efSearch
	}
	if ef < opts.K {
		ef = opts.K
	}

	args := []interface{}{pgvector.NewVector(embedding.ToFloat32(query))}
	q := "SELECT id, embedding <=> $1 AS distance FROM " + table + " WHERE embedding IS NOT NULL"
	if opts.Scope != nil {
		args = append(args, pq.Array(opts.Scope.IDs()))
		q += " AND id = ANY($2)"
	}
	// Distance alone keeps the pgvector index scan usable; sortNeighbors breaks ties.
	q += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT %d", opts.K)

	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, storage.Classify(ctx, "vector", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", ef)); err != nil {
		return nil, storage.Classify(ctx, "vector", fmt.Errorf("failed to set ef_search: %w", err))
	}

	var rows []neighborRow
	if err := tx.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, storage.Classify(ctx, "vector", fmt.Errorf("nearest %s: %w", entityType, err))
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Classify(ctx, "vector", err)
	}
	return toNeighbors(rows), nil
}

// Distances implements Index with one query over the listed ids.
func (p *Postgres) Distances(ctx context.Context, entityType types.EntityType, query *types.Embedding, ids []string) ([]types.Neighbor, error) {
	table, err := storage.TableFor(entityType)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	q := "SELECT id, embedding <=> $1 AS distance FROM " + table + " WHERE embedding IS NOT NULL AND id = ANY($2)"
	var rows []neighborRow
	if err := p.db.SelectContext(ctx, &rows, q, pgvector.NewVector(embedding.ToFloat32(query)), pq.Array(ids)); err != nil {
		return nil, storage.Classify(ctx, "vector", fmt.Errorf("distances %s: %w", entityType, err))
	}
	return toNeighbors(rows), nil
}

func toNeighbors(rows []neighborRow) []types.Neighbor {
	out := make([]types.Neighbor, len(rows))
	for i, r := range rows {
		d := r.Distance
		// float32 storage can push an exact match slightly outside [0,2]
		if d < 0 {
			d = 0
		} else if d > 2 {
			d = 2
		}
		out[i] = types.Neighbor{ID: r.ID, Distance: d}
	}
	sortNeighbors(out)
	return out
}
