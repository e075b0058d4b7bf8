package lexical

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/dshills/contribrank/internal/storage"
	"github.com/dshills/contribrank/pkg/types"
)

// DefaultThreshold is the pg_trgm similarity_threshold used to select fuzzy
// candidates before blending.
const DefaultThreshold = 0.1

// textFields lists the searchable column expressions per table, in the same
// order as the TextFields of the domain types.
var textFields = map[types.EntityType][]string{
	types.EntityRepository:  {"name", "COALESCE(description, '')", "array_to_string(topics, ' ')"},
	types.EntityOpportunity: {"title", "COALESCE(body, '')", "array_to_string(skills, ' ')"},
	types.EntityUser:        {"username", "COALESCE(bio, '')", "array_to_string(skills, ' ')"},
}

// Postgres scores text with pg_trgm's similarity() and the % operator, which
// can use a GIN trigram index. The verbatim check uses strpos so the query is
// never interpreted as a LIKE pattern.
//
// Unlike Memory, entities whose best fuzzy similarity is below the threshold
// and that contain no verbatim match are not returned.
type Postgres struct {
	db        *sqlx.DB
	boost     float64
	threshold float64
}

// NewPostgres creates a pg_trgm-backed index. Out-of-range boost and threshold
// values fall back to DefaultPhraseBoost and DefaultThreshold.
func NewPostgres(db *sqlx.DB, boost, threshold float64) *Postgres {
	if !validBoost(boost) {
		boost = DefaultPhraseBoost
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Postgres{db: db, boost: boost, threshold: threshold}
}

type scoreRow struct {
	ID        string  `db:"id"`
	Sim0      float64 `db:"sim0"`
	Sim1      float64 `db:"sim1"`
	Sim2      float64 `db:"sim2"`
	Verbatim0 bool    `db:"verbatim0"`
	Verbatim1 bool    `db:"verbatim1"`
	Verbatim2 bool    `db:"verbatim2"`
}

// scoreQuery builds the per-field similarity query. $1 is the raw query, $2 the
// normalized query for strpos and $3 the optional id allow-list.
func scoreQuery(table string, fields []string, scoped bool) string {
	var cols, where []string
	for i, f := range fields {
		folded := fmt.Sprintf("regexp_replace(LOWER(%s), '\\s+', ' ', 'g')", f)
		cols = append(cols,
			fmt.Sprintf("similarity(%s, $1) AS sim%d", f, i),
			fmt.Sprintf("strpos(%s, $2) > 0 AS verbatim%d", folded, i))
		where = append(where,
			fmt.Sprintf("%s %% $1", f),
			fmt.Sprintf("strpos(%s, $2) > 0", folded))
	}
	q := fmt.Sprintf("SELECT id, %s FROM %s WHERE (%s)",
		strings.Join(cols, ", "), table, strings.Join(where, " OR "))
	if scoped {
		q += " AND id = ANY($3)"
	}
	return q
}

// Score implements Index.
func (p *Postgres) Score(ctx context.Context, entityType types.EntityType, query string, scope types.Scope) ([]types.LexicalMatch, error) {
	table, err := storage.TableFor(entityType)
	if err != nil {
		return nil, err
	}
	norm := normalize(query)
	if norm == "" {
		return nil, nil
	}
	if scope != nil && len(scope) == 0 {
		return nil, nil
	}

	args := []interface{}{query, norm}
	if scope != nil {
		args = append(args, pq.Array(scope.IDs()))
	}
	q := scoreQuery(table, textFields[entityType], scope != nil)

	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, storage.Classify(ctx, "lexical", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL pg_trgm.similarity_threshold = %g", p.threshold)); err != nil {
		return nil, storage.Classify(ctx, "lexical", fmt.Errorf("failed to set similarity threshold: %w", err))
	}

	var rows []scoreRow
	if err := tx.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, storage.Classify(ctx, "lexical", fmt.Errorf("score %s: %w", entityType, err))
	}
	if err := tx.Commit(); err != nil {
		return nil, storage.Classify(ctx, "lexical", err)
	}

	out := make([]types.LexicalMatch, 0, len(rows))
	for _, r := range rows {
		best := max(
			Blend(r.Sim0, r.Verbatim0, p.boost),
			Blend(r.Sim1, r.Verbatim1, p.boost),
			Blend(r.Sim2, r.Verbatim2, p.boost),
		)
		if best > 0 {
			out = append(out, types.LexicalMatch{ID: r.ID, Similarity: best})
		}
	}
	sortMatches(out)
	return out, nil
}
