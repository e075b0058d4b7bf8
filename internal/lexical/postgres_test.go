package lexical

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/contribrank/pkg/types"
)

func setupMockIndex(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	return NewPostgres(sqlx.NewDb(mockDB, "sqlmock"), 0, 0), mock
}

var scoreCols = []string{"id", "sim0", "verbatim0", "sim1", "verbatim1", "sim2", "verbatim2"}

func TestScoreQuery(t *testing.T) {
	q := scoreQuery("repositories", []string{"name"}, true)
	assert.Equal(t,
		`SELECT id, similarity(name, $1) AS sim0, strpos(regexp_replace(LOWER(name), '\s+', ' ', 'g'), $2) > 0 AS verbatim0`+
			` FROM repositories WHERE (name % $1 OR strpos(regexp_replace(LOWER(name), '\s+', ' ', 'g'), $2) > 0) AND id = ANY($3)`,
		q)
}

func TestPostgresScore(t *testing.T) {
	idx, mock := setupMockIndex(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL pg_trgm.similarity_threshold = 0.1")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM repositories WHERE (name % $1")).
		WithArgs("TypeScript  Search", "typescript search").
		WillReturnRows(sqlmock.NewRows(scoreCols).
			AddRow("x", 0.44, true, 0.1, false, 0.0, false).
			AddRow("z", 0.0, false, 0.34, false, 0.0, false).
			AddRow("w", 0.0, false, 0.0, false, 0.0, false))
	mock.ExpectCommit()

	got, err := idx.Score(context.Background(), types.EntityRepository, "TypeScript  Search", nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].ID)
	assert.InDelta(t, 0.72, got[0].Similarity, 1e-12)
	assert.Equal(t, "z", got[1].ID)
	assert.InDelta(t, 0.17, got[1].Similarity, 1e-12)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresScoreScoped(t *testing.T) {
	idx, mock := setupMockIndex(t)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM opportunities WHERE (title % $1")+".*"+regexp.QuoteMeta("AND id = ANY($3)")).
		WithArgs("cli", "cli", pq.Array([]string{"o1", "o2"})).
		WillReturnRows(sqlmock.NewRows(scoreCols))
	mock.ExpectCommit()

	got, err := idx.Score(context.Background(), types.EntityOpportunity, "cli", types.NewScope("o2", "o1"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresScoreShortCircuits(t *testing.T) {
	idx, mock := setupMockIndex(t)

	got, err := idx.Score(context.Background(), types.EntityRepository, "  ", nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = idx.Score(context.Background(), types.EntityRepository, "go", types.NewScope())
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = idx.Score(context.Background(), types.EntityType("gist"), "go", nil)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresScoreUnavailable(t *testing.T) {
	idx, mock := setupMockIndex(t)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL").WillReturnError(&pq.Error{Code: "57P01", Message: "terminating connection due to administrator command"})
	mock.ExpectRollback()

	_, err := idx.Score(context.Background(), types.EntityUser, "gopher", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrIndexUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresScoreBadConnOnQuery(t *testing.T) {
	idx, mock := setupMockIndex(t)

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id").WillReturnError(driver.ErrBadConn)

	_, err := idx.Score(context.Background(), types.EntityUser, "gopher", nil)
	assert.ErrorIs(t, err, types.ErrIndexUnavailable)
}
