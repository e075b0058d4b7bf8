package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dshills/contribrank/internal/indexer"
	"github.com/dshills/contribrank/internal/lexical"
	"github.com/dshills/contribrank/internal/storage"
	"github.com/dshills/contribrank/internal/vectorindex"
	"github.com/dshills/contribrank/pkg/types"
)

var quiet = slog.New(slog.DiscardHandler)

// vec builds an embedding from its leading components.
func vec(components ...float64) *types.Embedding {
	var e types.Embedding
	copy(e[:], components)
	return &e
}

func slice(e *types.Embedding) []float64 {
	return append([]float64(nil), e[:]...)
}

type corpus struct {
	repos []*types.Repository
	opps  []*types.Opportunity
	users []*types.UserProfile
}

// setupTestSearcher seeds an in-memory store and builds the in-process indexes from it.
func setupTestSearcher(t testing.TB, c corpus, opts ...Option) (*Searcher, *storage.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, r := range c.repos {
		require.NoError(t, store.UpsertRepository(ctx, r))
	}
	for _, o := range c.opps {
		require.NoError(t, store.UpsertOpportunity(ctx, o))
	}
	for _, u := range c.users {
		require.NoError(t, store.UpsertUserProfile(ctx, u))
	}

	vectors := vectorindex.NewHNSW(vectorindex.DefaultConfig())
	text := lexical.NewMemory(lexical.DefaultPhraseBoost)
	_, err = indexer.New(store, vectors, text, indexer.WithLogger(quiet)).Build(ctx, nil)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(quiet)}, opts...)
	return New(store, vectors, text, opts...), store
}

func threeRepos() corpus {
	return corpus{repos: []*types.Repository{
		{ID: "C", Name: "gamma", Description: "Rust game engine", Language: "Rust", Embedding: vec(0, 1)},
		{ID: "A", Name: "alpha", Description: "Go web toolkit", Language: "Go", Stars: 900, Embedding: vec(1, 0)},
		{ID: "B", Name: "beta", Description: "Go HTTP router", Language: "Go", Stars: 40, Embedding: vec(0.9, 0.1)},
	}}
}

func TestHybridSearchVectorOnly(t *testing.T) {
	s, _ := setupTestSearcher(t, threeRepos())

	results, err := s.HybridSearch(context.Background(), types.SearchRequest{
		EntityType:     types.EntityRepository,
		QueryEmbedding: slice(vec(1, 0)),
		VectorWeight:   1,
		Limit:          3,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, []string{"A", "B", "C"}, resultIDs(results))
	require.NotNil(t, results[0].VectorDistance)
	assert.InDelta(t, 0, *results[0].VectorDistance, 1e-12)
	assert.InDelta(t, 1, results[0].CombinedScore, 1e-12)
	assert.Less(t, *results[1].VectorDistance, *results[2].VectorDistance)
	assert.InDelta(t, 1, *results[2].VectorDistance, 1e-12)
	for _, r := range results {
		assert.Nil(t, r.TextSimilarity, "text source is not consulted with a zero text weight")
	}
}

func TestHybridSearchTextOnly(t *testing.T) {
	s, _ := setupTestSearcher(t, corpus{repos: []*types.Repository{
		{ID: "X", Name: "x", Description: "TypeScript search engine"},
		{ID: "Y", Name: "y", Description: "Python data pipeline"},
	}})

	results, err := s.HybridSearch(context.Background(), types.SearchRequest{
		EntityType: types.EntityRepository,
		QueryText:  "typescript",
		TextWeight: 1,
		MinScore:   0.1,
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1, "Y shares no trigram with the query")
	assert.Equal(t, "X", results[0].EntityID)
	require.NotNil(t, results[0].TextSimilarity)
	assert.Greater(t, *results[0].TextSimilarity, 0.5, "verbatim match is boosted")
	assert.Nil(t, results[0].VectorDistance)
}

func TestHybridSearchValidation(t *testing.T) {
	s, _ := setupTestSearcher(t, threeRepos())
	valid := types.SearchRequest{
		EntityType:     types.EntityRepository,
		QueryText:      "go",
		QueryEmbedding: slice(vec(1)),
		TextWeight:     0.5,
		VectorWeight:   0.5,
		Limit:          5,
	}

	tests := []struct {
		name    string
		mutate  func(r *types.SearchRequest)
		wantErr error
	}{
		{"both weights zero", func(r *types.SearchRequest) { r.TextWeight, r.VectorWeight = 0, 0 }, types.ErrInvalidArgument},
		{"negative weight", func(r *types.SearchRequest) { r.TextWeight = -1 }, types.ErrInvalidArgument},
		{"short embedding", func(r *types.SearchRequest) { r.QueryEmbedding = make([]float64, 1500) }, types.ErrDimension},
		{"long embedding", func(r *types.SearchRequest) { r.QueryEmbedding = make([]float64, 1537) }, types.ErrDimension},
		{"nan component", func(r *types.SearchRequest) { r.QueryEmbedding[3] = math.NaN() }, types.ErrInvalidArgument},
		{"zero limit", func(r *types.SearchRequest) { r.Limit = 0 }, types.ErrInvalidArgument},
		{"unknown entity type", func(r *types.SearchRequest) { r.EntityType = "commit" }, types.ErrInvalidArgument},
		{"nan min score", func(r *types.SearchRequest) { r.MinScore = math.NaN() }, types.ErrInvalidArgument},
		{"negative ef", func(r *types.SearchRequest) { r.EfSearch = -1 }, types.ErrInvalidArgument},
		{"inapplicable filter", func(r *types.SearchRequest) { r.Filters.Difficulty = types.DifficultyBeginner }, types.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			req.QueryEmbedding = append([]float64(nil), valid.QueryEmbedding...)
			tt.mutate(&req)
			results, err := s.HybridSearch(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, results)
		})
	}

	t.Run("dimension error carries lengths", func(t *testing.T) {
		req := valid
		req.QueryEmbedding = make([]float64, 1500)
		_, err := s.HybridSearch(context.Background(), req)
		var dimErr *types.DimensionError
		require.ErrorAs(t, err, &dimErr)
		assert.Equal(t, 1500, dimErr.Got)
	})
}

func TestHybridSearchTiesByID(t *testing.T) {
	s, _ := setupTestSearcher(t, corpus{repos: []*types.Repository{
		{ID: "b", Name: "same text"},
		{ID: "a", Name: "same text"},
	}})

	results, err := s.HybridSearch(context.Background(), types.SearchRequest{
		EntityType: types.EntityRepository,
		QueryText:  "same text",
		TextWeight: 0.7,
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, []string{"a", "b"}, resultIDs(results))
	assert.InDelta(t, 0.7, results[0].CombinedScore, 1e-12)
	assert.Equal(t, results[0].CombinedScore, results[1].CombinedScore)
}

func randomCorpus(n int) corpus {
	r := rand.New(rand.NewSource(7))
	words := []string{"graph", "database", "search", "engine", "router", "parser", "compiler", "queue", "cache", "index"}
	var c corpus
	for i := 0; i < n; i++ {
		var e types.Embedding
		for j := 0; j < 16; j++ {
			e[j] = r.NormFloat64()
		}
		desc := words[r.Intn(len(words))] + " " + words[r.Intn(len(words))]
		c.repos = append(c.repos, &types.Repository{
			ID:          fmt.Sprintf("r%02d", i),
			Name:        fmt.Sprintf("project%02d", i),
			Description: desc,
			Embedding:   &e,
		})
	}
	return c
}

func TestHybridSearchOrderIsMonotonic(t *testing.T) {
	c := randomCorpus(40)
	s, _ := setupTestSearcher(t, c)

	results, err := s.HybridSearch(context.Background(), types.SearchRequest{
		EntityType:     types.EntityRepository,
		QueryText:      c.repos[3].Description,
		QueryEmbedding: slice(c.repos[3].Embedding),
		TextWeight:     0.4,
		VectorWeight:   0.6,
		Limit:          25,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 25)

	for i := 1; i < len(results); i++ {
		prev, cur := results[i-1], results[i]
		assert.GreaterOrEqual(t, prev.CombinedScore, cur.CombinedScore)
		if prev.CombinedScore == cur.CombinedScore {
			assert.Less(t, prev.EntityID, cur.EntityID)
		}
		assert.GreaterOrEqual(t, cur.CombinedScore, 0.0)
		assert.LessOrEqual(t, cur.CombinedScore, 1.0+1e-12)
	}
	assert.Equal(t, "r03", results[0].EntityID)
}

func TestHybridSearchDegenerateWeights(t *testing.T) {
	c := randomCorpus(30)
	s, _ := setupTestSearcher(t, c)
	ctx := context.Background()
	query := slice(c.repos[11].Embedding)

	t.Run("vector only matches nearest order", func(t *testing.T) {
		neighbors, err := s.NearestByEmbedding(ctx, types.EntityRepository, query, 10, 0)
		require.NoError(t, err)

		results, err := s.HybridSearch(ctx, types.SearchRequest{
			EntityType:     types.EntityRepository,
			QueryText:      "graph",
			QueryEmbedding: query,
			VectorWeight:   1,
			Limit:          10,
		})
		require.NoError(t, err)
		require.Len(t, results, len(neighbors))
		for i, n := range neighbors {
			assert.Equal(t, n.ID, results[i].EntityID)
			assert.InDelta(t, VectorSimilarity(n.Distance), results[i].CombinedScore, 1e-12)
		}
	})

	t.Run("text only matches lexical order", func(t *testing.T) {
		matches, err := s.LexicalScore(ctx, types.EntityRepository, "graph database")
		require.NoError(t, err)
		require.NotEmpty(t, matches)

		results, err := s.HybridSearch(ctx, types.SearchRequest{
			EntityType:     types.EntityRepository,
			QueryText:      "graph database",
			QueryEmbedding: query,
			TextWeight:     1,
			Limit:          100,
		})
		require.NoError(t, err)
		require.Len(t, results, len(matches))
		for i, m := range matches {
			assert.Equal(t, m.ID, results[i].EntityID)
			assert.InDelta(t, m.Similarity, results[i].CombinedScore, 1e-12)
		}
	})
}

func TestHybridSearchMinScore(t *testing.T) {
	s, _ := setupTestSearcher(t, threeRepos())

	results, err := s.HybridSearch(context.Background(), types.SearchRequest{
		EntityType:     types.EntityRepository,
		QueryEmbedding: slice(vec(1, 0)),
		VectorWeight:   1,
		MinScore:       0.9,
		Limit:          10,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, resultIDs(results), "C scores 0.5")

	results, err = s.HybridSearch(context.Background(), types.SearchRequest{
		EntityType:     types.EntityRepository,
		QueryEmbedding: slice(vec(1, 0)),
		VectorWeight:   1,
		MinScore:       1.5,
		Limit:          10,
	})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestHybridSearchFilters(t *testing.T) {
	s, _ := setupTestSearcher(t, threeRepos())
	ctx := context.Background()
	minStars := 100

	tests := []struct {
		name    string
		filters types.Filters
		want    []string
	}{
		{"none", types.Filters{}, []string{"A", "B", "C"}},
		{"language", types.Filters{Language: "go"}, []string{"A", "B"}},
		{"min stars", types.Filters{MinStars: &minStars}, []string{"A"}},
		{"nothing eligible", types.Filters{Language: "cobol"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.HybridSearch(ctx, types.SearchRequest{
				EntityType:     types.EntityRepository,
				QueryEmbedding: slice(vec(1, 0)),
				VectorWeight:   1,
				Limit:          10,
				Filters:        tt.filters,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, resultIDs(results))
		})
	}
}

func TestHybridSearchEmptyCorpus(t *testing.T) {
	s, _ := setupTestSearcher(t, corpus{})

	results, err := s.HybridSearch(context.Background(), types.SearchRequest{
		EntityType:     types.EntityOpportunity,
		QueryText:      "anything",
		QueryEmbedding: slice(vec(1)),
		TextWeight:     0.5,
		VectorWeight:   0.5,
		Limit:          10,
	})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestHybridSearchMissingInputs(t *testing.T) {
	s, _ := setupTestSearcher(t, threeRepos())

	// a vector weight without an embedding leaves the text source alone
	results, err := s.HybridSearch(context.Background(), types.SearchRequest{
		EntityType:   types.EntityRepository,
		QueryText:    "router",
		TextWeight:   0.5,
		VectorWeight: 0.5,
		Limit:        10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "B", results[0].EntityID)
	for _, r := range results {
		assert.Nil(t, r.VectorDistance)
	}

	// neither input
	results, err = s.HybridSearch(context.Background(), types.SearchRequest{
		EntityType:   types.EntityRepository,
		TextWeight:   0.5,
		VectorWeight: 0.5,
		Limit:        10,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestNearestByEmbedding(t *testing.T) {
	s, _ := setupTestSearcher(t, threeRepos())
	ctx := context.Background()

	neighbors, err := s.NearestByEmbedding(ctx, types.EntityRepository, slice(vec(0, 1)), 2, 0)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "C", neighbors[0].ID)
	assert.InDelta(t, 0, neighbors[0].Distance, 1e-12)
	assert.Equal(t, "B", neighbors[1].ID)

	neighbors, err = s.NearestByEmbedding(ctx, types.EntityUser, slice(vec(0, 1)), 2, 0)
	require.NoError(t, err)
	assert.NotNil(t, neighbors)
	assert.Empty(t, neighbors)

	_, err = s.NearestByEmbedding(ctx, types.EntityRepository, make([]float64, 3), 2, 0)
	assert.ErrorIs(t, err, types.ErrDimension)
	_, err = s.NearestByEmbedding(ctx, types.EntityRepository, slice(vec(1)), 0, 0)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
	_, err = s.NearestByEmbedding(ctx, "commit", slice(vec(1)), 1, 0)
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestLexicalScore(t *testing.T) {
	s, _ := setupTestSearcher(t, threeRepos())
	ctx := context.Background()

	matches, err := s.LexicalScore(ctx, types.EntityRepository, "go toolkit")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "A", matches[0].ID)
	for _, m := range matches {
		assert.Greater(t, m.Similarity, 0.0)
		assert.LessOrEqual(t, m.Similarity, 1.0)
	}

	matches, err = s.LexicalScore(ctx, types.EntityRepository, "")
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)

	_, err = s.LexicalScore(ctx, "commit", "go")
	assert.ErrorIs(t, err, types.ErrInvalidArgument)
}

// stubStore serves candidates and profiles without a database.
type stubStore struct {
	storage.Store
	users map[string]*types.UserProfile
}

func (stubStore) Candidates(context.Context, types.EntityType, storage.CandidateQuery) (types.Scope, error) {
	return nil, nil
}

func (s stubStore) GetUserProfile(_ context.Context, id string) (*types.UserProfile, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
}

type blockingVectors struct{}

func (blockingVectors) Nearest(ctx context.Context, _ types.EntityType, _ *types.Embedding, _ vectorindex.NearestOptions) ([]types.Neighbor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingVectors) Distances(ctx context.Context, _ types.EntityType, _ *types.Embedding, _ []string) ([]types.Neighbor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// cancelledVectors reports the budget expiry the way lib/pq does, as a
// cancelled statement rather than a context error.
type cancelledVectors struct{}

func (cancelledVectors) Nearest(ctx context.Context, _ types.EntityType, _ *types.Embedding, _ vectorindex.NearestOptions) ([]types.Neighbor, error) {
	<-ctx.Done()
	return nil, storage.ClassifyError("vector", &pq.Error{Code: "57014", Message: "canceling statement due to user request"})
}

func (cancelledVectors) Distances(ctx context.Context, _ types.EntityType, _ *types.Embedding, _ []string) ([]types.Neighbor, error) {
	<-ctx.Done()
	return nil, storage.ClassifyError("vector", &pq.Error{Code: "57014"})
}

type blockingLexical struct{}

func (blockingLexical) Score(ctx context.Context, _ types.EntityType, _ string, _ types.Scope) ([]types.LexicalMatch, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type downVectors struct{}

func (downVectors) Nearest(context.Context, types.EntityType, *types.Embedding, vectorindex.NearestOptions) ([]types.Neighbor, error) {
	return nil, &types.IndexUnavailableError{Index: "vector", Err: errors.New("connection refused")}
}

func (downVectors) Distances(context.Context, types.EntityType, *types.Embedding, []string) ([]types.Neighbor, error) {
	return nil, &types.IndexUnavailableError{Index: "vector", Err: errors.New("connection refused")}
}

type downLexical struct{}

func (downLexical) Score(context.Context, types.EntityType, string, types.Scope) ([]types.LexicalMatch, error) {
	return nil, &types.IndexUnavailableError{Index: "lexical", Err: errors.New("connection refused")}
}

type fixedVectors []types.Neighbor

func (f fixedVectors) Nearest(context.Context, types.EntityType, *types.Embedding, vectorindex.NearestOptions) ([]types.Neighbor, error) {
	return f, nil
}

func (f fixedVectors) Distances(_ context.Context, _ types.EntityType, _ *types.Embedding, ids []string) ([]types.Neighbor, error) {
	var out []types.Neighbor
	for _, n := range f {
		if slices.Contains(ids, n.ID) {
			out = append(out, n)
		}
	}
	return out, nil
}

// truncatedVectors answers Nearest from a short list but knows every distance.
type truncatedVectors struct {
	nearest fixedVectors
	all     fixedVectors
	err     error
}

func (v truncatedVectors) Nearest(context.Context, types.EntityType, *types.Embedding, vectorindex.NearestOptions) ([]types.Neighbor, error) {
	return v.nearest, nil
}

func (v truncatedVectors) Distances(ctx context.Context, entityType types.EntityType, query *types.Embedding, ids []string) ([]types.Neighbor, error) {
	if v.err != nil {
		return nil, v.err
	}
	return v.all.Distances(ctx, entityType, query, ids)
}

type fixedLexical []types.LexicalMatch

func (f fixedLexical) Score(context.Context, types.EntityType, string, types.Scope) ([]types.LexicalMatch, error) {
	return f, nil
}

func hybridRequest() types.SearchRequest {
	return types.SearchRequest{
		EntityType:     types.EntityRepository,
		QueryText:      "search",
		QueryEmbedding: slice(vec(1)),
		TextWeight:     0.5,
		VectorWeight:   0.5,
		Limit:          10,
	}
}

func TestHybridSearchTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(stubStore{}, blockingVectors{}, blockingLexical{}, WithLogger(quiet), WithTimeout(20*time.Millisecond))

	start := time.Now()
	results, err := s.HybridSearch(context.Background(), hybridRequest())
	assert.Nil(t, results)
	require.ErrorIs(t, err, types.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	var timeout *types.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "hybrid_search", timeout.Op)
	assert.Equal(t, 20*time.Millisecond, timeout.Budget)
	assert.True(t, types.IsRetryable(err))
}

func TestHybridSearchTimeoutReportedAsCancelledStatement(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(stubStore{}, cancelledVectors{}, blockingLexical{}, WithLogger(quiet), WithTimeout(20*time.Millisecond))

	_, err := s.HybridSearch(context.Background(), hybridRequest())
	require.ErrorIs(t, err, types.ErrTimeout)
	assert.NotErrorIs(t, err, types.ErrIndexUnavailable)

	req := hybridRequest()
	req.TextWeight = 0
	_, err = s.HybridSearch(context.Background(), req)
	require.ErrorIs(t, err, types.ErrTimeout, "vector-only queries are mapped the same way")

	_, err = s.NearestByEmbedding(context.Background(), types.EntityRepository, slice(vec(1)), 5, 0)
	require.ErrorIs(t, err, types.ErrTimeout)
	assert.NotErrorIs(t, err, types.ErrIndexUnavailable)
}

func TestHybridSearchCallerCancellation(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := New(stubStore{}, blockingVectors{}, blockingLexical{}, WithLogger(quiet), WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := s.HybridSearch(ctx, hybridRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, types.ErrTimeout)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.HybridSearch(ctx, hybridRequest())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, types.ErrTimeout, "the caller's own deadline is not the query budget")
}

func TestHybridSearchDegradedMode(t *testing.T) {
	vector := fixedVectors{{ID: "v", Distance: 0.2}}
	text := fixedLexical{{ID: "t", Similarity: 0.9}}

	t.Run("vector down", func(t *testing.T) {
		s := New(stubStore{}, downVectors{}, text, WithLogger(quiet))
		results, err := s.HybridSearch(context.Background(), hybridRequest())
		require.NoError(t, err)
		assert.Equal(t, []string{"t"}, resultIDs(results))
	})

	t.Run("lexical down", func(t *testing.T) {
		s := New(stubStore{}, vector, downLexical{}, WithLogger(quiet))
		results, err := s.HybridSearch(context.Background(), hybridRequest())
		require.NoError(t, err)
		assert.Equal(t, []string{"v"}, resultIDs(results))
	})

	t.Run("both down", func(t *testing.T) {
		s := New(stubStore{}, downVectors{}, downLexical{}, WithLogger(quiet))
		_, err := s.HybridSearch(context.Background(), hybridRequest())
		assert.ErrorIs(t, err, types.ErrIndexUnavailable)
		assert.True(t, types.IsRetryable(err))
	})

	t.Run("only source down", func(t *testing.T) {
		s := New(stubStore{}, downVectors{}, text, WithLogger(quiet))
		req := hybridRequest()
		req.TextWeight = 0
		_, err := s.HybridSearch(context.Background(), req)
		assert.ErrorIs(t, err, types.ErrIndexUnavailable)
	})
}

func TestHybridSearchScoresIndependentOfLimit(t *testing.T) {
	c := corpus{repos: []*types.Repository{
		{ID: "X", Name: "x", Description: "typescript", Embedding: vec(0.6, 0.8)},
	}}
	for i := 1; i <= 5; i++ {
		c.repos = append(c.repos, &types.Repository{
			ID:          fmt.Sprintf("n%d", i),
			Name:        fmt.Sprintf("n%d", i),
			Description: "Python data pipeline",
			Embedding:   vec(1, 0.001*float64(i)),
		})
	}
	s, _ := setupTestSearcher(t, c)

	search := func(limit int, minScore float64) []types.SimilarityResult {
		t.Helper()
		results, err := s.HybridSearch(context.Background(), types.SearchRequest{
			EntityType:     types.EntityRepository,
			QueryText:      "typescript",
			QueryEmbedding: slice(vec(1, 0)),
			TextWeight:     0.5,
			VectorWeight:   0.5,
			MinScore:       minScore,
			Limit:          limit,
		})
		require.NoError(t, err)
		return results
	}

	all := search(len(c.repos), 0)
	require.Len(t, all, len(c.repos))
	assert.Equal(t, "X", all[0].EntityID)
	require.NotNil(t, all[0].VectorDistance)
	assert.InDelta(t, 0.4, *all[0].VectorDistance, 1e-9)

	top := search(1, 0)
	require.Len(t, top, 1)
	assert.Equal(t, "X", top[0].EntityID, "X is outside the vector candidate pool but still ranks first")
	require.NotNil(t, top[0].VectorDistance)
	assert.InDelta(t, *all[0].VectorDistance, *top[0].VectorDistance, 1e-9)
	assert.InDelta(t, all[0].CombinedScore, top[0].CombinedScore, 1e-9)

	for limit := 1; limit <= len(c.repos); limit++ {
		got := search(limit, 0)
		require.Len(t, got, limit)
		for i, r := range got {
			assert.Equal(t, all[i].EntityID, r.EntityID, "limit %d", limit)
			assert.InDelta(t, all[i].CombinedScore, r.CombinedScore, 1e-9, "limit %d", limit)
		}
	}

	assert.Equal(t, []string{"X"}, resultIDs(search(1, 0.6)))
}

func TestHybridSearchDistanceCompletion(t *testing.T) {
	text := fixedLexical{{ID: "far", Similarity: 1}, {ID: "near", Similarity: 0.2}}
	vectors := truncatedVectors{
		nearest: fixedVectors{{ID: "near", Distance: 0}},
		all:     fixedVectors{{ID: "near", Distance: 0}, {ID: "far", Distance: 1}},
	}

	t.Run("missing hits are completed", func(t *testing.T) {
		s := New(stubStore{}, vectors, text, WithLogger(quiet))
		results, err := s.HybridSearch(context.Background(), hybridRequest())
		require.NoError(t, err)
		require.Equal(t, []string{"far", "near"}, resultIDs(results))
		require.NotNil(t, results[0].VectorDistance)
		assert.InDelta(t, 1, *results[0].VectorDistance, 1e-12)
		assert.InDelta(t, 0.75, results[0].CombinedScore, 1e-12)
	})

	t.Run("unavailable degrades to text", func(t *testing.T) {
		down := vectors
		down.err = &types.IndexUnavailableError{Index: "vector", Err: errors.New("connection refused")}
		s := New(stubStore{}, down, text, WithLogger(quiet))
		results, err := s.HybridSearch(context.Background(), hybridRequest())
		require.NoError(t, err)
		assert.Equal(t, []string{"far", "near"}, resultIDs(results))
		for _, r := range results {
			assert.Nil(t, r.VectorDistance)
		}
	})

	t.Run("other failures propagate", func(t *testing.T) {
		boom := errors.New("disk on fire")
		broken := vectors
		broken.err = boom
		s := New(stubStore{}, broken, text, WithLogger(quiet))
		_, err := s.HybridSearch(context.Background(), hybridRequest())
		assert.ErrorIs(t, err, boom)
	})
}

func TestHybridSearchFailurePropagates(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	boom := errors.New("disk on fire")
	s := New(stubStore{}, failingVectors{err: boom}, blockingLexical{}, WithLogger(quiet))

	_, err := s.HybridSearch(context.Background(), hybridRequest())
	assert.ErrorIs(t, err, boom, "a hard failure cancels the sibling lookup")
}

type failingVectors struct{ err error }

func (f failingVectors) Nearest(context.Context, types.EntityType, *types.Embedding, vectorindex.NearestOptions) ([]types.Neighbor, error) {
	return nil, f.err
}

func (f failingVectors) Distances(context.Context, types.EntityType, *types.Embedding, []string) ([]types.Neighbor, error) {
	return nil, f.err
}

func TestSearcherConcurrentQueries(t *testing.T) {
	c := randomCorpus(30)
	s, _ := setupTestSearcher(t, c)
	ctx := context.Background()

	want, err := s.HybridSearch(ctx, types.SearchRequest{
		EntityType:     types.EntityRepository,
		QueryText:      "cache",
		QueryEmbedding: slice(c.repos[0].Embedding),
		TextWeight:     0.3,
		VectorWeight:   0.7,
		Limit:          5,
	})
	require.NoError(t, err)

	errs := make(chan error, 16)
	got := make(chan []types.SimilarityResult, 16)
	for i := 0; i < 16; i++ {
		go func() {
			r, err := s.HybridSearch(ctx, types.SearchRequest{
				EntityType:     types.EntityRepository,
				QueryText:      "cache",
				QueryEmbedding: slice(c.repos[0].Embedding),
				TextWeight:     0.3,
				VectorWeight:   0.7,
				Limit:          5,
			})
			errs <- err
			got <- r
		}()
	}
	for i := 0; i < 16; i++ {
		require.NoError(t, <-errs)
		assert.Equal(t, want, <-got)
	}
}
