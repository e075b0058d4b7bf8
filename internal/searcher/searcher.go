package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/contribrank/internal/embedding"
	"github.com/dshills/contribrank/internal/lexical"
	"github.com/dshills/contribrank/internal/storage"
	"github.com/dshills/contribrank/internal/vectorindex"
	"github.com/dshills/contribrank/pkg/types"
)

const (
	// DefaultTimeout is the execution budget of one query.
	DefaultTimeout = 5 * time.Second

	// DefaultCandidateMultiplier sizes the vector candidate list relative to the limit.
	DefaultCandidateMultiplier = 4
)

// Searcher answers hybrid, vector-only and lexical-only queries. It holds no
// per-query state, so one Searcher serves any number of concurrent callers.
type Searcher struct {
	store   storage.Store
	vectors vectorindex.Index
	lexical lexical.Index

	logger     *slog.Logger
	timeout    time.Duration
	multiplier int
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) {
		s.logger = logger
	}
}

// WithTimeout sets the per-query budget. Non-positive values keep DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Searcher) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithCandidateMultiplier sets how many vector candidates are fetched per
// requested result. Values below 1 keep DefaultCandidateMultiplier.
func WithCandidateMultiplier(n int) Option {
	return func(s *Searcher) {
		if n >= 1 {
			s.multiplier = n
		}
	}
}

// New creates a Searcher over the given store and indexes.
func New(store storage.Store, vectors vectorindex.Index, lex lexical.Index, opts ...Option) *Searcher {
	s := &Searcher{
		store:      store,
		vectors:    vectors,
		lexical:    lex,
		logger:     slog.Default(),
		timeout:    DefaultTimeout,
		multiplier: DefaultCandidateMultiplier,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// plan is one validated query ready for execution.
type plan struct {
	op         string
	entityType types.EntityType
	query      string
	embedding  *types.Embedding
	weights    Weights
	minScore   float64
	limit      int
	efSearch   int
	candidates storage.CandidateQuery
}

// HybridSearch ranks the entities of one partition by a weighted blend of
// vector and lexical similarity. Filters restrict the candidates before any
// scoring. An empty corpus or nothing above MinScore yields an empty list.
func (s *Searcher) HybridSearch(ctx context.Context, req types.SearchRequest) ([]types.SimilarityResult, error) {
	p, err := s.planSearch(req)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(slog.String("request_id", uuid.NewString()), slog.String("op", p.op))

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	scope, err := s.store.Candidates(ctx, p.entityType, p.candidates)
	if err != nil {
		return nil, s.mapError(ctx, p.op, fmt.Errorf("failed to resolve candidates: %w", err))
	}
	results, err := s.execute(ctx, logger, p, scope)
	if err != nil {
		return nil, s.mapError(ctx, p.op, err)
	}
	return results, nil
}

func (s *Searcher) planSearch(req types.SearchRequest) (plan, error) {
	p := plan{
		op:         "hybrid_search",
		entityType: req.EntityType,
		query:      req.QueryText,
		weights:    Weights{Text: req.TextWeight, Vector: req.VectorWeight},
		minScore:   req.MinScore,
		limit:      req.Limit,
		efSearch:   req.EfSearch,
		candidates: storage.CandidateQuery{Filters: req.Filters},
	}
	if err := validateEntityType(req.EntityType); err != nil {
		return p, err
	}
	if err := validateLimit("limit", req.Limit); err != nil {
		return p, err
	}
	if err := p.weights.Validate(); err != nil {
		return p, err
	}
	if math.IsNaN(req.MinScore) {
		return p, &types.InvalidArgumentError{Field: "min_score", Reason: "must be a number"}
	}
	if req.EfSearch < 0 {
		return p, &types.InvalidArgumentError{Field: "ef_search", Reason: "must not be negative"}
	}
	if len(req.QueryEmbedding) > 0 {
		v, err := embedding.FromSlice(req.QueryEmbedding)
		if err != nil {
			return p, err
		}
		p.embedding = &v
	}
	if err := req.Filters.ValidateFor(req.EntityType); err != nil {
		return p, err
	}
	return p, nil
}

// execute runs the lookups a plan needs, concurrently, and ranks the merged
// hits. A source is skipped when its weight is 0 or its input is absent.
//
// When both sources run and exactly one reports IndexUnavailableError, the
// query degrades to the other source. Any other failure cancels the sibling
// lookup and is returned.
func (s *Searcher) execute(ctx context.Context, logger *slog.Logger, p plan, scope types.Scope) ([]types.SimilarityResult, error) {
	start := time.Now()
	if scope != nil && len(scope) == 0 {
		logger.Debug("no eligible candidates")
		return []types.SimilarityResult{}, nil
	}

	useVector := p.embedding != nil && p.weights.Vector > 0
	useText := strings.TrimSpace(p.query) != "" && p.weights.Text > 0
	if !useVector && !useText {
		logger.Debug("no usable source", slog.Bool("has_embedding", p.embedding != nil), slog.Bool("has_text", p.query != ""))
		return []types.SimilarityResult{}, nil
	}

	var (
		neighbors []types.Neighbor
		matches   []types.LexicalMatch
		vecErr    error
		textErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	if useVector {
		k := p.limit * s.multiplier
		if k < p.limit {
			k = p.limit
		}
		g.Go(func() error {
			neighbors, vecErr = s.vectors.Nearest(gctx, p.entityType, p.embedding, vectorindex.NearestOptions{
				K:        k,
				EfSearch: p.efSearch,
				Scope:    scope,
			})
			if useText && errors.Is(vecErr, types.ErrIndexUnavailable) {
				return nil
			}
			return vecErr
		})
	}
	if useText {
		g.Go(func() error {
			matches, textErr = s.lexical.Score(gctx, p.entityType, p.query, scope)
			if useVector && errors.Is(textErr, types.ErrIndexUnavailable) {
				return nil
			}
			return textErr
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	switch {
	case vecErr != nil && textErr != nil:
		return nil, vecErr
	case vecErr != nil:
		logger.Warn("vector index unavailable, ranking by text only", slog.Any("error", vecErr))
	case textErr != nil:
		logger.Warn("lexical index unavailable, ranking by vector only", slog.Any("error", textErr))
	}

	if useVector && vecErr == nil && len(matches) > 0 {
		filled, err := s.fillDistances(ctx, p, neighbors, matches)
		switch {
		case errors.Is(err, types.ErrIndexUnavailable):
			logger.Warn("vector index unavailable, ranking by text only", slog.Any("error", err))
			neighbors = nil
		case err != nil:
			return nil, err
		default:
			neighbors = filled
		}
	}

	results := Rank(neighbors, matches, p.weights, p.minScore, p.limit)
	logger.Debug("query complete",
		slog.String("entity_type", string(p.entityType)),
		slog.Int("vector_hits", len(neighbors)),
		slog.Int("text_hits", len(matches)),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))
	return results, nil
}

// fillDistances adds exact distances for lexical hits the vector lookup did
// not return, so a returned entity's score never depends on the size of the
// vector candidate pool.
func (s *Searcher) fillDistances(ctx context.Context, p plan, neighbors []types.Neighbor, matches []types.LexicalMatch) ([]types.Neighbor, error) {
	seen := make(map[string]struct{}, len(neighbors))
	for _, n := range neighbors {
		seen[n.ID] = struct{}{}
	}
	var missing []string
	for _, m := range matches {
		if _, ok := seen[m.ID]; !ok {
			missing = append(missing, m.ID)
		}
	}
	if len(missing) == 0 {
		return neighbors, nil
	}

	extra, err := s.vectors.Distances(ctx, p.entityType, p.embedding, missing)
	if err != nil {
		return nil, fmt.Errorf("failed to complete vector distances: %w", err)
	}
	return append(neighbors, extra...), nil
}

// NearestByEmbedding returns the k nearest entities of the partition to the
// query embedding, by ascending cosine distance. efSearch 0 uses the index default.
func (s *Searcher) NearestByEmbedding(ctx context.Context, entityType types.EntityType, queryEmbedding []float64, k, efSearch int) ([]types.Neighbor, error) {
	const op = "nearest_by_embedding"
	if err := validateEntityType(entityType); err != nil {
		return nil, err
	}
	if err := validateLimit("k", k); err != nil {
		return nil, err
	}
	if efSearch < 0 {
		return nil, &types.InvalidArgumentError{Field: "ef_search", Reason: "must not be negative"}
	}
	v, err := embedding.FromSlice(queryEmbedding)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	start := time.Now()
	neighbors, err := s.vectors.Nearest(ctx, entityType, &v, vectorindex.NearestOptions{K: k, EfSearch: efSearch})
	if err != nil {
		return nil, s.mapError(ctx, op, err)
	}
	s.logger.Debug("query complete", slog.String("op", op), slog.String("entity_type", string(entityType)),
		slog.Int("results", len(neighbors)), slog.Duration("duration", time.Since(start)))
	if neighbors == nil {
		neighbors = []types.Neighbor{}
	}
	return neighbors, nil
}

// LexicalScore returns every entity of the partition with a positive lexical
// similarity to queryText, most similar first. An empty query returns an
// empty list.
func (s *Searcher) LexicalScore(ctx context.Context, entityType types.EntityType, queryText string) ([]types.LexicalMatch, error) {
	const op = "lexical_score"
	if err := validateEntityType(entityType); err != nil {
		return nil, err
	}

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	start := time.Now()
	matches, err := s.lexical.Score(ctx, entityType, queryText, nil)
	if err != nil {
		return nil, s.mapError(ctx, op, err)
	}
	s.logger.Debug("query complete", slog.String("op", op), slog.String("entity_type", string(entityType)),
		slog.Int("results", len(matches)), slog.Duration("duration", time.Since(start)))
	if matches == nil {
		matches = []types.LexicalMatch{}
	}
	return matches, nil
}

// errBudgetExceeded is the cancellation cause of the internal query budget.
var errBudgetExceeded = errors.New("query budget exceeded")

// withBudget derives the context a single query runs under.
func (s *Searcher) withBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(ctx, s.timeout, errBudgetExceeded)
}

// mapError turns any failure after the internal budget expired into a
// TimeoutError, whatever shape the index reported it in. A caller's own
// cancellation or deadline is returned unchanged.
func (s *Searcher) mapError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil && errors.Is(context.Cause(ctx), errBudgetExceeded) {
		return &types.TimeoutError{Op: op, Budget: s.timeout}
	}
	return err
}

func validateEntityType(entityType types.EntityType) error {
	if !entityType.Valid() {
		return &types.InvalidArgumentError{Field: "entity_type", Reason: fmt.Sprintf("unknown entity type %q", entityType)}
	}
	return nil
}

func validateLimit(field string, n int) error {
	if n <= 0 {
		return &types.InvalidArgumentError{Field: field, Reason: "must be positive"}
	}
	return nil
}
