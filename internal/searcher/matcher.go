package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/dshills/contribrank/internal/storage"
	"github.com/dshills/contribrank/pkg/types"
)

// DefaultMatchWeights blend a user's embedding with their declared skills.
var DefaultMatchWeights = Weights{Vector: 0.8, Text: 0.2}

// Matcher recommends opportunities for a user profile.
type Matcher struct {
	searcher *Searcher
	weights  Weights
}

// NewMatcher creates a Matcher on top of s. Invalid weights fall back to
// DefaultMatchWeights.
func NewMatcher(s *Searcher, weights Weights) *Matcher {
	if weights.Validate() != nil {
		weights = DefaultMatchWeights
	}
	return &Matcher{searcher: s, weights: weights}
}

// MatchOpportunitiesForUser ranks open opportunities against the user's profile.
//
// Eligibility is resolved first: only open opportunities are considered, and
// when the user declares contribution types only opportunities of one of those
// types. req.Filters narrow the set further.
//
// A user with an embedding is matched by vector similarity blended with a
// lexical match of their skills. A user without one is matched on skills
// alone; with no skills either, the result is empty.
func (m *Matcher) MatchOpportunitiesForUser(ctx context.Context, req types.MatchRequest) ([]types.SimilarityResult, error) {
	const op = "match_opportunities"
	if req.UserID == "" {
		return nil, &types.InvalidArgumentError{Field: "user_id", Reason: "must not be empty"}
	}
	if err := validateLimit("limit", req.Limit); err != nil {
		return nil, err
	}
	if math.IsNaN(req.MinScore) {
		return nil, &types.InvalidArgumentError{Field: "min_score", Reason: "must be a number"}
	}
	if err := req.Filters.ValidateFor(types.EntityOpportunity); err != nil {
		return nil, err
	}

	s := m.searcher
	logger := s.logger.With(slog.String("request_id", uuid.NewString()), slog.String("op", op), slog.String("user_id", req.UserID))

	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	user, err := s.store.GetUserProfile(ctx, req.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, &types.NotFoundError{Kind: "user", ID: req.UserID}
	}
	if err != nil {
		return nil, s.mapError(ctx, op, fmt.Errorf("failed to load user: %w", err))
	}

	filters := req.Filters
	filters.ActiveOnly = true
	p := plan{
		op:         op,
		entityType: types.EntityOpportunity,
		query:      user.SkillQuery(),
		embedding:  user.Embedding,
		weights:    m.weights,
		minScore:   req.MinScore,
		limit:      req.Limit,
		candidates: storage.CandidateQuery{Filters: filters, ContributionTypes: user.ContributionTypes},
	}
	if user.Embedding == nil {
		logger.Debug("user has no embedding, matching on skills", slog.String("skills", p.query))
		p.weights = Weights{Text: 1}
	}

	scope, err := s.store.Candidates(ctx, p.entityType, p.candidates)
	if err != nil {
		return nil, s.mapError(ctx, op, fmt.Errorf("failed to resolve eligible opportunities: %w", err))
	}
	results, err := s.execute(ctx, logger, p, scope)
	if err != nil {
		return nil, s.mapError(ctx, op, err)
	}
	return results, nil
}
