package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/contribrank/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// Store is the read interface the engine needs from a relational store, plus the
// writes used by seeding. Every strategy implements the same contract.
type Store interface {
	// Candidates resolves filters to the set of matching entity ids.
	// It returns a nil Scope when the query has no constraints.
	Candidates(ctx context.Context, entityType types.EntityType, q CandidateQuery) (types.Scope, error)

	// GetUserProfile returns ErrNotFound (wrapped) for an unknown id.
	GetUserProfile(ctx context.Context, id string) (*types.UserProfile, error)

	// GetEntity returns the indexable view of one entity.
	GetEntity(ctx context.Context, entityType types.EntityType, id string) (*Entity, error)

	// ScanEntities calls fn for every entity of the type in ascending id order.
	ScanEntities(ctx context.Context, entityType types.EntityType, fn func(Entity) error) error

	UpsertRepository(ctx context.Context, r *types.Repository) error
	UpsertOpportunity(ctx context.Context, o *types.Opportunity) error
	UpsertUserProfile(ctx context.Context, u *types.UserProfile) error
	DeleteEntity(ctx context.Context, entityType types.EntityType, id string) error

	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// CandidateQuery describes the eligibility constraints of one lookup.
type CandidateQuery struct {
	Filters types.Filters

	// ContributionTypes restricts opportunities to any of the listed types.
	// Empty means any type.
	ContributionTypes []string
}

// IsZero reports whether the query places no constraint at all.
func (q CandidateQuery) IsZero() bool {
	return q.Filters.IsZero() && len(q.ContributionTypes) == 0
}

// Entity is the indexable view of a searchable entity: its text fields and its
// optional embedding.
type Entity struct {
	Type      types.EntityType
	ID        string
	Text      []string
	Embedding *types.Embedding
}

// Stats reports corpus sizes per partition
type Stats struct {
	Strategy   string
	Partitions map[types.EntityType]PartitionStats
}

// PartitionStats counts the entities of one type
type PartitionStats struct {
	Total         int `json:"total"`
	WithEmbedding int `json:"with_embedding"`
}

// TableFor maps an entity type to its table name.
func TableFor(entityType types.EntityType) (string, error) {
	switch entityType {
	case types.EntityRepository:
		return "repositories", nil
	case types.EntityOpportunity:
		return "opportunities", nil
	case types.EntityUser:
		return "user_profiles", nil
	}
	return "", &types.InvalidArgumentError{Field: "entity_type", Reason: fmt.Sprintf("unknown entity type %q", entityType)}
}

func repositoryEntity(r *types.Repository) Entity {
	return Entity{Type: types.EntityRepository, ID: r.ID, Text: r.TextFields(), Embedding: r.Embedding}
}

func opportunityEntity(o *types.Opportunity) Entity {
	return Entity{Type: types.EntityOpportunity, ID: o.ID, Text: o.TextFields(), Embedding: o.Embedding}
}

func userEntity(u *types.UserProfile) Entity {
	return Entity{Type: types.EntityUser, ID: u.ID, Text: u.TextFields(), Embedding: u.Embedding}
}

func validateID(id string) error {
	if id == "" {
		return &types.InvalidArgumentError{Field: "id", Reason: "must not be empty"}
	}
	return nil
}
