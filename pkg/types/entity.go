package types

import (
	"strings"
)

// EntityType names an index partition.
type EntityType string

const (
	EntityRepository  EntityType = "repository"
	EntityOpportunity EntityType = "opportunity"
	EntityUser        EntityType = "user"
)

// EntityTypes lists every partition in a fixed order.
var EntityTypes = []EntityType{EntityRepository, EntityOpportunity, EntityUser}

// ParseEntityType accepts the singular and plural spellings, plus "issue" for opportunities.
func ParseEntityType(s string) (EntityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "repository", "repositories", "repo", "repos":
		return EntityRepository, nil
	case "opportunity", "opportunities", "issue", "issues":
		return EntityOpportunity, nil
	case "user", "users", "profile", "profiles":
		return EntityUser, nil
	}
	return "", invalid("entity_type", "unknown entity type %q", s)
}

// Valid reports whether t is one of the known partitions.
func (t EntityType) Valid() bool {
	switch t {
	case EntityRepository, EntityOpportunity, EntityUser:
		return true
	}
	return false
}

// Difficulty is the declared difficulty of an opportunity.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// ParseDifficulty validates a difficulty name. The empty string is allowed and means unset.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case "", DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return d, nil
	}
	return "", invalid("difficulty", "must be beginner, intermediate or advanced, got %q", s)
}

// Repository is a searchable open-source repository.
type Repository struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Language    string     `json:"language,omitempty"`
	Topics      []string   `json:"topics,omitempty"`
	Stars       int        `json:"stars"`
	Archived    bool       `json:"archived"`
	Embedding   *Embedding `json:"-"`
}

// TextFields returns the fields scored by the lexical index.
func (r *Repository) TextFields() []string {
	return nonEmpty(r.Name, r.Description, strings.Join(r.Topics, " "))
}

// Opportunity is a contribution opportunity, usually an open issue on a repository.
type Opportunity struct {
	ID               string     `json:"id"`
	RepositoryID     string     `json:"repository_id"`
	Title            string     `json:"title"`
	Body             string     `json:"body"`
	Language         string     `json:"language,omitempty"`
	Difficulty       Difficulty `json:"difficulty,omitempty"`
	Skills           []string   `json:"skills,omitempty"`
	ContributionType string     `json:"contribution_type,omitempty"`
	RepoStars        int        `json:"repo_stars"`
	Open             bool       `json:"open"`
	Embedding        *Embedding `json:"-"`
}

// TextFields returns the fields scored by the lexical index.
func (o *Opportunity) TextFields() []string {
	return nonEmpty(o.Title, o.Body, strings.Join(o.Skills, " "))
}

// UserProfile is a developer profile used both as a search target and as the
// subject of recommendation matching.
type UserProfile struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Bio               string     `json:"bio"`
	Skills            []string   `json:"skills,omitempty"`
	Languages         []string   `json:"languages,omitempty"`
	ContributionTypes []string   `json:"contribution_types,omitempty"`
	Embedding         *Embedding `json:"-"`
}

// TextFields returns the fields scored by the lexical index.
func (u *UserProfile) TextFields() []string {
	return nonEmpty(u.Username, u.Bio, strings.Join(u.Skills, " "))
}

// SkillQuery joins the declared skills into a lexical query.
// Languages are included since they are the most common declared skill.
func (u *UserProfile) SkillQuery() string {
	seen := make(map[string]bool, len(u.Skills)+len(u.Languages))
	var terms []string
	for _, s := range append(append([]string{}, u.Skills...), u.Languages...) {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			continue
		}
		seen[k] = true
		terms = append(terms, s)
	}
	return strings.Join(terms, " ")
}

func nonEmpty(fields ...string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			out = append(out, f)
		}
	}
	return out
}
