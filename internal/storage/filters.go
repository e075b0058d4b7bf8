package storage

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/dshills/contribrank/pkg/types"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Tag kinds stored in entity_tags (SQLite) or array columns (Postgres).
const (
	tagTopic            = "topic"
	tagSkill            = "skill"
	tagLanguage         = "language"
	tagContributionType = "contribution_type"
)

// whereBuilder accumulates AND-ed conditions and their arguments
type whereBuilder struct {
	dialect dialect
	conds   []string
	args    []interface{}
}

func newWhereBuilder(d dialect, args ...interface{}) *whereBuilder {
	return &whereBuilder{dialect: d, args: args}
}

// arg binds v and returns its placeholder
func (w *whereBuilder) arg(v interface{}) string {
	w.args = append(w.args, v)
	if w.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", len(w.args))
	}
	return "?"
}

// list binds a string list: an IN body for SQLite, one text[] parameter for Postgres
func (w *whereBuilder) list(values []string) string {
	if w.dialect == dialectPostgres {
		return w.arg(pq.Array(values))
	}
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = w.arg(v)
	}
	return strings.Join(ph, ",")
}

func (w *whereBuilder) add(format string, a ...interface{}) {
	w.conds = append(w.conds, fmt.Sprintf(format, a...))
}

// clause renders the conditions as a suffix to a WHERE that already has a predicate
func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " AND " + strings.Join(w.conds, " AND ")
}

// applyCandidateFilters adds the eligibility conditions of q for the entity table.
// Filters that do not apply to the type are rejected, not ignored.
func applyCandidateFilters(w *whereBuilder, entityType types.EntityType, q CandidateQuery) error {
	f := q.Filters
	if err := f.ValidateFor(entityType); err != nil {
		return err
	}
	if len(q.ContributionTypes) > 0 && entityType != types.EntityOpportunity {
		return &types.InvalidArgumentError{Field: "contribution_types", Reason: "only applies to opportunities"}
	}

	if f.Language != "" {
		lang := strings.ToLower(f.Language)
		if entityType == types.EntityUser {
			w.hasTags(entityType, tagLanguage, []string{lang})
		} else {
			w.add("LOWER(language) = %s", w.arg(lang))
		}
	}
	if f.Difficulty != "" {
		w.add("difficulty = %s", w.arg(string(f.Difficulty)))
	}
	if f.MinStars != nil {
		col := "stars"
		if entityType == types.EntityOpportunity {
			col = "repo_stars"
		}
		w.add("%s >= %s", col, w.arg(*f.MinStars))
	}
	if f.ActiveOnly {
		switch {
		case entityType == types.EntityRepository && w.dialect == dialectPostgres:
			w.add("NOT archived")
		case entityType == types.EntityRepository:
			w.add("archived = 0")
		case w.dialect == dialectPostgres:
			w.add("is_open")
		default:
			w.add("is_open = 1")
		}
	}
	if skills := lowerSet(f.SkillsRequired); len(skills) > 0 {
		kind := tagSkill
		if entityType == types.EntityRepository {
			kind = tagTopic
		}
		w.hasTags(entityType, kind, skills)
	}
	if wanted := lowerSet(q.ContributionTypes); len(wanted) > 0 {
		if w.dialect == dialectPostgres {
			w.add("LOWER(contribution_type) = ANY(%s)", w.list(wanted))
		} else {
			w.add("LOWER(contribution_type) IN (%s)", w.list(wanted))
		}
	}
	return nil
}

// hasTags requires the entity to carry every value (case-insensitive) of the tag kind
func (w *whereBuilder) hasTags(entityType types.EntityType, kind string, values []string) {
	if w.dialect == dialectPostgres {
		w.add("ARRAY(SELECT LOWER(t) FROM unnest(%s) AS t) @> %s::text[]", pgTagColumn(kind), w.list(values))
		return
	}
	et := w.arg(string(entityType))
	k := w.arg(kind)
	in := w.list(values)
	w.add(`id IN (SELECT entity_id FROM entity_tags WHERE entity_type = %s AND kind = %s AND LOWER(value) IN (%s)
		GROUP BY entity_id HAVING COUNT(DISTINCT LOWER(value)) = %d)`, et, k, in, len(values))
}

// pgTagColumn maps a tag kind to its Postgres array column
func pgTagColumn(kind string) string {
	switch kind {
	case tagTopic:
		return "topics"
	case tagLanguage:
		return "languages"
	case tagContributionType:
		return "contribution_types"
	}
	return "skills"
}

func lowerSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
