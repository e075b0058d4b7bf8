package types

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strings"
)

// Filter keys recognized by ParseFilters.
const (
	FilterLanguage       = "language"
	FilterDifficulty     = "difficulty"
	FilterMinStars       = "minStars"
	FilterActiveOnly     = "activeOnly"
	FilterSkillsRequired = "skillsRequired"
)

// Filters narrow the candidate set of a query before any ranking happens.
// The zero value matches everything.
type Filters struct {
	Language       string     `json:"language,omitempty"`
	Difficulty     Difficulty `json:"difficulty,omitempty"`
	MinStars       *int       `json:"minStars,omitempty"`
	ActiveOnly     bool       `json:"activeOnly,omitempty"`
	SkillsRequired []string   `json:"skillsRequired,omitempty"`
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.Language == "" && f.Difficulty == "" && f.MinStars == nil &&
		!f.ActiveOnly && len(f.SkillsRequired) == 0
}

// ParseFilters builds Filters from a loosely typed map, as received from JSON
// callers. Unknown keys and ill-typed values are rejected.
func ParseFilters(m map[string]any) (Filters, error) {
	var f Filters
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := m[k]
		if v == nil {
			continue
		}
		switch k {
		case FilterLanguage:
			s, ok := v.(string)
			if !ok {
				return Filters{}, invalid("filters."+k, "must be a string")
			}
			f.Language = strings.TrimSpace(s)
		case FilterDifficulty:
			s, ok := v.(string)
			if !ok {
				return Filters{}, invalid("filters."+k, "must be a string")
			}
			d, err := ParseDifficulty(s)
			if err != nil {
				return Filters{}, err
			}
			f.Difficulty = d
		case FilterMinStars:
			n, err := toNonNegativeInt(k, v)
			if err != nil {
				return Filters{}, err
			}
			f.MinStars = &n
		case FilterActiveOnly:
			b, ok := v.(bool)
			if !ok {
				return Filters{}, invalid("filters."+k, "must be a boolean")
			}
			f.ActiveOnly = b
		case FilterSkillsRequired:
			skills, err := toStringSet(k, v)
			if err != nil {
				return Filters{}, err
			}
			f.SkillsRequired = skills
		default:
			return Filters{}, invalid("filters", "unrecognized filter key %q", k)
		}
	}
	return f, nil
}

// UnmarshalJSON routes through ParseFilters so unknown keys are rejected.
func (f *Filters) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return invalid("filters", "%v", err)
	}
	parsed, err := ParseFilters(m)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Validate checks value ranges independent of entity type.
func (f Filters) Validate() error {
	if f.MinStars != nil && *f.MinStars < 0 {
		return invalid("filters."+FilterMinStars, "must be >= 0, got %d", *f.MinStars)
	}
	if _, err := ParseDifficulty(string(f.Difficulty)); err != nil {
		return err
	}
	return nil
}

// ValidateFor rejects filters that have no meaning for the entity type.
func (f Filters) ValidateFor(t EntityType) error {
	if err := f.Validate(); err != nil {
		return err
	}
	switch t {
	case EntityRepository:
		if f.Difficulty != "" {
			return invalid("filters."+FilterDifficulty, "not applicable to %s", t)
		}
	case EntityOpportunity:
	case EntityUser:
		if f.Difficulty != "" {
			return invalid("filters."+FilterDifficulty, "not applicable to %s", t)
		}
		if f.MinStars != nil {
			return invalid("filters."+FilterMinStars, "not applicable to %s", t)
		}
		if f.ActiveOnly {
			return invalid("filters."+FilterActiveOnly, "not applicable to %s", t)
		}
	default:
		return invalid("entity_type", "unknown entity type %q", t)
	}
	return nil
}

func toNonNegativeInt(key string, v any) (int, error) {
	var x float64
	switch n := v.(type) {
	case int:
		x = float64(n)
	case int64:
		x = float64(n)
	case float64:
		x = n
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, invalid("filters."+key, "must be an integer")
		}
		x = f
	default:
		return 0, invalid("filters."+key, "must be an integer")
	}
	if x != math.Trunc(x) || math.IsInf(x, 0) {
		return 0, invalid("filters."+key, "must be an integer, got %v", v)
	}
	if x < 0 {
		return 0, invalid("filters."+key, "must be >= 0, got %v", v)
	}
	if x > math.MaxInt32 {
		return 0, invalid("filters."+key, "out of range")
	}
	return int(x), nil
}

func toStringSet(key string, v any) ([]string, error) {
	var raw []string
	switch s := v.(type) {
	case []string:
		raw = s
	case []any:
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, invalid("filters."+key, "must be a list of strings")
			}
			raw = append(raw, str)
		}
	default:
		return nil, invalid("filters."+key, "must be a list of strings")
	}

	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
