package types

import "sort"

// Scope restricts a lookup to a set of entity ids. A nil Scope is unrestricted;
// an empty non-nil Scope allows nothing.
type Scope map[string]struct{}

// NewScope returns a Scope allowing exactly ids.
func NewScope(ids ...string) Scope {
	s := make(Scope, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Unrestricted reports whether the scope allows every id.
func (s Scope) Unrestricted() bool { return s == nil }

// Allows reports whether id passes the scope.
func (s Scope) Allows(id string) bool {
	if s == nil {
		return true
	}
	_, ok := s[id]
	return ok
}

// IDs returns the allowed ids in ascending order. Nil for an unrestricted scope.
func (s Scope) IDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Intersect returns the ids allowed by both scopes.
func (s Scope) Intersect(other Scope) Scope {
	if s == nil {
		return other
	}
	if other == nil {
		return s
	}
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(Scope, len(small))
	for id := range small {
		if _, ok := large[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}
