package lexical

import (
	"context"
	"sync"

	"github.com/dshills/contribrank/pkg/types"
)

// Memory is an in-process trigram index. Each partition keeps a posting list
// per trigram so that only entities sharing a trigram with the query have
// their similarity computed. The verbatim check still visits every entity in
// scope, since a phrase can occur inside a word without sharing a padded
// trigram with it.
type Memory struct {
	boost float64

	mu    sync.RWMutex
	parts map[types.EntityType]*partition
}

type partition struct {
	docs     map[string]*document
	postings map[string]map[string]struct{}
}

// document is immutable once published.
type document struct {
	fields []field
	grams  gramSet
}

type field struct {
	text  string
	grams gramSet
}

// NewMemory creates an empty index. A boost outside [0.5,1] uses DefaultPhraseBoost.
func NewMemory(boost float64) *Memory {
	if !validBoost(boost) {
		boost = DefaultPhraseBoost
	}
	return &Memory{boost: boost, parts: make(map[types.EntityType]*partition)}
}

func newDocument(text []string) *document {
	d := &document{grams: make(gramSet)}
	for _, t := range text {
		f := field{text: normalize(t), grams: trigramSet(t)}
		if f.text == "" {
			continue
		}
		for g := range f.grams {
			d.grams[g] = struct{}{}
		}
		d.fields = append(d.fields, f)
	}
	return d
}

// Upsert replaces the text fields of id.
func (m *Memory) Upsert(entityType types.EntityType, id string, text []string) {
	d := newDocument(text)

	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.parts[entityType]
	if !ok {
		p = &partition{docs: make(map[string]*document), postings: make(map[string]map[string]struct{})}
		m.parts[entityType] = p
	}
	if old, ok := p.docs[id]; ok {
		p.unpost(id, old)
	}
	p.docs[id] = d
	for g := range d.grams {
		ids, ok := p.postings[g]
		if !ok {
			ids = make(map[string]struct{})
			p.postings[g] = ids
		}
		ids[id] = struct{}{}
	}
}

// Remove drops id. Reports whether it was present.
func (m *Memory) Remove(entityType types.EntityType, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.parts[entityType]
	if p == nil {
		return false
	}
	d, ok := p.docs[id]
	if !ok {
		return false
	}
	p.unpost(id, d)
	delete(p.docs, id)
	return true
}

func (p *partition) unpost(id string, d *document) {
	for g := range d.grams {
		ids := p.postings[g]
		delete(ids, id)
		if len(ids) == 0 {
			delete(p.postings, g)
		}
	}
}

// Len returns the number of indexed entities in the partition.
func (m *Memory) Len(entityType types.EntityType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := m.parts[entityType]; p != nil {
		return len(p.docs)
	}
	return 0
}

// Score implements Index.
func (m *Memory) Score(ctx context.Context, entityType types.EntityType, query string, scope types.Scope) ([]types.LexicalMatch, error) {
	if err := validPartition(entityType); err != nil {
		return nil, err
	}
	norm := normalize(query)
	if norm == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qgrams := trigramSet(query)

	// Documents are immutable, so scoring runs on a snapshot outside the lock.
	type ref struct {
		id    string
		doc   *document
		fuzzy bool
	}
	m.mu.RLock()
	p := m.parts[entityType]
	var refs []ref
	if p != nil {
		shared := make(map[string]struct{})
		for g := range qgrams {
			for id := range p.postings[g] {
				shared[id] = struct{}{}
			}
		}
		if hasLongWord(query) {
			// Any verbatim occurrence leaves a shared trigram, so the
			// postings already hold every document that can score.
			refs = make([]ref, 0, len(shared))
			for id := range shared {
				if scope.Allows(id) {
					refs = append(refs, ref{id: id, doc: p.docs[id], fuzzy: true})
				}
			}
		} else {
			refs = make([]ref, 0, len(p.docs))
			for id, d := range p.docs {
				if !scope.Allows(id) {
					continue
				}
				_, fuzzy := shared[id]
				refs = append(refs, ref{id: id, doc: d, fuzzy: fuzzy})
			}
		}
	}
	m.mu.RUnlock()

	var out []types.LexicalMatch
	for i, r := range refs {
		if i%256 == 255 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		best := 0.0
		for _, f := range r.doc.fields {
			sim := 0.0
			if r.fuzzy {
				sim = jaccard(qgrams, f.grams)
			}
			if s := Blend(sim, containsVerbatim(f.text, norm), m.boost); s > best {
				best = s
			}
		}
		if best > 0 {
			out = append(out, types.LexicalMatch{ID: r.id, Similarity: best})
		}
	}
	sortMatches(out)
	return out, nil
}
