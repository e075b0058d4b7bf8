package vectorindex

import (
	"container/heap"
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/dshills/contribrank/internal/embedding"
	"github.com/dshills/contribrank/pkg/types"
)

// Default graph parameters.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 100

	maxLevel = 16

	// compactAfter is the tombstone count above which a partition is rebuilt,
	// provided tombstones also outnumber live nodes.
	compactAfter = 1024
)

// Config holds HNSW graph parameters.
type Config struct {
	M              int   `yaml:"m"`
	EfConstruction int   `yaml:"ef_construction"`
	EfSearch       int   `yaml:"ef_search"`
	Seed           int64 `yaml:"seed"`
}

// DefaultConfig favors recall at moderate cost.
func DefaultConfig() Config {
	return Config{
		M:              DefaultM,
		EfConstruction: DefaultEfConstruction,
		EfSearch:       DefaultEfSearch,
		Seed:           42,
	}
}

// HNSW is an in-memory hierarchical navigable small world index with one graph
// per entity type.
//
// Recall is approximate: a search may miss true nearest neighbors, more often
// with a small EfSearch or a selective Scope. The neighbors it does return are
// ordered exactly. When a Scope allows no more ids than EfSearch the allowed
// ids are scanned exhaustively instead of walking the graph.
//
// Writers are serialized. An insert computes its links under a read lock and
// publishes them under a short write lock, so queries wait at most for that
// publication. Vectors are copied on insert and never mutated; an update
// tombstones the old node and inserts a new one, so a reader sees either the
// old or the new vector, never a mix.
type HNSW struct {
	cfg       Config
	levelMult float64

	writeMu sync.Mutex
	mu      sync.RWMutex
	graphs  map[types.EntityType]*graph
}

type node struct {
	id    string
	vec   types.Embedding
	norm2 float64
	level int

	// links[l] is replaced wholesale, never appended to in place.
	links   [][]int32
	deleted bool
}

type graph struct {
	mu         sync.RWMutex
	nodes      []*node
	ids        map[string]int32
	entry      int32
	top        int
	tombstones int

	// rng is only touched by writers, which are serialized.
	rng *rand.Rand
}

// NewHNSW creates an empty index. Zero config fields take their defaults.
func NewHNSW(cfg Config) *HNSW {
	def := DefaultConfig()
	if cfg.M <= 1 {
		cfg.M = def.M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = def.EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}
	return &HNSW{
		cfg:       cfg,
		levelMult: 1 / math.Log(float64(cfg.M)),
		graphs:    make(map[types.EntityType]*graph),
	}
}

func (h *HNSW) newGraph() *graph {
	return &graph{
		ids:   make(map[string]int32),
		entry: -1,
		rng:   rand.New(rand.NewSource(h.cfg.Seed)),
	}
}

// graphFor returns the partition graph, creating it if needed. Callers hold writeMu.
func (h *HNSW) graphFor(entityType types.EntityType) *graph {
	h.mu.RLock()
	g, ok := h.graphs[entityType]
	h.mu.RUnlock()
	if ok {
		return g
	}
	g = h.newGraph()
	h.mu.Lock()
	h.graphs[entityType] = g
	h.mu.Unlock()
	return g
}

func (h *HNSW) lookup(entityType types.EntityType) *graph {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graphs[entityType]
}

// Upsert inserts or replaces the vector for id.
func (h *HNSW) Upsert(entityType types.EntityType, id string, v *types.Embedding) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	g := h.graphFor(entityType)
	h.insert(g, id, v)
	h.maybeCompact(entityType, g)
}

// Remove tombstones id. Reports whether it was present.
func (h *HNSW) Remove(entityType types.EntityType, id string) bool {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	g := h.lookup(entityType)
	if g == nil {
		return false
	}
	g.mu.Lock()
	idx, ok := g.ids[id]
	if ok {
		g.nodes[idx].deleted = true
		delete(g.ids, id)
		g.tombstones++
	}
	g.mu.Unlock()

	if ok {
		h.maybeCompact(entityType, g)
	}
	return ok
}

// Len returns the number of live vectors in the partition.
func (h *HNSW) Len(entityType types.EntityType) int {
	g := h.lookup(entityType)
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.ids)
}

// Tombstones returns the number of deleted nodes still linked into the partition graph.
func (h *HNSW) Tombstones(entityType types.EntityType) int {
	g := h.lookup(entityType)
	if g == nil {
		return 0
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tombstones
}

// Compact rebuilds the partition graph from its live nodes and swaps it in.
// Queries keep using the old graph until the swap.
func (h *HNSW) Compact(entityType types.EntityType) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if g := h.lookup(entityType); g != nil {
		h.compact(entityType, g)
	}
}

func (h *HNSW) maybeCompact(entityType types.EntityType, g *graph) {
	g.mu.RLock()
	due := g.tombstones > compactAfter && g.tombstones > len(g.ids)
	g.mu.RUnlock()
	if due {
		h.compact(entityType, g)
	}
}

func (h *HNSW) compact(entityType types.EntityType, g *graph) {
	g.mu.RLock()
	live := make([]*node, 0, len(g.ids))
	for _, idx := range g.ids {
		live = append(live, g.nodes[idx])
	}
	g.mu.RUnlock()
	sort.Slice(live, func(i, j int) bool { return live[i].id < live[j].id })

	fresh := h.newGraph()
	for _, n := range live {
		h.insert(fresh, n.id, &n.vec)
	}

	h.mu.Lock()
	h.graphs[entityType] = fresh
	h.mu.Unlock()
}

// insert adds a node to g. Callers hold writeMu, so the graph cannot change
// between planning the links and publishing them.
func (h *HNSW) insert(g *graph, id string, v *types.Embedding) {
	n := &node{id: id, vec: *v}
	n.norm2 = embedding.Dot(&n.vec, &n.vec)
	n.level = h.randomLevel(g.rng)
	n.links = make([][]int32, n.level+1)

	g.mu.RLock()
	idx := int32(len(g.nodes))
	updates := h.plan(g, n, idx)
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = append(g.nodes, n)
	for _, u := range updates {
		g.nodes[u.node].links[u.level] = u.links
	}
	if old, ok := g.ids[id]; ok {
		g.nodes[old].deleted = true
		g.tombstones++
	}
	g.ids[id] = idx
	if g.entry < 0 || n.level > g.top {
		g.entry = idx
		g.top = n.level
	}
}

type linkUpdate struct {
	node  int32
	level int
	links []int32
}

// plan fills n.links and returns the back-link lists of the affected neighbors.
func (h *HNSW) plan(g *graph, n *node, idx int32) []linkUpdate {
	if g.entry < 0 {
		return nil
	}

	ctx := context.Background()
	ep := []candidate{{idx: g.entry, dist: g.distTo(&n.vec, n.norm2, g.entry)}}
	for l := g.top; l > n.level; l-- {
		ep, _ = g.searchLayer(ctx, &n.vec, n.norm2, ep, 1, l, nil)
	}

	var updates []linkUpdate
	for l := min(n.level, g.top); l >= 0; l-- {
		w, _ := g.searchLayer(ctx, &n.vec, n.norm2, ep, h.cfg.EfConstruction, l, nil)
		selected := g.selectNeighbors(w, h.cfg.M)

		n.links[l] = make([]int32, len(selected))
		for i, c := range selected {
			n.links[l][i] = c.idx
		}

		limit := h.cfg.M
		if l == 0 {
			limit = 2 * h.cfg.M
		}
		for _, c := range selected {
			nb := g.nodes[c.idx]
			current := nb.links[l]
			links := make([]int32, len(current), len(current)+1)
			copy(links, current)
			links = append(links, idx)
			if len(links) > limit {
				links = g.prune(nb, links, n, idx, limit)
			}
			updates = append(updates, linkUpdate{node: c.idx, level: l, links: links})
		}
		ep = w
	}
	return updates
}

// prune keeps the limit links closest to base. pending is the node being
// inserted at index pendingIdx, which is not yet in g.nodes.
func (g *graph) prune(base *node, links []int32, pending *node, pendingIdx int32, limit int) []int32 {
	cands := make([]candidate, len(links))
	for i, l := range links {
		other := pending
		if l != pendingIdx {
			other = g.nodes[l]
		}
		cands[i] = candidate{idx: l, dist: embedding.CosineDistanceSq(&base.vec, &other.vec, base.norm2, other.norm2)}
	}
	sort.Slice(cands, func(i, j int) bool { return closer(cands[i], cands[j]) })

	out := make([]int32, limit)
	for i := range out {
		out[i] = cands[i].idx
	}
	return out
}

// selectNeighbors applies the HNSW neighbor heuristic to cands, which must be
// sorted closest first: a candidate is kept only if it is closer to the base
// than to any already kept neighbor. Pruned candidates fill remaining slots.
func (g *graph) selectNeighbors(cands []candidate, m int) []candidate {
	if len(cands) <= m {
		return cands
	}
	selected := make([]candidate, 0, m)
	var pruned []candidate
	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		cn := g.nodes[c.idx]
		diverse := true
		for _, s := range selected {
			sn := g.nodes[s.idx]
			if embedding.CosineDistanceSq(&cn.vec, &sn.vec, cn.norm2, sn.norm2) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, p := range pruned {
		if len(selected) >= m {
			break
		}
		selected = append(selected, p)
	}
	return selected
}

func (h *HNSW) randomLevel(rng *rand.Rand) int {
	l := int(math.Floor(-math.Log(1-rng.Float64()) * h.levelMult))
	if l > maxLevel {
		return maxLevel
	}
	return l
}

func (g *graph) distTo(q *types.Embedding, qn2 float64, idx int32) float64 {
	n := g.nodes[idx]
	return embedding.CosineDistanceSq(q, &n.vec, qn2, n.norm2)
}

// searchLayer is the greedy best-first search of one graph layer. accept, when
// non-nil, decides which visited nodes may enter the result set; rejected nodes
// are still traversed. Results are returned closest first.
func (g *graph) searchLayer(ctx context.Context, q *types.Embedding, qn2 float64, entries []candidate, ef, level int, accept func(*node) bool) ([]candidate, error) {
	visited := newBitset(len(g.nodes))
	cands := make(minQueue, 0, ef)
	results := make(maxQueue, 0, ef+1)

	for _, e := range entries {
		if visited.testAndSet(e.idx) {
			continue
		}
		heap.Push(&cands, e)
		if accept == nil || accept(g.nodes[e.idx]) {
			heap.Push(&results, e)
			if results.Len() > ef {
				heap.Pop(&results)
			}
		}
	}

	steps := 0
	for cands.Len() > 0 {
		c := heap.Pop(&cands).(candidate)
		if results.Len() >= ef && c.dist > results[0].dist {
			break
		}
		if steps++; steps%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		links := g.nodes[c.idx].links
		if level >= len(links) {
			continue
		}
		for _, nb := range links[level] {
			if visited.testAndSet(nb) {
				continue
			}
			d := g.distTo(q, qn2, nb)
			if results.Len() < ef || d < results[0].dist {
				heap.Push(&cands, candidate{idx: nb, dist: d})
				if accept == nil || accept(g.nodes[nb]) {
					heap.Push(&results, candidate{idx: nb, dist: d})
					if results.Len() > ef {
						heap.Pop(&results)
					}
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&results).(candidate)
	}
	return out, nil
}

// Nearest implements Index.
func (h *HNSW) Nearest(ctx context.Context, entityType types.EntityType, query *types.Embedding, opts NearestOptions) ([]types.Neighbor, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := h.lookup(entityType)
	if g == nil {
		return nil, nil
	}

	ef := opts.EfSearch
	if ef == 0 {
		ef = h.cfg.EfSearch
	}
	if ef < opts.K {
		ef = opts.K
	}
	qn2 := embedding.Dot(query, query)

	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(g.ids) == 0 {
		return nil, nil
	}
	if opts.Scope != nil && len(opts.Scope) <= ef {
		return g.scan(ctx, query, qn2, opts)
	}

	ep := []candidate{{idx: g.entry, dist: g.distTo(query, qn2, g.entry)}}
	var err error
	for l := g.top; l > 0; l-- {
		if ep, err = g.searchLayer(ctx, query, qn2, ep, 1, l, nil); err != nil {
			return nil, err
		}
	}

	accept := func(n *node) bool { return !n.deleted && opts.Scope.Allows(n.id) }
	found, err := g.searchLayer(ctx, query, qn2, ep, ef, 0, accept)
	if err != nil {
		return nil, err
	}

	out := make([]types.Neighbor, len(found))
	for i, c := range found {
		out[i] = types.Neighbor{ID: g.nodes[c.idx].id, Distance: c.dist}
	}
	sortNeighbors(out)
	return truncate(out, opts.K), nil
}

// Distances implements Index by reading the stored vectors of live nodes.
func (h *HNSW) Distances(ctx context.Context, entityType types.EntityType, query *types.Embedding, ids []string) ([]types.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g := h.lookup(entityType)
	if g == nil {
		return nil, nil
	}
	qn2 := embedding.Dot(query, query)

	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.Neighbor, 0, len(ids))
	for _, id := range ids {
		if idx, ok := g.ids[id]; ok {
			out = append(out, types.Neighbor{ID: id, Distance: g.distTo(query, qn2, idx)})
		}
	}
	sortNeighbors(out)
	return out, nil
}

// scan is the exact path for small allow-lists. Callers hold g.mu.
func (g *graph) scan(ctx context.Context, query *types.Embedding, qn2 float64, opts NearestOptions) ([]types.Neighbor, error) {
	out := make([]types.Neighbor, 0, len(opts.Scope))
	i := 0
	for id := range opts.Scope {
		if i++; i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		idx, ok := g.ids[id]
		if !ok {
			continue
		}
		out = append(out, types.Neighbor{ID: id, Distance: g.distTo(query, qn2, idx)})
	}
	sortNeighbors(out)
	return truncate(out, opts.K), nil
}
