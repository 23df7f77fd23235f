// Package hnsw implements a Hierarchical Navigable Small World graph for
// approximate nearest-neighbor search over fixed-dimension float vectors.
//
// Distance metric is angular: dist = 1 - cosine_similarity. Vectors are
// normalized on insert and on query, so the dot product is the cosine.
//
// Search is approximate by construction: it may miss true nearest neighbors
// (recall < 1.0). That is the accepted trade-off for sublinear search, not a
// bug. Recall rises monotonically with MaxLinksPerNode and the explore
// parameters, at higher insert and search cost; there is no closed form, so
// tuning is empirical.
//
// Delete policy: Remove tombstones a node without rewiring its neighbors.
// The entry point is re-selected when the tombstoned node carried it.
// High-churn workloads degrade graph quality over time; rebuild when the
// tombstone ratio grows past about half.
package hnsw

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// ErrDimensionMismatch signals a vector whose length differs from the index dimensionality.
var ErrDimensionMismatch = errors.New("hnsw: dimension mismatch")

// Config contains tuning parameters for the HNSW graph.
type Config struct {
	// MaxLinksPerNode bounds bidirectional links per node per layer (M).
	MaxLinksPerNode int
	// EfConstruction is the candidate list size explored during insertion.
	EfConstruction int
	// EfSearch is the default candidate list size during search.
	EfSearch int
}

// DefaultConfig returns the tuning the chunk schema declares.
func DefaultConfig() Config {
	return Config{
		MaxLinksPerNode: 16,
		EfConstruction:  200,
		EfSearch:        100,
	}
}

// Hit is one nearest-neighbor search result, ordered by ascending distance.
type Hit struct {
	ID       string
	Distance float32
}

type node struct {
	id    string
	level int
	vec   []float32 // normalized
	links [][]uint32
}

// Index is an HNSW approximate nearest-neighbor index.
//
// A single RWMutex guards the graph: searches hold the read lock for their
// whole traversal, so a concurrent insert can never expose a partially
// written link list to them.
type Index struct {
	mu       sync.RWMutex
	cfg      Config
	dims     int
	levelMul float64

	nodes        []*node
	idToInternal map[string]uint32
	deleted      []bool
	liveCount    int

	entryPoint    uint32
	hasEntryPoint bool
	maxLevel      int

	rng *rand.Rand
}

// New creates an HNSW index for vectors of the given dimensionality.
func New(dims int, cfg Config) *Index {
	if cfg.MaxLinksPerNode <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = DefaultConfig().EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultConfig().EfSearch
	}
	return &Index{
		cfg:          cfg,
		dims:         dims,
		levelMul:     1.0 / math.Log(float64(cfg.MaxLinksPerNode)),
		idToInternal: make(map[string]uint32, 1024),
		rng:          rand.New(rand.NewSource(1)),
	}
}

// Dims returns the vector dimensionality the index accepts.
func (h *Index) Dims() int { return h.dims }

// Len returns the number of live vectors in the index.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.liveCount
}

// Contains reports whether id has a live vector in the index.
func (h *Index) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	internal, ok := h.idToInternal[id]
	return ok && !h.deleted[internal]
}

// TombstoneRatio returns the fraction of nodes that are tombstoned.
func (h *Index) TombstoneRatio() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.nodes) == 0 {
		return 0
	}
	return float64(len(h.nodes)-h.liveCount) / float64(len(h.nodes))
}

// Add inserts a vector. Re-adding a live id overwrites its vector in place
// without rewiring the graph; links built for the old vector stay, which can
// reduce recall after large vector changes until a rebuild.
func (h *Index) Add(id string, vec []float32) error {
	if len(vec) != h.dims {
		return ErrDimensionMismatch
	}
	if id == "" {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if internal, ok := h.idToInternal[id]; ok && !h.deleted[internal] {
		dst := h.nodes[internal].vec
		copy(dst, vec)
		normalize(dst)
		return nil
	}

	level := h.randomLevel()
	internal := uint32(len(h.nodes))

	nvec := make([]float32, h.dims)
	copy(nvec, vec)
	normalize(nvec)

	links := make([][]uint32, level+1)
	for l := range links {
		links[l] = make([]uint32, 0, h.cfg.MaxLinksPerNode)
	}
	h.nodes = append(h.nodes, &node{id: id, level: level, vec: nvec, links: links})
	h.deleted = append(h.deleted, false)
	h.idToInternal[id] = internal
	h.liveCount++

	if !h.hasEntryPoint {
		h.entryPoint = internal
		h.hasEntryPoint = true
		h.maxLevel = level
		return nil
	}

	ep := h.entryPoint
	epLevel := h.nodes[ep].level
	for l := epLevel; l > level; l-- {
		ep = h.greedyClosest(nvec, ep, l)
	}

	for l := min(level, epLevel); l >= 0; l-- {
		candidates := h.searchLayer(nvec, ep, h.cfg.EfConstruction, l)
		neighbors := h.selectNeighbors(nvec, candidates, h.cfg.MaxLinksPerNode)
		h.nodes[internal].links[l] = append(h.nodes[internal].links[l][:0], neighbors...)

		for _, nb := range neighbors {
			h.linkBack(nb, l, internal)
		}
		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	if level > h.maxLevel {
		h.entryPoint = internal
		h.maxLevel = level
	}
	return nil
}

// Remove tombstones the vector for id. Removing an absent id is a no-op.
func (h *Index) Remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	internal, ok := h.idToInternal[id]
	if !ok || h.deleted[internal] {
		return
	}
	h.deleted[internal] = true
	h.liveCount--
	delete(h.idToInternal, id)

	if h.liveCount == 0 {
		h.hasEntryPoint = false
		h.entryPoint = 0
		h.maxLevel = 0
		return
	}
	if internal == h.entryPoint || h.nodes[internal].level == h.maxLevel {
		h.reselectEntryPoint()
	}
}

// Search returns up to k nearest neighbors of query by ascending angular
// distance. ef widens the candidate beam; ef <= 0 falls back to the
// configured EfSearch. Results are approximate.
func (h *Index) Search(ctx context.Context, query []float32, k, ef int) ([]Hit, error) {
	if len(query) != h.dims {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntryPoint {
		return nil, nil
	}

	q := make([]float32, h.dims)
	copy(q, query)
	normalize(q)

	ep := h.entryPoint
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedyClosest(q, ep, l)
	}

	candidates := h.searchLayer(q, ep, ef, 0)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := min(k, len(candidates))
	hits := make([]Hit, 0, n)
	for _, c := range candidates {
		if len(hits) == n {
			break
		}
		hits = append(hits, Hit{ID: h.nodes[c.id].id, Distance: c.dist})
	}
	return hits, nil
}

// greedyClosest walks level l links toward the single closest node to query.
func (h *Index) greedyClosest(query []float32, entry uint32, level int) uint32 {
	current := entry
	currentDist := h.distance(query, current)
	for {
		changed := false
		for _, nb := range h.linksAt(current, level) {
			if h.deleted[nb] {
				continue
			}
			if d := h.distance(query, nb); d < currentDist {
				current, currentDist = nb, d
				changed = true
			}
		}
		if !changed {
			return current
		}
	}
}

// searchLayer explores level l from entry keeping the ef closest live nodes.
// Returns candidates ordered by ascending distance.
func (h *Index) searchLayer(query []float32, entry uint32, ef, level int) []distItem {
	visited := make(map[uint32]struct{}, ef*4)
	visited[entry] = struct{}{}

	candidates := newDistHeap(false, ef*2) // min-heap: closest first
	results := newDistHeap(true, ef*2)     // max-heap: furthest on top

	entryDist := h.distance(query, entry)
	candidates.push(distItem{id: entry, dist: entryDist})
	results.push(distItem{id: entry, dist: entryDist})

	for candidates.len() > 0 {
		closest := candidates.pop()
		if results.len() >= ef && closest.dist > results.peek().dist {
			break
		}

		for _, nb := range h.linksAt(closest.id, level) {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}
			if h.deleted[nb] {
				continue
			}
			d := h.distance(query, nb)
			if results.len() < ef || d < results.peek().dist {
				candidates.push(distItem{id: nb, dist: d})
				results.push(distItem{id: nb, dist: d})
				if results.len() > ef {
					results.pop()
				}
			}
		}
	}

	out := make([]distItem, results.len())
	for i := results.len() - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

// selectNeighbors keeps the m closest live candidates.
func (h *Index) selectNeighbors(query []float32, candidates []distItem, m int) []uint32 {
	live := candidates[:0:len(candidates)]
	for _, c := range candidates {
		if !h.deleted[c.id] {
			live = append(live, c)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].dist < live[j].dist })
	if len(live) > m {
		live = live[:m]
	}
	out := make([]uint32, len(live))
	for i, c := range live {
		out[i] = c.id
	}
	return out
}

// linkBack adds newNeighbor to nb's level l links, evicting the worst link
// when the list is full.
func (h *Index) linkBack(nb uint32, level int, newNeighbor uint32) {
	n := h.nodes[nb]
	if h.deleted[nb] || level > n.level {
		return
	}
	links := n.links[level]
	if len(links) < h.cfg.MaxLinksPerNode {
		n.links[level] = append(links, newNeighbor)
		return
	}

	all := make([]distItem, 0, len(links)+1)
	for _, l := range links {
		all = append(all, distItem{id: l, dist: h.distance(n.vec, l)})
	}
	all = append(all, distItem{id: newNeighbor, dist: h.distance(n.vec, newNeighbor)})
	best := h.selectNeighbors(n.vec, all, h.cfg.MaxLinksPerNode)
	n.links[level] = append(n.links[level][:0], best...)
}

func (h *Index) reselectEntryPoint() {
	bestLevel := -1
	var best uint32
	for i, n := range h.nodes {
		if h.deleted[i] {
			continue
		}
		if n.level > bestLevel {
			bestLevel = n.level
			best = uint32(i)
		}
	}
	if bestLevel < 0 {
		h.hasEntryPoint = false
		h.entryPoint = 0
		h.maxLevel = 0
		return
	}
	h.entryPoint = best
	h.hasEntryPoint = true
	h.maxLevel = bestLevel
}

func (h *Index) linksAt(internal uint32, level int) []uint32 {
	n := h.nodes[internal]
	if level > n.level {
		return nil
	}
	return n.links[level]
}

// distance is the angular distance between the (normalized) query and the
// stored vector: 1 - dot.
func (h *Index) distance(query []float32, internal uint32) float32 {
	return 1 - dot(query, h.nodes[internal].vec)
}

func (h *Index) randomLevel() int {
	return int(-math.Log(h.rng.Float64()) * h.levelMul)
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
