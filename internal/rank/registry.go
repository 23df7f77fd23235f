// Package rank resolves named rank profiles: first-phase scoring functions
// over the signal set exposed by the retrieval indexes. Profiles are
// configuration, not executor code; registering a new expression requires
// no change to the query path.
package rank

import (
	"math"
	"sort"
	"sync"

	"github.com/chunkforge/chunkdex/internal/domain"
)

// Signals is the fixed signal set a profile scores over. Absent signals are
// zero-valued with the matching Has flag unset.
type Signals struct {
	// Distance is the angular distance from the vector index (lower is closer).
	Distance float64
	// BM25 is the lexical score from the text index (higher is better).
	BM25 float64
	// HasVector reports whether Distance is populated for this candidate.
	HasVector bool
	// HasText reports whether BM25 is populated for this candidate.
	HasText bool
}

// Func computes a combined first-phase score; higher is better.
type Func func(Signals) float64

// Registry maps profile names to scoring functions.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Func
}

// NewRegistry creates a registry preloaded with the built-in profiles:
// closeness (default), bm25, and combined.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]Func)}
	r.Register("closeness", Closeness)
	r.Register("bm25", BM25)
	r.Register("combined", Combined)
	return r
}

// Register adds or replaces a named profile.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[name] = fn
}

// Resolve returns the profile for name, or ErrUnknownRankProfile.
func (r *Registry) Resolve(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.profiles[name]
	if !ok {
		return nil, domain.ErrUnknownRankProfile
	}
	return fn, nil
}

// Names returns the registered profile names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Closeness is the default first-phase expression: cos(distance) over the
// angular distance, so that higher is better and a perfect match scores 1.
// Candidates without a vector signal score 0.
func Closeness(s Signals) float64 {
	if !s.HasVector {
		return 0
	}
	return math.Cos(s.Distance)
}

// BM25 ranks purely by the lexical score.
func BM25(s Signals) float64 {
	if !s.HasText {
		return 0
	}
	return s.BM25
}

// Combined mixes embedding closeness with a saturated BM25 contribution.
// BM25 is unbounded, so it is squashed to (0,1) before mixing; both signals
// then carry comparable weight.
func Combined(s Signals) float64 {
	score := Closeness(s)
	if s.HasText {
		score += s.BM25 / (s.BM25 + 1)
	}
	return score
}
