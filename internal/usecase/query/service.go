// Package query executes chunk searches: lexical, vector, or hybrid,
// depending on which inputs the request carries. Candidates from each
// retrieval index are merged per chunk id, scored by the requested rank
// profile, and resolved into summaries from the chunk store.
package query

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/rank"
)

const (
	// DefaultK is the hit count when the request does not set one.
	DefaultK = 10
	// MaxK caps the hit count a single request may ask for.
	MaxK = 1000
)

// Request describes one search. At least one of Terms and Embedding must be
// set; with both, the candidate sets are merged and scored hybridly.
type Request struct {
	// Terms is matched against indexed chunk text via BM25.
	Terms string
	// Embedding is matched against chunk embeddings via the vector index.
	Embedding []float32
	// K is the number of hits to return. Zero means DefaultK.
	K int
	// FanOut is the candidate count requested from each index before the
	// merge. Values below K are raised to K.
	FanOut int
	// RankProfile names the scoring expression. Empty picks a default
	// suited to the populated inputs.
	RankProfile string
}

// Result is one ranked hit with its summary fields.
type Result struct {
	ID      string            `json:"id"`
	Score   float64           `json:"score"`
	Summary map[string]string `json:"summary"`
}

// Service executes queries against the retrieval indexes and chunk store.
type Service struct {
	chunks         ChunkReader
	vector         VectorSearcher
	text           TextSearcher
	profiles       *rank.Registry
	defaultProfile string
	efSearch       int
	logger         *zap.Logger
}

// New creates a query service. defaultProfile is the schema's rank profile,
// applied to hybrid queries that don't name one; empty means closeness.
// efSearch sizes the vector index's candidate exploration; zero falls back
// to the hit count.
func New(chunks ChunkReader, vector VectorSearcher, text TextSearcher,
	profiles *rank.Registry, defaultProfile string, efSearch int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		chunks:         chunks,
		vector:         vector,
		text:           text,
		profiles:       profiles,
		defaultProfile: defaultProfile,
		efSearch:       efSearch,
		logger:         logger,
	}
}

// Execute runs the query and returns the global top-k, ranked descending by
// the profile score with ties broken by chunk id.
func (s *Service) Execute(ctx context.Context, req Request) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hasText := req.Terms != ""
	hasVector := len(req.Embedding) > 0
	if !hasText && !hasVector {
		return nil, fmt.Errorf("%w: query needs search terms, an embedding, or both", domain.ErrInvalidQuery)
	}
	if hasVector && len(req.Embedding) != s.vector.Dims() {
		return nil, fmt.Errorf("%w: embedding has %d components, index expects %d",
			domain.ErrInvalidQuery, len(req.Embedding), s.vector.Dims())
	}

	k := req.K
	switch {
	case k <= 0:
		k = DefaultK
	case k > MaxK:
		k = MaxK
	}

	score, err := s.profiles.Resolve(s.profileFor(req, hasText, hasVector))
	if err != nil {
		return nil, err
	}

	// Each index contributes at least k candidates, more when the request
	// widens the fan-out, so the merged cut is a true global top-k.
	fanOut := k
	if req.FanOut > fanOut {
		fanOut = req.FanOut
	}
	if fanOut > MaxK {
		fanOut = MaxK
	}

	signals := make(map[string]rank.Signals)
	if hasVector {
		ef := s.efSearch
		if ef < fanOut {
			ef = fanOut
		}
		hits, err := s.vector.Search(ctx, req.Embedding, fanOut, ef)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
		for _, h := range hits {
			sig := signals[h.ID]
			sig.Distance = float64(h.Distance)
			sig.HasVector = true
			signals[h.ID] = sig
		}
	}
	if hasText {
		for _, h := range s.text.Search(req.Terms, fanOut) {
			sig := signals[h.ID]
			sig.BM25 = h.Score
			sig.HasText = true
			signals[h.ID] = sig
		}
	}

	ranked := make([]Result, 0, len(signals))
	for id, sig := range signals {
		ranked = append(ranked, Result{ID: id, Score: score(sig)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	// Resolve summaries. An id the store no longer holds is an index leak:
	// drop the hit and queue the entry for repair.
	out := ranked[:0]
	for _, r := range ranked {
		summary, ok := s.chunks.Summary(r.ID)
		if !ok {
			s.logger.Warn("query hit missing from store, repairing", zap.String("chunk_id", r.ID))
			s.chunks.Repair(r.ID)
			continue
		}
		r.Summary = summary
		out = append(out, r)
	}
	return out, nil
}

// profileFor picks the effective rank profile: the requested one, the
// schema's default for hybrid queries, or the single input's own signal.
func (s *Service) profileFor(req Request, hasText, hasVector bool) string {
	if req.RankProfile != "" {
		return req.RankProfile
	}
	switch {
	case hasText && hasVector:
		if s.defaultProfile != "" {
			return s.defaultProfile
		}
		return "closeness"
	case hasText:
		return "bm25"
	default:
		return "closeness"
	}
}
