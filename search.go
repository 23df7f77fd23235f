package chunkdex

import (
	"context"

	queryuc "github.com/chunkforge/chunkdex/internal/usecase/query"
)

// Hit is one ranked search result.
type Hit struct {
	ID      string
	Score   float64
	Summary map[string]string
}

// SearchBuilder is a fluent builder for search queries. At least one of
// Terms and Embedding must be set before Do.
type SearchBuilder struct {
	client *Client

	terms     string
	embedding []float32
	k         int
	fanOut    int
	profile   string
}

// Search starts a query against the index.
func (c *Client) Search() *SearchBuilder {
	return &SearchBuilder{client: c}
}

// Terms sets the lexical query matched against chunk text via BM25.
func (b *SearchBuilder) Terms(terms string) *SearchBuilder {
	b.terms = terms
	return b
}

// Embedding sets the query vector matched against chunk embeddings.
func (b *SearchBuilder) Embedding(vec []float32) *SearchBuilder {
	b.embedding = vec
	return b
}

// K sets the number of hits to return. Default: 10.
func (b *SearchBuilder) K(k int) *SearchBuilder {
	b.k = k
	return b
}

// FanOut sets how many candidates each index contributes before the merge.
// Values below K are raised to K.
func (b *SearchBuilder) FanOut(n int) *SearchBuilder {
	b.fanOut = n
	return b
}

// Profile selects the rank profile by name. Unset picks a default suited to
// the populated inputs: bm25 for lexical-only, closeness for vector-only,
// and the schema's rank profile for hybrid.
func (b *SearchBuilder) Profile(name string) *SearchBuilder {
	b.profile = name
	return b
}

// Do executes the search and returns the global top-k, ranked descending by
// the profile score with ties broken by chunk id.
func (b *SearchBuilder) Do(ctx context.Context) ([]Hit, error) {
	results, err := b.client.eng.Execute(ctx, queryuc.Request{
		Terms:       b.terms,
		Embedding:   b.embedding,
		K:           b.k,
		FanOut:      b.fanOut,
		RankProfile: b.profile,
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ID: r.ID, Score: r.Score, Summary: r.Summary}
	}
	return hits, nil
}
