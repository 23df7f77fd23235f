package query

import (
	"context"

	"github.com/chunkforge/chunkdex/internal/index/hnsw"
	"github.com/chunkforge/chunkdex/internal/index/invidx"
)

// VectorSearcher answers nearest-neighbor lookups over chunk embeddings.
type VectorSearcher interface {
	Search(ctx context.Context, query []float32, k, ef int) ([]hnsw.Hit, error)
	Dims() int
}

// TextSearcher answers lexical lookups over chunk text.
type TextSearcher interface {
	Search(query string, limit int) []invidx.Hit
}

// ChunkReader resolves ranked candidate ids into presentable summaries.
// Repair is invoked when an index surfaces an id the store no longer holds.
type ChunkReader interface {
	Summary(id string) (map[string]string, bool)
	Repair(id string)
}
