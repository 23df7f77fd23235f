package ingest

import (
	"context"

	"github.com/chunkforge/chunkdex/internal/domain/chunk"
	"github.com/chunkforge/chunkdex/internal/store"
)

// ChunkWriter persists chunks produced by the pipeline.
type ChunkWriter interface {
	Put(ctx context.Context, c chunk.Chunk) (store.Ack, error)
}
