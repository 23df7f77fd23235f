package chunkdex

import (
	"context"

	"github.com/chunkforge/chunkdex/internal/domain/chunk"
)

// Chunk is one unit of indexed text. ID and ResourceID identify it; Text is
// BM25-indexed; Embedding, when present, must match the configured
// dimensionality and is HNSW-indexed.
type Chunk struct {
	ID         string
	ResourceID string
	Text       string
	Metadata   string
	Embedding  []float32
}

// Ack confirms a durably applied write.
type Ack struct {
	ChunkID  string
	Created  bool
	Revision int
}

// Put upserts a chunk. Writing an existing id replaces its payload in place
// and bumps the revision; created_at survives the update.
func (c *Client) Put(ctx context.Context, ch Chunk) (Ack, error) {
	dc, err := chunk.New(ch.ID, ch.ResourceID, ch.Text, ch.Metadata, ch.Embedding)
	if err != nil {
		return Ack{}, err
	}
	ack, err := c.eng.Put(ctx, dc)
	if err != nil {
		return Ack{}, err
	}
	return Ack{ChunkID: ack.ChunkID, Created: ack.Created, Revision: ack.Revision}, nil
}

// Get returns the summary fields for id, or ErrChunkNotFound.
func (c *Client) Get(ctx context.Context, id string) (map[string]string, error) {
	return c.eng.Summary(ctx, id)
}

// Delete removes id from the index. Returns ErrChunkNotFound when the id
// was never stored or already deleted.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.eng.Delete(ctx, id)
}
