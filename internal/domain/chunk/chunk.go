// Package chunk defines the atomic retrieval unit: a span of text with an
// optional embedding, owned by a parent resource.
package chunk

import (
	"fmt"
	"regexp"
	"time"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxTextSize is the maximum chunk text size in bytes.
const MaxTextSize = 163840 // 160KB

// Chunk is the chunk aggregate (immutable value object).
type Chunk struct {
	id         string
	resourceID string
	text       string
	embedding  []float32
	createdAt  string
	updatedAt  string
	metadata   string
	revision   int
}

// New validates and creates a Chunk.
// ID: ^[a-zA-Z0-9_-]+$, 1-256 chars. ResourceID and Text are required.
// Embedding dimensionality is enforced by the store against the schema.
func New(id, resourceID, text, metadata string, embedding []float32) (Chunk, error) {
	if id == "" {
		return Chunk{}, fmt.Errorf("chunk ID is required")
	}
	if len(id) > 256 {
		return Chunk{}, fmt.Errorf("chunk ID too long (max 256)")
	}
	if !idRegex.MatchString(id) {
		return Chunk{}, fmt.Errorf("chunk ID must be alphanumeric with underscores and hyphens")
	}
	if resourceID == "" {
		return Chunk{}, fmt.Errorf("resource ID is required")
	}
	if text == "" {
		return Chunk{}, fmt.Errorf("chunk text is required")
	}
	if len(text) > MaxTextSize {
		return Chunk{}, fmt.Errorf("chunk text too large (max %d bytes)", MaxTextSize)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	return Chunk{
		id:         id,
		resourceID: resourceID,
		text:       text,
		embedding:  cloneVector(embedding),
		createdAt:  now,
		updatedAt:  now,
		metadata:   metadata,
		revision:   1,
	}, nil
}

// Reconstruct creates a Chunk without validation (storage hydration).
func Reconstruct(
	id, resourceID, text, metadata, createdAt, updatedAt string,
	embedding []float32, revision int,
) Chunk {
	return Chunk{
		id: id, resourceID: resourceID, text: text, metadata: metadata,
		createdAt: createdAt, updatedAt: updatedAt,
		embedding: embedding, revision: revision,
	}
}

// Updated returns a copy carrying the replacement payload with updated_at
// bumped and the revision incremented. created_at is preserved from the
// original; chunk_id and resource_id are immutable once created.
func (c *Chunk) Updated(text, metadata string, embedding []float32) Chunk {
	return Chunk{
		id:         c.id,
		resourceID: c.resourceID,
		text:       text,
		metadata:   metadata,
		embedding:  cloneVector(embedding),
		createdAt:  c.createdAt,
		updatedAt:  time.Now().UTC().Format(time.RFC3339),
		revision:   c.revision + 1,
	}
}

// ID returns the chunk identifier.
func (c *Chunk) ID() string { return c.id }

// ResourceID returns the parent resource identifier.
func (c *Chunk) ResourceID() string { return c.resourceID }

// Text returns the chunk text.
func (c *Chunk) Text() string { return c.text }

// Embedding returns the embedding vector (nil if the chunk has none).
func (c *Chunk) Embedding() []float32 { return c.embedding }

// CreatedAt returns the creation timestamp (RFC3339).
func (c *Chunk) CreatedAt() string { return c.createdAt }

// UpdatedAt returns the last modification timestamp (RFC3339).
func (c *Chunk) UpdatedAt() string { return c.updatedAt }

// Metadata returns the opaque metadata payload.
func (c *Chunk) Metadata() string { return c.metadata }

// Revision returns the chunk revision number.
func (c *Chunk) Revision() int { return c.revision }

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
