package chunkdex

import (
	"context"
	"errors"

	"github.com/chunkforge/chunkdex/internal/domain"
	ingestuc "github.com/chunkforge/chunkdex/internal/usecase/ingest"
)

// Embedder vectorizes text for ingestion. Implementations wrap an embedding
// provider; internal/transport/openai ships one for the OpenAI API.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IngestReport summarizes one ingested document.
type IngestReport struct {
	ResourceID string
	Chunks     int
	Created    int
	Updated    int
}

// IngestText splits a document into overlapping chunks, embeds each piece,
// and upserts them under one resource id derived from the content. The
// operation is idempotent: re-ingesting identical text updates in place.
// Requires WithEmbedder.
func (c *Client) IngestText(ctx context.Context, source, text string) (IngestReport, error) {
	if c.ingest == nil {
		return IngestReport{}, errors.New("chunkdex: ingestion requires WithEmbedder")
	}
	report, err := c.ingest.IngestText(ctx, source, text)
	if err != nil {
		return IngestReport{}, err
	}
	return IngestReport{
		ResourceID: report.ResourceID,
		Chunks:     report.Chunks,
		Created:    report.Created,
		Updated:    report.Updated,
	}, nil
}

// embedderAdapter lifts the public Embedder onto the internal contract.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	vec, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: vec}, nil
}

// ResourceID returns the stable content-derived id IngestText assigns to a
// document, useful for locating or deleting its chunks later.
func ResourceID(text string) string {
	return ingestuc.ResourceID(text)
}
