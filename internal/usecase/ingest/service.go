// Package ingest turns source documents into indexed chunks: split the text,
// embed each piece, and upsert the chunks under one parent resource id.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/domain/chunk"
)

// Service is the ingestion pipeline.
type Service struct {
	writer   ChunkWriter
	embedder domain.Embedder
	splitter *Splitter
	logger   *zap.Logger
}

// New creates an ingestion service. A nil splitter gets the defaults.
func New(writer ChunkWriter, embedder domain.Embedder, splitter *Splitter, logger *zap.Logger) *Service {
	if splitter == nil {
		splitter = NewSplitter(DefaultChunkSize, DefaultOverlap)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{writer: writer, embedder: embedder, splitter: splitter, logger: logger}
}

// Report summarizes one ingested document. RunID identifies this ingest run
// in logs; it changes on every call even when the content does not.
type Report struct {
	RunID       string `json:"run_id"`
	ResourceID  string `json:"resource_id"`
	Chunks      int    `json:"chunks"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	TotalTokens int    `json:"total_tokens"`
}

// chunkMeta is the metadata JSON attached to every produced chunk.
type chunkMeta struct {
	Source           string `json:"source,omitempty"`
	ChunkIndex       int    `json:"chunk_index"`
	ParentResourceID string `json:"parent_resource_id"`
}

// IngestText splits, embeds, and stores one document. source labels the
// origin (file path, URL) and lands in chunk metadata. Re-ingesting the same
// content derives the same resource and chunk ids, so the operation is an
// idempotent upsert.
func (s *Service) IngestText(ctx context.Context, source, text string) (Report, error) {
	pieces := s.splitter.Split(text)
	if len(pieces) == 0 {
		return Report{}, fmt.Errorf("%w: document has no indexable text", domain.ErrMissingField)
	}
	resourceID := ResourceID(text)
	runID := uuid.NewString()

	s.logger.Info("ingesting document",
		zap.String("run_id", runID),
		zap.String("source", source),
		zap.String("resource_id", resourceID),
		zap.Int("chunks", len(pieces)))

	embedded, err := s.embedAll(ctx, pieces)
	if err != nil {
		return Report{}, fmt.Errorf("embed document: %w", err)
	}
	domain.TokenUsageFrom(ctx).Add(embedded.TotalTokens)

	report := Report{RunID: runID, ResourceID: resourceID, Chunks: len(pieces), TotalTokens: embedded.TotalTokens}
	for i, piece := range pieces {
		meta, err := json.Marshal(chunkMeta{
			Source:           source,
			ChunkIndex:       i,
			ParentResourceID: resourceID,
		})
		if err != nil {
			return report, fmt.Errorf("encode chunk metadata: %w", err)
		}

		c, err := chunk.New(ChunkID(resourceID, i), resourceID, piece, string(meta), embedded.Embeddings[i])
		if err != nil {
			return report, fmt.Errorf("chunk %d: %w", i, err)
		}
		ack, err := s.writer.Put(ctx, c)
		if err != nil {
			return report, fmt.Errorf("store chunk %d: %w", i, err)
		}
		if ack.Created {
			report.Created++
		} else {
			report.Updated++
		}
	}
	return report, nil
}

func (s *Service) embedAll(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if batcher, ok := s.embedder.(domain.BatchEmbedder); ok {
		return batcher.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, s.embedder, texts)
}

// ResourceID derives a stable id for a document from its content.
func ResourceID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkID derives the id of the index-th chunk of a resource. The derived id
// always satisfies chunk id validation.
func ChunkID(resourceID string, index int) string {
	return fmt.Sprintf("%s-%d", resourceID, index)
}
