package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/domain/chunk"
	"github.com/chunkforge/chunkdex/internal/store"
)

type mockWriter struct {
	puts    []chunk.Chunk
	created map[string]bool
	err     error
}

func (m *mockWriter) Put(_ context.Context, c chunk.Chunk) (store.Ack, error) {
	if m.err != nil {
		return store.Ack{}, m.err
	}
	m.puts = append(m.puts, c)
	created := !m.created[c.ID()]
	if m.created == nil {
		m.created = make(map[string]bool)
	}
	m.created[c.ID()] = true
	return store.Ack{ChunkID: c.ID(), Created: created, Revision: 1}, nil
}

type mockEmbedder struct {
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.calls++
	return domain.EmbeddingResult{
		Embedding:   []float32{float32(len(text)), 0, 0},
		TotalTokens: len(text) / 4,
	}, nil
}

type mockBatchEmbedder struct {
	mockEmbedder
	batchCalls int
}

func (m *mockBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.batchCalls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 0, 0}
	}
	return domain.BatchEmbeddingResult{Embeddings: out, TotalTokens: 7}, nil
}

func TestIngestText_SplitsEmbedsAndStores(t *testing.T) {
	writer := &mockWriter{}
	svc := New(writer, &mockEmbedder{}, NewSplitter(50, 10), nil)

	text := strings.Repeat("lorem ipsum dolor sit amet ", 10)
	report, err := svc.IngestText(context.Background(), "doc.txt", text)
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if report.Chunks < 2 {
		t.Fatalf("chunks = %d, want document split", report.Chunks)
	}
	if report.Created != report.Chunks || report.Updated != 0 {
		t.Errorf("report = %+v, want all chunks created", report)
	}
	if report.ResourceID != ResourceID(text) {
		t.Errorf("resource id = %s", report.ResourceID)
	}
	if len(writer.puts) != report.Chunks {
		t.Fatalf("stored %d chunks, report says %d", len(writer.puts), report.Chunks)
	}

	for i, c := range writer.puts {
		if c.ID() != ChunkID(report.ResourceID, i) {
			t.Errorf("chunk %d id = %s", i, c.ID())
		}
		if c.ResourceID() != report.ResourceID {
			t.Errorf("chunk %d resource = %s", i, c.ResourceID())
		}
		if len(c.Embedding()) == 0 {
			t.Errorf("chunk %d missing embedding", i)
		}
		var meta chunkMeta
		if err := json.Unmarshal([]byte(c.Metadata()), &meta); err != nil {
			t.Fatalf("chunk %d metadata: %v", i, err)
		}
		if meta.ChunkIndex != i || meta.ParentResourceID != report.ResourceID || meta.Source != "doc.txt" {
			t.Errorf("chunk %d metadata = %+v", i, meta)
		}
	}
}

func TestIngestText_UsesBatchEmbedder(t *testing.T) {
	embedder := &mockBatchEmbedder{}
	svc := New(&mockWriter{}, embedder, NewSplitter(50, 10), nil)

	text := strings.Repeat("lorem ipsum dolor sit amet ", 10)
	report, err := svc.IngestText(context.Background(), "doc.txt", text)
	if err != nil {
		t.Fatalf("IngestText: %v", err)
	}
	if embedder.batchCalls != 1 {
		t.Errorf("batch calls = %d, want a single batched request", embedder.batchCalls)
	}
	if embedder.calls != 0 {
		t.Errorf("per-text embeds = %d, want none when batching", embedder.calls)
	}
	if report.TotalTokens != 7 {
		t.Errorf("total tokens = %d", report.TotalTokens)
	}
}

func TestIngestText_IsIdempotent(t *testing.T) {
	writer := &mockWriter{}
	svc := New(writer, &mockEmbedder{}, NewSplitter(50, 10), nil)

	text := strings.Repeat("lorem ipsum dolor sit amet ", 10)
	first, err := svc.IngestText(context.Background(), "doc.txt", text)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := svc.IngestText(context.Background(), "doc.txt", text)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if second.ResourceID != first.ResourceID {
		t.Error("same content must derive the same resource id")
	}
	if second.Created != 0 || second.Updated != second.Chunks {
		t.Errorf("second report = %+v, want pure upsert", second)
	}
	if first.RunID == "" || second.RunID == "" {
		t.Fatal("every ingest run must carry a run id")
	}
	if second.RunID == first.RunID {
		t.Error("run id must be fresh per call even for identical content")
	}
}

func TestIngestText_EmptyDocument(t *testing.T) {
	svc := New(&mockWriter{}, &mockEmbedder{}, nil, nil)

	_, err := svc.IngestText(context.Background(), "empty.txt", "   ")
	if !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("err = %v, want ErrMissingField", err)
	}
}

func TestIngestText_StoreErrorPropagates(t *testing.T) {
	writer := &mockWriter{err: fmt.Errorf("disk full: %w", domain.ErrResourceLimitExceeded)}
	svc := New(writer, &mockEmbedder{}, nil, nil)

	_, err := svc.IngestText(context.Background(), "doc.txt", "some text")
	if !errors.Is(err, domain.ErrResourceLimitExceeded) {
		t.Fatalf("err = %v, want ErrResourceLimitExceeded", err)
	}
}
