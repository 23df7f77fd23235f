package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/domain"
)

// DefaultMaxAPIBatchSize caps how many texts go into one provider request.
const DefaultMaxAPIBatchSize = 256

// BudgetGate is the budget surface the decorator needs.
type BudgetGate interface {
	Allow() error
	Spend(tokens int64)
}

// BudgetedEmbedder guards an embedder with a token budget: every provider
// call asks the gate first and reports consumed tokens after. It wraps the
// cache decorator, so cache hits spend nothing.
type BudgetedEmbedder struct {
	inner  domain.Embedder
	gate   BudgetGate
	logger *zap.Logger
}

// NewBudgetedEmbedder wraps inner with the gate.
func NewBudgetedEmbedder(inner domain.Embedder, gate BudgetGate, logger *zap.Logger) *BudgetedEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BudgetedEmbedder{inner: inner, gate: gate, logger: logger}
}

// Embed checks the budget, delegates, and records the spend.
func (e *BudgetedEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := e.gate.Allow(); err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("token budget: %w", err)
	}
	res, err := e.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("embed: %w", err)
	}
	e.gate.Spend(int64(res.TotalTokens))
	return res, nil
}

// BatchEmbed splits large batches and spends per sub-batch, so exhaustion
// stops the run before the next provider call instead of at the end.
func (e *BudgetedEmbedder) BatchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	var out domain.BatchEmbeddingResult
	for start := 0; start < len(texts); start += DefaultMaxAPIBatchSize {
		if err := e.gate.Allow(); err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("token budget (batch %d): %w", start, err)
		}
		end := start + DefaultMaxAPIBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		res, err := e.batchInner(ctx, texts[start:end])
		if err != nil {
			e.logger.Error("batch embedding failed",
				zap.Int("batch_offset", start),
				zap.Int("batch_size", end-start),
				zap.Error(err))
			return domain.BatchEmbeddingResult{}, err
		}
		out.Embeddings = append(out.Embeddings, res.Embeddings...)
		out.PromptTokens += res.PromptTokens
		out.TotalTokens += res.TotalTokens
		e.gate.Spend(int64(res.TotalTokens))
	}
	return out, nil
}

func (e *BudgetedEmbedder) batchInner(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := e.inner.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
		}
		return res, nil
	}
	res, err := domain.BatchFallback(ctx, e.inner, texts)
	if err != nil {
		return domain.BatchEmbeddingResult{}, fmt.Errorf("batch embed: %w", err)
	}
	return res, nil
}
