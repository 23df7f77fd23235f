package health

import "context"

// EngineChecker verifies the chunk store and its indexes agree.
type EngineChecker interface {
	CheckIntegrity() error
}

// CachePinger checks embedding cache availability.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
