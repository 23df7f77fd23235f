package chunkdex

import "github.com/chunkforge/chunkdex/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrChunkNotFound         = domain.ErrChunkNotFound
	ErrDimensionMismatch     = domain.ErrDimensionMismatch
	ErrMissingField          = domain.ErrMissingField
	ErrInvalidQuery          = domain.ErrInvalidQuery
	ErrResourceLimitExceeded = domain.ErrResourceLimitExceeded
	ErrReplicationFailure    = domain.ErrReplicationFailure
	ErrWriteConflict         = domain.ErrWriteConflict
	ErrUnknownRankProfile    = domain.ErrUnknownRankProfile
	ErrEmbeddingProvider     = domain.ErrEmbeddingProvider
)
