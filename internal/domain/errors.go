package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrChunkNotFound signals a missing chunk.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrDimensionMismatch signals an embedding with the wrong number of components.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrMissingField signals a required field absent from a write.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidQuery signals a malformed or underspecified query.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrResourceLimitExceeded signals write admission refused by disk/memory thresholds.
	// Retryable: the data is intact, the caller should retry later or elsewhere.
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
	// ErrReplicationFailure signals fewer than quorum replicas acknowledged a write.
	// The caller must retry the whole write; upserts are idempotent so that is safe.
	ErrReplicationFailure = errors.New("replication failure")
	// ErrWriteConflict signals a lost race between concurrent writers to one chunk.
	ErrWriteConflict = errors.New("write conflict")
	// ErrIndexInconsistency signals a store/index mismatch. Internal: detection
	// triggers repair of the affected entry, never a caller-facing success.
	ErrIndexInconsistency = errors.New("index inconsistency")
	// ErrUnknownRankProfile signals a query naming an unregistered rank profile.
	ErrUnknownRankProfile = errors.New("unknown rank profile")
	// ErrEmbeddingProvider signals a failure of the external embedding API.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrEmbeddingQuotaExceeded signals the embedding token budget is spent.
	// Retryable after the daily or monthly window resets.
	ErrEmbeddingQuotaExceeded = errors.New("embedding quota exceeded")
)

// ResourceLimitError wraps ErrResourceLimitExceeded with the node usage that tripped the gate.
type ResourceLimitError struct {
	NodeID    string
	DiskRatio float64
	MemRatio  float64
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("%s: node %s at disk=%.3f mem=%.3f",
		ErrResourceLimitExceeded.Error(), e.NodeID, e.DiskRatio, e.MemRatio)
}

func (e *ResourceLimitError) Unwrap() error { return ErrResourceLimitExceeded }

// ReplicationError wraps ErrReplicationFailure with ack counts for diagnostics.
type ReplicationError struct {
	Acked  int
	Needed int
}

func (e *ReplicationError) Error() string {
	return fmt.Sprintf("%s: %d of %d replicas acknowledged", ErrReplicationFailure.Error(), e.Acked, e.Needed)
}

func (e *ReplicationError) Unwrap() error { return ErrReplicationFailure }
