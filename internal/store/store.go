// Package store owns the primary chunk records and keeps the two secondary
// indexes (HNSW vector index, BM25 text index) synchronized with them.
//
// Write ordering keeps queries consistent without a global lock: on put the
// record lands before the index entries, on delete the index entries go
// before the record. A search therefore never surfaces an id whose record is
// gone; the only transient states are invisible-to-search, which snapshot
// semantics allow.
package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/domain/chunk"
	"github.com/chunkforge/chunkdex/internal/domain/schema"
	"github.com/chunkforge/chunkdex/internal/index/hnsw"
	"github.com/chunkforge/chunkdex/internal/index/invidx"
)

const idLockStripes = 64

// Usage is a point-in-time reading of node resource consumption as ratios
// of capacity.
type Usage struct {
	DiskRatio float64
	MemRatio  float64
}

// UsageProbe reports current node resource usage. Production wires a real
// probe; tests simulate pressure.
type UsageProbe interface {
	Usage() Usage
}

// Limits are the write-admission thresholds. A write is refused when usage
// reaches either ratio; reads and queries continue regardless.
type Limits struct {
	DiskRatio float64
	MemRatio  float64
}

// DefaultLimits mirrors the cluster tuning: disk 0.99, memory 0.90.
func DefaultLimits() Limits {
	return Limits{DiskRatio: 0.99, MemRatio: 0.90}
}

// Ack confirms a durably applied write.
type Ack struct {
	ChunkID  string
	Created  bool
	Revision int
}

// Store is the chunk record store with synchronized secondary indexes.
type Store struct {
	schema schema.Schema
	limits Limits
	probe  UsageProbe
	logger *zap.Logger

	mu      sync.RWMutex
	records map[string]chunk.Chunk

	idLocks [idLockStripes]sync.Mutex

	vector *hnsw.Index
	text   *invidx.Index
}

// New creates a Store for the given schema. probe may be nil, which disables
// the admission gate (useful for embedded/test use).
func New(sc schema.Schema, limits Limits, probe UsageProbe, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		schema:  sc,
		limits:  limits,
		probe:   probe,
		logger:  logger,
		records: make(map[string]chunk.Chunk),
		vector: hnsw.New(sc.Vector.Dims, hnsw.Config{
			MaxLinksPerNode: sc.Vector.MaxLinksPerNode,
			EfConstruction:  sc.Vector.NeighborsToExploreAtInsert,
		}),
		text: invidx.New(),
	}
}

// Schema returns the schema the store was initialized with.
func (s *Store) Schema() schema.Schema { return s.schema }

// VectorIndex exposes the HNSW index for query execution.
func (s *Store) VectorIndex() *hnsw.Index { return s.vector }

// TextIndex exposes the BM25 index for query execution.
func (s *Store) TextIndex() *invidx.Index { return s.text }

// Len returns the number of stored chunks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Put upserts a chunk: validation first, then the record, then both indexes.
// A colliding chunk_id is an update, not an error; created_at survives and
// the revision is bumped. Returns ErrDimensionMismatch or ErrMissingField
// before anything is written, and ErrResourceLimitExceeded when the
// admission gate refuses the write.
func (s *Store) Put(ctx context.Context, c chunk.Chunk) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	if err := s.validate(c); err != nil {
		return Ack{}, err
	}
	if err := s.admit(); err != nil {
		return Ack{}, err
	}

	lock := s.idLock(c.ID())
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	prev, existed := s.records[c.ID()]
	s.mu.RUnlock()

	next := c
	if existed {
		// Upsert: identity and created_at come from the stored record.
		next = prev.Updated(c.Text(), c.Metadata(), c.Embedding())
	}

	s.setRecord(next)

	if emb := next.Embedding(); emb != nil {
		if err := s.vector.Add(next.ID(), emb); err != nil {
			// Roll the record back so no index update outlives a failed write.
			s.rollbackRecord(prev, existed, next.ID())
			return Ack{}, fmt.Errorf("vector index: %w", err)
		}
	} else {
		s.vector.Remove(next.ID())
	}
	s.text.Index(next.ID(), next.Text())

	return Ack{ChunkID: next.ID(), Created: !existed, Revision: next.Revision()}, nil
}

// Get returns the chunk for id.
func (s *Store) Get(id string) (chunk.Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.records[id]
	return c, ok
}

// Delete removes id from both indexes and then the record. In-flight queries
// that started before the delete may still resolve the old version; queries
// started after Delete returns never see it.
func (s *Store) Delete(id string) bool {
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	_, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	s.vector.Remove(id)
	s.text.Remove(id)

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return true
}

// Summary returns the summarized fields for id per the schema's summary
// directives, read from attribute storage only, no index structures are
// touched.
func (s *Store) Summary(id string) (map[string]string, bool) {
	s.mu.RLock()
	c, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	out := make(map[string]string)
	for _, name := range s.schema.SummaryFields() {
		switch name {
		case "chunk_id":
			out[name] = c.ID()
		case "resource_id":
			out[name] = c.ResourceID()
		case "chunk_text":
			out[name] = c.Text()
		case "created_at":
			out[name] = c.CreatedAt()
		case "updated_at":
			out[name] = c.UpdatedAt()
		case "metadata":
			out[name] = c.Metadata()
		}
	}
	return out, true
}

// Repair reconciles a detected store/index mismatch for id: when the record
// is gone any stray index entries are purged, when it exists the index
// entries are rebuilt from it. Logged, never silent.
func (s *Store) Repair(id string) {
	lock := s.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	c, ok := s.records[id]
	s.mu.RUnlock()

	if !ok {
		s.vector.Remove(id)
		s.text.Remove(id)
		s.logger.Warn("repaired index inconsistency: purged stray index entries",
			zap.String("chunk_id", id), zap.Error(domain.ErrIndexInconsistency))
		return
	}

	if emb := c.Embedding(); emb != nil {
		if err := s.vector.Add(id, emb); err != nil {
			s.logger.Error("repair failed for vector index",
				zap.String("chunk_id", id), zap.Error(err))
		}
	}
	s.text.Index(id, c.Text())
	s.logger.Warn("repaired index inconsistency: rebuilt index entries",
		zap.String("chunk_id", id), zap.Error(domain.ErrIndexInconsistency))
}

// CheckIntegrity verifies the record map and both indexes agree on entry
// counts. Every record is text-indexed; only records with embeddings are
// vector-indexed.
func (s *Store) CheckIntegrity() error {
	s.mu.RLock()
	records := len(s.records)
	withVectors := 0
	for _, c := range s.records {
		if c.Embedding() != nil {
			withVectors++
		}
	}
	s.mu.RUnlock()

	if got := s.text.Len(); got != records {
		return fmt.Errorf("%w: %d records but %d text index entries",
			domain.ErrIndexInconsistency, records, got)
	}
	if got := s.vector.Len(); got != withVectors {
		return fmt.Errorf("%w: %d records with embeddings but %d vector index entries",
			domain.ErrIndexInconsistency, withVectors, got)
	}
	return nil
}

func (s *Store) validate(c chunk.Chunk) error {
	if c.ID() == "" {
		return fmt.Errorf("%w: chunk_id", domain.ErrMissingField)
	}
	if c.ResourceID() == "" {
		return fmt.Errorf("%w: resource_id", domain.ErrMissingField)
	}
	if c.Text() == "" {
		return fmt.Errorf("%w: chunk_text", domain.ErrMissingField)
	}
	if emb := c.Embedding(); emb != nil && len(emb) != s.schema.Vector.Dims {
		return fmt.Errorf("%w: got %d components, schema requires %d",
			domain.ErrDimensionMismatch, len(emb), s.schema.Vector.Dims)
	}
	return nil
}

// admit applies the resource-limit gate. Backpressure, not a crash: the
// caller retries later or against another node.
func (s *Store) admit() error {
	if s.probe == nil {
		return nil
	}
	u := s.probe.Usage()
	if u.DiskRatio >= s.limits.DiskRatio || u.MemRatio >= s.limits.MemRatio {
		return &domain.ResourceLimitError{DiskRatio: u.DiskRatio, MemRatio: u.MemRatio}
	}
	return nil
}

func (s *Store) setRecord(c chunk.Chunk) {
	s.mu.Lock()
	s.records[c.ID()] = c
	s.mu.Unlock()
}

func (s *Store) rollbackRecord(prev chunk.Chunk, existed bool, id string) {
	s.mu.Lock()
	if existed {
		s.records[id] = prev
	} else {
		delete(s.records, id)
	}
	s.mu.Unlock()
}

func (s *Store) idLock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.idLocks[h.Sum32()%idLockStripes]
}
