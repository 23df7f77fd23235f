package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/domain/chunk"
	"github.com/chunkforge/chunkdex/internal/domain/schema"
)

const snapshotFormatVersion = "1.0.0"

type chunkRecord struct {
	ID         string    `msgpack:"id"`
	ResourceID string    `msgpack:"rid"`
	Text       string    `msgpack:"txt"`
	Metadata   string    `msgpack:"md"`
	CreatedAt  string    `msgpack:"ca"`
	UpdatedAt  string    `msgpack:"ua"`
	Embedding  []float32 `msgpack:"emb"`
	Revision   int       `msgpack:"rev"`
}

type storeSnapshot struct {
	Version string
	Records []chunkRecord
}

// WriteSnapshot serializes all chunk records to w (msgpack). Indexes are not
// persisted here; Restore rebuilds them from the records, which keeps the
// snapshot consistent by construction.
func (s *Store) WriteSnapshot(w io.Writer) error {
	s.mu.RLock()
	snap := storeSnapshot{
		Version: snapshotFormatVersion,
		Records: make([]chunkRecord, 0, len(s.records)),
	}
	for _, c := range s.records {
		snap.Records = append(snap.Records, chunkRecord{
			ID:         c.ID(),
			ResourceID: c.ResourceID(),
			Text:       c.Text(),
			Metadata:   c.Metadata(),
			CreatedAt:  c.CreatedAt(),
			UpdatedAt:  c.UpdatedAt(),
			Embedding:  c.Embedding(),
			Revision:   c.Revision(),
		})
	}
	s.mu.RUnlock()

	return msgpack.NewEncoder(w).Encode(&snap)
}

// ReadSnapshot hydrates a Store from a snapshot written by WriteSnapshot and
// rebuilds both secondary indexes from the records.
func ReadSnapshot(r io.Reader, sc schema.Schema, limits Limits, probe UsageProbe, logger *zap.Logger) (*Store, error) {
	var snap storeSnapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode store snapshot: %w", err)
	}
	if snap.Version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported store snapshot version %q", snap.Version)
	}

	s := New(sc, limits, probe, logger)
	for _, rec := range snap.Records {
		c := chunk.Reconstruct(rec.ID, rec.ResourceID, rec.Text, rec.Metadata,
			rec.CreatedAt, rec.UpdatedAt, rec.Embedding, rec.Revision)
		s.records[c.ID()] = c
		if emb := c.Embedding(); emb != nil {
			if err := s.vector.Add(c.ID(), emb); err != nil {
				return nil, fmt.Errorf("rebuild vector index for %s: %w", c.ID(), err)
			}
		}
		s.text.Index(c.ID(), c.Text())
	}
	return s, nil
}

// SaveFile writes the snapshot to path, creating parent directories.
func (s *Store) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	defer f.Close()
	return s.WriteSnapshot(f)
}

// LoadFile reads a snapshot from path. A missing file returns (nil, nil) so
// the caller can start empty.
func LoadFile(path string, sc schema.Schema, limits Limits, probe UsageProbe, logger *zap.Logger) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()
	return ReadSnapshot(f, sc, limits, probe, logger)
}
