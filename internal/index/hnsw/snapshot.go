package hnsw

import (
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const snapshotFormatVersion = "1.0.0"

type nodeSnapshot struct {
	ID    string     `msgpack:"i"`
	Level int        `msgpack:"l"`
	Vec   []float32  `msgpack:"v"`
	Links [][]uint32 `msgpack:"n"`
}

type indexSnapshot struct {
	Version       string
	Config        Config
	Dims          int
	Nodes         []nodeSnapshot
	Deleted       []bool
	LiveCount     int
	EntryPoint    uint32
	HasEntryPoint bool
	MaxLevel      int
}

// WriteSnapshot serializes the index to w in msgpack format. The graph is
// copied under the read lock so snapshotting does not block searches for the
// duration of the I/O.
func (h *Index) WriteSnapshot(w io.Writer) error {
	h.mu.RLock()
	snap := indexSnapshot{
		Version:       snapshotFormatVersion,
		Config:        h.cfg,
		Dims:          h.dims,
		Nodes:         make([]nodeSnapshot, len(h.nodes)),
		Deleted:       append([]bool(nil), h.deleted...),
		LiveCount:     h.liveCount,
		EntryPoint:    h.entryPoint,
		HasEntryPoint: h.hasEntryPoint,
		MaxLevel:      h.maxLevel,
	}
	for i, n := range h.nodes {
		links := make([][]uint32, len(n.links))
		for l, ls := range n.links {
			links[l] = append([]uint32(nil), ls...)
		}
		snap.Nodes[i] = nodeSnapshot{ID: n.id, Level: n.level, Vec: append([]float32(nil), n.vec...), Links: links}
	}
	h.mu.RUnlock()

	return msgpack.NewEncoder(w).Encode(&snap)
}

// ReadSnapshot deserializes an index previously written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Index, error) {
	var snap indexSnapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode hnsw snapshot: %w", err)
	}
	if snap.Version != snapshotFormatVersion {
		return nil, fmt.Errorf("unsupported hnsw snapshot version %q", snap.Version)
	}
	if snap.Dims <= 0 {
		return nil, fmt.Errorf("invalid hnsw snapshot: dims=%d", snap.Dims)
	}

	h := New(snap.Dims, snap.Config)
	h.nodes = make([]*node, len(snap.Nodes))
	for i, ns := range snap.Nodes {
		h.nodes[i] = &node{id: ns.ID, level: ns.Level, vec: ns.Vec, links: ns.Links}
		if !snap.Deleted[i] {
			h.idToInternal[ns.ID] = uint32(i)
		}
	}
	h.deleted = snap.Deleted
	h.liveCount = snap.LiveCount
	h.entryPoint = snap.EntryPoint
	h.hasEntryPoint = snap.HasEntryPoint
	h.maxLevel = snap.MaxLevel
	return h, nil
}
