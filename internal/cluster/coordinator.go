package cluster

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/domain/chunk"
	"github.com/chunkforge/chunkdex/internal/store"
)

// ScoredID is a ranked candidate flowing through scatter-gather merges.
type ScoredID struct {
	ID    string
	Score float64
}

// Applier applies a replicated write on one node.
type Applier func(ctx context.Context, node NodeID, c chunk.Chunk) error

// Coordinator routes writes to replica sets, gates admission on node
// resource usage, and merges per-node query results.
type Coordinator struct {
	mu     sync.RWMutex
	topo   Topology
	usage  map[NodeID]store.Usage
	logger *zap.Logger
}

// NewCoordinator creates a coordinator for the given topology.
func NewCoordinator(topo Topology, logger *zap.Logger) (*Coordinator, error) {
	if err := topo.Validate(); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		topo:   topo,
		usage:  make(map[NodeID]store.Usage, len(topo.Nodes)),
		logger: logger,
	}, nil
}

// Topology returns the current topology.
func (c *Coordinator) Topology() Topology {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topo
}

// Reconfigure atomically swaps in a new topology. Usage readings for nodes
// that survive the change are kept.
func (c *Coordinator) Reconfigure(topo Topology) error {
	if err := topo.Validate(); err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := make(map[NodeID]store.Usage, len(topo.Nodes))
	for _, n := range topo.Nodes {
		if u, ok := c.usage[n.ID]; ok {
			kept[n.ID] = u
		}
	}
	c.topo = topo
	c.usage = kept
	c.logger.Info("cluster topology reconfigured",
		zap.Int("nodes", len(topo.Nodes)), zap.Int("redundancy", topo.Redundancy))
	return nil
}

// ReportUsage records a node's resource usage reading.
func (c *Coordinator) ReportUsage(id NodeID, u store.Usage) {
	c.mu.Lock()
	c.usage[id] = u
	c.mu.Unlock()
}

// Admit reports whether the node accepts new writes. Nodes over either
// threshold refuse writes but keep serving reads and queries.
func (c *Coordinator) Admit(id NodeID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.admitLocked(id)
}

func (c *Coordinator) admitLocked(id NodeID) bool {
	u, ok := c.usage[id]
	if !ok {
		// No reading yet: admit. Fresh nodes start empty.
		return true
	}
	return u.DiskRatio < c.topo.Thresholds.DiskRatio && u.MemRatio < c.topo.Thresholds.MemRatio
}

// RouteWrite picks the replica set for a chunk: the `redundancy` highest
// rendezvous-hash scores among admitting content nodes. Nodes over their
// resource limits are skipped, redirecting the write to the next-best
// candidates; when fewer than `redundancy` nodes admit, the write is
// rejected with ErrResourceLimitExceeded.
func (c *Coordinator) RouteWrite(chunkID string) ([]NodeID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	type scored struct {
		id    NodeID
		score uint64
	}
	candidates := make([]scored, 0, len(c.topo.Nodes))
	skipped := 0
	for _, id := range c.topo.ContentNodes() {
		if !c.admitLocked(id) {
			skipped++
			continue
		}
		candidates = append(candidates, scored{id: id, score: rendezvousScore(chunkID, id)})
	}
	if len(candidates) < c.topo.Redundancy {
		u := c.worstUsageLocked()
		return nil, &domain.ResourceLimitError{
			NodeID:    "cluster",
			DiskRatio: u.DiskRatio,
			MemRatio:  u.MemRatio,
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].id < candidates[j].id
	})

	out := make([]NodeID, c.topo.Redundancy)
	for i := range out {
		out[i] = candidates[i].id
	}
	return out, nil
}

// RouteQuery returns every content node; each holds a shard of the chunk
// space, so all must be consulted for a globally correct top-k.
func (c *Coordinator) RouteQuery() []NodeID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topo.ContentNodes()
}

// ReplicateWrite applies the chunk on every node of its replica set. The
// write succeeds only when ALL replicas acknowledge; anything less returns
// ErrReplicationFailure and the caller retries the whole write; the upsert
// is idempotent, so retrying over partially applied replicas is safe.
func (c *Coordinator) ReplicateWrite(ctx context.Context, ch chunk.Chunk, apply Applier) ([]NodeID, error) {
	replicas, err := c.RouteWrite(ch.ID())
	if err != nil {
		return nil, err
	}

	acked := 0
	var firstErr error
	for _, node := range replicas {
		if err := apply(ctx, node, ch); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Warn("replica write failed",
				zap.String("node", string(node)), zap.String("chunk_id", ch.ID()), zap.Error(err))
			continue
		}
		acked++
	}
	if acked < len(replicas) {
		return nil, fmt.Errorf("%w: %v", &domain.ReplicationError{Acked: acked, Needed: len(replicas)}, firstErr)
	}
	return replicas, nil
}

// Gather merges per-node candidate lists into the global top-k: descending
// score, ties by id, duplicates (replicas of one chunk) collapsed. Callers
// must request at least k candidates from every node or the global cut is
// not guaranteed correct.
func Gather(perNode [][]ScoredID, k int) []ScoredID {
	if k <= 0 {
		return nil
	}
	best := make(map[string]float64)
	for _, hits := range perNode {
		for _, h := range hits {
			if s, ok := best[h.ID]; !ok || h.Score > s {
				best[h.ID] = h.Score
			}
		}
	}
	merged := make([]ScoredID, 0, len(best))
	for id, score := range best {
		merged = append(merged, ScoredID{ID: id, Score: score})
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

func (c *Coordinator) worstUsageLocked() store.Usage {
	var worst store.Usage
	for _, u := range c.usage {
		if u.DiskRatio > worst.DiskRatio {
			worst.DiskRatio = u.DiskRatio
		}
		if u.MemRatio > worst.MemRatio {
			worst.MemRatio = u.MemRatio
		}
	}
	return worst
}

func rendezvousScore(chunkID string, node NodeID) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(chunkID))
	_, _ = h.Write([]byte{'/'})
	_, _ = h.Write([]byte(node))
	return h.Sum64()
}
