// Package engine binds per-node chunk stores to the cluster coordinator:
// writes land on their rendezvous replica set, queries scatter to every
// content node and gather into a global top-k.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/cluster"
	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/domain/chunk"
	"github.com/chunkforge/chunkdex/internal/domain/schema"
	"github.com/chunkforge/chunkdex/internal/metrics"
	"github.com/chunkforge/chunkdex/internal/rank"
	"github.com/chunkforge/chunkdex/internal/store"
	queryuc "github.com/chunkforge/chunkdex/internal/usecase/query"
)

// Options tunes engine construction beyond the topology and schema.
type Options struct {
	// Limits gates write admission per node. Zero value disables the gate.
	Limits store.Limits
	// Probes supplies per-node resource usage. Nodes without a probe are
	// always admitted.
	Probes map[cluster.NodeID]store.UsageProbe
	// Profiles is the rank profile registry. Nil gets the builtins.
	Profiles *rank.Registry
	// EfSearch sizes vector candidate exploration per query.
	EfSearch int
	// SnapshotDir, when set, is scanned for per-node snapshots at startup.
	SnapshotDir string
	Logger      *zap.Logger
}

// Engine is the process-local search engine: one store per content node of
// the topology, all writes replicated through the coordinator.
type Engine struct {
	coord   *cluster.Coordinator
	stores  map[cluster.NodeID]*store.Store
	queries map[cluster.NodeID]*queryuc.Service
	probes  map[cluster.NodeID]store.UsageProbe
	logger  *zap.Logger
}

// New builds the engine for a topology. Each content node gets its own
// store and query executor; snapshots are restored per node when present.
func New(topo cluster.Topology, sc schema.Schema, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	profiles := opts.Profiles
	if profiles == nil {
		profiles = rank.NewRegistry()
	}

	coord, err := cluster.NewCoordinator(topo, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		coord:   coord,
		stores:  make(map[cluster.NodeID]*store.Store),
		queries: make(map[cluster.NodeID]*queryuc.Service),
		probes:  opts.Probes,
		logger:  logger,
	}
	for _, node := range topo.ContentNodes() {
		probe := opts.Probes[node]

		var st *store.Store
		if opts.SnapshotDir != "" {
			st, err = store.LoadFile(snapshotPath(opts.SnapshotDir, node), sc, opts.Limits, probe, logger)
			if err != nil {
				return nil, fmt.Errorf("restore node %s: %w", node, err)
			}
		}
		if st == nil {
			st = store.New(sc, opts.Limits, probe, logger)
		}

		e.stores[node] = st
		e.queries[node] = queryuc.New(st, st.VectorIndex(), st.TextIndex(), profiles, sc.RankProfile, opts.EfSearch, logger)
	}
	e.RefreshUsage()
	return e, nil
}

// Topology returns the current cluster layout.
func (e *Engine) Topology() cluster.Topology { return e.coord.Topology() }

// RefreshUsage polls every node probe and feeds the readings to the
// coordinator's admission gate.
func (e *Engine) RefreshUsage() {
	for node, probe := range e.probes {
		if probe == nil {
			continue
		}
		e.coord.ReportUsage(node, probe.Usage())
	}
}

// Put replicates an upsert to the chunk's replica set. All replicas must
// acknowledge; a partial write surfaces as ErrReplicationFailure and the
// caller retries the idempotent upsert.
func (e *Engine) Put(ctx context.Context, c chunk.Chunk) (store.Ack, error) {
	var ack store.Ack
	var acked bool
	_, err := e.coord.ReplicateWrite(ctx, c, func(ctx context.Context, node cluster.NodeID, ch chunk.Chunk) error {
		a, err := e.stores[node].Put(ctx, ch)
		if err != nil {
			return err
		}
		if !acked {
			ack = a
			acked = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrReplicationFailure) {
			metrics.ReplicationFailuresTotal.Inc()
		}
		metrics.ChunkWritesTotal.WithLabelValues("rejected").Inc()
		return store.Ack{}, err
	}

	status := "updated"
	if ack.Created {
		status = "created"
	}
	metrics.ChunkWritesTotal.WithLabelValues(status).Inc()
	e.observeSizes()
	return ack, nil
}

// Summary returns the summary fields for id from the first replica holding
// it, or ErrChunkNotFound.
func (e *Engine) Summary(ctx context.Context, id string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, node := range e.coord.RouteQuery() {
		if m, ok := e.stores[node].Summary(id); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrChunkNotFound, id)
}

// Delete removes id from every content node holding a replica. Partial
// replica sets from earlier failed writes are cleaned up on the way.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deleted := false
	for _, node := range e.coord.RouteQuery() {
		if e.stores[node].Delete(id) {
			deleted = true
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %s", domain.ErrChunkNotFound, id)
	}
	metrics.ChunkDeletesTotal.Inc()
	e.observeSizes()
	return nil
}

// Execute scatters the query to every content node and gathers the per-node
// rankings into the global top-k.
func (e *Engine) Execute(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error) {
	k := req.K
	if k <= 0 {
		k = queryuc.DefaultK
	}
	if k > queryuc.MaxK {
		k = queryuc.MaxK
	}

	nodes := e.coord.RouteQuery()
	perNode := make([][]cluster.ScoredID, 0, len(nodes))
	summaries := make(map[string]map[string]string)
	for _, node := range nodes {
		results, err := e.queries[node].Execute(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node, err)
		}
		scored := make([]cluster.ScoredID, len(results))
		for i, r := range results {
			scored[i] = cluster.ScoredID{ID: r.ID, Score: r.Score}
			summaries[r.ID] = r.Summary
		}
		perNode = append(perNode, scored)
	}

	merged := cluster.Gather(perNode, k)
	out := make([]queryuc.Result, len(merged))
	for i, s := range merged {
		out[i] = queryuc.Result{ID: s.ID, Score: s.Score, Summary: summaries[s.ID]}
	}
	return out, nil
}

// CheckIntegrity reconciles records against index entries on every node.
func (e *Engine) CheckIntegrity() error {
	for node, st := range e.stores {
		if err := st.CheckIntegrity(); err != nil {
			return fmt.Errorf("node %s: %w", node, err)
		}
	}
	return nil
}

// SaveSnapshots persists every node's store under dir, one file per node.
func (e *Engine) SaveSnapshots(dir string) error {
	for node, st := range e.stores {
		if err := st.SaveFile(snapshotPath(dir, node)); err != nil {
			return fmt.Errorf("snapshot node %s: %w", node, err)
		}
	}
	return nil
}

// observeSizes refreshes the stored-chunk gauge and the tombstone ratio.
// Replicated entries count once per replica, matching actual memory use.
func (e *Engine) observeSizes() {
	total := 0
	worst := 0.0
	for _, st := range e.stores {
		total += st.Len()
		if r := st.VectorIndex().TombstoneRatio(); r > worst {
			worst = r
		}
	}
	metrics.ChunksStored.Set(float64(total))
	metrics.VectorIndexTombstoneRatio.Set(worst)
}

func snapshotPath(dir string, node cluster.NodeID) string {
	return filepath.Join(dir, string(node)+".snap")
}
