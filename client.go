package chunkdex

import (
	"context"

	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/cluster"
	"github.com/chunkforge/chunkdex/internal/domain/schema"
	"github.com/chunkforge/chunkdex/internal/engine"
	"github.com/chunkforge/chunkdex/internal/rank"
	"github.com/chunkforge/chunkdex/internal/store"
	healthuc "github.com/chunkforge/chunkdex/internal/usecase/health"
	ingestuc "github.com/chunkforge/chunkdex/internal/usecase/ingest"
)

// Aliases so callers outside this module can name the types the options
// take; the definitions live in internal packages.
type (
	// Topology is the cluster layout for WithTopology.
	Topology = cluster.Topology
	// NodeSpec is one node in a Topology.
	NodeSpec = cluster.NodeSpec
	// NodeID names a node.
	NodeID = cluster.NodeID
	// Role is a node's duty: RoleContainer serves queries, RoleContent
	// stores and indexes chunks.
	Role = cluster.Role
	// Signals is the per-candidate signal set a rank profile scores over.
	Signals = rank.Signals
	// RankFunc computes a combined first-phase score; higher is better.
	RankFunc = rank.Func
)

// Node roles for NodeSpec.
const (
	RoleContainer = cluster.RoleContainer
	RoleContent   = cluster.RoleContent
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	dimensions  int
	maxLinks    int
	efConstruct int
	efSearch    int
	topology    *cluster.Topology
	profiles    map[string]rank.Func
	embedder    Embedder
	snapshotDir string
	logger      *zap.Logger
}

// WithDimensions sets the required embedding dimensionality.
// Defaults to 3072 (text-embedding-3-large).
func WithDimensions(dim int) Option {
	return optionFunc(func(c *clientConfig) {
		c.dimensions = dim
	})
}

// WithHNSW configures vector index construction parameters.
// Defaults: maxLinks=16, efConstruct=200.
func WithHNSW(maxLinks, efConstruct int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxLinks = maxLinks
		c.efConstruct = efConstruct
	})
}

// WithEfSearch sets the vector candidate exploration size per query.
// Default: 100.
func WithEfSearch(ef int) Option {
	return optionFunc(func(c *clientConfig) {
		c.efSearch = ef
	})
}

// WithTopology replaces the default single-node layout with a replicated
// one: writes land on `redundancy` content nodes picked by rendezvous
// hashing, queries scatter-gather across all of them.
func WithTopology(topo Topology) Option {
	return optionFunc(func(c *clientConfig) {
		c.topology = &topo
	})
}

// WithRankProfile registers a custom scoring profile selectable by name in
// searches. Builtins: closeness, bm25, combined.
func WithRankProfile(name string, fn RankFunc) Option {
	return optionFunc(func(c *clientConfig) {
		if c.profiles == nil {
			c.profiles = make(map[string]rank.Func)
		}
		c.profiles[name] = fn
	})
}

// WithEmbedder sets the text embedding provider, enabling IngestText.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithSnapshotDir restores per-node snapshots from dir at startup; call
// SaveSnapshots to persist.
func WithSnapshotDir(dir string) Option {
	return optionFunc(func(c *clientConfig) {
		c.snapshotDir = dir
	})
}

// WithLogger enables structured logging for engine operations.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// Client is the embedded chunkdex engine.
type Client struct {
	eng      *engine.Engine
	health   *healthuc.Service
	ingest   *ingestuc.Service
	snapshot string
}

// New creates an embedded Client. The zero configuration is a single local
// content node with the default chunk schema.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o.apply(cfg)
	}

	sc := schema.DefaultChunkSchema()
	if cfg.dimensions > 0 {
		sc.Vector.Dims = cfg.dimensions
	}
	if cfg.maxLinks > 0 {
		sc.Vector.MaxLinksPerNode = cfg.maxLinks
	}
	if cfg.efConstruct > 0 {
		sc.Vector.NeighborsToExploreAtInsert = cfg.efConstruct
	}

	topo := cluster.Topology{
		Nodes:      []cluster.NodeSpec{{ID: "local", Role: cluster.RoleContent}},
		Redundancy: 1,
		Thresholds: cluster.DefaultThresholds(),
	}
	if cfg.topology != nil {
		topo = *cfg.topology
	}

	profiles := rank.NewRegistry()
	for name, fn := range cfg.profiles {
		profiles.Register(name, fn)
	}

	efSearch := cfg.efSearch
	if efSearch == 0 {
		efSearch = 100
	}

	eng, err := engine.New(topo, sc, engine.Options{
		Limits:      store.DefaultLimits(),
		Profiles:    profiles,
		EfSearch:    efSearch,
		SnapshotDir: cfg.snapshotDir,
		Logger:      cfg.logger,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		eng:      eng,
		health:   healthuc.New(eng, nil, nil),
		snapshot: cfg.snapshotDir,
	}
	if cfg.embedder != nil {
		c.ingest = ingestuc.New(eng, &embedderAdapter{inner: cfg.embedder}, nil, cfg.logger)
	}
	return c, nil
}

// HealthStatus represents the aggregated engine health.
type HealthStatus struct {
	Status string            // "ok", "degraded", "error"
	Checks map[string]string // component -> "ok"/"error"
}

// Health reconciles stored records against both index structures.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.health.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{
		Status: string(report.Status),
		Checks: checks,
	}
}

// SaveSnapshots persists the engine state to the configured snapshot
// directory, one file per content node.
func (c *Client) SaveSnapshots() error {
	return c.eng.SaveSnapshots(c.snapshot)
}

// Close releases the client. The in-memory engine has nothing to tear down;
// Close exists so embedding code can defer it uniformly.
func (c *Client) Close() {}
