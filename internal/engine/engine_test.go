package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/chunkforge/chunkdex/internal/cluster"
	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/domain/chunk"
	"github.com/chunkforge/chunkdex/internal/domain/schema"
	"github.com/chunkforge/chunkdex/internal/store"
	queryuc "github.com/chunkforge/chunkdex/internal/usecase/query"
)

type fakeProbe struct{ u store.Usage }

func (p *fakeProbe) Usage() store.Usage { return p.u }

func testSchema() schema.Schema {
	sc := schema.DefaultChunkSchema()
	sc.Vector.Dims = 4
	return sc
}

func testTopology() cluster.Topology {
	return cluster.Topology{
		Nodes: []cluster.NodeSpec{
			{ID: "query-1", Role: cluster.RoleContainer},
			{ID: "content-1", Role: cluster.RoleContent},
			{ID: "content-2", Role: cluster.RoleContent},
			{ID: "content-3", Role: cluster.RoleContent},
		},
		Redundancy: 2,
		Thresholds: cluster.DefaultThresholds(),
	}
}

func newTestEngine(t *testing.T, probes map[cluster.NodeID]store.UsageProbe) *Engine {
	t.Helper()
	e, err := New(testTopology(), testSchema(), Options{
		Limits: store.DefaultLimits(),
		Probes: probes,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func mustChunk(t *testing.T, id, text string, emb []float32) chunk.Chunk {
	t.Helper()
	c, err := chunk.New(id, "res-1", text, "", emb)
	if err != nil {
		t.Fatalf("chunk.New(%s): %v", id, err)
	}
	return c
}

func TestPut_ReplicatesToRedundancyStores(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	ack, err := e.Put(ctx, mustChunk(t, "c1", "hello world", []float32{1, 0, 0, 0}))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !ack.Created || ack.Revision != 1 {
		t.Errorf("ack: got %+v", ack)
	}

	holders := 0
	for _, st := range e.stores {
		if _, ok := st.Get("c1"); ok {
			holders++
		}
	}
	if holders != 2 {
		t.Errorf("replica count: got %d, want 2", holders)
	}
}

func TestPut_SameIDIsUpdate(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.Put(ctx, mustChunk(t, "c1", "first", nil)); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	ack, err := e.Put(ctx, mustChunk(t, "c1", "second", nil))
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if ack.Created {
		t.Error("second put of same id reported Created")
	}
	if ack.Revision != 2 {
		t.Errorf("revision: got %d, want 2", ack.Revision)
	}
}

func TestSummary_RoundTrip(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.Put(ctx, mustChunk(t, "c1", "summary text", nil)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	m, err := e.Summary(ctx, "c1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if m["chunk_id"] != "c1" || m["chunk_text"] != "summary text" {
		t.Errorf("summary: got %v", m)
	}
}

func TestSummary_Missing(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Summary(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrChunkNotFound) {
		t.Errorf("error: got %v, want ErrChunkNotFound", err)
	}
}

func TestDelete_RemovesAllReplicas(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.Put(ctx, mustChunk(t, "c1", "to be deleted", nil)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.Delete(ctx, "c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for node, st := range e.stores {
		if _, ok := st.Get("c1"); ok {
			t.Errorf("node %s still holds c1 after delete", node)
		}
	}

	if err := e.Delete(ctx, "c1"); !errors.Is(err, domain.ErrChunkNotFound) {
		t.Errorf("second delete: got %v, want ErrChunkNotFound", err)
	}
}

func TestExecute_GathersAcrossNodes_NoDuplicates(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	for _, c := range []struct{ id, text string }{
		{"alpha", "shared term alpha"},
		{"beta", "shared term beta"},
		{"gamma", "shared term gamma"},
	} {
		if _, err := e.Put(ctx, mustChunk(t, c.id, c.text, nil)); err != nil {
			t.Fatalf("Put %s: %v", c.id, err)
		}
	}

	results, err := e.Execute(ctx, queryuc.Request{Terms: "shared term", K: 10})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results: got %d, want 3 (replicas must collapse)", len(results))
	}
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.ID] {
			t.Errorf("duplicate id %s in gathered results", r.ID)
		}
		seen[r.ID] = true
		if r.Summary["chunk_id"] != r.ID {
			t.Errorf("summary missing for %s: %v", r.ID, r.Summary)
		}
	}
}

func TestExecute_VectorQuery(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.Put(ctx, mustChunk(t, "v1", "vector one", []float32{1, 0, 0, 0})); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if _, err := e.Put(ctx, mustChunk(t, "v2", "vector two", []float32{0, 1, 0, 0})); err != nil {
		t.Fatalf("Put v2: %v", err)
	}

	results, err := e.Execute(ctx, queryuc.Request{Embedding: []float32{1, 0, 0, 0}, K: 1})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 1 || results[0].ID != "v1" {
		t.Fatalf("results: got %+v, want v1 first", results)
	}
}

func TestPut_FullNodeRedirects(t *testing.T) {
	full := &fakeProbe{u: store.Usage{DiskRatio: 0.995}}
	probes := map[cluster.NodeID]store.UsageProbe{
		"content-1": full,
	}
	e := newTestEngine(t, probes)
	ctx := context.Background()

	if _, err := e.Put(ctx, mustChunk(t, "c1", "redirected", nil)); err != nil {
		t.Fatalf("Put with one full node: %v", err)
	}
	if _, ok := e.stores["content-1"].Get("c1"); ok {
		t.Error("write landed on a node over its disk limit")
	}
}

func TestPut_TooFewAdmittingNodes(t *testing.T) {
	full := &fakeProbe{u: store.Usage{DiskRatio: 0.995}}
	probes := map[cluster.NodeID]store.UsageProbe{
		"content-1": full,
		"content-2": full,
	}
	e := newTestEngine(t, probes)

	_, err := e.Put(context.Background(), mustChunk(t, "c1", "rejected", nil))
	if !errors.Is(err, domain.ErrResourceLimitExceeded) {
		t.Errorf("error: got %v, want ErrResourceLimitExceeded", err)
	}
}

func TestRefreshUsage_RecoversAdmission(t *testing.T) {
	full := &fakeProbe{u: store.Usage{DiskRatio: 0.995}}
	probes := map[cluster.NodeID]store.UsageProbe{
		"content-1": full,
		"content-2": full,
	}
	e := newTestEngine(t, probes)
	ctx := context.Background()

	if _, err := e.Put(ctx, mustChunk(t, "c1", "x", nil)); err == nil {
		t.Fatal("expected rejection while nodes are full")
	}

	full.u = store.Usage{DiskRatio: 0.5}
	e.RefreshUsage()

	if _, err := e.Put(ctx, mustChunk(t, "c1", "x", nil)); err != nil {
		t.Fatalf("Put after pressure cleared: %v", err)
	}
}

func TestCheckIntegrity_CleanEngine(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	if _, err := e.Put(ctx, mustChunk(t, "c1", "intact", []float32{0, 0, 1, 0})); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity: %v", err)
	}
}

func TestSnapshots_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	e := newTestEngine(t, nil)
	if _, err := e.Put(ctx, mustChunk(t, "c1", "survives restart", []float32{0, 1, 0, 0})); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := e.SaveSnapshots(dir); err != nil {
		t.Fatalf("SaveSnapshots: %v", err)
	}

	restored, err := New(testTopology(), testSchema(), Options{
		Limits:      store.DefaultLimits(),
		SnapshotDir: dir,
	})
	if err != nil {
		t.Fatalf("New from snapshots: %v", err)
	}

	m, err := restored.Summary(ctx, "c1")
	if err != nil {
		t.Fatalf("Summary after restore: %v", err)
	}
	if m["chunk_text"] != "survives restart" {
		t.Errorf("restored summary: got %v", m)
	}

	results, err := restored.Execute(ctx, queryuc.Request{Embedding: []float32{0, 1, 0, 0}, K: 1})
	if err != nil {
		t.Fatalf("Execute after restore: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c1" {
		t.Errorf("restored query: got %+v", results)
	}
}
