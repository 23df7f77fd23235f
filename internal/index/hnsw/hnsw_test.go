package hnsw

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(rng *rand.Rand, n, dims int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dims)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func TestSearch_ExactMatchIsTopResult(t *testing.T) {
	const dims = 64
	rng := rand.New(rand.NewSource(42))
	idx := New(dims, DefaultConfig())

	vectors := randomVectors(rng, 1000, dims)
	for i, v := range vectors {
		require.NoError(t, idx.Add(fmt.Sprintf("chunk-%d", i), v))
	}

	// One inserted embedding used verbatim as the query must rank first
	// with distance ~0.
	hits, err := idx.Search(context.Background(), vectors[137], 5, 0)
	require.NoError(t, err)
	require.Len(t, hits, 5)
	assert.Equal(t, "chunk-137", hits[0].ID)
	assert.InDelta(t, 0.0, float64(hits[0].Distance), 1e-5)

	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i].Distance, hits[i-1].Distance, "hits must be ordered ascending")
	}
}

func TestSearch_RecallAgainstBruteForce(t *testing.T) {
	const (
		dims = 32
		n    = 1000
		k    = 10
	)
	rng := rand.New(rand.NewSource(7))
	idx := New(dims, DefaultConfig())

	vectors := randomVectors(rng, n, dims)
	for i, v := range vectors {
		require.NoError(t, idx.Add(fmt.Sprintf("v%d", i), v))
	}

	query := randomVectors(rng, 1, dims)[0]
	nq := append([]float32(nil), query...)
	normalize(nq)

	// Exact ground truth.
	type scored struct {
		id   string
		dist float32
	}
	exact := make([]scored, n)
	for i, v := range vectors {
		nv := append([]float32(nil), v...)
		normalize(nv)
		exact[i] = scored{id: fmt.Sprintf("v%d", i), dist: 1 - dot(nq, nv)}
	}
	sort.Slice(exact, func(i, j int) bool { return exact[i].dist < exact[j].dist })

	truth := make(map[string]bool, k)
	for _, s := range exact[:k] {
		truth[s.id] = true
	}

	hits, err := idx.Search(context.Background(), query, k, 0)
	require.NoError(t, err)

	intersection := 0
	for _, h := range hits {
		if truth[h.ID] {
			intersection++
		}
	}
	recall := float64(intersection) / float64(k)
	// Approximate search: accept imperfect recall, but with M=16/ef=100 on
	// 1000 vectors it should be high.
	assert.GreaterOrEqual(t, recall, 0.8, "recall@%d = %.2f", k, recall)
}

func TestAdd_DimensionMismatch(t *testing.T) {
	idx := New(8, DefaultConfig())
	err := idx.Add("a", make([]float32, 9))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, idx.Len())
}

func TestAdd_SameIDOverwritesVector(t *testing.T) {
	idx := New(4, DefaultConfig())
	require.NoError(t, idx.Add("a", []float32{1, 0, 0, 0}))
	require.NoError(t, idx.Add("b", []float32{0, 1, 0, 0}))
	require.NoError(t, idx.Add("a", []float32{0, 0, 1, 0}))
	assert.Equal(t, 2, idx.Len())

	hits, err := idx.Search(context.Background(), []float32{0, 0, 1, 0}, 1, 0)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 0.0, float64(hits[0].Distance), 1e-5)
}

func TestRemove_TombstonesAndReselectsEntryPoint(t *testing.T) {
	idx := New(4, DefaultConfig())
	for i := 0; i < 50; i++ {
		require.NoError(t, idx.Add(fmt.Sprintf("v%d", i), []float32{float32(i), 1, 0, 0}))
	}

	idx.Remove("v0")
	idx.Remove("v0") // idempotent
	assert.Equal(t, 49, idx.Len())
	assert.False(t, idx.Contains("v0"))

	hits, err := idx.Search(context.Background(), []float32{0, 1, 0, 0}, 50, 0)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "v0", h.ID, "tombstoned id must never surface")
	}
}

func TestRemove_All(t *testing.T) {
	idx := New(4, DefaultConfig())
	require.NoError(t, idx.Add("a", []float32{1, 2, 3, 4}))
	idx.Remove("a")
	assert.Equal(t, 0, idx.Len())

	hits, err := idx.Search(context.Background(), []float32{1, 2, 3, 4}, 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// Index stays usable after draining.
	require.NoError(t, idx.Add("b", []float32{4, 3, 2, 1}))
	assert.Equal(t, 1, idx.Len())
}

func TestSearch_EmptyIndex(t *testing.T) {
	idx := New(4, DefaultConfig())
	hits, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_CanceledContext(t *testing.T) {
	idx := New(4, DefaultConfig())
	require.NoError(t, idx.Add("a", []float32{1, 0, 0, 0}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentAddAndSearch(t *testing.T) {
	const dims = 16
	rng := rand.New(rand.NewSource(3))
	idx := New(dims, DefaultConfig())
	vectors := randomVectors(rng, 200, dims)

	for i := 0; i < 100; i++ {
		require.NoError(t, idx.Add(fmt.Sprintf("seed-%d", i), vectors[i]))
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = idx.Add(fmt.Sprintf("w%d-%d", w, i), vectors[100+w*25+i])
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				hits, err := idx.Search(context.Background(), vectors[(r*7+i)%100], 5, 0)
				if err != nil {
					t.Errorf("search: %v", err)
					return
				}
				for j := 1; j < len(hits); j++ {
					if hits[j].Distance < hits[j-1].Distance {
						t.Error("unordered hits under concurrency")
						return
					}
				}
			}
		}(r)
	}
	wg.Wait()
	assert.Equal(t, 200, idx.Len())
}

func TestSnapshot_RoundTrip(t *testing.T) {
	const dims = 16
	rng := rand.New(rand.NewSource(5))
	idx := New(dims, DefaultConfig())
	vectors := randomVectors(rng, 100, dims)
	for i, v := range vectors {
		require.NoError(t, idx.Add(fmt.Sprintf("v%d", i), v))
	}
	idx.Remove("v3")

	var buf bytes.Buffer
	require.NoError(t, idx.WriteSnapshot(&buf))

	restored, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, idx.Len(), restored.Len())
	assert.False(t, restored.Contains("v3"))

	want, err := idx.Search(context.Background(), vectors[42], 5, 0)
	require.NoError(t, err)
	got, err := restored.Search(context.Background(), vectors[42], 5, 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTombstoneRatio(t *testing.T) {
	idx := New(4, DefaultConfig())
	assert.Equal(t, 0.0, idx.TombstoneRatio())
	for i := 0; i < 10; i++ {
		require.NoError(t, idx.Add(fmt.Sprintf("v%d", i), []float32{float32(i), 1, 1, 1}))
	}
	for i := 0; i < 5; i++ {
		idx.Remove(fmt.Sprintf("v%d", i))
	}
	assert.InDelta(t, 0.5, idx.TombstoneRatio(), 1e-9)
}
