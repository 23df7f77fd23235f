package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chunkforge/chunkdex/internal/cluster"
	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/domain/chunk"
	domusage "github.com/chunkforge/chunkdex/internal/domain/usage"
	"github.com/chunkforge/chunkdex/internal/store"
	healthuc "github.com/chunkforge/chunkdex/internal/usecase/health"
	ingestuc "github.com/chunkforge/chunkdex/internal/usecase/ingest"
	queryuc "github.com/chunkforge/chunkdex/internal/usecase/query"
)

type mockChunks struct {
	putFn     func(ctx context.Context, c chunk.Chunk) (store.Ack, error)
	summaryFn func(ctx context.Context, id string) (map[string]string, error)
	deleteFn  func(ctx context.Context, id string) error
}

func (m *mockChunks) Put(ctx context.Context, c chunk.Chunk) (store.Ack, error) {
	return m.putFn(ctx, c)
}

func (m *mockChunks) Summary(ctx context.Context, id string) (map[string]string, error) {
	return m.summaryFn(ctx, id)
}

func (m *mockChunks) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

type mockQueries struct {
	executeFn func(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error)
}

func (m *mockQueries) Execute(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error) {
	return m.executeFn(ctx, req)
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(ctx context.Context) healthuc.Report { return m.report }

type mockTopology struct {
	topo cluster.Topology
}

func (m *mockTopology) Topology() cluster.Topology { return m.topo }

type mockIngest struct {
	ingestFn func(ctx context.Context, source, text string) (ingestuc.Report, error)
}

func (m *mockIngest) IngestText(ctx context.Context, source, text string) (ingestuc.Report, error) {
	return m.ingestFn(ctx, source, text)
}

type mockUsage struct {
	reportFn func(ctx context.Context, period domusage.Period) domusage.Report
}

func (m *mockUsage) GetReport(ctx context.Context, period domusage.Period) domusage.Report {
	return m.reportFn(ctx, period)
}

func newTestServer(chunks ChunkService, queries QueryService,
	health HealthService, topo TopologyProvider) http.Handler {
	return newTestServerWithIngest(chunks, queries, nil, health, topo)
}

func newTestServerWithIngest(chunks ChunkService, queries QueryService,
	ingest IngestService, health HealthService, topo TopologyProvider) http.Handler {
	srv := NewServer(chunks, queries, ingest, health, topo, nil, nil)
	r := chi.NewRouter()
	srv.Routes(r)
	return r
}

func newTestServerWithUsage(usage UsageService) http.Handler {
	srv := NewServer(nil, nil, nil, nil, nil, usage, nil)
	r := chi.NewRouter()
	srv.Routes(r)
	return r
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp
}

func TestPutChunk_Created_201(t *testing.T) {
	chunks := &mockChunks{
		putFn: func(ctx context.Context, c chunk.Chunk) (store.Ack, error) {
			if c.ID() != "c1" {
				t.Errorf("chunk id: got %q, want c1", c.ID())
			}
			if c.ResourceID() != "r1" {
				t.Errorf("resource id: got %q, want r1", c.ResourceID())
			}
			return store.Ack{ChunkID: c.ID(), Created: true, Revision: 1}, nil
		},
	}
	handler := newTestServer(chunks, nil, nil, nil)

	rr := doJSON(t, handler, "PUT", "/chunks/c1",
		`{"resource_id":"r1","chunk_text":"hello world"}`)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusCreated, rr.Body.String())
	}
	if got := rr.Header().Get("Location"); got != "/chunks/c1" {
		t.Errorf("Location: got %q, want /chunks/c1", got)
	}

	var resp putChunkResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Created || resp.ChunkID != "c1" || resp.Revision != 1 {
		t.Errorf("response: got %+v", resp)
	}
}

func TestPutChunk_Updated_200(t *testing.T) {
	chunks := &mockChunks{
		putFn: func(ctx context.Context, c chunk.Chunk) (store.Ack, error) {
			return store.Ack{ChunkID: c.ID(), Created: false, Revision: 2}, nil
		},
	}
	handler := newTestServer(chunks, nil, nil, nil)

	rr := doJSON(t, handler, "PUT", "/chunks/c1",
		`{"resource_id":"r1","chunk_text":"hello again"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("Location"); got != "" {
		t.Errorf("Location on update: got %q, want empty", got)
	}
}

func TestPutChunk_MalformedBody_400(t *testing.T) {
	handler := newTestServer(&mockChunks{}, nil, nil, nil)

	rr := doJSON(t, handler, "PUT", "/chunks/c1", `{not json`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rr); resp.Code != CodeBadRequest {
		t.Errorf("code: got %s, want %s", resp.Code, CodeBadRequest)
	}
}

func TestPutChunk_MissingResourceID_400(t *testing.T) {
	handler := newTestServer(&mockChunks{}, nil, nil, nil)

	rr := doJSON(t, handler, "PUT", "/chunks/c1", `{"chunk_text":"hello"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rr); resp.Code != CodeValidationFailed {
		t.Errorf("code: got %s, want %s", resp.Code, CodeValidationFailed)
	}
}

func TestPutChunk_DimensionMismatch_400(t *testing.T) {
	chunks := &mockChunks{
		putFn: func(ctx context.Context, c chunk.Chunk) (store.Ack, error) {
			return store.Ack{}, fmt.Errorf("%w: got 3 components, schema requires 3072",
				domain.ErrDimensionMismatch)
		},
	}
	handler := newTestServer(chunks, nil, nil, nil)

	rr := doJSON(t, handler, "PUT", "/chunks/c1",
		`{"resource_id":"r1","chunk_text":"hello","embedding":[1,0,0]}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	resp := decodeError(t, rr)
	if resp.Code != CodeDimensionMismatch {
		t.Errorf("code: got %s, want %s", resp.Code, CodeDimensionMismatch)
	}
	if resp.Message != domain.ErrDimensionMismatch.Error() {
		t.Errorf("message leaks internals: got %q", resp.Message)
	}
}

func TestPutChunk_ResourceLimit_429(t *testing.T) {
	chunks := &mockChunks{
		putFn: func(ctx context.Context, c chunk.Chunk) (store.Ack, error) {
			return store.Ack{}, &domain.ResourceLimitError{
				NodeID: "content-1", DiskRatio: 0.995, MemRatio: 0.4,
			}
		},
	}
	handler := newTestServer(chunks, nil, nil, nil)

	rr := doJSON(t, handler, "PUT", "/chunks/c1",
		`{"resource_id":"r1","chunk_text":"hello"}`)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusTooManyRequests)
	}

	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["code"] != string(CodeResourceLimit) {
		t.Errorf("code: got %v, want %s", body["code"], CodeResourceLimit)
	}
	if body["node_id"] != "content-1" {
		t.Errorf("node_id: got %v, want content-1", body["node_id"])
	}
}

func TestPutChunk_ReplicationFailure_503(t *testing.T) {
	chunks := &mockChunks{
		putFn: func(ctx context.Context, c chunk.Chunk) (store.Ack, error) {
			return store.Ack{}, fmt.Errorf("replicate: %w",
				&domain.ReplicationError{Acked: 1, Needed: 2})
		},
	}
	handler := newTestServer(chunks, nil, nil, nil)

	rr := doJSON(t, handler, "PUT", "/chunks/c1",
		`{"resource_id":"r1","chunk_text":"hello"}`)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	if got := rr.Header().Get("Retry-After"); got == "" {
		t.Error("Retry-After header not set")
	}

	var body map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["acked"] != float64(1) || body["needed"] != float64(2) {
		t.Errorf("ack counts: got acked=%v needed=%v", body["acked"], body["needed"])
	}
}

func TestGetChunk_Found_200(t *testing.T) {
	chunks := &mockChunks{
		summaryFn: func(ctx context.Context, id string) (map[string]string, error) {
			return map[string]string{"chunk_id": id, "chunk_text": "hello"}, nil
		},
	}
	handler := newTestServer(chunks, nil, nil, nil)

	rr := doJSON(t, handler, "GET", "/chunks/c1", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	var summary map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary["chunk_id"] != "c1" || summary["chunk_text"] != "hello" {
		t.Errorf("summary: got %v", summary)
	}
}

func TestGetChunk_Missing_404(t *testing.T) {
	chunks := &mockChunks{
		summaryFn: func(ctx context.Context, id string) (map[string]string, error) {
			return nil, fmt.Errorf("%w: %s", domain.ErrChunkNotFound, id)
		},
	}
	handler := newTestServer(chunks, nil, nil, nil)

	rr := doJSON(t, handler, "GET", "/chunks/ghost", "")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
	if resp := decodeError(t, rr); resp.Code != CodeChunkNotFound {
		t.Errorf("code: got %s, want %s", resp.Code, CodeChunkNotFound)
	}
}

func TestDeleteChunk_204(t *testing.T) {
	deleted := ""
	chunks := &mockChunks{
		deleteFn: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}
	handler := newTestServer(chunks, nil, nil, nil)

	rr := doJSON(t, handler, "DELETE", "/chunks/c1", "")

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNoContent)
	}
	if deleted != "c1" {
		t.Errorf("deleted id: got %q, want c1", deleted)
	}
}

func TestDeleteChunk_Missing_404(t *testing.T) {
	chunks := &mockChunks{
		deleteFn: func(ctx context.Context, id string) error {
			return fmt.Errorf("%w: %s", domain.ErrChunkNotFound, id)
		},
	}
	handler := newTestServer(chunks, nil, nil, nil)

	rr := doJSON(t, handler, "DELETE", "/chunks/ghost", "")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestQuery_200(t *testing.T) {
	queries := &mockQueries{
		executeFn: func(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error) {
			if req.Terms != "hello world" || req.K != 5 {
				t.Errorf("request: got %+v", req)
			}
			return []queryuc.Result{
				{ID: "a", Score: 2.0, Summary: map[string]string{"chunk_id": "a"}},
				{ID: "b", Score: 1.0, Summary: map[string]string{"chunk_id": "b"}},
			}, nil
		},
	}
	handler := newTestServer(nil, queries, nil, nil)

	rr := doJSON(t, handler, "POST", "/query", `{"terms":"hello world","k":5}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var resp queryResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || len(resp.Results) != 2 {
		t.Fatalf("count: got %d results / count %d, want 2", len(resp.Results), resp.Count)
	}
	if resp.Results[0].ID != "a" || resp.Results[1].ID != "b" {
		t.Errorf("order: got %s, %s", resp.Results[0].ID, resp.Results[1].ID)
	}
}

func TestQuery_FanOutReachesExecutor(t *testing.T) {
	queries := &mockQueries{
		executeFn: func(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error) {
			if req.K != 3 || req.FanOut != 40 {
				t.Errorf("request: got k=%d fan_out=%d, want 3/40", req.K, req.FanOut)
			}
			return nil, nil
		},
	}
	handler := newTestServer(nil, queries, nil, nil)

	rr := doJSON(t, handler, "POST", "/query", `{"terms":"x","k":3,"fan_out":40}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestQuery_NoHits_EmptyArray(t *testing.T) {
	queries := &mockQueries{
		executeFn: func(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error) {
			return nil, nil
		},
	}
	handler := newTestServer(nil, queries, nil, nil)

	rr := doJSON(t, handler, "POST", "/query", `{"terms":"nothing matches"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"results":[]`) {
		t.Errorf("empty hits should encode as [], got %s", rr.Body.String())
	}
}

func TestQuery_InvalidQuery_400(t *testing.T) {
	queries := &mockQueries{
		executeFn: func(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error) {
			return nil, fmt.Errorf("%w: terms or embedding required", domain.ErrInvalidQuery)
		},
	}
	handler := newTestServer(nil, queries, nil, nil)

	rr := doJSON(t, handler, "POST", "/query", `{}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rr); resp.Code != CodeInvalidQuery {
		t.Errorf("code: got %s, want %s", resp.Code, CodeInvalidQuery)
	}
}

func TestQuery_UnknownRankProfile_400(t *testing.T) {
	queries := &mockQueries{
		executeFn: func(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error) {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRankProfile, req.RankProfile)
		},
	}
	handler := newTestServer(nil, queries, nil, nil)

	rr := doJSON(t, handler, "POST", "/query", `{"terms":"x","rank_profile":"nope"}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if resp := decodeError(t, rr); resp.Code != CodeUnknownRankProfile {
		t.Errorf("code: got %s, want %s", resp.Code, CodeUnknownRankProfile)
	}
}

func TestQuery_UnexpectedError_500(t *testing.T) {
	queries := &mockQueries{
		executeFn: func(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error) {
			return nil, errors.New("index file corrupted at offset 1337")
		},
	}
	handler := newTestServer(nil, queries, nil, nil)

	rr := doJSON(t, handler, "POST", "/query", `{"terms":"x"}`)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusInternalServerError)
	}
	resp := decodeError(t, rr)
	if resp.Code != CodeInternalError {
		t.Errorf("code: got %s, want %s", resp.Code, CodeInternalError)
	}
	if resp.Message != "internal error" {
		t.Errorf("message leaks internals: got %q", resp.Message)
	}
}

func TestIngest_200(t *testing.T) {
	ingest := &mockIngest{
		ingestFn: func(ctx context.Context, source, text string) (ingestuc.Report, error) {
			if source != "notes.md" || text != "some document" {
				t.Errorf("request: got source=%q text=%q", source, text)
			}
			return ingestuc.Report{ResourceID: "abc123", Chunks: 1, Created: 1}, nil
		},
	}
	handler := newTestServerWithIngest(nil, nil, ingest, nil, nil)

	rr := doJSON(t, handler, "POST", "/ingest", `{"source":"notes.md","text":"some document"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var report ingestuc.Report
	if err := json.NewDecoder(rr.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.ResourceID != "abc123" || report.Created != 1 {
		t.Errorf("report: got %+v", report)
	}
}

func TestIngest_EmptyDocument_400(t *testing.T) {
	ingest := &mockIngest{
		ingestFn: func(ctx context.Context, source, text string) (ingestuc.Report, error) {
			return ingestuc.Report{}, fmt.Errorf("%w: document text", domain.ErrMissingField)
		},
	}
	handler := newTestServerWithIngest(nil, nil, ingest, nil, nil)

	rr := doJSON(t, handler, "POST", "/ingest", `{"text":""}`)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestIngest_ProviderDown_502(t *testing.T) {
	ingest := &mockIngest{
		ingestFn: func(ctx context.Context, source, text string) (ingestuc.Report, error) {
			return ingestuc.Report{}, fmt.Errorf("%w: status 500", domain.ErrEmbeddingProvider)
		},
	}
	handler := newTestServerWithIngest(nil, nil, ingest, nil, nil)

	rr := doJSON(t, handler, "POST", "/ingest", `{"text":"doc"}`)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadGateway)
	}
	if resp := decodeError(t, rr); resp.Code != CodeEmbeddingProvider {
		t.Errorf("code: got %s, want %s", resp.Code, CodeEmbeddingProvider)
	}
}

func TestIngest_NotConfigured_501(t *testing.T) {
	handler := newTestServer(nil, nil, nil, nil)

	rr := doJSON(t, handler, "POST", "/ingest", `{"text":"doc"}`)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotImplemented)
	}
}

func TestIngest_QuotaExceeded_429(t *testing.T) {
	ingest := &mockIngest{
		ingestFn: func(ctx context.Context, source, text string) (ingestuc.Report, error) {
			return ingestuc.Report{}, fmt.Errorf("budget check: %w", domain.ErrEmbeddingQuotaExceeded)
		},
	}
	handler := newTestServerWithIngest(nil, nil, ingest, nil, nil)

	rr := doJSON(t, handler, "POST", "/ingest", `{"text":"doc"}`)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	resp := decodeError(t, rr)
	if resp.Code != CodeQuotaExceeded {
		t.Errorf("code: got %s, want %s", resp.Code, CodeQuotaExceeded)
	}
	if resp.Message != domain.ErrEmbeddingQuotaExceeded.Error() {
		t.Errorf("message: got %q, leaking wrapped detail", resp.Message)
	}
}

func TestIngest_ReportsTokenHeader(t *testing.T) {
	ingest := &mockIngest{
		ingestFn: func(ctx context.Context, source, text string) (ingestuc.Report, error) {
			domain.TokenUsageFrom(ctx).Add(137)
			return ingestuc.Report{ResourceID: "abc", Chunks: 1, Created: 1, TotalTokens: 137}, nil
		},
	}
	handler := newTestServerWithIngest(nil, nil, ingest, nil, nil)

	rr := doJSON(t, handler, "POST", "/ingest", `{"text":"doc"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if got := rr.Header().Get("X-Embedding-Tokens"); got != "137" {
		t.Errorf("X-Embedding-Tokens: got %q, want 137", got)
	}
}

func TestGetUsage_200(t *testing.T) {
	usage := &mockUsage{
		reportFn: func(ctx context.Context, period domusage.Period) domusage.Report {
			if period != domusage.PeriodDay {
				t.Errorf("period: got %q, want day", period)
			}
			return domusage.Report{
				Period:   domusage.PeriodDay,
				Provider: "openai",
				Window: domusage.Window{
					Start:    time.Date(2023, 11, 14, 0, 0, 0, 0, time.UTC),
					End:      time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC),
					Requests: 4,
					Tokens:   3000,
					Limit:    10000,
				},
			}
		},
	}
	handler := newTestServerWithUsage(usage)

	rr := doJSON(t, handler, "GET", "/usage?period=day", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var resp usageResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode usage response: %v", err)
	}
	if resp.Period != "day" || resp.Provider != "openai" {
		t.Errorf("response: got %+v", resp)
	}
	if resp.Usage.Tokens != 3000 {
		t.Errorf("tokens: got %d, want 3000", resp.Usage.Tokens)
	}
	if resp.Budget.TokensLimit != 10000 || resp.Budget.TokensRemaining != 7000 {
		t.Errorf("budget: got %+v", resp.Budget)
	}
	if resp.Budget.ResetsAt == "" || resp.PeriodStartAt == "" {
		t.Errorf("timestamps missing: %+v", resp)
	}
}

func TestGetUsage_InvalidPeriod_400(t *testing.T) {
	usage := &mockUsage{
		reportFn: func(ctx context.Context, period domusage.Period) domusage.Report {
			t.Fatal("report should not be built for an invalid period")
			return domusage.Report{}
		},
	}
	handler := newTestServerWithUsage(usage)

	rr := doJSON(t, handler, "GET", "/usage?period=week", "")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetUsage_NotConfigured_501(t *testing.T) {
	handler := newTestServer(nil, nil, nil, nil)

	rr := doJSON(t, handler, "GET", "/usage", "")

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusNotImplemented)
	}
}

func TestGetTopology_200(t *testing.T) {
	topo := &mockTopology{
		topo: cluster.Topology{
			Nodes: []cluster.NodeSpec{
				{ID: "query-1", Role: cluster.RoleContainer},
				{ID: "content-1", Role: cluster.RoleContent},
				{ID: "content-2", Role: cluster.RoleContent},
			},
			Redundancy: 2,
		},
	}
	handler := newTestServer(nil, nil, nil, topo)

	rr := doJSON(t, handler, "GET", "/topology", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	var resp topologyResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Redundancy != 2 || len(resp.Nodes) != 3 {
		t.Errorf("topology: got %+v", resp)
	}
	if resp.Nodes[1].ID != "content-1" || resp.Nodes[1].Role != "content" {
		t.Errorf("node: got %+v", resp.Nodes[1])
	}
}

func TestHealthCheck_Healthy_200(t *testing.T) {
	h := &mockHealth{report: healthuc.Report{
		Status: healthuc.Healthy,
		Checks: map[string]healthuc.CheckResult{"engine": healthuc.CheckOK},
	}}
	handler := newTestServer(nil, nil, h, nil)

	rr := doJSON(t, handler, "GET", "/healthz", "")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	var resp healthResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(healthuc.Healthy) || resp.Checks["engine"] != "ok" {
		t.Errorf("response: got %+v", resp)
	}
}

func TestHealthCheck_Degraded_503(t *testing.T) {
	h := &mockHealth{report: healthuc.Report{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{
			"engine": healthuc.CheckOK,
			"cache":  healthuc.CheckError,
		},
	}}
	handler := newTestServer(nil, nil, h, nil)

	rr := doJSON(t, handler, "GET", "/healthz", "")

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}
