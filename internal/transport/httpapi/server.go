// Package httpapi is the HTTP transport: chi handlers over the engine's
// write, query, health, and topology surfaces.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/cluster"
	"github.com/chunkforge/chunkdex/internal/domain"
	"github.com/chunkforge/chunkdex/internal/domain/chunk"
	domusage "github.com/chunkforge/chunkdex/internal/domain/usage"
	logpkg "github.com/chunkforge/chunkdex/internal/logger"
	"github.com/chunkforge/chunkdex/internal/metrics"
	"github.com/chunkforge/chunkdex/internal/store"
	healthuc "github.com/chunkforge/chunkdex/internal/usecase/health"
	ingestuc "github.com/chunkforge/chunkdex/internal/usecase/ingest"
	queryuc "github.com/chunkforge/chunkdex/internal/usecase/query"
)

// ErrorCode is the machine-readable error discriminator in error responses.
type ErrorCode string

// Error response codes.
const (
	CodeBadRequest         ErrorCode = "bad_request"
	CodeValidationFailed   ErrorCode = "validation_failed"
	CodeChunkNotFound      ErrorCode = "chunk_not_found"
	CodeInvalidQuery       ErrorCode = "invalid_query"
	CodeDimensionMismatch  ErrorCode = "dimension_mismatch"
	CodeUnknownRankProfile ErrorCode = "unknown_rank_profile"
	CodeResourceLimit      ErrorCode = "resource_limit_exceeded"
	CodeReplicationFailure ErrorCode = "replication_failure"
	CodeWriteConflict      ErrorCode = "write_conflict"
	CodeEmbeddingProvider  ErrorCode = "embedding_provider_error"
	CodeQuotaExceeded      ErrorCode = "embedding_quota_exceeded"
	CodeNotImplemented     ErrorCode = "not_implemented"
	CodeInternalError      ErrorCode = "internal_error"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ChunkService is the write/read surface the chunk handlers drive. Wired to
// the replicated engine in production, to a bare store in tests.
type ChunkService interface {
	Put(ctx context.Context, c chunk.Chunk) (store.Ack, error)
	Summary(ctx context.Context, id string) (map[string]string, error)
	Delete(ctx context.Context, id string) error
}

// QueryService executes search requests.
type QueryService interface {
	Execute(ctx context.Context, req queryuc.Request) ([]queryuc.Result, error)
}

// IngestService splits, embeds, and upserts documents. Nil disables the
// ingest route (no embedding provider configured).
type IngestService interface {
	IngestText(ctx context.Context, source, text string) (ingestuc.Report, error)
}

// HealthService aggregates component health checks.
type HealthService interface {
	Check(ctx context.Context) healthuc.Report
}

// TopologyProvider exposes the current cluster layout.
type TopologyProvider interface {
	Topology() cluster.Topology
}

// UsageService reports embedding token spend against the budget. Nil
// disables the usage route.
type UsageService interface {
	GetReport(ctx context.Context, period domusage.Period) domusage.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server holds the HTTP handlers.
type Server struct {
	chunks        ChunkService
	queries       QueryService
	ingest        IngestService
	health        HealthService
	topology      TopologyProvider
	usage         UsageService
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. ingest and usage may be nil when no
// embedding provider is configured.
func NewServer(
	chunks ChunkService,
	queries QueryService,
	ingest IngestService,
	health HealthService,
	topology TopologyProvider,
	usage UsageService,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		chunks:   chunks,
		queries:  queries,
		ingest:   ingest,
		health:   health,
		topology: topology,
		usage:    usage,
		logger:   logger,
	}
	s.errorHandlers = []errorHandler{
		resourceLimitHandler,
		replicationFailureHandler,
		sentinelHandler(domain.ErrChunkNotFound, http.StatusNotFound, CodeChunkNotFound),
		sentinelHandler(domain.ErrDimensionMismatch, http.StatusBadRequest, CodeDimensionMismatch),
		sentinelHandler(domain.ErrMissingField, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrInvalidQuery, http.StatusBadRequest, CodeInvalidQuery),
		sentinelHandler(domain.ErrUnknownRankProfile, http.StatusBadRequest, CodeUnknownRankProfile),
		sentinelHandler(domain.ErrWriteConflict, http.StatusConflict, CodeWriteConflict),
		sentinelHandler(domain.ErrEmbeddingProvider, http.StatusBadGateway, CodeEmbeddingProvider),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded),
	}
	return s
}

// Routes registers all API routes on r. Middleware is assembled by the
// caller.
func (s *Server) Routes(r chi.Router) {
	r.Put("/chunks/{id}", s.PutChunk)
	r.Get("/chunks/{id}", s.GetChunk)
	r.Delete("/chunks/{id}", s.DeleteChunk)
	r.Post("/query", s.Query)
	r.Post("/ingest", s.Ingest)
	r.Get("/usage", s.GetUsage)
	r.Get("/topology", s.GetTopology)
	r.Get("/healthz", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// putChunkRequest is the PUT /chunks/{id} body. The chunk id comes from the
// URL, never the body.
type putChunkRequest struct {
	ResourceID string    `json:"resource_id"`
	ChunkText  string    `json:"chunk_text"`
	Metadata   string    `json:"metadata,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

type putChunkResponse struct {
	ChunkID  string `json:"chunk_id"`
	Created  bool   `json:"created"`
	Revision int    `json:"revision"`
}

// PutChunk handles PUT /chunks/{id}. An existing id is updated in place;
// 201 on create, 200 on update.
func (s *Server) PutChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req putChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	c, err := chunk.New(id, req.ResourceID, req.ChunkText, req.Metadata, req.Embedding)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	ack, err := s.chunks.Put(r.Context(), c)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if ack.Created {
		status = http.StatusCreated
		w.Header().Set("Location", "/chunks/"+ack.ChunkID)
	}
	writeJSON(w, status, putChunkResponse{
		ChunkID:  ack.ChunkID,
		Created:  ack.Created,
		Revision: ack.Revision,
	})
}

// GetChunk handles GET /chunks/{id} and returns the summary fields.
func (s *Server) GetChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	summary, err := s.chunks.Summary(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DeleteChunk handles DELETE /chunks/{id}.
func (s *Server) DeleteChunk(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.chunks.Delete(r.Context(), id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// queryRequest is the POST /query body.
type queryRequest struct {
	Terms       string    `json:"terms,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
	K           int       `json:"k,omitempty"`
	FanOut      int       `json:"fan_out,omitempty"`
	RankProfile string    `json:"rank_profile,omitempty"`
}

type queryResponse struct {
	Results []queryuc.Result `json:"results"`
	Count   int              `json:"count"`
}

// Query handles POST /query.
func (s *Server) Query(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	start := time.Now()
	results, err := s.queries.Execute(r.Context(), queryuc.Request{
		Terms:       req.Terms,
		Embedding:   req.Embedding,
		K:           req.K,
		FanOut:      req.FanOut,
		RankProfile: req.RankProfile,
	})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	metrics.QueryDuration.WithLabelValues(queryMode(req)).Observe(time.Since(start).Seconds())

	if results == nil {
		results = []queryuc.Result{}
	}
	writeJSON(w, http.StatusOK, queryResponse{Results: results, Count: len(results)})
}

func queryMode(req queryRequest) string {
	switch {
	case req.Terms != "" && len(req.Embedding) > 0:
		return "hybrid"
	case len(req.Embedding) > 0:
		return "vector"
	default:
		return "text"
	}
}

// ingestRequest is the POST /ingest body.
type ingestRequest struct {
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

// Ingest handles POST /ingest: split the document, embed the pieces, and
// upsert them as chunks under one resource id.
func (s *Server) Ingest(w http.ResponseWriter, r *http.Request) {
	if s.ingest == nil {
		writeError(w, http.StatusNotImplemented, CodeNotImplemented,
			"ingestion requires an embedding provider")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	ctx, usage := domain.WithTokenUsage(r.Context())
	report, err := s.ingest.IngestText(ctx, req.Source, req.Text)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setEmbeddingHeaders(w, usage)
	writeJSON(w, http.StatusOK, report)
}

type usageMetricsResponse struct {
	EmbeddingRequests int64 `json:"embedding_requests"`
	Tokens            int64 `json:"tokens"`
}

type budgetStatusResponse struct {
	TokensLimit     int64  `json:"tokens_limit"`
	TokensRemaining int64  `json:"tokens_remaining"`
	IsExhausted     bool   `json:"is_exhausted"`
	ResetsAt        string `json:"resets_at,omitempty"`
}

type usageResponse struct {
	Period        string               `json:"period"`
	PeriodStartAt string               `json:"period_start_at,omitempty"`
	PeriodEndAt   string               `json:"period_end_at,omitempty"`
	Provider      string               `json:"provider,omitempty"`
	Usage         usageMetricsResponse `json:"usage"`
	Budget        budgetStatusResponse `json:"budget"`
}

// GetUsage handles GET /usage. The period query parameter selects day,
// month (default), or total.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusNotImplemented, CodeNotImplemented,
			"usage reporting requires an embedding provider")
		return
	}

	period := domusage.PeriodMonth
	switch r.URL.Query().Get("period") {
	case "day":
		period = domusage.PeriodDay
	case "total":
		period = domusage.PeriodTotal
	case "", "month":
	default:
		writeError(w, http.StatusBadRequest, CodeBadRequest,
			"period must be day, month, or total")
		return
	}

	report := s.usage.GetReport(r.Context(), period)
	win := report.Window

	resp := usageResponse{
		Period:   string(report.Period),
		Provider: report.Provider,
		Usage: usageMetricsResponse{
			EmbeddingRequests: win.Requests,
			Tokens:            win.Tokens,
		},
		Budget: budgetStatusResponse{
			TokensLimit:     win.Limit,
			TokensRemaining: win.Remaining(),
			IsExhausted:     win.Exhausted(),
		},
	}
	if !win.Start.IsZero() {
		resp.PeriodStartAt = win.Start.Format(time.RFC3339)
		resp.PeriodEndAt = win.End.Format(time.RFC3339)
		// The budget resets when the window rolls over.
		resp.Budget.ResetsAt = win.End.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

func setEmbeddingHeaders(w http.ResponseWriter, usage *domain.TokenUsage) {
	if usage != nil && usage.Seen {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(usage.Tokens))
	}
}

type topologyNode struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

type topologyResponse struct {
	Redundancy int            `json:"redundancy"`
	Nodes      []topologyNode `json:"nodes"`
}

// GetTopology handles GET /topology.
func (s *Server) GetTopology(w http.ResponseWriter, r *http.Request) {
	topo := s.topology.Topology()

	nodes := make([]topologyNode, len(topo.Nodes))
	for i, n := range topo.Nodes {
		nodes[i] = topologyNode{ID: string(n.ID), Role: string(n.Role)}
	}
	writeJSON(w, http.StatusOK, topologyResponse{
		Redundancy: topo.Redundancy,
		Nodes:      nodes,
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /healthz. Anything short of fully healthy is 503
// so load balancers stop routing here.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrChunkNotFound,
		domain.ErrDimensionMismatch,
		domain.ErrMissingField,
		domain.ErrInvalidQuery,
		domain.ErrUnknownRankProfile,
		domain.ErrResourceLimitExceeded,
		domain.ErrReplicationFailure,
		domain.ErrWriteConflict,
		domain.ErrEmbeddingProvider,
		domain.ErrEmbeddingQuotaExceeded,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// resourceLimitHandler maps admission refusals to 429 with the usage that
// tripped the gate. Retryable; the data is intact.
func resourceLimitHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrResourceLimitExceeded) {
		return false
	}
	var rle *domain.ResourceLimitError
	if errors.As(err, &rle) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"code":       CodeResourceLimit,
			"message":    msg,
			"node_id":    rle.NodeID,
			"disk_ratio": rle.DiskRatio,
			"mem_ratio":  rle.MemRatio,
		})
		return true
	}
	writeError(w, http.StatusTooManyRequests, CodeResourceLimit, msg)
	return true
}

// replicationFailureHandler maps quorum failures to 503 with ack counts.
// The whole write must be retried; upserts are idempotent so that is safe.
func replicationFailureHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrReplicationFailure) {
		return false
	}
	var re *domain.ReplicationError
	if errors.As(err, &re) {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"code":    CodeReplicationFailure,
			"message": fmt.Sprintf("%s (%d of %d replicas acknowledged)", msg, re.Acked, re.Needed),
			"acked":   re.Acked,
			"needed":  re.Needed,
		})
		return true
	}
	writeError(w, http.StatusServiceUnavailable, CodeReplicationFailure, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	// Log through the request-scoped logger so the line carries the request id.
	log := logpkg.FromContext(r.Context(), s.logger)
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
