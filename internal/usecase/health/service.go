package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	engine    EngineChecker
	cache     CachePinger
	embedding EmbeddingChecker
}

// New creates a Service. cache and embedding can be nil.
func New(engine EngineChecker, cache CachePinger, embedding EmbeddingChecker) *Service {
	return &Service{engine: engine, cache: cache, embedding: embedding}
}

// Check runs health checks against all components. An engine failure makes
// the whole report unhealthy; cache or embedding failures only degrade it,
// the engine keeps serving reads and writes without them.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	engineOK := true
	if err := s.engine.CheckIntegrity(); err != nil {
		checks["engine"] = CheckError
		engineOK = false
	} else {
		checks["engine"] = CheckOK
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			checks["cache"] = CheckError
		} else {
			checks["cache"] = CheckOK
		}
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if !engineOK {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}
