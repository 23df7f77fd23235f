// Package usage builds embedding consumption reports for the HTTP API.
package usage

import (
	"context"

	domusage "github.com/chunkforge/chunkdex/internal/domain/usage"
)

// Service answers usage report requests from budget window snapshots.
type Service struct {
	budget   BudgetReader
	provider string
}

// New creates a Service. A nil budget reports empty, uncapped windows.
func New(budget BudgetReader, provider string) *Service {
	return &Service{budget: budget, provider: provider}
}

// GetReport snapshots the window matching period.
func (s *Service) GetReport(_ context.Context, period domusage.Period) domusage.Report {
	var w domusage.Window
	if s.budget != nil {
		w = s.budget.Usage(period)
	}
	return domusage.Report{Period: period, Provider: s.provider, Window: w}
}
