package usage

import domusage "github.com/chunkforge/chunkdex/internal/domain/usage"

// BudgetReader snapshots budget windows for reporting.
type BudgetReader interface {
	Usage(period domusage.Period) domusage.Window
}
