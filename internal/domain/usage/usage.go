// Package usage holds the reporting shapes for embedding consumption.
package usage

import "time"

// Period is the aggregation granularity of a usage report.
type Period string

// Aggregation periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodTotal Period = "total"
)

// Window is the observed embedding consumption inside one budget window.
// A zero Limit means the window is not capped; zero Start and End mean the
// counters are not bounded to a calendar window.
type Window struct {
	Start    time.Time
	End      time.Time
	Requests int64
	Tokens   int64
	Limit    int64
}

// Remaining returns the tokens left under the cap, or -1 when uncapped.
func (w Window) Remaining() int64 {
	if w.Limit <= 0 {
		return -1
	}
	if left := w.Limit - w.Tokens; left > 0 {
		return left
	}
	return 0
}

// Exhausted reports whether the capped window is spent.
func (w Window) Exhausted() bool {
	return w.Limit > 0 && w.Tokens >= w.Limit
}

// Report ties a window snapshot to the provider consuming it.
type Report struct {
	Period   Period
	Provider string
	Window   Window
}
