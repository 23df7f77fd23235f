// Package embedding decorates the embedding provider chain with token
// budget enforcement.
package embedding

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chunkforge/chunkdex/internal/domain"
	domusage "github.com/chunkforge/chunkdex/internal/domain/usage"
	"github.com/chunkforge/chunkdex/internal/metrics"
)

// Counter TTLs are generous so a restart inside the window always finds the
// persisted count before the store expires it.
const (
	dayCounterTTL   = 48 * time.Hour
	monthCounterTTL = 62 * 24 * time.Hour
)

// CounterStore persists window counters across restarts. The redis KV store
// satisfies it.
type CounterStore interface {
	IncrBy(ctx context.Context, key string, val int64) error
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error
	Get(ctx context.Context, key string) ([]byte, error)
}

type windowKind int

const (
	windowDay windowKind = iota
	windowMonth
)

func (k windowKind) startOf(t time.Time) time.Time {
	t = t.UTC()
	if k == windowDay {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (k windowKind) label() string {
	if k == windowDay {
		return "day"
	}
	return "month"
}

// window tracks consumption inside one calendar window. Fields are guarded
// by the owning Budget's mutex.
type window struct {
	kind     windowKind
	limit    int64
	tokens   int64
	requests int64
	start    time.Time
}

// roll moves the window forward when now has left it, zeroing the counters.
func (w *window) roll(now time.Time) {
	if start := w.kind.startOf(now); start.After(w.start) {
		w.start = start
		w.tokens = 0
		w.requests = 0
	}
}

func (w *window) end() time.Time {
	if w.kind == windowDay {
		return w.start.Add(24 * time.Hour)
	}
	return w.start.AddDate(0, 1, 0)
}

func (w *window) key(provider string) string {
	if w.kind == windowDay {
		return fmt.Sprintf("%sbudget:%s:day:%s", domain.KeyPrefix, provider, w.start.Format("2006-01-02"))
	}
	return fmt.Sprintf("%sbudget:%s:month:%s", domain.KeyPrefix, provider, w.start.Format("2006-01"))
}

func (w *window) counterTTL() time.Duration {
	if w.kind == windowDay {
		return dayCounterTTL
	}
	return monthCounterTTL
}

func (w *window) spent() bool { return w.limit > 0 && w.tokens >= w.limit }

func (w *window) remaining() int64 {
	if left := w.limit - w.tokens; left > 0 {
		return left
	}
	return 0
}

// Budget caps embedding token spend per provider over calendar day and
// month windows. Checks run in-memory; spends write through to an optional
// counter store so the running totals survive restarts.
type Budget struct {
	mu       sync.Mutex
	provider string
	reject   bool
	day      window
	month    window
	counters CounterStore
	now      func() time.Time
	logger   *zap.Logger
}

// NewBudget creates a budget for provider. A zero limit leaves the matching
// window uncapped; reject turns exhaustion into ErrEmbeddingQuotaExceeded
// instead of a logged warning.
func NewBudget(provider string, dayLimit, monthLimit int64, reject bool, logger *zap.Logger) *Budget {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now().UTC()
	return &Budget{
		provider: provider,
		reject:   reject,
		day:      window{kind: windowDay, limit: dayLimit, start: windowDay.startOf(now)},
		month:    window{kind: windowMonth, limit: monthLimit, start: windowMonth.startOf(now)},
		now:      time.Now,
		logger:   logger,
	}
}

// Restore attaches a counter store and reloads the current windows from it.
// A missing counter starts the window from zero.
func (b *Budget) Restore(ctx context.Context, counters CounterStore) *Budget {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counters = counters
	now := b.now().UTC()
	for _, w := range []*window{&b.day, &b.month} {
		w.roll(now)
		raw, err := counters.Get(ctx, w.key(b.provider))
		if err != nil {
			continue
		}
		if v, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
			w.tokens = v
		}
	}
	b.logger.Info("token budget restored",
		zap.String("provider", b.provider),
		zap.Int64("day_tokens", b.day.tokens),
		zap.Int64("month_tokens", b.month.tokens))
	return b
}

// Allow reports whether another embedding call may proceed under the budget.
func (b *Budget) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	b.day.roll(now)
	b.month.roll(now)

	if !b.day.spent() && !b.month.spent() {
		return nil
	}
	if b.reject {
		return domain.ErrEmbeddingQuotaExceeded
	}
	b.logger.Warn("token budget exceeded, allowing request",
		zap.String("provider", b.provider),
		zap.Int64("day_tokens", b.day.tokens),
		zap.Int64("day_limit", b.day.limit),
		zap.Int64("month_tokens", b.month.tokens),
		zap.Int64("month_limit", b.month.limit))
	return nil
}

// Spend records one embedding call's token consumption and refreshes the
// remaining-tokens gauge. Counter store writes are fire-and-forget.
func (b *Budget) Spend(tokens int64) {
	type counterWrite struct {
		key string
		ttl time.Duration
	}
	var writes []counterWrite

	b.mu.Lock()
	now := b.now().UTC()
	for _, w := range []*window{&b.day, &b.month} {
		w.roll(now)
		w.tokens += tokens
		w.requests++
		if w.limit > 0 {
			metrics.EmbeddingBudgetTokensRemaining.
				WithLabelValues(b.provider, w.kind.label()).
				Set(float64(w.remaining()))
		}
		if b.counters != nil && tokens > 0 {
			writes = append(writes, counterWrite{w.key(b.provider), w.counterTTL()})
		}
	}
	counters := b.counters
	b.mu.Unlock()

	if len(writes) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, wr := range writes {
		if err := counters.IncrBy(ctx, wr.key, tokens); err != nil {
			b.logger.Warn("budget counter write failed", zap.String("key", wr.key), zap.Error(err))
			continue
		}
		// NX: the TTL is set once per window key, never refreshed.
		if err := counters.Expire(ctx, wr.key, wr.ttl, true); err != nil {
			b.logger.Warn("budget counter expire failed", zap.String("key", wr.key), zap.Error(err))
		}
	}
}

// Usage snapshots the consumption a report for period should show.
// PeriodTotal returns the running month counters without window bounds.
func (b *Budget) Usage(period domusage.Period) domusage.Window {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	b.day.roll(now)
	b.month.roll(now)

	switch period {
	case domusage.PeriodDay:
		return domusage.Window{
			Start:    b.day.start,
			End:      b.day.end(),
			Requests: b.day.requests,
			Tokens:   b.day.tokens,
			Limit:    b.day.limit,
		}
	case domusage.PeriodMonth:
		return domusage.Window{
			Start:    b.month.start,
			End:      b.month.end(),
			Requests: b.month.requests,
			Tokens:   b.month.tokens,
			Limit:    b.month.limit,
		}
	default:
		return domusage.Window{
			Requests: b.month.requests,
			Tokens:   b.month.tokens,
			Limit:    b.month.limit,
		}
	}
}
