package domain

import "context"

type tokenUsageKey struct{}

// TokenUsage accumulates the embedding tokens consumed while serving one
// request. The transport installs it before invoking a usecase and reads it
// back for response headers; a cache hit counts as usage with zero tokens.
type TokenUsage struct {
	Tokens int
	Seen   bool
}

// Add records consumed tokens. Safe on a nil receiver so callers don't have
// to care whether a collector was installed.
func (u *TokenUsage) Add(n int) {
	if u == nil {
		return
	}
	u.Tokens += n
	u.Seen = true
}

// WithTokenUsage installs a fresh collector on the context.
func WithTokenUsage(ctx context.Context) (context.Context, *TokenUsage) {
	u := &TokenUsage{}
	return context.WithValue(ctx, tokenUsageKey{}, u), u
}

// TokenUsageFrom returns the collector installed on ctx, or nil.
func TokenUsageFrom(ctx context.Context) *TokenUsage {
	u, _ := ctx.Value(tokenUsageKey{}).(*TokenUsage)
	return u
}
