package llm

import (
	"context"
	"fmt"

	"github.com/c360studio/semreq/quality"
	"golang.org/x/time/rate"
)

// RateLimited throttles calls to an oracle. A caller waits for a token and
// gives up when its context ends first.
type RateLimited struct {
	next    quality.Oracle
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with the given burst.
// A non-positive rate disables limiting.
func NewRateLimited(next quality.Oracle, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Name returns the wrapped oracle's name.
func (r *RateLimited) Name() string {
	return r.next.Name()
}

// Suggest waits for the limiter, then delegates.
func (r *RateLimited) Suggest(ctx context.Context, req quality.Request) ([]quality.Suggestion, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Suggest(ctx, req)
}
