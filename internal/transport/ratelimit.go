package transport

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles sends through a token bucket shared by all owners.
type RateLimited struct {
	next    Transport
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a limiter allowing perSecond sends with the
// given burst. A non-positive perSecond disables throttling.
func NewRateLimited(next Transport, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Send waits for a token and forwards the message.
func (t *RateLimited) Send(ctx context.Context, msg Message) (Receipt, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return Receipt{}, NewRetryableError(fmt.Errorf("rate limit wait: %w", err))
	}
	return t.next.Send(ctx, msg)
}
