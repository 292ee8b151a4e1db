package channels

import (
	"context"

	"golang.org/x/time/rate"
)

// Pacer throttles outbound sends so a burst of fanout traffic cannot
// trip a channel API's rate limits.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows perSecond sends with the given burst. A non-positive
// perSecond disables pacing.
func NewPacer(perSecond float64, burst int) *Pacer {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a send is allowed or the context is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
