package scan

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// gate enforces a minimum interval before each inference call. The first
// call also waits a full interval, so a run never starts with a burst.
type gate struct {
	limiter *rate.Limiter
}

func newGate(interval time.Duration) *gate {
	if interval <= 0 {
		return &gate{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	l := rate.NewLimiter(rate.Every(interval), 1)
	l.Allow()
	return &gate{limiter: l}
}

func (g *gate) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
