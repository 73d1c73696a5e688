package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"rabbittail/pkg/metrics"
)

type Config struct {
	// RPS is the sustained rate; zero or less disables throttling.
	RPS   float64
	Burst int
}

// Throttle paces a single stream of work. A nil Throttle never blocks.
type Throttle struct {
	limiter *rate.Limiter
}

func New(cfg Config) *Throttle {
	if cfg.RPS <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)}
}

// Wait blocks until the next event is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}
	if t.limiter.Allow() {
		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		return nil
	}
	metrics.RateLimitRequestsTotal.WithLabelValues("delayed").Inc()
	return t.limiter.Wait(ctx)
}
