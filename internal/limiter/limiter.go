// Package limiter caps the rate of outgoing provider calls.
package limiter

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// WaitsTotal counts throttle decisions by result: "allowed" when a token was
// free, "delayed" when the caller had to wait, "cancelled" when ctx ended first.
var WaitsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "vecbench_throttle_waits_total",
		Help: "Throttle decisions by result",
	},
	[]string{"result"},
)

// Config holds throttle settings.
type Config struct {
	RPS   float64 `envconfig:"MAX_QPS" default:"0"`       // 0 means disabled
	Burst int     `envconfig:"MAX_QPS_BURST" default:"0"` // 0 means max(1, RPS)
}

// Throttle is a token bucket shared by all workers of a pool. A nil or
// disabled Throttle never blocks.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle returns a throttle for cfg.
func NewThrottle(cfg Config) *Throttle {
	if cfg.RPS <= 0 {
		return &Throttle{}
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RPS)
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(cfg.RPS), burst)}
}

// Enabled reports whether the throttle limits anything.
func (t *Throttle) Enabled() bool {
	return t != nil && t.limiter != nil
}

// Wait blocks until a call may proceed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	if t.limiter.Allow() {
		WaitsTotal.WithLabelValues("allowed").Inc()
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		WaitsTotal.WithLabelValues("cancelled").Inc()
		return err
	}
	WaitsTotal.WithLabelValues("delayed").Inc()
	return nil
}
