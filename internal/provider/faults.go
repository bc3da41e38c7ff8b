package provider

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/23skdu/vecbench/internal/dataset"
)

// ErrInjected is the error returned by calls failed through WithFaults.
var ErrInjected = errors.New("injected provider fault")

// FaultConfig controls fault injection. Rates are probabilities in [0, 1].
type FaultConfig struct {
	UpsertErrorRate float64
	QueryErrorRate  float64
	Seed            uint64
}

func (c FaultConfig) enabled() bool {
	return c.UpsertErrorRate > 0 || c.QueryErrorRate > 0
}

type faulty struct {
	Provider
	cfg FaultConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// WithFaults wraps p so that upserts and queries fail at the configured rates,
// for exercising retry paths against an otherwise healthy backend. Point
// lookups and lifecycle calls are never failed. p is returned unchanged when no
// rate is set.
func WithFaults(p Provider, cfg FaultConfig) Provider {
	if !cfg.enabled() {
		return p
	}
	f := &faulty{Provider: p, cfg: cfg, rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))}
	if c, ok := p.(Cleaner); ok {
		return &faultyCleaner{faulty: f, Cleaner: c}
	}
	return f
}

func (f *faulty) fail(rate float64) bool {
	if rate <= 0 {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rng.Float64() < rate
}

func (f *faulty) Upsert(ctx context.Context, collection string, docs []dataset.Document) error {
	if f.fail(f.cfg.UpsertErrorRate) {
		return ErrInjected
	}
	return f.Provider.Upsert(ctx, collection, docs)
}

func (f *faulty) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]dataset.Document, error) {
	if f.fail(f.cfg.QueryErrorRate) {
		return nil, ErrInjected
	}
	return f.Provider.Query(ctx, collection, vector, topK, filter)
}

type faultyCleaner struct {
	*faulty
	Cleaner
}
