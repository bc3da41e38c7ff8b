package main

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/vecbench/internal/provider"
	"github.com/23skdu/vecbench/internal/provider/arrowflight"
	"github.com/23skdu/vecbench/internal/provider/duckdb"
	"github.com/23skdu/vecbench/internal/provider/memory"
	"github.com/23skdu/vecbench/internal/provider/qdrant"
)

var providerNames = []string{memory.Name, duckdb.Name, qdrant.Name, arrowflight.Name}

// newProvider builds the named adapter with fault injection and tracing
// layered on top.
func newProvider(name string, cfg *Config, tracer trace.Tracer) (provider.Provider, error) {
	var (
		p   provider.Provider
		err error
	)
	switch name {
	case memory.Name:
		p = memory.New(memory.Config{VisibilityDelay: cfg.MemoryVisibilityDelay})
	case duckdb.Name:
		p, err = duckdb.Open(cfg.DuckDBPath)
	case qdrant.Name:
		p, err = qdrant.New(cfg.QdrantConfig())
	case arrowflight.Name:
		p, err = arrowflight.New(cfg.FlightAddr)
	default:
		return nil, fmt.Errorf("unknown provider %q (want one of %s)", name, strings.Join(providerNames, ", "))
	}
	if err != nil {
		return nil, err
	}

	p = provider.WithFaults(p, provider.FaultConfig{
		UpsertErrorRate: cfg.FaultUpsertRate,
		QueryErrorRate:  cfg.FaultQueryRate,
		Seed:            cfg.FaultSeed,
	})
	if tracer != nil {
		p = provider.WithTracing(p, tracer)
	}
	return p, nil
}
