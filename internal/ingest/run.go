// Package ingest drives a provider through a bulk write workload and measures
// throughput, latency, availability and freshness.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/23skdu/vecbench/internal/concurrency"
	"github.com/23skdu/vecbench/internal/dataset"
	verrors "github.com/23skdu/vecbench/internal/errors"
	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/provider"
	"github.com/23skdu/vecbench/internal/report"
)

// ShutdownGrace bounds how long aborted tasks may take to return.
const ShutdownGrace = 5 * time.Second

// FileResolver turns a dataset path or object URI into a local file.
type FileResolver interface {
	EnsureFile(ctx context.Context, path string) (string, error)
}

// Deps are the collaborators shared by ingest and query runs.
type Deps struct {
	Provider provider.Provider
	Store    *metrics.Store
	Files    FileResolver
	Logger   zerolog.Logger
	// Out receives reporter lines; nil is stdout.
	Out io.Writer
	// ReportInterval defaults to one second.
	ReportInterval time.Duration
	// Jitter and PollInterval override retry and freshness timing in tests.
	Jitter       func() time.Duration
	PollInterval time.Duration
	// Grace overrides ShutdownGrace.
	Grace time.Duration
}

// ShutdownGrace returns how long aborted tasks may take to return.
func (d Deps) ShutdownGrace() time.Duration {
	if d.Grace > 0 {
		return d.Grace
	}
	return ShutdownGrace
}

// Resolve returns a local path for path.
func (d Deps) Resolve(ctx context.Context, path string) (string, error) {
	if d.Files == nil {
		return path, nil
	}
	return d.Files.EnsureFile(ctx, path)
}

// Result summarizes a finished run.
type Result struct {
	RunID       string
	Elapsed     time.Duration
	Interrupted bool
	// Abandoned is set when tasks were still running after the shutdown
	// grace. They may keep recording into the metric store.
	Abandoned bool
}

// Prefix is the reporter prefix for a provider and dataset size.
func Prefix(providerName, size string) string {
	return providerName + "@" + size
}

// Run ingests cfg.Input into cfg.Collection. It ends when the dataset is fully
// written, when any task fails, or when ctx is cancelled; whatever is still
// running is then aborted. The provider is closed before returning.
func Run(ctx context.Context, deps Deps, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	prov := deps.Provider
	name := prov.Name()
	runID := uuid.NewString()
	rec := deps.Store.Recorder(cfg.Labels(name, runID))
	logger := deps.Logger.With().Str("run_id", runID).Str("provider", name).Logger()

	defer func() {
		if err := prov.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn().Err(err).Msg("Failed to close provider")
		}
	}()

	path, err := deps.Resolve(ctx, cfg.Input)
	if err != nil {
		return nil, err
	}
	reader, err := dataset.OpenBatchReader(path, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("collection", cfg.Collection).
		Int("batch_size", cfg.BatchSize).
		Int("concurrency", cfg.Concurrency).
		Str("input", cfg.Input).
		Msg("Starting ingest")

	if err := prov.Setup(ctx, cfg.Collection); err != nil {
		reader.Close()
		return nil, verrors.WrapProviderError(err, "setup", "failed to set up collection").
			WithContext("collection", cfg.Collection)
	}

	batches := make(chan []dataset.Document, ChannelCapacity)
	pool := &WriterPool{
		Provider:     prov,
		Collection:   cfg.Collection,
		Concurrency:  cfg.Concurrency,
		Recorder:     rec,
		Logger:       logger,
		Jitter:       deps.Jitter,
		PollInterval: deps.PollInterval,
	}
	reporter := &report.Reporter{
		Store:     deps.Store,
		RunID:     runID,
		Prefix:    Prefix(name, cfg.Size),
		Interval:  deps.ReportInterval,
		Out:       deps.Out,
		Renderers: []report.Renderer{WriterStats},
	}

	start := time.Now()
	tasks := concurrency.NewTaskSet(ctx)
	tasks.GoBackground("producer", func(ctx context.Context) error {
		defer reader.Close()
		return Produce(ctx, reader, batches)
	})
	tasks.Go("writers", func(ctx context.Context) error {
		return pool.Run(ctx, batches)
	})
	tasks.Go("reporter", reporter.Run)

	first := tasks.Wait()
	tasks.AbortAll()
	res := &Result{RunID: runID}
	if err := tasks.Join(deps.ShutdownGrace()); err != nil {
		logger.Warn().Err(err).Msg("Tasks did not stop in time")
		res.Abandoned = true
	}
	res.Elapsed = time.Since(start)
	if ctx.Err() != nil {
		res.Interrupted = true
		logger.Info().Msg("Interrupted, aborting ingest")
		return res, nil
	}
	if first.Err != nil && !errors.Is(first.Err, context.Canceled) {
		return res, fmt.Errorf("%s: %w", first.Name, first.Err)
	}
	reporter.Tick()
	logger.Info().Str("elapsed", fmt.Sprintf("%.2fs", res.Elapsed.Seconds())).Msg("Ingest completed")
	return res, nil
}
