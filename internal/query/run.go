package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/23skdu/vecbench/internal/concurrency"
	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/ingest"
	"github.com/23skdu/vecbench/internal/limiter"
	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/report"
)

const (
	// QueryChannelCapacity bounds the queries buffered ahead of the workers.
	QueryChannelCapacity = 1000
	// WriteBatchSize is the batch size of read-write background writes.
	WriteBatchSize = 100
	// WriteConcurrency is the writer count in read-write mode.
	WriteConcurrency = 1
	// RecallConcurrency is the worker count of the recall pass.
	RecallConcurrency = 8
)

// Run queries cfg.Collection until cfg.Timeout elapses, ctx is cancelled or a
// task fails. Generators are stopped first, closing their channels; whatever
// is still running after the shutdown grace is aborted. Runs in filter mode
// then measure recall over the whole query set. The provider is closed before
// returning.
func Run(ctx context.Context, deps ingest.Deps, cfg *Config) (*ingest.Result, error) {
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

	logger.Info().
		Str("collection", cfg.Collection).
		Int("top_k", cfg.TopK).
		Int("concurrency", cfg.Concurrency).
		Dur("timeout", cfg.Timeout).
		Bool("read_write", cfg.ReadWrite).
		Str("mode", cfg.Mode).
		Msg("Starting query bench")

	throttle := limiter.NewThrottle(limiter.Config{RPS: cfg.MaxQPS})
	tasks := concurrency.NewTaskSet(ctx)
	defer tasks.AbortAll()
	generators, stopGenerators := context.WithCancel(tasks.Context())
	defer stopGenerators()
	reporting, stopReporter := context.WithCancel(tasks.Context())
	defer stopReporter()

	queries := make(chan dataset.Query, QueryChannelCapacity)
	renderers := []report.Renderer{QueryStats}

	if cfg.ReadWrite {
		path, err := deps.Resolve(ctx, cfg.DatasetURI())
		if err != nil {
			return nil, err
		}
		rows, err := dataset.NewCyclicReader(path, 1)
		if err != nil {
			return nil, err
		}
		batches, err := dataset.NewCyclicReader(path, WriteBatchSize)
		if err != nil {
			rows.Close()
			return nil, err
		}

		writes := make(chan []dataset.Document, ingest.ChannelCapacity)
		writers := &ingest.WriterPool{
			Provider:     prov,
			Collection:   cfg.Collection,
			Concurrency:  WriteConcurrency,
			Recorder:     rec,
			Logger:       logger,
			Jitter:       deps.Jitter,
			PollInterval: deps.PollInterval,
		}
		rowGen := &RowQueryGenerator{Source: rows, Throttle: throttle}
		batchGen := &TaggedBatchGenerator{Source: batches}

		// Each reader is closed by the task that reads it.
		tasks.Go("query-generator", func(context.Context) error {
			defer rows.Close()
			return rowGen.Run(generators, queries)
		})
		tasks.Go("write-generator", func(context.Context) error {
			defer batches.Close()
			return batchGen.Run(generators, writes)
		})
		tasks.Go("writers", func(ctx context.Context) error { return writers.Run(ctx, writes) })
		renderers = append(renderers, ingest.WriterStats)
	} else {
		set, err := loadQueries(ctx, deps, cfg)
		if err != nil {
			return nil, err
		}
		gen := &RandomGenerator{Queries: set, Throttle: throttle}
		tasks.Go("query-generator", func(context.Context) error { return gen.Run(generators, queries) })
	}

	pool := &WorkerPool{
		Provider:    prov,
		Collection:  cfg.Collection,
		TopK:        cfg.TopK,
		Filter:      cfg.Filter(),
		Concurrency: cfg.Concurrency,
		Recorder:    rec,
		Logger:      logger,
		Jitter:      deps.Jitter,
	}
	tasks.Go("query-workers", func(ctx context.Context) error { return pool.Run(ctx, queries) })

	reporter := &report.Reporter{
		Store:     deps.Store,
		RunID:     runID,
		Prefix:    ingest.Prefix(name, cfg.Size),
		Interval:  deps.ReportInterval,
		Out:       deps.Out,
		Renderers: renderers,
	}
	tasks.Go("reporter", func(context.Context) error { return reporter.Run(reporting) })

	start := time.Now()
	timer := time.NewTimer(cfg.Timeout)
	defer timer.Stop()

	res := &ingest.Result{RunID: runID}
	select {
	case <-ctx.Done():
	case <-tasks.Done():
	case <-timer.C:
		logger.Info().Str("elapsed", fmt.Sprintf("%.2fs", time.Since(start).Seconds())).Msg("Queries completed")
	}
	if ctx.Err() != nil {
		tasks.AbortAll()
		if err := tasks.Join(deps.ShutdownGrace()); err != nil {
			logger.Warn().Err(err).Msg("Tasks did not stop in time")
			res.Abandoned = true
		}
		res.Elapsed = time.Since(start)
		res.Interrupted = true
		logger.Info().Msg("Interrupted, aborting query bench")
		return res, nil
	}

	stopGenerators()
	stopReporter()
	if err := tasks.Join(deps.ShutdownGrace()); err != nil {
		logger.Warn().Err(err).Msg("Tasks still running after stop, aborting")
	}
	tasks.AbortAll()
	if err := tasks.Join(deps.ShutdownGrace()); err != nil {
		logger.Warn().Err(err).Msg("Tasks did not stop in time")
		res.Abandoned = true
	}
	res.Elapsed = time.Since(start)

	if err := firstFailure(tasks.Results()); err != nil {
		return res, err
	}

	if cfg.MeasuresRecall() {
		if err := measureRecall(ctx, deps, cfg, rec, reporter, logger, res); err != nil {
			return res, err
		}
		if ctx.Err() != nil {
			res.Interrupted = true
			return res, nil
		}
	}
	reporter.Tick()
	return res, nil
}

// measureRecall sends every query once through a recall-mode pool.
func measureRecall(ctx context.Context, deps ingest.Deps, cfg *Config, rec *metrics.Recorder, reporter *report.Reporter, logger zerolog.Logger, res *ingest.Result) error {
	logger.Info().Msg("Measuring recall...")

	set, err := loadQueries(ctx, deps, cfg)
	if err != nil {
		return err
	}

	queries := make(chan dataset.Query, QueryChannelCapacity)
	gen := &SequentialGenerator{Queries: set}
	pool := &WorkerPool{
		Provider:    deps.Provider,
		Collection:  cfg.Collection,
		TopK:        cfg.TopK,
		Filter:      cfg.Filter(),
		Concurrency: RecallConcurrency,
		Recall:      true,
		Recorder:    rec,
		Logger:      logger,
		Jitter:      deps.Jitter,
	}

	tasks := concurrency.NewTaskSet(ctx)
	tasks.GoBackground("recall-generator", func(ctx context.Context) error { return gen.Run(ctx, queries) })
	tasks.Go("recall-workers", func(ctx context.Context) error { return pool.Run(ctx, queries) })
	tasks.Go("reporter", reporter.Run)

	first := tasks.Wait()
	tasks.AbortAll()
	if err := tasks.Join(deps.ShutdownGrace()); err != nil {
		logger.Warn().Err(err).Msg("Tasks did not stop in time")
		res.Abandoned = true
	}
	if ctx.Err() != nil {
		return nil
	}
	if first.Err != nil && !errors.Is(first.Err, context.Canceled) {
		return fmt.Errorf("%s: %w", first.Name, first.Err)
	}
	logger.Info().Int("queries", len(set)).Msg("Recall measured")
	return nil
}

func loadQueries(ctx context.Context, deps ingest.Deps, cfg *Config) ([]dataset.Query, error) {
	path, err := deps.Resolve(ctx, cfg.Queries)
	if err != nil {
		return nil, err
	}
	return dataset.LoadQueries(path)
}

// firstFailure returns the first task error that is not a cancellation.
func firstFailure(results []concurrency.TaskResult) error {
	for _, r := range results {
		if r.Err != nil && !errors.Is(r.Err, context.Canceled) {
			return fmt.Errorf("%s: %w", r.Name, r.Err)
		}
	}
	return nil
}
