package query

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/provider"
	"github.com/23skdu/vecbench/internal/resilience"
)

// WorkerPool drains queries into a provider with Concurrency workers. Each
// query is retried until it succeeds.
type WorkerPool struct {
	Provider    provider.Provider
	Collection  string
	TopK        int
	Filter      provider.Filter
	Concurrency int
	// Recall switches the pool from latency measurement to recall
	// measurement: successes record only bench.query.recall.
	Recall   bool
	Recorder *metrics.Recorder
	Logger   zerolog.Logger
	// Jitter spaces retries; nil draws from [10ms, 100ms).
	Jitter func() time.Duration
}

// Run starts the workers and returns once in is closed and drained. A recall
// that cannot be computed is fatal.
func (p *WorkerPool) Run(ctx context.Context, in <-chan dataset.Query) error {
	n := p.Concurrency
	if n <= 0 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		worker := i
		g.Go(func() error { return p.work(gctx, worker, in) })
	}
	return g.Wait()
}

func (p *WorkerPool) work(ctx context.Context, worker int, in <-chan dataset.Query) error {
	logger := p.Logger.With().Int("query_worker", worker).Logger()

	for {
		recvStart := time.Now()
		var (
			q  dataset.Query
			ok bool
		)
		select {
		case q, ok = <-in:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			return nil
		}
		p.Recorder.RecordDuration(metrics.QueryRecvLatency, time.Since(recvStart))

		results, latency, err := p.query(ctx, logger, q)
		if errors.Is(err, resilience.ErrStopped) {
			logger.Info().Msg("Interrupt received, skipping query")
			continue
		}
		if err != nil {
			return err
		}

		if p.Recall {
			recall, err := CalculateRecall(results, q, p.TopK, p.Filter.Int, p.Filter.Keyword)
			if err != nil {
				return err
			}
			p.Recorder.Record(metrics.QueryRecall, recall)
			continue
		}
		p.Recorder.Record(metrics.QueryOKs, 1)
		p.Recorder.RecordDuration(metrics.QueryLatency, latency)
	}
}

type queryResult struct {
	docs    []dataset.Document
	latency time.Duration
}

// query runs q until it succeeds and returns the results with the latency of
// the successful attempt.
func (p *WorkerPool) query(ctx context.Context, logger zerolog.Logger, q dataset.Query) ([]dataset.Document, time.Duration, error) {
	policy := resilience.Policy{
		Jitter: p.Jitter,
		OnError: func(attempt int, err error) {
			p.Recorder.Record(metrics.QueryErrors, 1)
			logger.Error().Err(err).Int("attempt", attempt).Msg("Failed to query documents")
		},
	}

	res, err := resilience.RetryForever(ctx, policy, func(ctx context.Context) (queryResult, error) {
		start := time.Now()
		docs, err := p.Provider.Query(ctx, p.Collection, q.Dense, p.TopK, p.Filter)
		if err != nil {
			return queryResult{}, err
		}
		return queryResult{docs: docs, latency: time.Since(start)}, nil
	})
	return res.docs, res.latency, err
}
