package ingest

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/provider"
	"github.com/23skdu/vecbench/internal/resilience"
)

// WriterPool drains batches into a provider with Concurrency workers. Each
// batch is retried whole until it lands.
type WriterPool struct {
	Provider    provider.Provider
	Collection  string
	Concurrency int
	Recorder    *metrics.Recorder
	Logger      zerolog.Logger
	// Jitter spaces retries; nil draws from [10ms, 100ms).
	Jitter func() time.Duration
	// PollInterval is handed to the freshness probers.
	PollInterval time.Duration
}

// Run starts the workers and returns once in is closed and drained and every
// freshness probe has finished. A batch with a non-numeric id is fatal.
func (p *WriterPool) Run(ctx context.Context, in <-chan []dataset.Document) error {
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

func (p *WriterPool) work(ctx context.Context, worker int, in <-chan []dataset.Document) error {
	logger := p.Logger.With().Int("writer", worker).Logger()
	prober := &Prober{
		Provider:     p.Provider,
		Collection:   p.Collection,
		Recorder:     p.Recorder,
		Logger:       logger,
		PollInterval: p.PollInterval,
	}

	var probes sync.WaitGroup
	defer probes.Wait()

	for {
		recvStart := time.Now()
		var (
			batch []dataset.Document
			ok    bool
		)
		select {
		case batch, ok = <-in:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			return nil
		}
		p.Recorder.RecordDuration(metrics.IngestRecvLatency, time.Since(recvStart))

		maxID, err := dataset.MaxID(batch)
		if err != nil {
			return err
		}
		writtenAt, err := p.upsert(ctx, logger, batch)
		if errors.Is(err, resilience.ErrStopped) {
			logger.Info().Msg("Interrupt received, skipping batch")
			continue
		}
		if err != nil {
			return err
		}

		probes.Add(1)
		go func(id string) {
			defer probes.Done()
			if err := prober.Probe(ctx, id, writtenAt); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("id", id).Msg("Freshness probe failed")
			}
		}(strconv.FormatUint(maxID, 10))
	}
}

// upsert delivers batch, retrying from scratch after each failure, and
// returns the time the successful call returned.
func (p *WriterPool) upsert(ctx context.Context, logger zerolog.Logger, batch []dataset.Document) (time.Time, error) {
	byteSize := dataset.BatchSize(batch)
	policy := resilience.Policy{
		Jitter: p.Jitter,
		OnError: func(attempt int, err error) {
			p.Recorder.Record(metrics.IngestRequests, 1)
			p.Recorder.Record(metrics.IngestErrors, 1)
			logger.Error().Err(err).Int("attempt", attempt).Int("docs", len(batch)).Msg("Failed to upsert documents")
		},
	}

	return resilience.RetryForever(ctx, policy, func(ctx context.Context) (time.Time, error) {
		docs := dataset.Clone(batch)
		start := time.Now()
		if err := p.Provider.Upsert(ctx, p.Collection, docs); err != nil {
			return time.Time{}, err
		}
		done := time.Now()

		p.Recorder.Record(metrics.IngestRequests, 1)
		p.Recorder.Record(metrics.IngestOKs, 1)
		p.Recorder.Record(metrics.IngestUpsertedDocs, float64(len(docs)))
		p.Recorder.Record(metrics.IngestUpsertedBytes, float64(byteSize))
		p.Recorder.RecordDuration(metrics.IngestLatency, done.Sub(start))
		return done, nil
	})
}
