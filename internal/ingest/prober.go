package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/provider"
	"github.com/23skdu/vecbench/internal/resilience"
)

// DefaultPollInterval is the pause between freshness lookups.
const DefaultPollInterval = 10 * time.Millisecond

// Prober measures how long a written document takes to become readable.
type Prober struct {
	Provider     provider.Provider
	Collection   string
	Recorder     *metrics.Recorder
	Logger       zerolog.Logger
	PollInterval time.Duration
}

// Probe looks id up until it is visible, then records the time elapsed since
// writtenAt as freshness. Every lookup's latency is recorded. Lookup errors
// are logged and polled through. Probe only gives up when ctx is done.
func (p *Prober) Probe(ctx context.Context, id string, writtenAt time.Time) error {
	interval := p.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	for {
		start := time.Now()
		doc, err := p.Provider.QueryByID(ctx, p.Collection, id)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		p.Recorder.RecordDuration(metrics.IngestQueryByIDLatency, time.Since(start))

		switch {
		case err != nil:
			p.Logger.Warn().Err(err).Str("id", id).Msg("Freshness lookup failed")
		case doc != nil:
			p.Recorder.RecordDuration(metrics.IngestFreshness, time.Since(writtenAt))
			return nil
		}

		if err := resilience.SleepContext(ctx, interval); err != nil {
			return err
		}
	}
}
