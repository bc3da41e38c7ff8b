// Package report prints live per-run statistics once a second.
package report

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/23skdu/vecbench/internal/metrics"
)

// DefaultInterval is the reporting cadence.
const DefaultInterval = time.Second

// Source hands out per-run snapshots.
type Source interface {
	Snapshot(runID string) *metrics.Snapshot
}

// Renderer formats one line for a non-empty snapshot.
type Renderer func(s *metrics.Snapshot, prefix string) string

// Reporter periodically renders snapshots of a single run.
type Reporter struct {
	Store     Source
	RunID     string
	Prefix    string
	Interval  time.Duration
	Out       io.Writer
	Renderers []Renderer
}

// Run prints until ctx is done. The first line appears one interval after the
// start, and an empty snapshot prints a waiting placeholder.
func (r *Reporter) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick renders the current snapshot once.
func (r *Reporter) Tick() {
	out := r.Out
	if out == nil {
		out = os.Stdout
	}

	snap := r.Store.Snapshot(r.RunID)
	if snap.IsEmpty() {
		fmt.Fprintf(out, "%s] Waiting for metrics...\n", r.Prefix)
		return
	}
	for _, render := range r.Renderers {
		fmt.Fprintln(out, render(snap, r.Prefix))
	}
}

// Availability is the success percentage, 100 when nothing was requested.
func Availability(requests, errors float64) float64 {
	if requests <= 0 {
		return 100
	}
	return (1 - errors/requests) * 100
}

// FormatAvailability renders an availability percentage.
func FormatAvailability(a float64) string {
	switch {
	case math.IsNaN(a):
		return "..."
	case a == 100:
		return "100%"
	default:
		return fmt.Sprintf("%.2f%%", a)
	}
}

// Bytes renders a byte count with binary units.
func Bytes(b float64) string {
	if b <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(b))
}

// Rate renders a byte rate with binary units.
func Rate(b float64) string {
	return Bytes(b) + "/s"
}

// Millis renders a millisecond latency.
func Millis(ms float64) string {
	return fmt.Sprintf("%.2fms", ms)
}
