package ingest

import (
	"fmt"
	"strings"

	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/report"
)

// WriterStats renders one reporter line for the write path.
func WriterStats(s *metrics.Snapshot, prefix string) string {
	availability := report.Availability(s.Total(metrics.IngestRequests), s.Total(metrics.IngestErrors))

	var b strings.Builder
	fmt.Fprintf(&b, "%16s] %s %s Throughput: %s, Latency: p50=%s, p99=%s",
		prefix,
		report.FormatAvailability(availability),
		report.Bytes(s.Total(metrics.IngestUpsertedBytes)),
		report.Rate(s.InstantaneousRate(metrics.IngestUpsertedBytes)),
		report.Millis(s.Quantile(metrics.IngestLatency, 0.50)),
		report.Millis(s.Quantile(metrics.IngestLatency, 0.99)),
	)
	if v := s.Max(metrics.IngestFreshness); v != 0 {
		fmt.Fprintf(&b, ", Freshness max=%s", report.Millis(v))
	}
	if v := s.Max(metrics.IngestRecvLatency); v != 0 {
		fmt.Fprintf(&b, ", Skew max=%s", report.Millis(v))
	}
	return b.String()
}
