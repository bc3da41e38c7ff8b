package query

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/report"
)

// QueryStats renders one reporter line for the query path. Requests are
// successes plus errors.
func QueryStats(s *metrics.Snapshot, prefix string) string {
	oks := s.Total(metrics.QueryOKs)
	errs := s.Total(metrics.QueryErrors)
	availability := report.Availability(oks+errs, errs)

	var b strings.Builder
	fmt.Fprintf(&b, "%16s] %s, Throughput: %s queries/s, Latency: avg=%s, p99=%s, Recall: avg=%.2f",
		prefix,
		report.FormatAvailability(availability),
		humanize.Ftoa(s.InstantaneousRate(metrics.QueryOKs)),
		report.Millis(s.Avg(metrics.QueryLatency)),
		report.Millis(s.Quantile(metrics.QueryLatency, 0.99)),
		s.Avg(metrics.QueryRecall),
	)
	if v := s.Max(metrics.QueryRecvLatency); v != 0 {
		fmt.Fprintf(&b, ", Skew max=%s", report.Millis(v))
	}
	return b.String()
}
