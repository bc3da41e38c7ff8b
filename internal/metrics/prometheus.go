package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LatencyMs mirrors every *_ms observation recorded by a run
	LatencyMs = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vecbench_latency_ms",
			Help:    "Latency observations recorded by benchmark runs, in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"metric", "provider"},
	)

	// ObservationsTotal accumulates counter-like observations (requests, docs, bytes, recall)
	ObservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vecbench_observations_total",
			Help: "Sum of non-latency observations recorded by benchmark runs",
		},
		[]string{"metric", "provider"},
	)
)

// PrometheusObserver mirrors store observations into process-level Prometheus
// metrics so a scraper can follow a long run live.
type PrometheusObserver struct {
	Latency      *prometheus.HistogramVec
	Observations *prometheus.CounterVec
}

// NewPrometheusObserver returns an observer wired to the package collectors.
func NewPrometheusObserver() *PrometheusObserver {
	return &PrometheusObserver{
		Latency:      LatencyMs,
		Observations: ObservationsTotal,
	}
}

func (p *PrometheusObserver) Observe(m Metric) {
	provider := m.Labels["provider"]
	if strings.HasSuffix(m.Name, "_ms") {
		p.Latency.WithLabelValues(m.Name, provider).Observe(m.Value)
		return
	}
	if m.Value < 0 {
		return
	}
	p.Observations.WithLabelValues(m.Name, provider).Add(m.Value)
}
