package metrics

import (
	"math"
	"sort"
	"time"
)

// RateWindow is the trailing window summed by InstantaneousRate.
const RateWindow = 1000 * time.Millisecond

// Snapshot is an owned copy of one run's metrics taken at a point in time.
// Statistics are computed on demand and never touch the store.
type Snapshot struct {
	metrics []Metric
	at      time.Time
}

// NewSnapshot wraps metrics captured at the given instant.
func NewSnapshot(metrics []Metric, at time.Time) *Snapshot {
	return &Snapshot{metrics: metrics, at: at}
}

func (s *Snapshot) IsEmpty() bool { return len(s.metrics) == 0 }

func (s *Snapshot) Len() int { return len(s.metrics) }

// CapturedAt is the store clock time the snapshot was taken.
func (s *Snapshot) CapturedAt() time.Time { return s.at }

// Metrics returns the captured metrics.
func (s *Snapshot) Metrics() []Metric { return s.metrics }

// Values returns every value recorded under name, in append order.
func (s *Snapshot) Values(name string) []float64 {
	var out []float64
	for _, m := range s.metrics {
		if m.Name == name {
			out = append(out, m.Value)
		}
	}
	return out
}

// Count returns how many observations were recorded under name.
func (s *Snapshot) Count(name string) int {
	n := 0
	for _, m := range s.metrics {
		if m.Name == name {
			n++
		}
	}
	return n
}

// Total sums every value recorded under name.
func (s *Snapshot) Total(name string) float64 {
	var sum float64
	for _, m := range s.metrics {
		if m.Name == name {
			sum += m.Value
		}
	}
	return sum
}

// InstantaneousRate sums the values recorded under name within RateWindow of
// the capture time. It approximates a per-second rate: two snapshots taken a few
// milliseconds apart count the same observations twice.
func (s *Snapshot) InstantaneousRate(name string) float64 {
	var sum float64
	for _, m := range s.metrics {
		if m.Name == name && s.at.Sub(m.Timestamp) <= RateWindow {
			sum += m.Value
		}
	}
	return sum
}

// Avg returns the mean of the values recorded under name, or 0.
func (s *Snapshot) Avg(name string) float64 {
	var sum float64
	n := 0
	for _, m := range s.metrics {
		if m.Name == name {
			sum += m.Value
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Quantile returns the nearest-rank quantile: the sorted values at index
// round(q*(n-1)), clamped to the slice. It returns 0 when nothing was recorded.
func (s *Snapshot) Quantile(name string, q float64) float64 {
	values := s.Values(name)
	if len(values) == 0 {
		return 0
	}
	sort.Float64s(values)

	idx := int(math.Round(q * float64(len(values)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx > len(values)-1 {
		idx = len(values) - 1
	}
	return values[idx]
}

// Max returns the largest value recorded under name, or 0.
func (s *Snapshot) Max(name string) float64 {
	return s.Quantile(name, 1)
}
