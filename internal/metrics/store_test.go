package metrics

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func metricAt(name string, value float64, ts time.Time) Metric {
	return Metric{Name: name, Value: value, Timestamp: ts, Labels: Labels{RunIDLabel: "r1"}}
}

func TestSnapshot_Quantile(t *testing.T) {
	now := time.Now()
	var ms []Metric
	for _, v := range []float64{5, 3, 1, 4, 2} {
		ms = append(ms, metricAt(IngestLatency, v, now))
	}
	snap := NewSnapshot(ms, now)

	assert.Equal(t, 3.0, snap.Quantile(IngestLatency, 0.5))
	assert.Equal(t, 5.0, snap.Quantile(IngestLatency, 0.99))
	assert.Equal(t, 1.0, snap.Quantile(IngestLatency, 0))
	assert.Equal(t, 5.0, snap.Max(IngestLatency))
	assert.Equal(t, 5.0, snap.Quantile(IngestLatency, 2), "q above 1 is clamped")
	assert.Equal(t, 0.0, snap.Quantile("missing", 0.5))
	assert.Equal(t, 0.0, snap.Max("missing"))
}

func TestSnapshot_InstantaneousRate(t *testing.T) {
	now := time.Now()
	snap := NewSnapshot([]Metric{
		metricAt(IngestUpsertedDocs, 10, now.Add(-1500*time.Millisecond)),
		metricAt(IngestUpsertedDocs, 5, now.Add(-200*time.Millisecond)),
	}, now)

	assert.Equal(t, 5.0, snap.InstantaneousRate(IngestUpsertedDocs))
	assert.Equal(t, 15.0, snap.Total(IngestUpsertedDocs))
}

func TestSnapshot_RateWindowBoundary(t *testing.T) {
	now := time.Now()
	snap := NewSnapshot([]Metric{
		metricAt(IngestUpsertedDocs, 1, now.Add(-RateWindow)),
		metricAt(IngestUpsertedDocs, 2, now.Add(-RateWindow-time.Millisecond)),
	}, now)
	assert.Equal(t, 1.0, snap.InstantaneousRate(IngestUpsertedDocs))
}

func TestSnapshot_AvgAndCount(t *testing.T) {
	now := time.Now()
	snap := NewSnapshot([]Metric{
		metricAt(QueryRecall, 0.4, now),
		metricAt(QueryRecall, 1.0, now),
		metricAt(QueryOKs, 1, now),
	}, now)

	assert.InDelta(t, 0.7, snap.Avg(QueryRecall), 1e-9)
	assert.Equal(t, 2, snap.Count(QueryRecall))
	assert.Equal(t, 0.0, snap.Avg("missing"))
	assert.Equal(t, 3, snap.Len())
	assert.False(t, snap.IsEmpty())
	assert.True(t, NewSnapshot(nil, now).IsEmpty())
}

func TestStore_SnapshotFiltersByRun(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore(WithClock(fixedClock(now)))
	defer store.Close()

	a := store.Recorder(map[string]string{RunIDLabel: "a", "provider": "memory"})
	b := store.Recorder(map[string]string{RunIDLabel: "b"})

	a.Record(IngestOKs, 1)
	a.Record(IngestOKs, 1)
	b.Record(IngestOKs, 1)

	snap := store.Snapshot("a")
	require.Equal(t, 2, snap.Len())
	assert.Equal(t, now, snap.CapturedAt())
	for _, m := range snap.Metrics() {
		assert.Equal(t, "a", m.RunID())
		assert.Equal(t, "memory", m.Labels["provider"])
		assert.Equal(t, now, m.Timestamp)
	}
	assert.Equal(t, 1, store.Snapshot("b").Len())
	assert.True(t, store.Snapshot("c").IsEmpty())
}

func TestStore_RecorderCopiesLabels(t *testing.T) {
	store := NewStore()
	defer store.Close()

	labels := map[string]string{RunIDLabel: "r1", "mode": "ingest"}
	rec := store.Recorder(labels)
	labels["mode"] = "mutated"

	assert.Equal(t, "ingest", rec.Labels()["mode"])

	phase := rec.With("phase", "recall")
	assert.Equal(t, "recall", phase.Labels()["phase"])
	assert.NotContains(t, rec.Labels(), "phase")
	assert.Equal(t, "r1", phase.RunID())
}

func TestStore_RecorderRequiresRunID(t *testing.T) {
	store := NewStore()
	defer store.Close()

	assert.Panics(t, func() { store.Recorder(map[string]string{"provider": "memory"}) })
}

func TestStore_RecordAfterClosePanics(t *testing.T) {
	store := NewStore()
	rec := store.Recorder(map[string]string{RunIDLabel: "r1"})
	rec.Record(IngestOKs, 1)
	store.Close()

	assert.Panics(t, func() { rec.Record(IngestOKs, 1) })
	assert.Equal(t, 1, store.Snapshot("r1").Len(), "metrics stay readable after close")
	store.Close()
}

func TestStore_ConcurrentRecorders(t *testing.T) {
	store := NewStore()
	defer store.Close()

	const workers = 8
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := store.Recorder(map[string]string{RunIDLabel: "r1"})
			for i := 0; i < perWorker; i++ {
				rec.Record(IngestOKs, 1)
			}
		}()
	}
	wg.Wait()

	snap := store.Snapshot("r1")
	assert.Equal(t, float64(workers*perWorker), snap.Total(IngestOKs))
}

func TestStore_Flush(t *testing.T) {
	store := NewStore()
	defer store.Close()

	rec := store.Recorder(map[string]string{RunIDLabel: "r1"})
	rec.Record(IngestOKs, 1)
	rec.RecordDuration(IngestLatency, 1500*time.Microsecond)

	flushed := store.Flush()
	require.Len(t, flushed, 2)
	assert.Equal(t, 1.5, flushed[1].Value)
	assert.Equal(t, 0, store.Len())
	assert.True(t, store.Snapshot("r1").IsEmpty())
}

func TestStore_Observers(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	store := NewStore(WithObserver(ObserverFunc(func(m Metric) {
		mu.Lock()
		seen = append(seen, m.Name)
		mu.Unlock()
	})))

	rec := store.Recorder(map[string]string{RunIDLabel: "r1"})
	rec.Record(IngestOKs, 1)
	rec.Record(IngestErrors, 1)
	store.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{IngestOKs, IngestErrors}, seen)
}

func TestStore_ObserversOutsideLock(t *testing.T) {
	var store *Store
	var mu sync.Mutex
	var lens []int
	store = NewStore(WithObserver(ObserverFunc(func(m Metric) {
		n := store.Len()
		mu.Lock()
		lens = append(lens, n)
		mu.Unlock()
	})))
	defer store.Close()

	rec := store.Recorder(map[string]string{RunIDLabel: "r1"})
	for i := 0; i < 50; i++ {
		rec.Record(IngestOKs, 1)
		if i%10 == 0 {
			store.Snapshot("r1")
		}
	}
	store.Flush()
	store.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, lens, 50)
}

func TestPrometheusObserver(t *testing.T) {
	obs := &PrometheusObserver{
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "test_latency_ms"},
			[]string{"metric", "provider"}),
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_observations_total"},
			[]string{"metric", "provider"}),
	}
	labels := Labels{RunIDLabel: "r1", "provider": "memory"}

	obs.Observe(Metric{Name: IngestLatency, Value: 12, Labels: labels})
	obs.Observe(Metric{Name: IngestUpsertedDocs, Value: 100, Labels: labels})
	obs.Observe(Metric{Name: IngestUpsertedDocs, Value: 50, Labels: labels})

	assert.Equal(t, 150.0, testutil.ToFloat64(obs.Observations.WithLabelValues(IngestUpsertedDocs, "memory")))
	assert.Equal(t, 1, testutil.CollectAndCount(obs.Latency))
}

func TestExport_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456000, time.UTC)
	ms := []Metric{
		{Name: IngestOKs, Value: 1, Timestamp: ts, Labels: Labels{RunIDLabel: "r1", "provider": "memory"}},
		{Name: QueryRecall, Value: 0.4, Timestamp: ts.Add(time.Second), Labels: Labels{RunIDLabel: "r1", "top_k": "10"}},
	}

	path := filepath.Join(t.TempDir(), "out", "metrics.parquet")
	require.NoError(t, Export(t.Context(), ms, path, nil))

	rows, keys, err := ReadExport(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"provider", RunIDLabel, "top_k"}, keys)
	require.Len(t, rows, 2)

	assert.Equal(t, ts, rows[0].Timestamp)
	assert.Equal(t, IngestOKs, rows[0].Metric)
	assert.Equal(t, 1.0, rows[0].Value)
	assert.Equal(t, "memory", rows[0].Labels["provider"])
	assert.Equal(t, "", rows[0].Labels["top_k"])

	assert.Equal(t, QueryRecall, rows[1].Metric)
	assert.Equal(t, "", rows[1].Labels["provider"])
	assert.Equal(t, "10", rows[1].Labels["top_k"])

	summary := Summarize(rows)
	require.Len(t, summary, 2)
	assert.Equal(t, IngestOKs, summary[0].Metric)
	assert.Equal(t, 1, summary[0].Count)
	assert.InDelta(t, 0.4, summary[1].Mean, 1e-9)
}

func TestExport_ManyRowsAndLabels(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	labels := Labels{RunIDLabel: "r1", "batch_size": "2000", "mode": "ingest", "zone": "a", "collection": "x-1m"}
	ms := make([]Metric, 1000)
	for i := range ms {
		ms[i] = Metric{Name: IngestLatency, Value: float64(i), Timestamp: base.Add(time.Duration(i) * time.Millisecond), Labels: labels}
	}

	path := filepath.Join(t.TempDir(), "metrics.parquet")
	require.NoError(t, Export(t.Context(), ms, path, nil))

	rows, keys, err := ReadExport(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"batch_size", "collection", "mode", RunIDLabel, "zone"}, keys)
	require.Len(t, rows, 1000)
	assert.Equal(t, base.Add(999*time.Millisecond), rows[999].Timestamp)
	assert.Equal(t, 999.0, rows[999].Value)
	assert.Equal(t, map[string]string(labels), rows[500].Labels)

	summary := Summarize(rows)
	require.Len(t, summary, 1)
	assert.InDelta(t, 499.5, summary[0].Mean, 1e-9)
}

func TestExport_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.parquet")
	require.NoError(t, Export(t.Context(), nil, path, nil))

	rows, keys, err := ReadExport(path)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, keys)
}

func TestExport_RemoteRequiresUploader(t *testing.T) {
	err := Export(t.Context(), nil, "s3://bucket/metrics.parquet", nil)
	assert.Error(t, err)
}

type recordingUploader struct {
	local, uri string
	size       int64
}

func (u *recordingUploader) Upload(_ context.Context, local, uri string) error {
	u.local, u.uri = local, uri
	st, err := os.Stat(local)
	if err != nil {
		return err
	}
	u.size = st.Size()
	return nil
}

func TestExport_RemoteUploadsTempFile(t *testing.T) {
	up := &recordingUploader{}
	ms := []Metric{metricAt(IngestOKs, 1, time.Now())}

	require.NoError(t, Export(t.Context(), ms, "s3://bucket/run/metrics.parquet", up))
	assert.Equal(t, "s3://bucket/run/metrics.parquet", up.uri)
	assert.Positive(t, up.size)
	_, err := os.Stat(up.local)
	assert.True(t, os.IsNotExist(err), "temp file is removed after upload")
}
