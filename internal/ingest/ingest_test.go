package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/vecbench/internal/dataset"
	verrors "github.com/23skdu/vecbench/internal/errors"
	"github.com/23skdu/vecbench/internal/metrics"
	"github.com/23skdu/vecbench/internal/provider/memory"
	"github.com/23skdu/vecbench/internal/provider/providertest"
)

// countingSource yields total single-document batches.
type countingSource struct {
	total int
	reads atomic.Int32
	err   error
}

func (s *countingSource) Next() ([]dataset.Document, error) {
	n := int(s.reads.Add(1))
	if s.err != nil && n == 2 {
		return nil, s.err
	}
	if n > s.total {
		return nil, io.EOF
	}
	return []dataset.Document{{ID: fmt.Sprint(n)}}, nil
}

func newRecorder(t *testing.T) (*metrics.Store, *metrics.Recorder) {
	t.Helper()
	store := metrics.NewStore()
	t.Cleanup(store.Close)
	return store, store.Recorder(map[string]string{metrics.RunIDLabel: "run"})
}

func fixedJitter() time.Duration { return 10 * time.Millisecond }

func TestProduce_Backpressure(t *testing.T) {
	src := &countingSource{total: 150}
	out := make(chan []dataset.Document, ChannelCapacity)

	done := make(chan error, 1)
	go func() { done <- Produce(context.Background(), src, out) }()

	require.Eventually(t, func() bool { return len(out) == ChannelCapacity }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, ChannelCapacity, len(out))
	assert.Equal(t, int32(ChannelCapacity+1), src.reads.Load(), "one batch is held by the blocked send")
	select {
	case <-done:
		t.Fatal("producer finished while the channel was full")
	default:
	}

	<-out
	require.Eventually(t, func() bool { return src.reads.Load() == ChannelCapacity+2 }, time.Second, time.Millisecond)
	assert.Equal(t, ChannelCapacity, len(out))

	received := 1
	for range out {
		received++
	}
	require.NoError(t, <-done)
	assert.Equal(t, 150, received)
}

func TestProduce_DecodeErrorLeavesChannelOpen(t *testing.T) {
	boom := errors.New("corrupt row group")
	src := &countingSource{total: 10, err: boom}
	out := make(chan []dataset.Document, ChannelCapacity)

	err := Produce(context.Background(), src, out)
	require.ErrorIs(t, err, boom)
	assert.Len(t, out, 1)
	select {
	case <-out:
	default:
	}
	select {
	case _, ok := <-out:
		t.Fatalf("channel should stay open, got ok=%v", ok)
	default:
	}
}

func TestProduce_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan []dataset.Document)
	done := make(chan error, 1)
	go func() { done <- Produce(ctx, &countingSource{total: 5}, out) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func batchesOf(docs ...[]dataset.Document) <-chan []dataset.Document {
	ch := make(chan []dataset.Document, len(docs))
	for _, d := range docs {
		ch <- d
	}
	close(ch)
	return ch
}

func TestWriterPool_RetryAccounting(t *testing.T) {
	const failures = 3
	store, rec := newRecorder(t)
	stub := &providertest.Stub{}
	for i := 0; i < failures; i++ {
		stub.UpsertErrors = append(stub.UpsertErrors, fmt.Errorf("transient %d", i))
	}

	var (
		mu      sync.Mutex
		pauses  []time.Duration
		jitters = func() time.Duration {
			d := fixedJitter()
			mu.Lock()
			pauses = append(pauses, d)
			mu.Unlock()
			return d
		}
	)
	pool := &WriterPool{
		Provider:    stub,
		Collection:  "c",
		Concurrency: 1,
		Recorder:    rec,
		Logger:      zerolog.Nop(),
		Jitter:      jitters,
	}

	docs := []dataset.Document{{ID: "7", Text: "abc"}, {ID: "12", Text: "de"}}
	require.NoError(t, pool.Run(context.Background(), batchesOf(docs)))

	snap := store.Snapshot("run")
	assert.Equal(t, float64(failures), snap.Total(metrics.IngestErrors))
	assert.Equal(t, 1.0, snap.Total(metrics.IngestOKs))
	assert.Equal(t, float64(failures+1), snap.Total(metrics.IngestRequests))
	assert.Equal(t, 2.0, snap.Total(metrics.IngestUpsertedDocs))
	assert.Equal(t, float64(dataset.BatchSize(docs)), snap.Total(metrics.IngestUpsertedBytes))
	assert.Equal(t, 1, snap.Count(metrics.IngestLatency))
	assert.Equal(t, failures+1, stub.UpsertCalls())
	assert.Len(t, pauses, failures)

	assert.Equal(t, 1, stub.Lookups("12"), "freshness probes the batch's max id")
	assert.Equal(t, 1, snap.Count(metrics.IngestFreshness))
}

func TestWriterPool_NonNumericIDIsFatal(t *testing.T) {
	_, rec := newRecorder(t)
	stub := &providertest.Stub{}
	pool := &WriterPool{Provider: stub, Collection: "c", Concurrency: 2, Recorder: rec, Logger: zerolog.Nop()}

	err := pool.Run(context.Background(), batchesOf([]dataset.Document{{ID: "1"}, {ID: "doc-2"}}))
	require.Error(t, err)
	assert.True(t, verrors.IsType(err, verrors.ErrorTypeValidation))
	assert.Zero(t, stub.UpsertCalls())
}

func TestWriterPool_StopSignalSkipsBatch(t *testing.T) {
	store, rec := newRecorder(t)
	stub := &providertest.Stub{UpsertErrors: []error{errors.New("KeyboardInterrupt")}}
	pool := &WriterPool{Provider: stub, Collection: "c", Concurrency: 1, Recorder: rec, Logger: zerolog.Nop(), Jitter: fixedJitter}

	require.NoError(t, pool.Run(context.Background(), batchesOf(
		[]dataset.Document{{ID: "1"}},
		[]dataset.Document{{ID: "2"}},
	)))

	snap := store.Snapshot("run")
	assert.Equal(t, 1.0, snap.Total(metrics.IngestErrors))
	assert.Equal(t, 1.0, snap.Total(metrics.IngestOKs))
	assert.Equal(t, 2, stub.UpsertCalls())
	require.Len(t, stub.Upserts(), 1)
	assert.Equal(t, "2", stub.Upserts()[0][0].ID)
}

func TestWriterPool_WaitsForProbes(t *testing.T) {
	store, rec := newRecorder(t)
	stub := &providertest.Stub{NotFoundPolls: 5}
	pool := &WriterPool{Provider: stub, Collection: "c", Concurrency: 3, Recorder: rec, Logger: zerolog.Nop()}

	var batches [][]dataset.Document
	for i := 1; i <= 9; i++ {
		batches = append(batches, []dataset.Document{{ID: fmt.Sprint(i)}})
	}
	require.NoError(t, pool.Run(context.Background(), batchesOf(batches...)))

	snap := store.Snapshot("run")
	assert.Equal(t, 9, snap.Count(metrics.IngestFreshness))
	assert.Equal(t, 9*6, snap.Count(metrics.IngestQueryByIDLatency))
}

func TestWriterPool_CancelUnblocksRetries(t *testing.T) {
	_, rec := newRecorder(t)
	errs := make([]error, 1000)
	for i := range errs {
		errs[i] = errors.New("down")
	}
	stub := &providertest.Stub{UpsertErrors: errs}
	pool := &WriterPool{Provider: stub, Collection: "c", Concurrency: 1, Recorder: rec, Logger: zerolog.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := pool.Run(ctx, batchesOf([]dataset.Document{{ID: "1"}}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProber_Freshness(t *testing.T) {
	const polls = 4
	store, rec := newRecorder(t)
	stub := &providertest.Stub{NotFoundPolls: polls}
	p := &Prober{Provider: stub, Collection: "c", Recorder: rec, Logger: zerolog.Nop()}

	require.NoError(t, p.Probe(context.Background(), "42", time.Now()))

	snap := store.Snapshot("run")
	require.Equal(t, 1, snap.Count(metrics.IngestFreshness))
	assert.GreaterOrEqual(t, snap.Max(metrics.IngestFreshness), float64(polls*10))
	assert.Equal(t, polls+1, snap.Count(metrics.IngestQueryByIDLatency))
	assert.Equal(t, polls+1, stub.Lookups("42"))
}

func TestProber_StopsOnCancel(t *testing.T) {
	store, rec := newRecorder(t)
	stub := &providertest.Stub{NeverVisible: true}
	p := &Prober{Provider: stub, Collection: "c", Recorder: rec, Logger: zerolog.Nop()}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Probe(ctx, "1", time.Now()), context.DeadlineExceeded)
	assert.Zero(t, store.Snapshot("run").Count(metrics.IngestFreshness))
}

func TestConfig(t *testing.T) {
	cfg := Config{Collection: "c", BatchSize: 100, Concurrency: 4, Input: "s3://b/docs.parquet", Mode: "ingest", Size: "100k"}
	require.NoError(t, cfg.Validate())

	labels := cfg.Labels("memory", "r1")
	assert.Equal(t, map[string]string{
		"provider":    "memory",
		"collection":  "c",
		"batch_size":  "100",
		"concurrency": "4",
		"input":       "s3://b/docs.parquet",
		"size":        "100k",
		"run_id":      "r1",
		"mode":        "ingest",
	}, labels)

	bad := cfg
	bad.BatchSize = 0
	assert.True(t, verrors.IsType(bad.Validate(), verrors.ErrorTypeConfiguration))
	bad = cfg
	bad.Collection = ""
	assert.Error(t, bad.Validate())
	bad = cfg
	bad.Size = "5k"
	assert.True(t, verrors.IsType(bad.Validate(), verrors.ErrorTypeConfiguration))
}

func TestWriterStats(t *testing.T) {
	now := time.Unix(1000, 0)
	snap := metrics.NewSnapshot([]metrics.Metric{
		{Name: metrics.IngestRequests, Value: 1, Timestamp: now},
		{Name: metrics.IngestRequests, Value: 1, Timestamp: now},
		{Name: metrics.IngestErrors, Value: 1, Timestamp: now},
		{Name: metrics.IngestUpsertedBytes, Value: 2048, Timestamp: now},
		{Name: metrics.IngestLatency, Value: 12, Timestamp: now},
	}, now)

	line := WriterStats(snap, "memory@1m")
	assert.Equal(t, "       memory@1m] 50.00% 2.0 KiB Throughput: 2.0 KiB/s, Latency: p50=12.00ms, p99=12.00ms", line)

	snap = metrics.NewSnapshot([]metrics.Metric{
		{Name: metrics.IngestFreshness, Value: 35, Timestamp: now},
		{Name: metrics.IngestRecvLatency, Value: 2, Timestamp: now},
	}, now)
	line = WriterStats(snap, "p")
	assert.Contains(t, line, "100% 0 B")
	assert.Contains(t, line, ", Freshness max=35.00ms, Skew max=2.00ms")
}

func writeDataset(t *testing.T, n int) string {
	t.Helper()
	docs := make([]dataset.Document, n)
	for i := range docs {
		docs[i] = dataset.Document{
			ID:             fmt.Sprint(i + 1),
			Text:           fmt.Sprintf("doc %d", i+1),
			IntFilter:      uint32(i * 10),
			KeywordFilter:  "10 100",
			DenseEmbedding: []float32{float32(i%3 + 1), float32(i%5 + 1), 1},
		}
	}
	path := filepath.Join(t.TempDir(), "docs.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, dataset.WriteDocuments(f, docs, 16))
	return path
}

func TestRun_EndToEnd(t *testing.T) {
	path := writeDataset(t, 50)
	store := metrics.NewStore()
	defer store.Close()
	prov := memory.New(memory.Config{VisibilityDelay: 5 * time.Millisecond})

	var out bytes.Buffer
	res, err := Run(context.Background(), Deps{
		Provider:       prov,
		Store:          store,
		Logger:         zerolog.Nop(),
		Out:            &out,
		ReportInterval: time.Hour,
	}, Config{Collection: "bench", BatchSize: 8, Concurrency: 3, Input: path, Mode: "ingest", Size: "100k"})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Interrupted)

	snap := store.Snapshot(res.RunID)
	assert.Equal(t, 50.0, snap.Total(metrics.IngestUpsertedDocs))
	assert.Equal(t, 7.0, snap.Total(metrics.IngestOKs))
	assert.Equal(t, 7, snap.Count(metrics.IngestFreshness))
	for _, m := range snap.Metrics() {
		assert.Equal(t, "memory", m.Labels["provider"])
		assert.Equal(t, "8", m.Labels["batch_size"])
	}

	doc, err := prov.QueryByID(context.Background(), "bench", "50")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "doc 50", doc.Text)
}

func TestRun_SetupFailure(t *testing.T) {
	path := writeDataset(t, 4)
	store := metrics.NewStore()
	defer store.Close()
	stub := &providertest.Stub{SetupErr: errors.New("no permission")}

	_, err := Run(context.Background(), Deps{Provider: stub, Store: store, Logger: zerolog.Nop()},
		Config{Collection: "c", BatchSize: 2, Concurrency: 1, Input: path, Size: "100k"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "[provider] setup: failed to set up collection (collection=c): no permission")
	assert.True(t, stub.Closed())
}

func TestRun_Interrupted(t *testing.T) {
	path := writeDataset(t, 40)
	store := metrics.NewStore()
	defer store.Close()
	stub := &providertest.Stub{UpsertGate: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res, err := Run(ctx, Deps{Provider: stub, Store: store, Logger: zerolog.Nop(), ReportInterval: time.Hour},
		Config{Collection: "c", BatchSize: 4, Concurrency: 2, Input: path, Size: "1m"})
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.True(t, stub.Closed())
	assert.Zero(t, store.Snapshot(res.RunID).Total(metrics.IngestOKs))
}

func TestRun_AbandonedAfterGrace(t *testing.T) {
	path := writeDataset(t, 8)
	// Left open: the held writer records once it is released.
	store := metrics.NewStore()
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	stub := &providertest.Stub{UpsertHold: hold}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := Run(ctx, Deps{Provider: stub, Store: store, Logger: zerolog.Nop(), ReportInterval: time.Hour, Grace: 20 * time.Millisecond},
		Config{Collection: "c", BatchSize: 4, Concurrency: 1, Input: path, Size: "100k"})
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.True(t, res.Abandoned)
}

func TestRun_NotAbandonedWhenTasksStop(t *testing.T) {
	path := writeDataset(t, 8)
	store := metrics.NewStore()
	defer store.Close()

	res, err := Run(context.Background(), Deps{Provider: &providertest.Stub{}, Store: store, Logger: zerolog.Nop(), ReportInterval: time.Hour},
		Config{Collection: "c", BatchSize: 4, Concurrency: 1, Input: path, Size: "100k"})
	require.NoError(t, err)
	assert.False(t, res.Abandoned)
}

func TestDeps_ShutdownGrace(t *testing.T) {
	assert.Equal(t, ShutdownGrace, Deps{}.ShutdownGrace())
	assert.Equal(t, time.Second, Deps{Grace: time.Second}.ShutdownGrace())
}
