package report

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/vecbench/internal/metrics"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAvailability(t *testing.T) {
	assert.Equal(t, 100.0, Availability(0, 0))
	assert.InDelta(t, 90.0, Availability(10, 1), 1e-9)
	assert.Equal(t, 0.0, Availability(4, 4))

	assert.Equal(t, "100%", FormatAvailability(100))
	assert.Equal(t, "90.00%", FormatAvailability(90))
}

func TestBytes(t *testing.T) {
	assert.Equal(t, "0 B", Bytes(0))
	assert.Equal(t, "512 B", Bytes(512))
	assert.Equal(t, "1.5 KiB", Bytes(1536))
	assert.Equal(t, "2.0 MiB/s", Rate(2*1024*1024))
	assert.Equal(t, "1.50ms", Millis(1.5))
}

func TestReporter_Tick(t *testing.T) {
	store := metrics.NewStore()
	defer store.Close()

	var out bytes.Buffer
	r := &Reporter{
		Store:  store,
		RunID:  "run-1",
		Prefix: "memory@100k",
		Out:    &out,
		Renderers: []Renderer{func(s *metrics.Snapshot, prefix string) string {
			return prefix + "] oks=" + Millis(s.Total(metrics.QueryOKs))
		}},
	}

	r.Tick()
	assert.Equal(t, "memory@100k] Waiting for metrics...\n", out.String())

	out.Reset()
	store.Recorder(map[string]string{metrics.RunIDLabel: "run-2"}).Record(metrics.QueryOKs, 1)
	r.Tick()
	assert.Contains(t, out.String(), "Waiting for metrics")

	out.Reset()
	rec := store.Recorder(map[string]string{metrics.RunIDLabel: "run-1"})
	rec.Record(metrics.QueryOKs, 1)
	rec.Record(metrics.QueryOKs, 1)
	r.Tick()
	assert.Equal(t, "memory@100k] oks=2.00ms\n", out.String())
}

func TestReporter_RunSkipsFirstTick(t *testing.T) {
	store := metrics.NewStore()
	defer store.Close()

	out := &syncBuffer{}
	r := &Reporter{Store: store, RunID: "r", Prefix: "p", Interval: 40 * time.Millisecond, Out: out}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, out.String())

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "Waiting for metrics") >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
