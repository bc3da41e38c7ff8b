package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/23skdu/vecbench/internal/ingest"
	"github.com/23skdu/vecbench/internal/metrics"
)

func TestAppClose_ClosesStore(t *testing.T) {
	a := &app{logger: zerolog.Nop(), store: metrics.NewStore()}
	rec := a.store.Recorder(map[string]string{metrics.RunIDLabel: "r1"})

	a.finish(&ingest.Result{RunID: "r1"})
	a.close(context.Background())
	assert.Panics(t, func() { rec.Record(metrics.IngestOKs, 1) })
}

func TestAppClose_KeepsStoreForAbandonedRun(t *testing.T) {
	a := &app{logger: zerolog.Nop(), store: metrics.NewStore()}
	defer a.store.Close()
	rec := a.store.Recorder(map[string]string{metrics.RunIDLabel: "r1"})

	a.finish(&ingest.Result{RunID: "r1", Abandoned: true})
	a.finish(nil)
	a.close(context.Background())
	assert.NotPanics(t, func() { rec.Record(metrics.IngestOKs, 1) })
	assert.Equal(t, 1.0, a.store.Snapshot("r1").Total(metrics.IngestOKs))
}
