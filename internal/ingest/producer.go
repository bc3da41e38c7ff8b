package ingest

import (
	"context"
	"io"

	"github.com/23skdu/vecbench/internal/dataset"
)

// ChannelCapacity bounds the batches buffered between producer and writers.
const ChannelCapacity = 100

// Produce pushes every batch of src into out, blocking while out is full.
// out is closed once src is exhausted. Decode errors are returned as is and
// leave out open, so writers cannot mistake a failed read for a finished one.
func Produce(ctx context.Context, src dataset.Source, out chan<- []dataset.Document) error {
	for {
		batch, err := src.Next()
		if err == io.EOF {
			close(out)
			return nil
		}
		if err != nil {
			return err
		}

		select {
		case out <- batch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
