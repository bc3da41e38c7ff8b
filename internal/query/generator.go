package query

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/errors"
	"github.com/23skdu/vecbench/internal/limiter"
)

// Each generator is the only sender on its output channel and closes it when
// it returns. A generator stopped through ctx returns nil.

// TagCount bounds the synthetic tags stamped on read-write documents.
const TagCount = 1000

// RandomGenerator replays a static query set, sampling uniformly with
// replacement, until ctx is done.
type RandomGenerator struct {
	Queries  []dataset.Query
	Throttle *limiter.Throttle
	// Rand picks queries; nil uses the global source.
	Rand *rand.Rand
}

func (g *RandomGenerator) Run(ctx context.Context, out chan<- dataset.Query) error {
	defer close(out)
	if len(g.Queries) == 0 {
		return errors.NewValidationError("random_generator", "query set is empty")
	}
	for {
		if err := g.Throttle.Wait(ctx); err != nil {
			return nil
		}
		if !send(ctx, out, g.Queries[g.pick()]) {
			return nil
		}
	}
}

func (g *RandomGenerator) pick() int {
	if g.Rand != nil {
		return g.Rand.IntN(len(g.Queries))
	}
	return rand.IntN(len(g.Queries))
}

// SequentialGenerator sends every query once, in order, then closes its
// channel.
type SequentialGenerator struct {
	Queries []dataset.Query
}

func (g *SequentialGenerator) Run(ctx context.Context, out chan<- dataset.Query) error {
	defer close(out)
	for _, q := range g.Queries {
		if !send(ctx, out, q) {
			return nil
		}
	}
	return nil
}

// RowQueryGenerator turns each row of a single-row cyclic reader into a query
// without ground truth.
type RowQueryGenerator struct {
	Source   dataset.Source
	Throttle *limiter.Throttle
}

func (g *RowQueryGenerator) Run(ctx context.Context, out chan<- dataset.Query) error {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return nil
		}
		docs, err := g.Source.Next()
		if err != nil {
			return err
		}
		if len(docs) != 1 {
			return errors.NewValidationError("row_query_generator", "expected exactly one document per row").
				WithContext("documents", len(docs))
		}
		if docs[0].DenseEmbedding == nil {
			return errors.NewValidationError("row_query_generator", "dense embedding not found").
				WithContext("id", docs[0].ID)
		}

		if err := g.Throttle.Wait(ctx); err != nil {
			return nil
		}
		q := dataset.Query{Dense: docs[0].DenseEmbedding, Recall: dataset.GroundTruth{}}
		if !send(ctx, out, q) {
			return nil
		}
	}
}

// TaggedBatchGenerator feeds write traffic from a cyclic reader, stamping each
// document with a random tag-<n> tag.
type TaggedBatchGenerator struct {
	Source dataset.Source
	// Rand draws tags; nil uses the global source.
	Rand *rand.Rand
}

func (g *TaggedBatchGenerator) Run(ctx context.Context, out chan<- []dataset.Document) error {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return nil
		}
		docs, err := g.Source.Next()
		if err != nil {
			return err
		}
		for i := range docs {
			tag := fmt.Sprintf("tag-%d", g.tag())
			docs[i].Tag = &tag
		}
		if !send(ctx, out, docs) {
			return nil
		}
	}
}

func (g *TaggedBatchGenerator) tag() int {
	if g.Rand != nil {
		return g.Rand.IntN(TagCount)
	}
	return rand.IntN(TagCount)
}

// send delivers v unless ctx ends first.
func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}
