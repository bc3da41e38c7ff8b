package provider

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/vecbench/internal/dataset"
)

type traced struct {
	Provider
	tracer trace.Tracer
}

// WithTracing wraps p so every call runs inside a span. Cleaner is preserved
// when p implements it.
func WithTracing(p Provider, tracer trace.Tracer) Provider {
	t := &traced{Provider: p, tracer: tracer}
	if c, ok := p.(Cleaner); ok {
		return &tracedCleaner{traced: t, cleaner: c}
	}
	return t
}

func (t *traced) start(ctx context.Context, op, collection string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("provider", t.Provider.Name()),
		attribute.String("collection", collection),
	)
	return t.tracer.Start(ctx, "Provider."+op, trace.WithAttributes(attrs...), trace.WithSpanKind(trace.SpanKindClient))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *traced) Setup(ctx context.Context, collection string) error {
	ctx, span := t.start(ctx, "Setup", collection)
	err := t.Provider.Setup(ctx, collection)
	end(span, err)
	return err
}

func (t *traced) Upsert(ctx context.Context, collection string, docs []dataset.Document) error {
	ctx, span := t.start(ctx, "Upsert", collection, attribute.Int("batch_size", len(docs)))
	err := t.Provider.Upsert(ctx, collection, docs)
	end(span, err)
	return err
}

func (t *traced) QueryByID(ctx context.Context, collection, id string) (*dataset.Document, error) {
	ctx, span := t.start(ctx, "QueryByID", collection, attribute.String("id", id))
	doc, err := t.Provider.QueryByID(ctx, collection, id)
	span.SetAttributes(attribute.Bool("found", doc != nil))
	end(span, err)
	return doc, err
}

func (t *traced) Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]dataset.Document, error) {
	attrs := []attribute.KeyValue{attribute.Int("top_k", topK)}
	if filter.Int != nil {
		attrs = append(attrs, attribute.Int64("int_filter", int64(*filter.Int)))
	}
	if filter.Keyword != nil {
		attrs = append(attrs, attribute.String("keyword_filter", *filter.Keyword))
	}
	ctx, span := t.start(ctx, "Query", collection, attrs...)
	docs, err := t.Provider.Query(ctx, collection, vector, topK, filter)
	span.SetAttributes(attribute.Int("results", len(docs)))
	end(span, err)
	return docs, err
}

func (t *traced) Close(ctx context.Context) error {
	ctx, span := t.start(ctx, "Close", "")
	err := t.Provider.Close(ctx)
	end(span, err)
	return err
}

type tracedCleaner struct {
	*traced
	cleaner Cleaner
}

func (t *tracedCleaner) ListCollections(ctx context.Context) ([]string, error) {
	ctx, span := t.start(ctx, "ListCollections", "")
	names, err := t.cleaner.ListCollections(ctx)
	end(span, err)
	return names, err
}

func (t *tracedCleaner) DeleteCollection(ctx context.Context, name string) error {
	ctx, span := t.start(ctx, "DeleteCollection", name)
	err := t.cleaner.DeleteCollection(ctx, name)
	end(span, err)
	return err
}
