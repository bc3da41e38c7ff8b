// Package arrowflight implements a provider against an Arrow Flight vector
// server. Documents travel as Arrow records over DoPut; searches and point
// lookups are JSON tickets answered through DoGet.
package arrowflight

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/goccy/go-json"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/vecbench/client"
	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/provider"
)

const Name = "flight"

// Filter operators understood by the server.
const (
	opLessEqual = "<="
	opEqual     = "="
	opContains  = "contains"
)

// WireSchema is the record layout sent on DoPut and returned for lookups.
var WireSchema = arrow.NewSchema([]arrow.Field{
	{Name: dataset.ColumnID, Type: arrow.BinaryTypes.String},
	{Name: dataset.ColumnText, Type: arrow.BinaryTypes.String},
	{Name: dataset.ColumnIntFilter, Type: arrow.PrimitiveTypes.Uint32},
	{Name: dataset.ColumnKeywordFilter, Type: arrow.BinaryTypes.String},
	{Name: dataset.ColumnTag, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: dataset.ColumnDense, Type: arrow.ListOf(arrow.PrimitiveTypes.Float32), Nullable: true},
}, nil)

// TicketFilter is one predicate of a ticket.
type TicketFilter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// SearchRequest asks for the k nearest documents to Vector.
type SearchRequest struct {
	Dataset string         `json:"dataset"`
	Vector  []float32      `json:"vector"`
	K       int            `json:"k"`
	Filters []TicketFilter `json:"filters,omitempty"`
}

// Ticket is the DoGet ticket payload: either a filtered scan of Name or a
// Search.
type Ticket struct {
	Name    string         `json:"name,omitempty"`
	Limit   int64          `json:"limit,omitempty"`
	Filters []TicketFilter `json:"filters,omitempty"`
	Search  *SearchRequest `json:"search,omitempty"`
}

// Provider is a Flight-backed provider.
type Provider struct {
	client *client.SmartClient
	mem    memory.Allocator
}

// New connects to the Flight server at addr.
func New(addr string) (*Provider, error) {
	sc, err := client.NewSmartClient(addr)
	if err != nil {
		return nil, err
	}
	return &Provider{client: sc, mem: memory.DefaultAllocator}, nil
}

func (p *Provider) Name() string { return Name }

// Setup is a no-op: the server creates a dataset on its first DoPut.
func (p *Provider) Setup(context.Context, string) error { return nil }

func (p *Provider) Upsert(ctx context.Context, collection string, docs []dataset.Document) error {
	rec := EncodeDocuments(p.mem, docs)
	defer rec.Release()

	stream, err := p.client.DoPut(ctx)
	if err != nil {
		return err
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(WireSchema), ipc.WithAllocator(p.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{collection}})
	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write records: %w", err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		if _, err := stream.Recv(); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (p *Provider) QueryByID(ctx context.Context, collection, id string) (*dataset.Document, error) {
	tkt := Ticket{
		Name:    collection,
		Filters: []TicketFilter{{Field: dataset.ColumnID, Operator: opEqual, Value: id}},
	}
	body, err := json.Marshal(tkt)
	if err != nil {
		return nil, err
	}

	var docs []dataset.Document
	err = p.client.DoGetRecords(ctx, body, func(rec arrow.Record) error {
		batch, err := dataset.DecodeRecord(rec)
		if err != nil {
			return err
		}
		docs = append(docs, batch...)
		return nil
	})
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return provider.Single(docs)
}

func (p *Provider) Query(ctx context.Context, collection string, vector []float32, topK int, filter provider.Filter) ([]dataset.Document, error) {
	tkt := Ticket{Search: &SearchRequest{
		Dataset: collection,
		Vector:  vector,
		K:       topK,
		Filters: EncodeFilter(filter),
	}}
	body, err := json.Marshal(tkt)
	if err != nil {
		return nil, err
	}

	var docs []dataset.Document
	err = p.client.DoGetRecords(ctx, body, func(rec arrow.Record) error {
		ids, err := decodeIDs(rec)
		if err != nil {
			return err
		}
		for _, id := range ids {
			docs = append(docs, dataset.Document{ID: id})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (p *Provider) Close(context.Context) error {
	return p.client.Close()
}

func (p *Provider) ListCollections(ctx context.Context) ([]string, error) {
	infos, err := p.client.ListFlights(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if d := info.GetFlightDescriptor(); d != nil && len(d.GetPath()) > 0 {
			names = append(names, strings.Join(d.GetPath(), "/"))
		}
	}
	return names, nil
}

func (p *Provider) DeleteCollection(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{"dataset": name})
	if err != nil {
		return err
	}
	_, err = p.client.DoAction(ctx, "delete-dataset", body)
	return err
}

// EncodeFilter renders f as ticket predicates, one per keyword token.
func EncodeFilter(f provider.Filter) []TicketFilter {
	var out []TicketFilter
	if f.Int != nil {
		out = append(out, TicketFilter{
			Field:    dataset.ColumnIntFilter,
			Operator: opLessEqual,
			Value:    strconv.FormatUint(uint64(*f.Int), 10),
		})
	}
	for _, tok := range f.Tokens() {
		out = append(out, TicketFilter{Field: dataset.ColumnKeywordFilter, Operator: opContains, Value: tok})
	}
	return out
}

// DecodeFilter is the inverse of EncodeFilter. Unknown predicates are errors.
func DecodeFilter(filters []TicketFilter) (provider.Filter, error) {
	var (
		f      provider.Filter
		tokens []string
	)
	for _, tf := range filters {
		switch {
		case tf.Field == dataset.ColumnIntFilter && tf.Operator == opLessEqual:
			v, err := strconv.ParseUint(tf.Value, 10, 32)
			if err != nil {
				return provider.Filter{}, fmt.Errorf("invalid int_filter bound %q: %w", tf.Value, err)
			}
			bound := uint32(v)
			f.Int = &bound
		case tf.Field == dataset.ColumnKeywordFilter && tf.Operator == opContains:
			tokens = append(tokens, tf.Value)
		default:
			return provider.Filter{}, fmt.Errorf("unsupported filter %s %s", tf.Field, tf.Operator)
		}
	}
	if len(tokens) > 0 {
		kw := strings.Join(tokens, " ")
		f.Keyword = &kw
	}
	return f, nil
}

// EncodeDocuments builds a WireSchema record. The caller releases it.
func EncodeDocuments(mem memory.Allocator, docs []dataset.Document) arrow.Record {
	b := array.NewRecordBuilder(mem, WireSchema)
	defer b.Release()

	ids := b.Field(0).(*array.StringBuilder)
	texts := b.Field(1).(*array.StringBuilder)
	ints := b.Field(2).(*array.Uint32Builder)
	keywords := b.Field(3).(*array.StringBuilder)
	tags := b.Field(4).(*array.StringBuilder)
	dense := b.Field(5).(*array.ListBuilder)
	denseValues := dense.ValueBuilder().(*array.Float32Builder)

	for _, d := range docs {
		ids.Append(d.ID)
		texts.Append(d.Text)
		ints.Append(d.IntFilter)
		keywords.Append(d.KeywordFilter)
		if d.Tag != nil {
			tags.Append(*d.Tag)
		} else {
			tags.AppendNull()
		}
		if d.DenseEmbedding == nil {
			dense.AppendNull()
		} else {
			dense.Append(true)
			denseValues.AppendValues(d.DenseEmbedding, nil)
		}
	}
	return b.NewRecord()
}

func decodeIDs(rec arrow.Record) ([]string, error) {
	idx := rec.Schema().FieldIndices(dataset.ColumnID)
	if len(idx) == 0 {
		return nil, fmt.Errorf("search result has no %s column", dataset.ColumnID)
	}
	col := rec.Column(idx[0])
	out := make([]string, col.Len())
	for i := range out {
		switch c := col.(type) {
		case *array.String:
			out[i] = strings.Clone(c.Value(i))
		case *array.LargeString:
			out[i] = strings.Clone(c.Value(i))
		case *array.Uint64:
			out[i] = strconv.FormatUint(c.Value(i), 10)
		case *array.Int64:
			out[i] = strconv.FormatInt(c.Value(i), 10)
		default:
			return nil, fmt.Errorf("search result id column has type %s", col.DataType())
		}
	}
	return out, nil
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Cleaner  = (*Provider)(nil)
)
