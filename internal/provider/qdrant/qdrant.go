// Package qdrant implements a provider over Qdrant's gRPC API.
package qdrant

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"

	qpb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/provider"
)

const Name = "qdrant"

// Payload keys.
const (
	fieldText          = "text"
	fieldIntFilter     = "int_filter"
	fieldKeywordFilter = "keyword_filter"
	fieldTag           = "tag"
)

// Config holds connection settings.
type Config struct {
	Addr       string
	APIKey     string
	UseTLS     bool
	VectorSize uint64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6334",
		VectorSize: 768,
	}
}

// Provider talks to Qdrant through the raw gRPC service clients.
type Provider struct {
	cfg         Config
	conn        *grpc.ClientConn
	points      qpb.PointsClient
	collections qpb.CollectionsClient
}

func New(cfg Config) (*Provider, error) {
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &Provider{
		cfg:         cfg,
		conn:        conn,
		points:      qpb.NewPointsClient(conn),
		collections: qpb.NewCollectionsClient(conn),
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Setup(ctx context.Context, collection string) error {
	names, err := p.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == collection {
			return nil
		}
	}

	_, err = p.collections.Create(ctx, &qpb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &qpb.VectorsConfig{
			Config: &qpb.VectorsConfig_Params{
				Params: &qpb.VectorParams{Size: p.cfg.VectorSize, Distance: qpb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}

	wait := true
	indexes := []struct {
		field string
		typ   qpb.FieldType
	}{
		{fieldIntFilter, qpb.FieldType_FieldTypeInteger},
		{fieldKeywordFilter, qpb.FieldType_FieldTypeKeyword},
	}
	for _, idx := range indexes {
		_, err := p.points.CreateFieldIndex(ctx, &qpb.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      idx.field,
			FieldType:      idx.typ.Enum(),
			Wait:           &wait,
		})
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", idx.field, err)
		}
	}
	return nil
}

func (p *Provider) Upsert(ctx context.Context, collection string, docs []dataset.Document) error {
	points := make([]*qpb.PointStruct, 0, len(docs))
	for _, d := range docs {
		pt, err := toPoint(d)
		if err != nil {
			return err
		}
		points = append(points, pt)
	}

	wait := true
	_, err := p.points.Upsert(ctx, &qpb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	return err
}

func (p *Provider) QueryByID(ctx context.Context, collection, id string) (*dataset.Document, error) {
	num, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, nil
	}
	resp, err := p.points.Get(ctx, &qpb.GetPoints{
		CollectionName: collection,
		Ids:            []*qpb.PointId{numericID(num)},
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, err
	}

	docs := make([]dataset.Document, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		docs = append(docs, toDocument(pt.GetId(), pt.GetPayload()))
	}
	return provider.Single(docs)
}

func (p *Provider) Query(ctx context.Context, collection string, vector []float32, topK int, filter provider.Filter) ([]dataset.Document, error) {
	resp, err := p.points.Search(ctx, &qpb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         buildFilter(filter),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, err
	}

	docs := make([]dataset.Document, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		docs = append(docs, toDocument(pt.GetId(), pt.GetPayload()))
	}
	return docs, nil
}

func (p *Provider) Close(context.Context) error {
	return p.conn.Close()
}

func (p *Provider) ListCollections(ctx context.Context) ([]string, error) {
	resp, err := p.collections.List(ctx, &qpb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	names := make([]string, 0, len(resp.GetCollections()))
	for _, c := range resp.GetCollections() {
		names = append(names, c.GetName())
	}
	return names, nil
}

func (p *Provider) DeleteCollection(ctx context.Context, name string) error {
	_, err := p.collections.Delete(ctx, &qpb.DeleteCollection{CollectionName: name})
	return err
}

func numericID(n uint64) *qpb.PointId {
	return &qpb.PointId{PointIdOptions: &qpb.PointId_Num{Num: n}}
}

func withPayload() *qpb.WithPayloadSelector {
	return &qpb.WithPayloadSelector{SelectorOptions: &qpb.WithPayloadSelector_Enable{Enable: true}}
}

func stringValue(s string) *qpb.Value {
	return &qpb.Value{Kind: &qpb.Value_StringValue{StringValue: s}}
}

// toPoint maps a document onto a point. keyword_filter is stored as a token
// list so keyword matches hit individual tokens.
func toPoint(d dataset.Document) (*qpb.PointStruct, error) {
	id, err := d.NumericID()
	if err != nil {
		return nil, err
	}

	tokens := strings.Fields(d.KeywordFilter)
	values := make([]*qpb.Value, len(tokens))
	for i, tok := range tokens {
		values[i] = stringValue(tok)
	}

	payload := map[string]*qpb.Value{
		fieldText:          stringValue(d.Text),
		fieldIntFilter:     {Kind: &qpb.Value_IntegerValue{IntegerValue: int64(d.IntFilter)}},
		fieldKeywordFilter: {Kind: &qpb.Value_ListValue{ListValue: &qpb.ListValue{Values: values}}},
	}
	if d.Tag != nil {
		payload[fieldTag] = stringValue(*d.Tag)
	}

	return &qpb.PointStruct{
		Id: numericID(id),
		Vectors: &qpb.Vectors{
			VectorsOptions: &qpb.Vectors_Vector{
				Vector: &qpb.Vector{Vector: &qpb.Vector_Dense{Dense: &qpb.DenseVector{Data: d.DenseEmbedding}}},
			},
		},
		Payload: payload,
	}, nil
}

func toDocument(id *qpb.PointId, payload map[string]*qpb.Value) dataset.Document {
	d := dataset.Document{
		ID:        strconv.FormatUint(id.GetNum(), 10),
		Text:      payload[fieldText].GetStringValue(),
		IntFilter: uint32(payload[fieldIntFilter].GetIntegerValue()),
	}
	if id.GetUuid() != "" {
		d.ID = id.GetUuid()
	}

	kw := payload[fieldKeywordFilter]
	if list := kw.GetListValue(); list != nil {
		tokens := make([]string, 0, len(list.GetValues()))
		for _, v := range list.GetValues() {
			tokens = append(tokens, v.GetStringValue())
		}
		d.KeywordFilter = strings.Join(tokens, " ")
	} else {
		d.KeywordFilter = kw.GetStringValue()
	}

	if tag, ok := payload[fieldTag]; ok {
		s := tag.GetStringValue()
		d.Tag = &s
	}
	return d
}

func buildFilter(f provider.Filter) *qpb.Filter {
	if f.IsZero() {
		return nil
	}
	var must []*qpb.Condition
	if f.Int != nil {
		lte := float64(*f.Int)
		must = append(must, &qpb.Condition{ConditionOneOf: &qpb.Condition_Field{Field: &qpb.FieldCondition{
			Key:   fieldIntFilter,
			Range: &qpb.Range{Lte: &lte},
		}}})
	}
	for _, tok := range f.Tokens() {
		must = append(must, &qpb.Condition{ConditionOneOf: &qpb.Condition_Field{Field: &qpb.FieldCondition{
			Key:   fieldKeywordFilter,
			Match: &qpb.Match{MatchValue: &qpb.Match_Keyword{Keyword: tok}},
		}}})
	}
	return &qpb.Filter{Must: must}
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Cleaner  = (*Provider)(nil)
)
