package qdrant

import (
	"testing"

	qpb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/provider"
)

func TestPointRoundTrip(t *testing.T) {
	tag := "tag-3"
	doc := dataset.Document{
		ID:             "42",
		Text:           "hello",
		IntFilter:      700,
		KeywordFilter:  "10 100",
		DenseEmbedding: []float32{0.1, 0.2},
		Tag:            &tag,
	}

	pt, err := toPoint(doc)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), pt.GetId().GetNum())
	assert.Equal(t, []float32{0.1, 0.2}, pt.GetVectors().GetVector().GetDense().GetData())
	assert.Len(t, pt.GetPayload()[fieldKeywordFilter].GetListValue().GetValues(), 2)

	back := toDocument(pt.GetId(), pt.GetPayload())
	assert.Equal(t, "42", back.ID)
	assert.Equal(t, "hello", back.Text)
	assert.Equal(t, uint32(700), back.IntFilter)
	assert.Equal(t, "10 100", back.KeywordFilter)
	require.NotNil(t, back.Tag)
	assert.Equal(t, "tag-3", *back.Tag)
	assert.Nil(t, back.DenseEmbedding)
}

func TestToPoint_NonNumericID(t *testing.T) {
	_, err := toPoint(dataset.Document{ID: "abc"})
	assert.Error(t, err)
}

func TestToDocument_StringKeyword(t *testing.T) {
	d := toDocument(numericID(1), map[string]*qpb.Value{
		fieldKeywordFilter: stringValue("10"),
	})
	assert.Equal(t, "10", d.KeywordFilter)
	assert.Nil(t, d.Tag)
}

func TestBuildFilter(t *testing.T) {
	assert.Nil(t, buildFilter(provider.Filter{}))

	bound := uint32(1000)
	kw := "10 100"
	f := buildFilter(provider.Filter{Int: &bound, Keyword: &kw})
	require.Len(t, f.GetMust(), 3)

	rng := f.GetMust()[0].GetField()
	assert.Equal(t, fieldIntFilter, rng.GetKey())
	assert.Equal(t, 1000.0, rng.GetRange().GetLte())

	assert.Equal(t, "10", f.GetMust()[1].GetField().GetMatch().GetKeyword())
	assert.Equal(t, "100", f.GetMust()[2].GetField().GetMatch().GetKeyword())
}
