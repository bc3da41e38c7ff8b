package dataset

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/vecbench/internal/errors"
)

func sampleDocs(n int) []Document {
	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{
			ID:             strconv.Itoa(i + 1),
			Text:           "doc " + strconv.Itoa(i+1),
			IntFilter:      uint32(i * 100),
			KeywordFilter:  "10 100 1000",
			DenseEmbedding: []float32{float32(i), 0.5, -1},
		}
	}
	return docs
}

func writeDataset(t *testing.T, docs []Document, rowGroup int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docs.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteDocuments(f, docs, rowGroup))
	_ = f.Close()
	return path
}

func TestMaxID(t *testing.T) {
	docs := []Document{{ID: "7"}, {ID: "42"}, {ID: "3"}}
	maxID, err := MaxID(docs)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), maxID)

	docs = append(docs, Document{ID: "abc"})
	_, err = MaxID(docs)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = MaxID(nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestApproxSize(t *testing.T) {
	d := Document{ID: "12", Text: "hello", KeywordFilter: "10 100", DenseEmbedding: make([]float32, 8)}
	assert.Equal(t, 2+5+4+6+32, d.ApproxSize())

	d.DenseEmbedding = nil
	assert.Equal(t, 2+5+4+6, d.ApproxSize())
	assert.Equal(t, 2*(2+5+4+6), BatchSize([]Document{d, d}))
}

func TestDocumentSchema_DenseColumn(t *testing.T) {
	idx := DocumentSchema.FieldIndices(ColumnDense)
	require.Len(t, idx, 1)
	assert.Equal(t, arrow.LIST, DocumentSchema.Field(idx[0]).Type.ID(), "pqarrow writes list columns, not large lists")
}

func TestBatchReader_RechunksAcrossRowGroups(t *testing.T) {
	docs := sampleDocs(7)
	docs[2].DenseEmbedding = nil
	path := writeDataset(t, docs, 4)

	r, err := OpenBatchReader(path, 3)
	require.NoError(t, err)
	defer r.Close()

	var sizes []int
	var all []Document
	for {
		batch, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		sizes = append(sizes, len(batch))
		all = append(all, batch...)
	}

	assert.Equal(t, []int{3, 3, 1}, sizes)
	require.Len(t, all, 7)
	assert.Equal(t, "1", all[0].ID)
	assert.Equal(t, "doc 1", all[0].Text)
	assert.Equal(t, uint32(600), all[6].IntFilter)
	assert.Equal(t, "10 100 1000", all[6].KeywordFilter)
	assert.Equal(t, []float32{6, 0.5, -1}, all[6].DenseEmbedding)
	assert.NotNil(t, all[2].DenseEmbedding)
	assert.Empty(t, all[2].DenseEmbedding, "null dense decodes to an empty vector")
	assert.Nil(t, all[0].Tag)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestOpenBatchReader_Errors(t *testing.T) {
	_, err := OpenBatchReader("does-not-exist.parquet", 10)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataset))

	path := writeDataset(t, sampleDocs(1), 0)
	_, err = OpenBatchReader(path, 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestDecodeRecord_MissingColumn(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: ColumnID, Type: arrow.BinaryTypes.String},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).Append("1")
	rec := b.NewRecord()
	defer rec.Release()

	_, err := DecodeRecord(rec)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), ColumnText)
}

func TestCyclicReader_Wraps(t *testing.T) {
	path := writeDataset(t, sampleDocs(5), 0)
	c, err := NewCyclicReader(path, 2)
	require.NoError(t, err)
	defer c.Close()

	var ids []string
	for i := 0; i < 5; i++ {
		batch, err := c.Next()
		require.NoError(t, err)
		for _, d := range batch {
			ids = append(ids, d.ID)
		}
	}
	assert.Equal(t, "1 2 3 4 5 1 2 3 4", strings.Join(ids, " "), "the tail batch is short; the wrap starts a fresh batch")
}

func TestCyclicReader_EmptyDataset(t *testing.T) {
	path := writeDataset(t, nil, 0)
	c, err := NewCyclicReader(path, 2)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Next()
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestGroundTruth_ObjectForm(t *testing.T) {
	var q Query
	line := `{"dense":[0.1,0.2],"recall":{"10000":{"10000":[5,-1,3,0,9],"100":[7]},"100":{"10000":[2]}}}`
	require.NoError(t, json.Unmarshal([]byte(line), &q))

	assert.Equal(t, []float32{0.1, 0.2}, q.Dense)
	assert.Equal(t, []int64{5, -1, 3, 0, 9}, q.Recall[10000]["10000"])
	assert.Equal(t, []int64{7}, q.Recall[10000]["100"])
	assert.Equal(t, []int64{2}, q.Recall[100]["10000"])
}

func TestGroundTruth_ArrowMapForm(t *testing.T) {
	var q Query
	line := `{"dense":[1],"recall":[{"key":10000,"value":[{"key":"10000","value":[1,2,3]}]},{"key":1000,"value":[{"key":"10","value":[4]}]}]}`
	require.NoError(t, json.Unmarshal([]byte(line), &q))

	assert.Equal(t, []int64{1, 2, 3}, q.Recall[10000]["10000"])
	assert.Equal(t, []int64{4}, q.Recall[1000]["10"])
}

func TestGroundTruth_Null(t *testing.T) {
	var q Query
	require.NoError(t, json.Unmarshal([]byte(`{"dense":[1],"recall":null}`), &q))
	assert.Empty(t, q.Recall)
}

func TestQuery_Expected(t *testing.T) {
	q := Query{Recall: GroundTruth{
		10000: {"10000": {5, -1, 3, 0, 9, 11}},
		100:   {"10000": {2}, "10": {8, 4}},
	}}

	assert.Equal(t, []int64{5, 3, 9, 11}, q.Expected(nil, nil, 10))
	assert.Equal(t, []int64{5, 3}, q.Expected(nil, nil, 2))

	bound := uint32(100)
	assert.Equal(t, []int64{2}, q.Expected(&bound, nil, 10))

	kw := "10"
	assert.Equal(t, []int64{8, 4}, q.Expected(&bound, &kw, 10))

	missing := "missing"
	assert.Empty(t, q.Expected(nil, &missing, 10))
}

func TestDecodeQueries(t *testing.T) {
	input := `{"dense":[1,2],"recall":{"10000":{"10000":[1]}}}

{"dense":[3,4],"recall":{}}
`
	qs, err := DecodeQueries(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, []float32{3, 4}, qs[1].Dense)

	_, err = DecodeQueries(strings.NewReader("{not json}\n"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeDataset))
}

func TestLoadQueries_JSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"dense":[0.5],"recall":{"10000":{"10000":[1,2]}}}`+"\n"), 0o644))

	qs, err := LoadQueries(path)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, []int64{1, 2}, qs[0].Expected(nil, nil, 10))
}
