package dataset

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/23skdu/vecbench/internal/errors"
)

// Required dataset columns.
const (
	ColumnID            = "id"
	ColumnText          = "text"
	ColumnDense         = "dense"
	ColumnIntFilter     = "int_filter"
	ColumnKeywordFilter = "keyword_filter"
	// ColumnTag is optional.
	ColumnTag = "tag"
)

// Source yields batches of documents. Next returns io.EOF once exhausted.
type Source interface {
	Next() ([]Document, error)
}

// BatchReader decodes a parquet dataset into fixed-size document batches.
type BatchReader struct {
	path      string
	batchSize int
	pf        *file.Reader
	rr        pqarrow.RecordReader
	pending   []Document
	eof       bool
}

// OpenBatchReader opens a local parquet dataset.
func OpenBatchReader(path string, batchSize int) (*BatchReader, error) {
	if batchSize <= 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "open_dataset", "batch size must be positive, got %d", batchSize)
	}

	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, errors.WrapDatasetError(err, "open_dataset", "failed to open parquet file").
			WithContext("path", path)
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(batchSize)}, memory.DefaultAllocator)
	if err != nil {
		_ = pf.Close()
		return nil, errors.WrapDatasetError(err, "open_dataset", "failed to create arrow reader")
	}

	rr, err := fr.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		_ = pf.Close()
		return nil, errors.WrapDatasetError(err, "open_dataset", "failed to create record reader")
	}

	return &BatchReader{
		path:      path,
		batchSize: batchSize,
		pf:        pf,
		rr:        rr,
	}, nil
}

// Next returns the next batch of exactly batchSize documents; the final batch
// may be shorter. It returns io.EOF after the last batch.
func (r *BatchReader) Next() ([]Document, error) {
	for !r.eof && len(r.pending) < r.batchSize {
		rec, err := r.rr.Read()
		if err == io.EOF {
			r.eof = true
			break
		}
		if err != nil {
			return nil, errors.WrapDatasetError(err, "read_dataset", "failed to read record batch").
				WithContext("path", r.path)
		}
		docs, err := DecodeRecord(rec)
		if err != nil {
			return nil, err
		}
		r.pending = append(r.pending, docs...)
	}

	if len(r.pending) == 0 {
		return nil, io.EOF
	}

	n := r.batchSize
	if n > len(r.pending) {
		n = len(r.pending)
	}
	batch := make([]Document, n)
	copy(batch, r.pending[:n])
	r.pending = r.pending[n:]
	return batch, nil
}

func (r *BatchReader) Close() error {
	r.rr.Release()
	return r.pf.Close()
}

type stringColumn interface {
	arrow.Array
	Value(i int) string
}

func column(rec arrow.Record, name string) (arrow.Array, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, errors.NewValidationError("decode", "missing required column "+name).
			WithContext("column", name)
	}
	return rec.Column(idx[0]), nil
}

func stringCol(rec arrow.Record, name string) (stringColumn, error) {
	col, err := column(rec, name)
	if err != nil {
		return nil, err
	}
	switch c := col.(type) {
	case *array.String:
		return c, nil
	case *array.LargeString:
		return c, nil
	default:
		return nil, errors.NewValidationError("decode", fmt.Sprintf("column %s has type %s, want string", name, col.DataType())).
			WithContext("column", name)
	}
}

func intFilterCol(rec arrow.Record) (func(i int) uint32, error) {
	col, err := column(rec, ColumnIntFilter)
	if err != nil {
		return nil, err
	}
	switch c := col.(type) {
	case *array.Int32:
		return func(i int) uint32 { return uint32(c.Value(i)) }, nil
	case *array.Int64:
		return func(i int) uint32 { return uint32(c.Value(i)) }, nil
	case *array.Uint32:
		return c.Value, nil
	case *array.Uint64:
		return func(i int) uint32 { return uint32(c.Value(i)) }, nil
	default:
		return nil, errors.NewValidationError("decode", fmt.Sprintf("column int_filter has type %s, want integer", col.DataType()))
	}
}

func denseCol(rec arrow.Record) (func(i int) []float32, error) {
	col, err := column(rec, ColumnDense)
	if err != nil {
		return nil, err
	}
	list, ok := col.(array.ListLike)
	if !ok {
		return nil, errors.NewValidationError("decode", fmt.Sprintf("column dense has type %s, want list of float", col.DataType()))
	}

	var value func(j int) float32
	switch v := list.ListValues().(type) {
	case *array.Float64:
		value = func(j int) float32 { return float32(v.Value(j)) }
	case *array.Float32:
		value = v.Value
	default:
		return nil, errors.NewValidationError("decode", fmt.Sprintf("column dense has element type %s, want float", v.DataType()))
	}

	return func(i int) []float32 {
		if list.IsNull(i) {
			return []float32{}
		}
		start, end := list.ValueOffsets(i)
		vec := make([]float32, 0, end-start)
		for j := start; j < end; j++ {
			vec = append(vec, value(int(j)))
		}
		return vec
	}, nil
}

// DecodeRecord converts one Arrow record into documents. Missing or mistyped
// columns are validation errors.
func DecodeRecord(rec arrow.Record) ([]Document, error) {
	ids, err := stringCol(rec, ColumnID)
	if err != nil {
		return nil, err
	}
	texts, err := stringCol(rec, ColumnText)
	if err != nil {
		return nil, err
	}
	keywords, err := stringCol(rec, ColumnKeywordFilter)
	if err != nil {
		return nil, err
	}
	intFilter, err := intFilterCol(rec)
	if err != nil {
		return nil, err
	}
	dense, err := denseCol(rec)
	if err != nil {
		return nil, err
	}

	var tags stringColumn
	if len(rec.Schema().FieldIndices(ColumnTag)) > 0 {
		if tags, err = stringCol(rec, ColumnTag); err != nil {
			return nil, err
		}
	}

	rows := int(rec.NumRows())
	docs := make([]Document, rows)
	for i := 0; i < rows; i++ {
		docs[i] = Document{
			ID:             strings.Clone(ids.Value(i)),
			Text:           strings.Clone(texts.Value(i)),
			IntFilter:      intFilter(i),
			KeywordFilter:  strings.Clone(keywords.Value(i)),
			DenseEmbedding: dense(i),
		}
		if tags != nil && tags.IsValid(i) {
			tag := strings.Clone(tags.Value(i))
			docs[i].Tag = &tag
		}
	}
	return docs, nil
}
