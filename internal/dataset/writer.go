package dataset

import (
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// DocumentSchema is the on-disk layout of a document dataset.
var DocumentSchema = arrow.NewSchema([]arrow.Field{
	{Name: ColumnID, Type: arrow.BinaryTypes.LargeString},
	{Name: ColumnText, Type: arrow.BinaryTypes.LargeString},
	{Name: ColumnDense, Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true},
	{Name: ColumnIntFilter, Type: arrow.PrimitiveTypes.Int32},
	{Name: ColumnKeywordFilter, Type: arrow.BinaryTypes.LargeString},
}, nil)

// WriteDocuments writes docs as a parquet dataset readable by OpenBatchReader.
// Each rowGroupSize slice of docs becomes one row group; zero writes a single
// group. Sinks implementing io.Closer are closed by the parquet writer.
func WriteDocuments(w io.Writer, docs []Document, rowGroupSize int) error {
	if rowGroupSize <= 0 {
		rowGroupSize = len(docs)
	}

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(DocumentSchema, w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	b := array.NewRecordBuilder(memory.NewGoAllocator(), DocumentSchema)
	defer b.Release()

	for start := 0; start < len(docs); start += rowGroupSize {
		end := start + rowGroupSize
		if end > len(docs) {
			end = len(docs)
		}

		ids := b.Field(0).(*array.LargeStringBuilder)
		texts := b.Field(1).(*array.LargeStringBuilder)
		dense := b.Field(2).(*array.ListBuilder)
		denseValues := dense.ValueBuilder().(*array.Float64Builder)
		ints := b.Field(3).(*array.Int32Builder)
		keywords := b.Field(4).(*array.LargeStringBuilder)

		for _, d := range docs[start:end] {
			ids.Append(d.ID)
			texts.Append(d.Text)
			if d.DenseEmbedding == nil {
				dense.AppendNull()
			} else {
				dense.Append(true)
				for _, v := range d.DenseEmbedding {
					denseValues.Append(float64(v))
				}
			}
			ints.Append(int32(d.IntFilter))
			keywords.Append(d.KeywordFilter)
		}

		rec := b.NewRecord()
		err := fw.Write(rec)
		rec.Release()
		if err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to write documents: %w", err)
		}
	}

	return fw.Close()
}
