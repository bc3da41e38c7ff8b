package dataset

import (
	"strconv"

	"github.com/23skdu/vecbench/internal/errors"
)

// Document is one write record.
type Document struct {
	ID            string
	Text          string
	IntFilter     uint32
	KeywordFilter string
	// DenseEmbedding is only populated on upsert; query results leave it nil.
	DenseEmbedding []float32
	Tag            *string
}

// ApproxSize estimates the document's payload in bytes: id, text, the 4-byte
// int_filter, keyword_filter and 4 bytes per embedding component.
func (d Document) ApproxSize() int {
	return len(d.ID) + len(d.Text) + 4 + len(d.KeywordFilter) + 4*len(d.DenseEmbedding)
}

// NumericID parses the document id as an unsigned integer.
func (d Document) NumericID() (uint64, error) {
	return ParseID(d.ID)
}

// ParseID parses a document id. Non-numeric ids are validation errors.
func ParseID(id string) (uint64, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, errors.WrapValidationError(err, "parse_id", "document id is not numeric").
			WithContext("id", id)
	}
	return n, nil
}

// MaxID returns the largest numeric id in docs.
func MaxID(docs []Document) (uint64, error) {
	if len(docs) == 0 {
		return 0, errors.NewValidationError("max_id", "empty batch")
	}
	var maxID uint64
	for _, d := range docs {
		n, err := d.NumericID()
		if err != nil {
			return 0, err
		}
		if n > maxID {
			maxID = n
		}
	}
	return maxID, nil
}

// BatchSize sums ApproxSize over docs.
func BatchSize(docs []Document) int {
	total := 0
	for _, d := range docs {
		total += d.ApproxSize()
	}
	return total
}

// Clone returns a copy of docs sharing the underlying strings and vectors.
func Clone(docs []Document) []Document {
	out := make([]Document, len(docs))
	copy(out, docs)
	return out
}

// Sizes are the recognized dataset size tags.
var Sizes = []string{"100k", "1m", "10m"}

// ValidateSize rejects size tags outside Sizes.
func ValidateSize(size string) error {
	for _, s := range Sizes {
		if s == size {
			return nil
		}
	}
	return errors.NewConfigurationError("validate_size", "invalid size").
		WithContext("size", size).
		WithContext("allowed", Sizes)
}
