package query

import (
	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/errors"
)

// CalculateRecall returns the fraction of the query's expected ids found in
// results. Nil filters select the default ground-truth keys. A non-numeric
// result id, topK above MaxTopK and an empty expected set are all validation
// errors.
func CalculateRecall(results []dataset.Document, q dataset.Query, topK int, intFilter *uint32, keywordFilter *string) (float64, error) {
	if topK > MaxTopK {
		return 0, errors.NewValidationError("calculate_recall", "top_k must be less than or equal to 100").
			WithContext("top_k", topK)
	}

	actual := make(map[uint64]struct{}, len(results))
	for _, doc := range results {
		id, err := doc.NumericID()
		if err != nil {
			return 0, err
		}
		actual[id] = struct{}{}
	}

	expected := make(map[uint64]struct{}, topK)
	for _, id := range q.Expected(intFilter, keywordFilter, topK) {
		expected[uint64(id)] = struct{}{}
	}
	if len(expected) == 0 {
		err := errors.NewValidationError("calculate_recall", "no expected ids for filter combination")
		if intFilter != nil {
			err = err.WithContext("int_filter", *intFilter)
		}
		if keywordFilter != nil {
			err = err.WithContext("keyword_filter", *keywordFilter)
		}
		return 0, err
	}

	found := 0
	for id := range actual {
		if _, ok := expected[id]; ok {
			found++
		}
	}
	return float64(found) / float64(len(expected)), nil
}
