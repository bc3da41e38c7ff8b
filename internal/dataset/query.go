package dataset

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// Default ground-truth keys used when a run has no int or keyword filter.
const (
	DefaultIntFilter     uint32 = 10000
	DefaultKeywordFilter        = "10000"
)

// GroundTruth maps int_filter -> keyword_filter -> ordered document ids.
// Non-positive ids are padding.
type GroundTruth map[uint32]map[string][]int64

// Query is one read record.
type Query struct {
	Dense  []float32   `json:"dense"`
	Recall GroundTruth `json:"recall"`
}

// Expected returns the relevant ids for the given filters: the positive ids of
// the matching ground-truth entry, truncated to topK. Nil filters select the
// default keys.
func (q Query) Expected(intFilter *uint32, keywordFilter *string, topK int) []int64 {
	ik := DefaultIntFilter
	if intFilter != nil {
		ik = *intFilter
	}
	kk := DefaultKeywordFilter
	if keywordFilter != nil {
		kk = *keywordFilter
	}

	var out []int64
	for _, id := range q.Recall[ik][kk] {
		if id <= 0 {
			continue
		}
		if len(out) == topK {
			break
		}
		out = append(out, id)
	}
	return out
}

// UnmarshalJSON accepts both a JSON object keyed by filter value and the Arrow
// map encoding, a list of {"key": ..., "value": ...} entries.
func (g *GroundTruth) UnmarshalJSON(data []byte) error {
	out := make(GroundTruth)
	err := decodeMap(data, func(key string, value []byte) error {
		ik, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return fmt.Errorf("recall key %q is not an int_filter: %w", key, err)
		}
		inner := make(map[string][]int64)
		err = decodeMap(value, func(kw string, ids []byte) error {
			var list []int64
			if err := json.Unmarshal(ids, &list); err != nil {
				return fmt.Errorf("recall ids for %s/%s: %w", key, kw, err)
			}
			inner[kw] = list
			return nil
		})
		if err != nil {
			return err
		}
		out[uint32(ik)] = inner
		return nil
	})
	if err != nil {
		return err
	}
	*g = out
	return nil
}

type mapEntry struct {
	Key   json.RawMessage `json:"key"`
	Value json.RawMessage `json:"value"`
}

func decodeMap(data []byte, fn func(key string, value []byte) error) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '[' {
		var entries []mapEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return err
		}
		for _, e := range entries {
			if err := fn(rawKey(e.Key), e.Value); err != nil {
				return err
			}
		}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for k, v := range obj {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

// rawKey renders a JSON map key (number or string) as a string.
func rawKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
