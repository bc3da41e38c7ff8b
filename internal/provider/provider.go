package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/23skdu/vecbench/internal/dataset"
)

// ErrMultipleMatches is returned when a point lookup matches more than one
// document.
var ErrMultipleMatches = errors.New("query by id matched more than one document")

// Provider is the storage backend under test. Every call may be slow, may fail
// and must honour ctx cancellation.
type Provider interface {
	Name() string
	Setup(ctx context.Context, collection string) error
	Upsert(ctx context.Context, collection string, docs []dataset.Document) error
	// QueryByID returns nil, nil when the document is not visible.
	QueryByID(ctx context.Context, collection, id string) (*dataset.Document, error)
	Query(ctx context.Context, collection string, vector []float32, topK int, filter Filter) ([]dataset.Document, error)
	Close(ctx context.Context) error
}

// Cleaner is implemented by providers that can enumerate and drop collections.
type Cleaner interface {
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
}

// Filter restricts a query to documents with int_filter <= Int and containing
// every token of Keyword. Nil fields do not filter.
type Filter struct {
	Int     *uint32
	Keyword *string
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Int == nil && f.Keyword == nil
}

// Tokens splits the keyword filter on whitespace.
func (f Filter) Tokens() []string {
	if f.Keyword == nil {
		return nil
	}
	return strings.Fields(*f.Keyword)
}

// Matches evaluates the filter against a document.
func (f Filter) Matches(d dataset.Document) bool {
	if f.Int != nil && d.IntFilter > *f.Int {
		return false
	}
	if f.Keyword == nil {
		return true
	}
	have := strings.Fields(d.KeywordFilter)
	for _, want := range f.Tokens() {
		found := false
		for _, tok := range have {
			if tok == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Single returns the only element of docs, nil for none, and
// ErrMultipleMatches for more than one.
func Single(docs []dataset.Document) (*dataset.Document, error) {
	switch len(docs) {
	case 0:
		return nil, nil
	case 1:
		d := docs[0]
		return &d, nil
	default:
		return nil, ErrMultipleMatches
	}
}
