// Package providertest provides a scriptable in-memory provider for tests.
package providertest

import (
	"context"
	"sync"
	"time"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/provider"
)

// Stub records calls and fails them according to a script. Errors in
// UpsertErrors and QueryErrors are returned by successive calls, one each,
// before calls start succeeding.
type Stub struct {
	mu sync.Mutex

	UpsertErrors []error
	QueryErrors  []error
	// NotFoundPolls is how many QueryByID calls per id report "not found"
	// before the document becomes visible.
	NotFoundPolls int
	// NeverVisible makes QueryByID always report "not found".
	NeverVisible bool
	// UpsertGate, when set, blocks every Upsert until it is closed or ctx ends.
	UpsertGate chan struct{}
	// UpsertHold, when set, blocks every Upsert until it is closed, ignoring ctx.
	UpsertHold chan struct{}
	// QueryDelay is slept (honouring ctx) by every Query.
	QueryDelay time.Duration
	// Results is returned by Query; nil returns no documents.
	Results []dataset.Document
	// SetupErr is returned by Setup.
	SetupErr error

	upserts       [][]dataset.Document
	upsertCalls   int
	queryCalls    int
	lookups       map[string]int
	queries       int
	closed        bool
	setupCalls    int
	collections   map[string]bool
	deletedNames  []string
	queryFilters  []provider.Filter
	upsertedTotal int
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Setup(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupCalls++
	if s.SetupErr != nil {
		return s.SetupErr
	}
	if s.collections == nil {
		s.collections = make(map[string]bool)
	}
	s.collections[collection] = true
	return nil
}

func (s *Stub) Upsert(ctx context.Context, _ string, docs []dataset.Document) error {
	if s.UpsertHold != nil {
		<-s.UpsertHold
	}
	if s.UpsertGate != nil {
		select {
		case <-s.UpsertGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if len(s.UpsertErrors) > 0 {
		err := s.UpsertErrors[0]
		s.UpsertErrors = s.UpsertErrors[1:]
		return err
	}
	s.upserts = append(s.upserts, dataset.Clone(docs))
	s.upsertedTotal += len(docs)
	return nil
}

func (s *Stub) QueryByID(ctx context.Context, _ string, id string) (*dataset.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookups == nil {
		s.lookups = make(map[string]int)
	}
	s.lookups[id]++
	if s.NeverVisible || s.lookups[id] <= s.NotFoundPolls {
		return nil, nil
	}
	return &dataset.Document{ID: id}, nil
}

func (s *Stub) Query(ctx context.Context, _ string, _ []float32, topK int, filter provider.Filter) ([]dataset.Document, error) {
	if s.QueryDelay > 0 {
		t := time.NewTimer(s.QueryDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCalls++
	s.queryFilters = append(s.queryFilters, filter)
	if len(s.QueryErrors) > 0 {
		err := s.QueryErrors[0]
		s.QueryErrors = s.QueryErrors[1:]
		return nil, err
	}
	s.queries++
	out := s.Results
	if len(out) > topK {
		out = out[:topK]
	}
	return dataset.Clone(out), nil
}

func (s *Stub) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Stub) ListCollections(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.collections {
		out = append(out, name)
	}
	return out, nil
}

func (s *Stub) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	s.deletedNames = append(s.deletedNames, name)
	return nil
}

// Upserts returns the successfully upserted batches.
func (s *Stub) Upserts() [][]dataset.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]dataset.Document(nil), s.upserts...)
}

// UpsertCalls counts every Upsert attempt, failed or not.
func (s *Stub) UpsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls
}

// UpsertedDocs counts documents across successful upserts.
func (s *Stub) UpsertedDocs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertedTotal
}

// Lookups returns how many QueryByID calls were made for id.
func (s *Stub) Lookups(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups[id]
}

// QueryCalls counts every Query attempt, failed or not.
func (s *Stub) QueryCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCalls
}

// SuccessfulQueries counts queries that returned results.
func (s *Stub) SuccessfulQueries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

// QueryFilters returns the filters passed to each Query call.
func (s *Stub) QueryFilters() []provider.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Filter(nil), s.queryFilters...)
}

// SetupCalls counts Setup calls.
func (s *Stub) SetupCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupCalls
}

// Closed reports whether Close was called.
func (s *Stub) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Deleted returns the collections dropped through DeleteCollection.
func (s *Stub) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deletedNames...)
}

var (
	_ provider.Provider = (*Stub)(nil)
	_ provider.Cleaner  = (*Stub)(nil)
)
