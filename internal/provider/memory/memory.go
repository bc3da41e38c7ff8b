// Package memory implements an in-process provider backed by an HNSW graph.
// Writes become visible to reads after a configurable delay so freshness
// probing has something to measure.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/23skdu/vecbench/internal/dataset"
	"github.com/23skdu/vecbench/internal/provider"
)

const Name = "memory"

// Config configures the memory provider.
type Config struct {
	// VisibilityDelay is how long an upserted document stays invisible.
	VisibilityDelay time.Duration
	// M and EfSearch tune the HNSW graph; zero keeps the library defaults.
	M        int
	EfSearch int
	// Clock overrides time.Now.
	Clock func() time.Time
}

type stored struct {
	doc       dataset.Document
	visibleAt time.Time
}

type collection struct {
	mu    sync.Mutex
	graph *hnsw.Graph[uint64]
	docs  map[uint64]stored
	dims  int
	// stale is set when a document was replaced; the graph is rebuilt from
	// docs before the next search instead of being edited in place.
	stale bool

	newGraph func() *hnsw.Graph[uint64]
}

// Provider is an in-process vector store.
type Provider struct {
	cfg   Config
	clock func() time.Time

	mu          sync.RWMutex
	collections map[string]*collection
}

func New(cfg Config) *Provider {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Provider{
		cfg:         cfg,
		clock:       clock,
		collections: make(map[string]*collection),
	}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	if p.cfg.M > 0 {
		g.M = p.cfg.M
	}
	if p.cfg.EfSearch > 0 {
		g.EfSearch = p.cfg.EfSearch
	}
	return g
}

func (p *Provider) newCollection() *collection {
	return &collection{graph: p.newGraph(), docs: make(map[uint64]stored), newGraph: p.newGraph}
}

// rebuild replaces the graph with one holding every stored embedding.
func (c *collection) rebuild() {
	keys := make([]uint64, 0, len(c.docs))
	for key, s := range c.docs {
		if len(s.doc.DenseEmbedding) > 0 {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	g := c.newGraph()
	for _, key := range keys {
		g.Add(hnsw.MakeNode(key, c.docs[key].doc.DenseEmbedding))
	}
	c.graph = g
	c.stale = false
}

func (p *Provider) Setup(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.collections[name]; !ok {
		p.collections[name] = p.newCollection()
	}
	return nil
}

func (p *Provider) collection(name string) (*collection, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q does not exist", name)
	}
	return c, nil
}

func (p *Provider) Upsert(ctx context.Context, name string, docs []dataset.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := p.collection(name)
	if err != nil {
		return err
	}

	keys := make([]uint64, len(docs))
	for i, d := range docs {
		if keys[i], err = d.NumericID(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range docs {
		if n := len(d.DenseEmbedding); n > 0 && c.dims > 0 && n != c.dims {
			return fmt.Errorf("document %s has %d dimensions, collection has %d", d.ID, n, c.dims)
		}
	}

	visibleAt := p.clock().Add(p.cfg.VisibilityDelay)
	for i, d := range docs {
		key := keys[i]
		if len(d.DenseEmbedding) > 0 {
			if c.dims == 0 {
				c.dims = len(d.DenseEmbedding)
			}
			vec := make([]float32, len(d.DenseEmbedding))
			copy(vec, d.DenseEmbedding)
			d.DenseEmbedding = vec
		}
		if _, exists := c.docs[key]; exists {
			c.stale = true
		} else if !c.stale && len(d.DenseEmbedding) > 0 {
			c.graph.Add(hnsw.MakeNode(key, d.DenseEmbedding))
		}
		c.docs[key] = stored{doc: d, visibleAt: visibleAt}
	}
	return nil
}

func (p *Provider) QueryByID(ctx context.Context, name, id string) (*dataset.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := p.collection(name)
	if err != nil {
		return nil, err
	}
	key, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, nil
	}

	now := p.clock()
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.docs[key]
	if !ok || now.Before(s.visibleAt) {
		return nil, nil
	}
	doc := result(s.doc)
	return &doc, nil
}

func (p *Provider) Query(ctx context.Context, name string, vector []float32, topK int, filter provider.Filter) ([]dataset.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := p.collection(name)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	now := p.clock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dims > 0 && len(vector) != c.dims {
		return nil, fmt.Errorf("query has %d dimensions, collection has %d", len(vector), c.dims)
	}
	if c.stale {
		c.rebuild()
	}
	if c.graph.Len() == 0 {
		return nil, nil
	}

	if filter.IsZero() {
		return c.searchGraph(vector, topK, now), nil
	}
	return c.scan(vector, topK, filter, now), nil
}

// searchGraph runs an approximate search, widening the candidate list by the
// number of documents that are not yet visible.
func (c *collection) searchGraph(vector []float32, topK int, now time.Time) []dataset.Document {
	hidden := 0
	for _, s := range c.docs {
		if now.Before(s.visibleAt) {
			hidden++
		}
	}

	var out []dataset.Document
	for _, n := range c.graph.Search(vector, topK+hidden) {
		s, ok := c.docs[n.Key]
		if !ok || now.Before(s.visibleAt) {
			continue
		}
		out = append(out, result(s.doc))
		if len(out) == topK {
			break
		}
	}
	return out
}

// scan ranks every visible matching document exactly. Filtered queries are
// answered this way because graph search cannot prune by payload.
func (c *collection) scan(vector []float32, topK int, filter provider.Filter, now time.Time) []dataset.Document {
	type scored struct {
		key  uint64
		dist float32
	}
	var candidates []scored
	for key, s := range c.docs {
		if now.Before(s.visibleAt) || len(s.doc.DenseEmbedding) == 0 || !filter.Matches(s.doc) {
			continue
		}
		candidates = append(candidates, scored{key: key, dist: hnsw.CosineDistance(vector, s.doc.DenseEmbedding)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist == candidates[j].dist {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].dist < candidates[j].dist
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]dataset.Document, len(candidates))
	for i, cand := range candidates {
		out[i] = result(c.docs[cand.key].doc)
	}
	return out
}

// result strips the embedding; query results never carry vectors.
func result(d dataset.Document) dataset.Document {
	d.DenseEmbedding = nil
	return d
}

func (p *Provider) Close(context.Context) error {
	return nil
}

func (p *Provider) ListCollections(context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.collections))
	for name := range p.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p *Provider) DeleteCollection(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, name)
	return nil
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Cleaner  = (*Provider)(nil)
)
