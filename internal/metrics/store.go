package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/23skdu/vecbench/internal/concurrency"
)

// RunIDLabel is the label every recorded metric carries.
const RunIDLabel = "run_id"

// Labels is a label set bound to a Recorder. It is shared by every metric the
// recorder produces and must not be mutated after construction.
type Labels map[string]string

// Metric is a single immutable observation.
type Metric struct {
	Name      string
	Value     float64
	Timestamp time.Time
	Labels    Labels
}

// RunID returns the run the metric belongs to.
func (m Metric) RunID() string {
	return m.Labels[RunIDLabel]
}

// Observer receives every metric once it has been appended to the store.
// Observers run on whichever goroutine drains the queue: the consumer, or a
// caller of Snapshot or Flush. They must not block.
type Observer interface {
	Observe(m Metric)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(m Metric)

func (f ObserverFunc) Observe(m Metric) { f(m) }

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp metrics and snapshots.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithObserver registers an observer notified for every appended metric.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observers = append(s.observers, o)
	}
}

// Store is an append-only log of observations. Recorders enqueue onto an
// unbounded queue that a single consumer goroutine appends under the write lock;
// snapshots clone matching metrics under the read lock.
type Store struct {
	clock     func() time.Time
	observers []Observer

	pending *concurrency.LockFreeQueue[Metric]
	notify  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
	once    sync.Once

	mu      sync.RWMutex
	metrics []Metric
}

// NewStore creates a store and starts its consumer.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:   time.Now,
		pending: concurrency.NewLockFreeQueue[Metric](),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.consume()
	return s
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock()
}

func (s *Store) consume() {
	defer close(s.stopped)
	for {
		select {
		case <-s.notify:
			s.drain()
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain moves every pending metric into the log. Draining happens under the
// write lock so that concurrent drainers keep enqueue order.
func (s *Store) drain() {
	s.mu.Lock()
	start := len(s.metrics)
	s.metrics = s.pending.DrainTo(s.metrics)
	var batch []Metric
	if len(s.observers) > 0 && len(s.metrics) > start {
		batch = make([]Metric, len(s.metrics)-start)
		copy(batch, s.metrics[start:])
	}
	s.mu.Unlock()

	for _, m := range batch {
		for _, o := range s.observers {
			o.Observe(m)
		}
	}
}

func (s *Store) append(m Metric) {
	if s.closed.Load() {
		panic("metrics: record on closed store")
	}
	s.pending.Enqueue(m)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Recorder returns a recorder bound to a copy of labels. labels must carry a
// run_id.
func (s *Store) Recorder(labels map[string]string) *Recorder {
	if labels[RunIDLabel] == "" {
		panic("metrics: recorder labels must include run_id")
	}
	bound := make(Labels, len(labels))
	for k, v := range labels {
		bound[k] = v
	}
	return &Recorder{store: s, labels: bound}
}

// Snapshot returns a copy of every metric recorded for runID so far.
func (s *Store) Snapshot(runID string) *Snapshot {
	s.drain()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Metric, 0, len(s.metrics))
	for _, m := range s.metrics {
		if m.Labels[RunIDLabel] == runID {
			out = append(out, m)
		}
	}
	return NewSnapshot(out, s.clock())
}

// Flush drains and returns every metric in the store, clearing it.
func (s *Store) Flush() []Metric {
	s.drain()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.metrics
	s.metrics = nil
	return out
}

// Len returns the number of appended metrics.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics)
}

// Close stops the consumer after a final drain. Recording afterwards panics.
// Metrics remain readable through Snapshot and Flush.
func (s *Store) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		<-s.stopped
	})
}

// Recorder binds a fixed label set to the store.
type Recorder struct {
	store  *Store
	labels Labels
}

// Record appends an observation stamped with the store clock. It never blocks.
func (r *Recorder) Record(name string, value float64) {
	r.store.append(Metric{
		Name:      name,
		Value:     value,
		Timestamp: r.store.clock(),
		Labels:    r.labels,
	})
}

// RecordDuration records d in milliseconds.
func (r *Recorder) RecordDuration(name string, d time.Duration) {
	r.Record(name, float64(d)/float64(time.Millisecond))
}

// With returns a recorder carrying an extra label.
func (r *Recorder) With(key, value string) *Recorder {
	labels := make(Labels, len(r.labels)+1)
	for k, v := range r.labels {
		labels[k] = v
	}
	labels[key] = value
	return &Recorder{store: r.store, labels: labels}
}

// Labels returns the bound labels. Callers must not modify them.
func (r *Recorder) Labels() Labels {
	return r.labels
}

// RunID returns the bound run_id label.
func (r *Recorder) RunID() string {
	return r.labels[RunIDLabel]
}
