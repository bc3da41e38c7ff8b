package concurrency

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrGraceExceeded is returned by Join when tasks are still running after the
// grace window. Those goroutines are abandoned; they observe a cancelled context.
var ErrGraceExceeded = errors.New("tasks still running after grace window")

// TaskResult is the outcome of one task.
type TaskResult struct {
	Name string
	Err  error
}

// TaskSet runs a group of tasks sharing one cancellable context. The first
// foreground task to return (or any task failing) completes the set; AbortAll
// cancels everything still running.
type TaskSet struct {
	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	once     sync.Once
	finished chan struct{}

	mu      sync.Mutex
	first   TaskResult
	results []TaskResult
}

// NewTaskSet creates a task set whose context is derived from parent.
func NewTaskSet(parent context.Context) *TaskSet {
	ctx, cancel := context.WithCancel(parent)
	return &TaskSet{
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
	}
}

// Context returns the context handed to every task.
func (s *TaskSet) Context() context.Context {
	return s.ctx
}

// Go starts a foreground task. Its return, successful or not, completes the set.
func (s *TaskSet) Go(name string, fn func(ctx context.Context) error) {
	s.spawn(name, fn, true)
}

// GoBackground starts a task whose successful return does not complete the set;
// only an error does.
func (s *TaskSet) GoBackground(name string, fn func(ctx context.Context) error) {
	s.spawn(name, fn, false)
}

func (s *TaskSet) spawn(name string, fn func(ctx context.Context) error, foreground bool) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := fn(s.ctx)

		res := TaskResult{Name: name, Err: err}
		s.mu.Lock()
		s.results = append(s.results, res)
		s.mu.Unlock()

		if foreground || err != nil {
			s.complete(res)
		}
	}()
}

func (s *TaskSet) complete(res TaskResult) {
	s.once.Do(func() {
		s.mu.Lock()
		s.first = res
		s.mu.Unlock()
		close(s.finished)
	})
}

// Wait blocks until the set completes or the parent context is cancelled, and
// returns the completing task's result. On parent cancellation the result carries
// the context error and an empty name.
func (s *TaskSet) Wait() TaskResult {
	select {
	case <-s.finished:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.first
	case <-s.ctx.Done():
		// Prefer a completion that raced with the cancellation.
		select {
		case <-s.finished:
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.first
		default:
		}
		return TaskResult{Err: s.ctx.Err()}
	}
}

// Done is closed once the set completes.
func (s *TaskSet) Done() <-chan struct{} {
	return s.finished
}

// AbortAll cancels the context shared by every task.
func (s *TaskSet) AbortAll() {
	s.cancel()
}

// Join waits for every task to return. A positive grace bounds the wait.
func (s *TaskSet) Join(grace time.Duration) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if grace <= 0 {
		<-done
		return nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrGraceExceeded
	}
}

// Results returns the results of every task that has returned so far.
func (s *TaskSet) Results() []TaskResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskResult, len(s.results))
	copy(out, s.results)
	return out
}
