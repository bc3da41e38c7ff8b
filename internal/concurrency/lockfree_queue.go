package concurrency

import (
	"sync/atomic"
)

// LockFreeQueue is an unbounded multi-producer queue (Michael-Scott). Enqueue
// never blocks; Dequeue is safe for concurrent use but the metric store drains it
// from a single consumer.
type LockFreeQueue[T any] struct {
	head atomic.Pointer[node[T]]
	tail atomic.Pointer[node[T]]
	size atomic.Int64
}

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

func NewLockFreeQueue[T any]() *LockFreeQueue[T] {
	q := &LockFreeQueue[T]{}
	dummy := &node[T]{}
	q.head.Store(dummy)
	q.tail.Store(dummy)
	return q
}

func (q *LockFreeQueue[T]) Enqueue(value T) {
	newNode := &node[T]{value: value}

	for {
		tail := q.tail.Load()
		next := tail.next.Load()

		if tail != q.tail.Load() {
			continue
		}

		if next != nil {
			// tail is lagging behind a concurrent enqueue; help it forward.
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		if tail.next.CompareAndSwap(nil, newNode) {
			q.tail.CompareAndSwap(tail, newNode)
			q.size.Add(1)
			return
		}
	}
}

func (q *LockFreeQueue[T]) Dequeue() (T, bool) {
	var zero T

	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()

		if head != q.head.Load() {
			continue
		}

		if next == nil {
			return zero, false
		}

		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			continue
		}

		if q.head.CompareAndSwap(head, next) {
			value := next.value
			// release the reference held by the new dummy node
			next.value = zero
			q.size.Add(-1)
			return value, true
		}
	}
}

// DrainTo dequeues every currently visible element and appends it to dst.
func (q *LockFreeQueue[T]) DrainTo(dst []T) []T {
	for {
		v, ok := q.Dequeue()
		if !ok {
			return dst
		}
		dst = append(dst, v)
	}
}

func (q *LockFreeQueue[T]) IsEmpty() bool {
	return q.head.Load().next.Load() == nil
}

// Len is approximate under concurrent use.
func (q *LockFreeQueue[T]) Len() int {
	return int(q.size.Load())
}
