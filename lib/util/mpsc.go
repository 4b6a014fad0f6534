// Package util
//
// This file provides a lock-free multi-producer single-consumer work queue.
//
// Producers append with a CAS on the tail of a linked list, a single
// consumer goroutine hands every item to a callback in the order the
// appends completed. Unlike a plain channel the queue is unbounded, so
// producers (e.g. Table Objects enqueuing metadata flushes from inside a
// merge) never block on a slow consumer (e.g. the catalog writer waiting on
// the marker lock).
//
// Wait blocks until every item pushed before the call has been handled,
// which is what a flush-before-shutdown needs.
package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the linked list. A node with a non-nil
// barrier carries no value, the consumer closes the barrier instead.
type node[T any] struct {
	value   T
	barrier chan struct{}
	next    atomic.Pointer[node[T]]
}

// WorkQueue is an unbounded lock-free MPSC queue drained by a callback.
type WorkQueue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	handle func(T)
	closed atomic.Bool
	done   chan struct{}

	mu   sync.Mutex
	cond *sync.Cond
}

// NewWorkQueue creates a queue and starts its consumer goroutine.
// handle is called once per pushed item, never concurrently.
func NewWorkQueue[T any](handle func(T)) *WorkQueue[T] {
	sentinel := &node[T]{}

	q := &WorkQueue[T]{
		handle: handle,
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()
	return q
}

// Push appends an item. It returns false if the queue is closed.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (q *WorkQueue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}
	q.append(&node[T]{value: value})
	return true
}

// append links n at the tail of the list
func (q *WorkQueue[T]) append(n *node[T]) {
	var spins uint8
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				// another producer may already have advanced the tail, that's fine
				q.tail.CompareAndSwap(tail, n)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return
			}
		} else {
			// help a producer that appended but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
		}

		// back off under contention
		if spins < 10 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume hands items to the callback until the queue is closed and empty
func (q *WorkQueue[T]) consume() {
	defer close(q.done)

	for {
		handled := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			handled = true

			value, barrier := next.value, next.barrier
			q.head.Store(next)

			var zero T
			next.value = zero

			if barrier != nil {
				close(barrier)
				continue
			}
			q.handle(value)
		}

		if !handled && q.closed.Load() {
			return
		}

		if !handled {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Wait blocks until all items pushed before the call have been handled.
// On a closed queue it waits for the consumer to exit instead.
func (q *WorkQueue[T]) Wait() {
	if q.closed.Load() {
		<-q.done
		return
	}
	barrier := make(chan struct{})
	q.append(&node[T]{barrier: barrier})
	select {
	case <-barrier:
	case <-q.done:
	}
}

// Close stops accepting items. Items already queued are still handled;
// Close returns once the consumer goroutine has exited.
func (q *WorkQueue[T]) Close() {
	if q.closed.Swap(true) {
		<-q.done
		return
	}
	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

// Len returns an approximate number of queued items (O(n), for debugging).
func (q *WorkQueue[T]) Len() int {
	count := 0
	for cur := q.head.Load().next.Load(); cur != nil; cur = cur.next.Load() {
		count++
	}
	return count
}
