package mining

import (
	"context"
	"sync"

	"github.com/AGPFMiner/bmbminer/types"
)

// Queue is an unbounded FIFO. Push never blocks; Pop blocks until an item
// arrives, the queue is closed and drained, or ctx is done.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	notify chan struct{}
	done   chan struct{}
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Push appends v. It returns false if the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes the oldest item. ok is false once the queue is closed and
// empty, or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (v T, ok bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v = q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return v, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return v, false
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return v, false
		}
	}
}

// TryPop removes the oldest item without blocking.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return v, false
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further pushes. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Bus connects the protocol client, the worker pool and the submission
// manager.
type Bus struct {
	Jobs      *Queue[*types.Job]
	Solutions *Queue[types.JobSolution]
}

func NewBus() *Bus {
	return &Bus{
		Jobs:      NewQueue[*types.Job](),
		Solutions: NewQueue[types.JobSolution](),
	}
}

// Close is the shutdown signal for every reader on the bus.
func (b *Bus) Close() {
	b.Jobs.Close()
	b.Solutions.Close()
}
