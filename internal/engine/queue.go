package engine

import "sync"

// workQueue is a thread-safe FIFO queue of work items.
//
// The queue is unbounded so that producers (transport callbacks, sampler
// callbacks, side effects posting follow-up work) never block on the
// executor.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type workQueue[S any] struct {
	mu     sync.Mutex
	items  []WorkItem[S]
	closed bool
	signal chan struct{} // Signals item availability (buffered, size 1)
}

// newWorkQueue creates an empty work queue.
func newWorkQueue[S any]() *workQueue[S] {
	return &workQueue[S]{
		items:  make([]WorkItem[S], 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an item to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *workQueue[S]) Enqueue(item WorkItem[S]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front item without blocking.
// Returns (nil, false) if the queue is empty.
func (q *workQueue[S]) TryDequeue() (WorkItem[S], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	item := q.items[0]

	// Nil out the slot so the backing array does not retain the item.
	q.items[0] = nil

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return item, true
}

// Wait returns a channel that signals when items may be available.
// The channel is closed when the queue is closed.
func (q *workQueue[S]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *workQueue[S]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting items and returns whatever was still queued so the
// caller can answer it.
func (q *workQueue[S]) Close() []WorkItem[S] {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.signal)

	remaining := q.items
	q.items = nil
	return remaining
}
