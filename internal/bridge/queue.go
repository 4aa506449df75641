package bridge

import "sync"

// commandQueue is a thread-safe unbounded FIFO of requests.
//
// Any goroutine may enqueue; only the worker dequeues. The queue is
// unbounded so a caller never blocks on submission, only on its own result.
// A buffered signal channel lets the worker wait without polling.
type commandQueue struct {
	mu      sync.Mutex
	items   []*request
	nextSeq uint64
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newCommandQueue() *commandQueue {
	return &commandQueue{
		items:  make([]*request, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends r and stamps it with the next sequence number.
// Returns false if the queue is closed.
func (q *commandQueue) Enqueue(r *request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.nextSeq++
	r.seq = q.nextSeq
	q.items = append(q.items, r)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front request without blocking.
func (q *commandQueue) TryDequeue() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	r := q.items[0]
	q.items[0] = nil // release for GC
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return r, true
}

// Dequeue blocks until a request is available. It returns false once the
// queue is closed and empty.
func (q *commandQueue) Dequeue() (*request, bool) {
	for {
		if r, ok := q.TryDequeue(); ok {
			return r, true
		}

		q.mu.Lock()
		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

// Len returns the number of queued requests.
func (q *commandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops further enqueues, wakes the worker and returns the requests
// that were still waiting. The worker then sees an empty closed queue.
func (q *commandQueue) Close() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	pending := q.items
	q.items = nil
	close(q.signal)
	return pending
}
