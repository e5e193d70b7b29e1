package ingest

import (
	"context"
	"fmt"
	"sync"
)

// Queue is an in-order, in-process work queue owned by exactly one client
// session. Enqueue never blocks the caller and never drops: every accepted
// descriptor is handed to the pool exactly once. Re-uploading the same file
// yields independent jobs; there is no deduplication.
type Queue struct {
	mu     sync.Mutex
	items  []*Job
	signal chan struct{}
	closed bool
}

func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue closed")
	}
	q.items = append(q.items, job)
	q.mu.Unlock()

	q.wake()
	return nil
}

// Dequeue blocks until a job is available, the queue is closed and drained,
// or ctx is done. The second return is false only when no job was produced.
func (q *Queue) Dequeue(ctx context.Context) (*Job, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				q.wake()
			}
			return job, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.signal:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops Dequeue once the backlog drains. Enqueue after Close errors.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
