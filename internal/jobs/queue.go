package jobs

import (
	"context"
	"sync"
)

// Queue is the in-process FIFO feeding the worker pool. Enqueue never blocks
// the request path; Dequeue blocks until an item or context cancellation.
type Queue struct {
	mu      sync.Mutex
	pending []string
	wake    chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Enqueue appends a job ID and wakes one waiting worker.
func (q *Queue) Enqueue(jobID string) {
	q.mu.Lock()
	q.pending = append(q.pending, jobID)
	q.mu.Unlock()
	q.signal()
}

// Dequeue pops the oldest job ID, waiting for one to arrive if the queue is
// empty.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			jobID := q.pending[0]
			q.pending = q.pending[1:]
			remaining := len(q.pending)
			q.mu.Unlock()
			// A single wake token may cover several enqueues; pass it on so
			// sibling workers drain the backlog.
			if remaining > 0 {
				q.signal()
			}
			return jobID, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.wake:
		}
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
