// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// Queue is an unbounded FIFO queue. Enqueue never blocks; Dequeue blocks
// until a job is available, the context ends, or the queue is closed and drained.
type Queue struct {
	mu     sync.Mutex
	items  []archiver.Job
	signal chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends a job. It fails only if ctx is already done or the queue is closed.
func (q *Queue) Enqueue(ctx context.Context, job archiver.Job) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return archiver.ErrQueueClosed
	}
	q.items = append(q.items, job)
	q.mu.Unlock()
	q.notify()
	return nil
}

// Dequeue pops the oldest job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (archiver.Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = archiver.Job{}
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				q.notify()
			}
			return job, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return archiver.Job{}, archiver.ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return archiver.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-q.signal:
		case <-q.done:
		}
	}
}

// Len returns the number of waiting jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting jobs and wakes blocked consumers. Jobs already queued
// are still handed out. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
