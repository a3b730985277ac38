// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/metrics"
)

// Runner is one queue consumer. *worker.Worker satisfies it.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers. Each job is handed to
// exactly one worker because every worker dequeues from the same queue.
type Dispatcher struct {
	queue   archiver.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue archiver.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every worker has returned, which
// happens when ctx finishes or the queue is closed and drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Workers reports the pool size.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, job archiver.Job) error {
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	if q, ok := d.queue.(interface{ Len() int }); ok {
		metrics.SetQueueDepth(q.Len())
	}
	return nil
}
