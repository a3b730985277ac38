package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/queue/memory"
)

// TestDispatcherRunStopsOnCancel ensures workers begin and stop on cancel.
func TestDispatcherRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 2)
	workers := []Runner{&blockingRunner{started: started}, &blockingRunner{started: started}}
	dispatch := New(memory.NewQueue(), workers)
	require.Equal(t, 2, dispatch.Workers())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("worker did not start")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherDeliversEachJobOnce checks that a job is consumed by exactly one worker.
func TestDispatcherDeliversEachJobOnce(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue()
	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	var total atomic.Int32
	workers := make([]Runner, 4)
	for i := range workers {
		workers[i] = &drainingRunner{queue: queue, onJob: func(job archiver.Job) {
			mu.Lock()
			seen[job.ID]++
			mu.Unlock()
			total.Add(1)
		}}
	}
	dispatch := New(queue, workers)

	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		require.NoError(t, dispatch.Enqueue(context.Background(), archiver.Job{ID: id}))
	}
	queue.Close()
	dispatch.Run(context.Background())

	assert.EqualValues(t, 8, total.Load())
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s", id)
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := memory.NewQueue()
	queue.Close()
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), archiver.Job{ID: "job"})
	require.ErrorIs(t, err, archiver.ErrQueueClosed)
	assert.Equal(t, "queue enqueue: queue closed", err.Error())
}

type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context) {
	r.started <- struct{}{}
	<-ctx.Done()
}

type drainingRunner struct {
	queue archiver.Queue
	onJob func(archiver.Job)
}

func (r *drainingRunner) Run(ctx context.Context) {
	for {
		job, err := r.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		r.onJob(job)
	}
}
