// Package pipeline assembles the queue, cancellation registry, worker pool and
// job store into one object with explicit start and shutdown. Several
// pipelines may live in one process; they share nothing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/archive"
	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/backoff"
	"github.com/JakeFAU/chapter-archiver/internal/cancel"
	"github.com/JakeFAU/chapter-archiver/internal/clock/system"
	"github.com/JakeFAU/chapter-archiver/internal/dispatcher"
	"github.com/JakeFAU/chapter-archiver/internal/id/uuid"
	"github.com/JakeFAU/chapter-archiver/internal/progress"
	queuemem "github.com/JakeFAU/chapter-archiver/internal/queue/memory"
	"github.com/JakeFAU/chapter-archiver/internal/storage/memory"
	"github.com/JakeFAU/chapter-archiver/internal/worker"
)

var (
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("pipeline already running")
	// ErrShutdown is returned by Submit after Shutdown.
	ErrShutdown = errors.New("pipeline shut down")
)

// Queue is the job queue a pipeline owns.
type Queue interface {
	archiver.Queue
	Len() int
	Close()
}

// Config sizes the pipeline.
type Config struct {
	Workers int
	Worker  worker.Config
}

// Deps are the pipeline's collaborators. Fetcher, Builder, Sink and Sender
// are required; the rest default to in-process implementations.
type Deps struct {
	Queue    Queue
	Cancels  archiver.CancelRegistry
	JobStore archiver.JobStore
	IDs      archiver.IDGenerator
	Clock    archiver.Clock
	Fetcher  archiver.Fetcher
	Builder  *archive.Builder
	Sink     archiver.OutputSink
	Sender   *backoff.Sender
	Reporter progress.Reporter
}

// Pipeline accepts jobs and runs them on a bounded worker pool.
type Pipeline struct {
	queue      Queue
	gate       *ownerGate
	store      archiver.JobStore
	ids        archiver.IDGenerator
	clock      archiver.Clock
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger

	mu       sync.Mutex
	runDone  chan struct{}
	shutdown bool
}

// New wires a pipeline. Workers defaults to 1.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Fetcher == nil || deps.Builder == nil || deps.Sink == nil || deps.Sender == nil {
		return nil, errors.New("pipeline requires fetcher, archive builder, sink and sender")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if deps.Queue == nil {
		deps.Queue = queuemem.NewQueue()
	}
	if deps.Cancels == nil {
		deps.Cancels = cancel.NewRegistry()
	}
	if deps.JobStore == nil {
		deps.JobStore = memory.NewJobStore()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}

	p := &Pipeline{
		queue:  deps.Queue,
		gate:   newOwnerGate(deps.Cancels),
		store:  deps.JobStore,
		ids:    deps.IDs,
		clock:  deps.Clock,
		logger: logger.Named("pipeline"),
	}
	workers := make([]dispatcher.Runner, cfg.Workers)
	for i := range workers {
		workers[i] = worker.New(i+1, worker.Deps{
			Queue:    deps.Queue,
			JobStore: deps.JobStore,
			Fetcher:  deps.Fetcher,
			Builder:  deps.Builder,
			Sink:     deps.Sink,
			Sender:   deps.Sender,
			Cancels:  p.gate,
			Reporter: deps.Reporter,
			Clock:    deps.Clock,
		}, cfg.Worker, logger)
	}
	p.dispatcher = dispatcher.New(deps.Queue, workers)
	return p, nil
}

// Submit validates job, assigns an ID when missing, records it as queued and
// enqueues it. Valid jobs are always accepted until Shutdown.
func (p *Pipeline) Submit(ctx context.Context, job archiver.Job) (string, error) {
	p.mu.Lock()
	closed := p.shutdown
	p.mu.Unlock()
	if closed {
		return "", ErrShutdown
	}
	if err := job.Validate(); err != nil {
		return "", err
	}
	if job.ID == "" {
		id, err := p.ids.NewID()
		if err != nil {
			return "", fmt.Errorf("generate job id: %w", err)
		}
		job.ID = id
	}
	if job.Submitted.IsZero() {
		job.Submitted = p.clock.Now()
	}

	if err := p.gate.track(ctx, job.OwnerID); err != nil {
		return "", err
	}
	if err := p.store.CreateJob(ctx, archiver.NewJobRecord(job)); err != nil {
		p.gate.untrack(job.OwnerID)
		return "", fmt.Errorf("record job: %w", err)
	}
	if err := p.dispatcher.Enqueue(ctx, job); err != nil {
		p.gate.untrack(job.OwnerID)
		if uerr := p.store.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, archiver.JobStatusFailed,
			err.Error(), archiver.JobCounters{}); uerr != nil {
			p.logger.Warn("mark unqueued job failed", zap.String("job_id", job.ID), zap.Error(uerr))
		}
		if errors.Is(err, archiver.ErrQueueClosed) {
			return "", ErrShutdown
		}
		return "", err
	}
	p.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("owner_id", job.OwnerID),
		zap.Int("chapters", len(job.Chapters)),
		zap.Int("queue_depth", p.queue.Len()),
	)
	return job.ID, nil
}

// RequestCancel asks the owner's running or queued job to stop at its next
// checkpoint. It is idempotent and a no-op when the owner has no active job.
func (p *Pipeline) RequestCancel(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("%w: owner id is required", archiver.ErrInvalidJob)
	}
	if err := p.gate.RequestCancel(ctx, ownerID); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}

// Status returns the stored record for jobID.
func (p *Pipeline) Status(ctx context.Context, jobID string) (archiver.JobRecord, error) {
	rec, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return archiver.JobRecord{}, fmt.Errorf("job status: %w", err)
	}
	return rec, nil
}

// QueueDepth reports jobs waiting for a worker.
func (p *Pipeline) QueueDepth() int {
	return p.queue.Len()
}

// ActiveJobs reports the owner's queued and running job count.
func (p *Pipeline) ActiveJobs(ownerID string) int {
	return p.gate.activeJobs(ownerID)
}

// Run starts the worker pool and blocks until ctx ends or Shutdown drains the queue.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.runDone != nil {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	done := make(chan struct{})
	p.runDone = done
	p.mu.Unlock()

	defer close(done)
	p.logger.Info("pipeline started", zap.Int("workers", p.dispatcher.Workers()))
	p.dispatcher.Run(ctx)
	p.logger.Info("pipeline stopped")
	return nil
}

// Shutdown stops accepting jobs, lets workers finish what is queued, and waits
// for Run to return or ctx to end.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.shutdown = true
	done := p.runDone
	p.mu.Unlock()

	p.queue.Close()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
