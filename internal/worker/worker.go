// Package worker implements the per-job download and archive pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/chapter-archiver/internal/archive"
	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/backoff"
	"github.com/JakeFAU/chapter-archiver/internal/metrics"
	"github.com/JakeFAU/chapter-archiver/internal/progress"
)

// ErrNoPages is the failure reason when a job finished without writing any page.
var ErrNoPages = errors.New("no pages were fetched")

// Config controls Worker behavior.
type Config struct {
	// MaxConcurrentFetches bounds in-flight page fetches within one job.
	MaxConcurrentFetches int
	ChapterOrder         archiver.ChapterOrder
	// ChapterDelay pauses between chapters. Zero disables pacing.
	ChapterDelay time.Duration
	PagePad      int
	// FlatSingleChapter writes single-chapter archives without the Cap_<n>/ directory.
	FlatSingleChapter bool
	DefaultExtension  string
	FileExtension     string
}

// Deps are the collaborators a Worker needs. Fetcher, Builder, Sink, Sender,
// Cancels and Clock are required.
type Deps struct {
	Queue    archiver.Queue
	JobStore archiver.JobStore
	Fetcher  archiver.Fetcher
	Builder  *archive.Builder
	Sink     archiver.OutputSink
	Sender   *backoff.Sender
	Cancels  archiver.CancelRegistry
	Reporter progress.Reporter
	Clock    archiver.Clock
}

// Worker consumes jobs and runs each one to a terminal state.
type Worker struct {
	id     int
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// Outcome is the terminal result of one job.
type Outcome struct {
	Status     archiver.JobStatus
	Reason     string
	DeliveryID string
	Counters   archiver.JobCounters
}

// New constructs a Worker.
func New(id int, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.Nop
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 1
	}
	if cfg.ChapterOrder == "" {
		cfg.ChapterOrder = archiver.OrderAsGiven
	}
	if cfg.DefaultExtension == "" {
		cfg.DefaultExtension = archive.DefaultExtension
	}
	if cfg.FileExtension == "" {
		cfg.FileExtension = "cbz"
	}
	return &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

type lener interface {
	Len() int
}

// Run blocks, consuming jobs until the context finishes or the queue is closed and drained.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, archiver.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if q, ok := w.deps.Queue.(lener); ok {
			metrics.SetQueueDepth(q.Len())
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID))
		w.Process(ctx, job)
	}
}

// jobRun is the mutable state of one job; it is owned by a single goroutine.
type jobRun struct {
	job      archiver.Job
	chapters []archiver.Chapter
	counters archiver.JobCounters
	logger   *zap.Logger
}

// Process runs job to a terminal state, reports it, and clears the owner's
// cancellation flag.
func (w *Worker) Process(ctx context.Context, job archiver.Job) Outcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	run := &jobRun{
		job:      job,
		chapters: archiver.OrderChapters(job.Chapters, w.cfg.ChapterOrder),
		logger:   w.logger.With(zap.String("job_id", job.ID), zap.String("owner_id", job.OwnerID)),
	}
	w.updateStatus(ctx, run, archiver.JobStatusRunning, "")
	w.report(run, progress.Event{Kind: progress.KindJobStarted})
	run.logger.Info("job started", zap.Int("chapters", len(run.chapters)))

	out := w.execute(ctx, run)
	out.Counters = run.counters
	w.finish(ctx, run, out)
	return out
}

func (w *Worker) execute(ctx context.Context, run *jobRun) Outcome {
	handle, err := w.deps.Builder.Open(run.job.ArchiveName, w.deps.Builder.BackingFor(len(run.chapters)))
	if err != nil {
		return failed(fmt.Errorf("open archive: %w", err))
	}
	defer func() {
		if err := handle.Discard(); err != nil {
			run.logger.Warn("discard archive failed", zap.Error(err))
		}
	}()

	single := w.cfg.FlatSingleChapter && len(run.chapters) == 1
	for i, ch := range run.chapters {
		if i > 0 && w.cfg.ChapterDelay > 0 {
			w.pause(ctx, w.cfg.ChapterDelay)
		}
		if w.canceled(ctx, run) {
			return canceled()
		}
		err := w.processChapter(ctx, run, handle, i+1, ch, single)
		switch {
		case err == nil:
			run.counters.ChaptersDone++
			metrics.ObserveChapter("done")
			w.report(run, chapterEvent(progress.KindChapterDone, i+1, ch))
		case errors.Is(err, archiver.ErrCanceled):
			return canceled()
		case errors.Is(err, archiver.ErrChapterEmpty):
			run.counters.ChaptersEmpty++
			metrics.ObserveChapter("empty")
			evt := chapterEvent(progress.KindChapterEmpty, i+1, ch)
			evt.Reason = err.Error()
			w.report(run, evt)
		default:
			return failed(err)
		}
	}
	if w.canceled(ctx, run) {
		return canceled()
	}
	if run.counters.PagesSucceeded == 0 {
		return failed(ErrNoPages)
	}

	arc, err := handle.Close()
	if err != nil {
		return failed(fmt.Errorf("finalize archive: %w", err))
	}
	defer func() {
		if err := arc.Release(); err != nil {
			run.logger.Warn("release archive failed", zap.Error(err))
		}
	}()
	run.counters.ArchiveBytes = arc.Size()
	metrics.ObserveArchive(arc.Size())
	w.report(run, progress.Event{Kind: progress.KindArchiveReady, Bytes: arc.Size()})
	run.logger.Info("archive ready",
		zap.Int64("bytes", arc.Size()),
		zap.Int("entries", arc.Entries()),
		zap.String("sha256", arc.Checksum()),
	)

	return w.deliver(ctx, run, arc)
}

func (w *Worker) deliver(ctx context.Context, run *jobRun, arc *archive.Archive) Outcome {
	filename := archive.FileName(run.job.ArchiveName, w.cfg.FileExtension)
	opts := backoff.Options{
		Canceled: func(ctx context.Context) bool { return w.canceled(ctx, run) },
		OnFloodWait: func(wait time.Duration) {
			run.counters.FloodWaits++
			run.logger.Info("delivery throttled", zap.Duration("wait", wait))
		},
	}
	deliveryID, err := backoff.Do(ctx, w.deps.Sender, opts, func(ctx context.Context) (string, error) {
		return w.deps.Sink.Deliver(ctx, arc, filename, run.job.OutputTarget)
	})
	switch {
	case err == nil:
	case errors.Is(err, archiver.ErrCanceled) || ctx.Err() != nil:
		metrics.ObserveDelivery("canceled")
		return canceled()
	default:
		metrics.ObserveDelivery("failed")
		return failed(fmt.Errorf("deliver archive: %w", err))
	}
	metrics.ObserveDelivery("ok")

	if w.deps.JobStore != nil {
		if err := w.deps.JobStore.RecordDelivery(context.WithoutCancel(ctx), run.job.ID, deliveryID); err != nil {
			run.logger.Error("record delivery failed", zap.Error(err))
		}
	}
	return Outcome{Status: archiver.JobStatusCompleted, DeliveryID: deliveryID}
}

func (w *Worker) processChapter(
	ctx context.Context,
	run *jobRun,
	handle *archive.Handle,
	index int,
	ch archiver.Chapter,
	single bool,
) error {
	w.report(run, chapterEvent(progress.KindChapterStarted, index, ch))
	logger := run.logger.With(zap.String("chapter", ch.Label()))

	urls, err := run.job.Source.ListPages(ctx, ch.PageSource)
	if err != nil {
		logger.Warn("list pages failed", zap.Error(err))
		return fmt.Errorf("%w: %v", archiver.ErrChapterEmpty, err)
	}
	if len(urls) == 0 {
		logger.Info("chapter has no pages")
		return archiver.ErrChapterEmpty
	}
	return w.fetchPages(ctx, run, handle, index, ch, urls, single)
}

type pageResult struct {
	res      archiver.FetchResult
	err      error
	canceled bool
}

// fetchPages fetches pages in windows of MaxConcurrentFetches and writes each
// window in page order, so at most one window of page bodies is held in memory.
// Cancellation is checked before every fetch and after every window.
func (w *Worker) fetchPages(
	ctx context.Context,
	run *jobRun,
	handle *archive.Handle,
	chapterIndex int,
	ch archiver.Chapter,
	urls []string,
	single bool,
) error {
	window := w.cfg.MaxConcurrentFetches
	total := len(urls)
	for start := 0; start < total; start += window {
		end := min(start+window, total)
		results := make([]pageResult, end-start)

		var g errgroup.Group
		g.SetLimit(window)
		for i := start; i < end; i++ {
			slot := &results[i-start]
			pageURL := urls[i]
			g.Go(func() error {
				if w.canceled(ctx, run) {
					slot.canceled = true
					return nil
				}
				slot.res, slot.err = w.deps.Fetcher.Fetch(ctx, pageURL)
				return nil
			})
		}
		_ = g.Wait()

		for i, r := range results {
			if r.canceled {
				return archiver.ErrCanceled
			}
			page := archiver.Page{URL: urls[start+i], Index: start + i + 1}
			if err := w.writePage(run, handle, chapterIndex, ch, page, total, r, single); err != nil {
				return err
			}
		}
		if w.canceled(ctx, run) {
			return archiver.ErrCanceled
		}
	}
	return nil
}

func (w *Worker) writePage(
	run *jobRun,
	handle *archive.Handle,
	chapterIndex int,
	ch archiver.Chapter,
	page archiver.Page,
	total int,
	r pageResult,
	single bool,
) error {
	evt := chapterEvent(progress.KindPageFetched, chapterIndex, ch)
	evt.PageIndex = page.Index
	evt.TotalPages = total

	if r.err != nil {
		run.counters.PagesFailed++
		metrics.ObservePage(page.URL, "failed", 0)
		run.logger.Warn("page fetch failed",
			zap.String("chapter", ch.Label()),
			zap.Int("page", page.Index),
			zap.String("url", page.URL),
			zap.Error(r.err),
		)
		evt.Kind = progress.KindPageFailed
		evt.Reason = r.err.Error()
		w.report(run, evt)
		return nil
	}

	ext := archive.ExtensionFor(r.res.ContentType, page.URL, w.cfg.DefaultExtension)
	path := archive.EntryPath(ch.Number, page.Index, ext, single, w.cfg.PagePad)
	if err := handle.Write(path, r.res.Body); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	run.counters.PagesSucceeded++
	metrics.ObservePage(page.URL, "ok", len(r.res.Body))
	evt.Bytes = int64(len(r.res.Body))
	evt.Dur = r.res.Duration
	w.report(run, evt)
	return nil
}

func (w *Worker) finish(ctx context.Context, run *jobRun, out Outcome) {
	ctx = context.WithoutCancel(ctx)
	if err := w.deps.Cancels.Clear(ctx, run.job.OwnerID); err != nil {
		run.logger.Error("clear cancellation flag failed", zap.Error(err))
	}
	w.updateStatus(ctx, run, out.Status, out.Reason)
	metrics.ObserveJob(string(out.Status))

	evt := progress.Event{Reason: out.Reason, DeliveryID: out.DeliveryID}
	switch out.Status {
	case archiver.JobStatusCompleted:
		evt.Kind = progress.KindCompleted
	case archiver.JobStatusCanceled:
		evt.Kind = progress.KindCanceled
	default:
		evt.Kind = progress.KindFailed
	}
	w.report(run, evt)

	fields := []zap.Field{
		zap.String("status", string(out.Status)),
		zap.Int("pages_succeeded", run.counters.PagesSucceeded),
		zap.Int("pages_failed", run.counters.PagesFailed),
		zap.Int("chapters_empty", run.counters.ChaptersEmpty),
	}
	if out.Status == archiver.JobStatusFailed {
		run.logger.Warn("job failed", append(fields, zap.String("reason", out.Reason))...)
		return
	}
	run.logger.Info("job finished", fields...)
}

// canceled reports whether the job should stop. Registry errors are logged and
// treated as not canceled.
func (w *Worker) canceled(ctx context.Context, run *jobRun) bool {
	if ctx.Err() != nil {
		return true
	}
	ok, err := w.deps.Cancels.IsCanceled(ctx, run.job.OwnerID)
	if err != nil {
		run.logger.Warn("cancellation check failed", zap.Error(err))
		return false
	}
	return ok
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-w.deps.Clock.After(d):
	}
}

func (w *Worker) updateStatus(ctx context.Context, run *jobRun, status archiver.JobStatus, errText string) {
	if w.deps.JobStore == nil {
		return
	}
	if err := w.deps.JobStore.UpdateJobStatus(ctx, run.job.ID, status, errText, run.counters); err != nil {
		run.logger.Error("update job status failed", zap.String("status", string(status)), zap.Error(err))
	}
}

func (w *Worker) report(run *jobRun, evt progress.Event) {
	evt.JobID = run.job.ID
	evt.OwnerID = run.job.OwnerID
	evt.Target = run.job.OutputTarget
	evt.TS = w.deps.Clock.Now()
	evt.TotalChapters = len(run.chapters)
	w.deps.Reporter.Report(run.job.OwnerID, evt)
}

func chapterEvent(kind progress.Kind, index int, ch archiver.Chapter) progress.Event {
	return progress.Event{Kind: kind, ChapterIndex: index, ChapterNumber: ch.Number}
}

func failed(err error) Outcome {
	return Outcome{Status: archiver.JobStatusFailed, Reason: err.Error()}
}

func canceled() Outcome {
	return Outcome{Status: archiver.JobStatusCanceled}
}
