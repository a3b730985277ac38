package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/pipeline"
)

const defaultStatusPoll = 250 * time.Millisecond

// Download runs a single job through the pipeline without the HTTP API and
// returns its terminal record. Ending ctx requests a cooperative cancel for
// the owner and still waits for the job to finish.
func (a *App) Download(ctx context.Context, req pipeline.Request, poll time.Duration) (archiver.JobRecord, error) {
	if poll <= 0 {
		poll = defaultStatusPoll
	}
	runCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()
	runDone := make(chan error, 1)
	go func() {
		runDone <- a.pipeline.Run(runCtx)
	}()
	defer func() {
		if err := a.pipeline.Shutdown(runCtx); err != nil {
			a.logger.Warn("pipeline shutdown failed", zap.Error(err))
		}
		<-runDone
	}()

	job, err := pipeline.ResolveJob(ctx, a.sources, req)
	if err != nil {
		return archiver.JobRecord{}, fmt.Errorf("resolve job: %w", err)
	}
	jobID, err := a.pipeline.Submit(ctx, job)
	if err != nil {
		return archiver.JobRecord{}, fmt.Errorf("submit job: %w", err)
	}
	a.logger.Info("download started",
		zap.String("job_id", jobID),
		zap.String("archive_name", job.ArchiveName),
		zap.Int("chapters", len(job.Chapters)),
	)

	waitCtx := context.WithoutCancel(ctx)
	interrupted := ctx.Done()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-interrupted:
			interrupted = nil
			a.logger.Info("interrupt received, canceling download", zap.String("owner_id", job.OwnerID))
			if err := a.pipeline.RequestCancel(waitCtx, job.OwnerID); err != nil {
				a.logger.Warn("cancel request failed", zap.Error(err))
			}
		case <-ticker.C:
			rec, err := a.pipeline.Status(waitCtx, jobID)
			if err != nil {
				return archiver.JobRecord{}, err
			}
			if rec.Status.Terminal() {
				return rec, nil
			}
		}
	}
}
