package archiver

import (
	"context"
	"io"
	"time"
)

// ContentSource resolves search, chapter and page metadata for one site.
// Implementations may be shared read-only across workers.
type ContentSource interface {
	Name() string
	Search(ctx context.Context, query string) ([]SearchResult, error)
	ListChapters(ctx context.Context, mangaID string) ([]Chapter, error)
	ListPages(ctx context.Context, pageSource string) ([]string, error)
}

// Fetcher downloads a single page, retrying internally.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// Artifact is a finished archive ready for handoff.
type Artifact interface {
	Open() (io.ReadCloser, error)
	Size() int64
	Checksum() string
}

// OutputSink delivers a finished archive to its destination and returns a delivery ID.
// Throttled sinks return *RateLimitedError; transient failures may be wrapped in *TransientError.
type OutputSink interface {
	Deliver(ctx context.Context, artifact Artifact, filename string, target string) (string, error)
}

// CancelRegistry holds one cancellation flag per owner.
type CancelRegistry interface {
	RequestCancel(ctx context.Context, ownerID string) error
	IsCanceled(ctx context.Context, ownerID string) (bool, error)
	Clear(ctx context.Context, ownerID string) error
}

// Queue provides FIFO enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}

// JobStore persists job status for the status API.
type JobStore interface {
	CreateJob(ctx context.Context, record JobRecord) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordDelivery(ctx context.Context, jobID string, deliveryID string) error
	GetJob(ctx context.Context, jobID string) (JobRecord, error)
}

// Clock abstracts time so waits can be observed in tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
