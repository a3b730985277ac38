// Package archiver defines core types shared across the download pipeline.
package archiver

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of an archive job.
type JobStatus string

// Job status values. A job moves queued -> running -> one terminal state and never back.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// Chapter is one ordered group of pages. It is immutable once attached to a Job.
type Chapter struct {
	Number     float64 `json:"number"`
	PageSource string  `json:"page_source"`
	Title      string  `json:"title"`
}

// Label renders the chapter number without trailing zeros ("1", "10.5").
func (c Chapter) Label() string {
	return FormatChapterNumber(c.Number)
}

// Page is a single image within a chapter. Index is 1-based.
type Page struct {
	URL   string
	Index int
}

// Job is one archive-production request covering one or more chapters for one owner.
type Job struct {
	ID           string        `json:"id"`
	OwnerID      string        `json:"owner_id"`
	OutputTarget string        `json:"output_target"`
	SourceName   string        `json:"source"`
	Source       ContentSource `json:"-"`
	Chapters     []Chapter     `json:"chapters"`
	ArchiveName  string        `json:"archive_name"`
	Submitted    time.Time     `json:"submitted_at"`
}

// Validate enforces the fields a worker relies on. It runs at enqueue time.
func (j Job) Validate() error {
	if j.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidJob)
	}
	if j.Source == nil {
		return fmt.Errorf("%w: content source is required", ErrInvalidJob)
	}
	if j.ArchiveName == "" {
		return fmt.Errorf("%w: archive name is required", ErrInvalidJob)
	}
	if len(j.Chapters) == 0 {
		return fmt.Errorf("%w: at least one chapter is required", ErrInvalidJob)
	}
	seen := make(map[float64]struct{}, len(j.Chapters))
	for _, ch := range j.Chapters {
		if ch.PageSource == "" {
			return fmt.Errorf("%w: chapter %s has no page source", ErrInvalidJob, ch.Label())
		}
		if _, dup := seen[ch.Number]; dup {
			return fmt.Errorf("%w: duplicate chapter %s", ErrInvalidJob, ch.Label())
		}
		seen[ch.Number] = struct{}{}
	}
	return nil
}

// JobCounters tracks per-job outcome stats.
type JobCounters struct {
	ChaptersDone   int   `json:"chapters_done"`
	ChaptersEmpty  int   `json:"chapters_empty"`
	PagesSucceeded int   `json:"pages_succeeded"`
	PagesFailed    int   `json:"pages_failed"`
	FloodWaits     int   `json:"flood_waits"`
	ArchiveBytes   int64 `json:"archive_bytes"`
}

// JobRecord is the status view persisted by a JobStore.
type JobRecord struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	SourceName  string      `json:"source"`
	ArchiveName string      `json:"archive_name"`
	Chapters    int         `json:"chapters"`
	Status      JobStatus   `json:"status"`
	Submitted   time.Time   `json:"submitted_at"`
	Started     *time.Time  `json:"started_at,omitempty"`
	Finished    *time.Time  `json:"finished_at,omitempty"`
	ErrorText   string      `json:"error_text,omitempty"`
	DeliveryID  string      `json:"delivery_id,omitempty"`
	Counters    JobCounters `json:"counters"`
}

// NewJobRecord builds the queued record for a freshly submitted job.
func NewJobRecord(job Job) JobRecord {
	return JobRecord{
		ID:          job.ID,
		OwnerID:     job.OwnerID,
		SourceName:  job.SourceName,
		ArchiveName: job.ArchiveName,
		Chapters:    len(job.Chapters),
		Status:      JobStatusQueued,
		Submitted:   job.Submitted,
	}
}

// SearchResult is one title returned by a ContentSource search.
type SearchResult struct {
	Title string `json:"title"`
	ID    string `json:"id"`
}

// FetchResult is the payload returned by a Fetcher for one page.
type FetchResult struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Attempts    int
	Duration    time.Duration
}
