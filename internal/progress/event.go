package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind names the milestone an Event represents.
type Kind string

// Supported event kinds.
const (
	KindJobStarted     Kind = "JOB_STARTED"
	KindChapterStarted Kind = "CHAPTER_STARTED"
	KindPageFetched    Kind = "PAGE_FETCHED"
	KindPageFailed     Kind = "PAGE_FAILED"
	KindChapterDone    Kind = "CHAPTER_DONE"
	KindChapterEmpty   Kind = "CHAPTER_EMPTY"
	KindArchiveReady   Kind = "ARCHIVE_READY"
	KindCompleted      Kind = "COMPLETED"
	KindCanceled       Kind = "CANCELED"
	KindFailed         Kind = "FAILED"
)

// Terminal reports whether the kind ends a job.
func (k Kind) Terminal() bool {
	switch k {
	case KindCompleted, KindCanceled, KindFailed:
		return true
	default:
		return false
	}
}

// PageLevel reports whether the kind is emitted once per page and is subject to throttling.
func (k Kind) PageLevel() bool {
	return k == KindPageFetched || k == KindPageFailed
}

// Event is one progress notification for a job.
type Event struct {
	JobID   string
	OwnerID string
	// Target is the front end's opaque output reference, passed through untouched.
	Target string
	TS     time.Time
	Kind   Kind

	// ChapterIndex is 1-based within the job; TotalChapters is the job's chapter count.
	ChapterIndex  int
	TotalChapters int
	ChapterNumber float64

	// PageIndex is 1-based within the chapter.
	PageIndex  int
	TotalPages int

	Bytes      int64
	Dur        time.Duration
	Reason     string
	DeliveryID string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindJobStarted, KindChapterDone, KindChapterEmpty, KindArchiveReady,
		KindCompleted, KindCanceled:
	case KindChapterStarted:
		if e.ChapterIndex < 1 {
			return errors.New("chapter started requires chapter index")
		}
	case KindPageFetched, KindPageFailed:
		if e.PageIndex < 1 || e.TotalPages < e.PageIndex {
			return fmt.Errorf("page event has invalid position %d/%d", e.PageIndex, e.TotalPages)
		}
	case KindFailed:
		if e.Reason == "" {
			return errors.New("failed event requires reason")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
