package archiver

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by the pipeline packages.
var (
	ErrInvalidJob   = errors.New("invalid job")
	ErrChapterEmpty = errors.New("chapter has no pages")
	ErrCanceled     = errors.New("job canceled")
	ErrJobNotFound  = errors.New("job not found")
	ErrQueueClosed  = errors.New("queue closed")
)

// FetchError is returned once a page fetch has exhausted its attempts.
// Callers treat it as a missing page, not a job failure.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// RateLimitedError signals that the remote service requires a pause before retrying.
type RateLimitedError struct {
	Wait time.Duration
	Err  error
}

func (e *RateLimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("rate limited, retry after %s", e.Wait)
}

func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// TransientError marks a sink failure worth a bounded number of retries.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
