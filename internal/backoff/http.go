package backoff

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

const (
	// DefaultRateLimitWait is assumed when a 429 carries no usable wait.
	DefaultRateLimitWait = time.Second
	// MaxRateLimitWait caps any server-supplied wait.
	MaxRateLimitWait = 24 * time.Hour
)

const maxErrorBody = 64 << 10

// ParseRetryAfter reads a Retry-After header given as delta seconds or an HTTP date.
func ParseRetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(header, 64); err == nil {
		if math.IsNaN(secs) || secs < 0 {
			return 0, false
		}
		return secondsToDuration(secs), true
	}
	when, err := http.ParseTime(header)
	if err != nil {
		return 0, false
	}
	wait := when.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return min(wait, MaxRateLimitWait), true
}

type retryAfterBody struct {
	RetryAfter *float64 `json:"retry_after"`
	Parameters struct {
		RetryAfter *float64 `json:"retry_after"`
	} `json:"parameters"`
}

// RateLimitedFromResponse converts a 429 response into *archiver.RateLimitedError.
// The wait comes from Retry-After, then a JSON body field "retry_after" or
// "parameters.retry_after". It returns nil for any other status. The body is
// consumed but not closed.
func RateLimitedFromResponse(resp *http.Response, now time.Time) *archiver.RateLimitedError {
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if wait, ok := ParseRetryAfter(resp.Header.Get("Retry-After"), now); ok {
		return &archiver.RateLimitedError{Wait: wait, Err: cause}
	}
	var parsed retryAfterBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Parameters.RetryAfter != nil:
			return &archiver.RateLimitedError{Wait: secondsToDuration(*parsed.Parameters.RetryAfter), Err: cause}
		case parsed.RetryAfter != nil:
			return &archiver.RateLimitedError{Wait: secondsToDuration(*parsed.RetryAfter), Err: cause}
		}
	}
	return &archiver.RateLimitedError{Wait: DefaultRateLimitWait, Err: cause}
}

// CheckResponse classifies an HTTP response from a sink: nil for 2xx,
// *archiver.RateLimitedError for 429, *archiver.TransientError for 5xx and a
// plain error otherwise.
func CheckResponse(resp *http.Response, now time.Time) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if limited := RateLimitedFromResponse(resp, now); limited != nil {
		return limited
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 500 {
		return &archiver.TransientError{Err: err}
	}
	return err
}

// secondsToDuration converts a server-supplied wait, clamping it to
// [0, MaxRateLimitWait]. NaN falls back to DefaultRateLimitWait.
func secondsToDuration(secs float64) time.Duration {
	switch {
	case math.IsNaN(secs):
		return DefaultRateLimitWait
	case secs <= 0:
		return 0
	case secs >= MaxRateLimitWait.Seconds():
		return MaxRateLimitWait
	}
	return time.Duration(secs * float64(time.Second))
}
