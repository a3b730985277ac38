// Package collyfetcher implements page fetching with retries using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/metrics"
)

var (
	// ErrNotImage is returned when RequireImage is set and the response is not an image.
	ErrNotImage = errors.New("response is not an image")
	// ErrBodyTooLarge is returned when a response exceeds MaxBodyBytes. It is not retried.
	ErrBodyTooLarge = errors.New("response body exceeds limit")
)

// Config controls collector behavior.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	RequireImage    bool
	MaxBodyBytes    int
	MaxConnsPerHost int
	Headers         map[string]string
}

// RetryPolicy decides whether and when a failed attempt is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// HostLimiter paces requests per host.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements archiver.Fetcher using the Colly collector. It holds no
// job state and is shared by all workers.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	policy        RetryPolicy
	limiter       HostLimiter
	after         func(time.Duration) <-chan time.Time
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, policy RetryPolicy, limiter HostLimiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	// The HTTP client is shared by every clone, so it is configured once here.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport(cfg.MaxConnsPerHost))
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		policy:        policy,
		limiter:       limiter,
		after:         time.After,
		logger:        logger.Named("fetcher"),
	}
}

// Fetch downloads url, retrying according to the policy. Exhausted attempts
// yield *archiver.FetchError wrapping the last cause.
func (f *Fetcher) Fetch(ctx context.Context, url string) (archiver.FetchResult, error) {
	start := time.Now()
	var lastErr error
	attempt := 0
	for {
		attempt++
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, url); err != nil {
				lastErr = err
				break
			}
		}
		result, err := f.fetchOnce(ctx, url)
		if err == nil {
			result.Attempts = attempt
			result.Duration = time.Since(start)
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrBodyTooLarge) || f.policy == nil || !f.policy.ShouldRetry(err, attempt) {
			break
		}
		delay := f.policy.Backoff(attempt)
		metrics.ObserveFetchRetry(url)
		f.logger.Debug("retrying page fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-f.after(delay):
			continue
		}
		break
	}
	return archiver.FetchResult{}, &archiver.FetchError{URL: url, Attempts: attempt, Err: lastErr}
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) (archiver.FetchResult, error) {
	var (
		result   archiver.FetchResult
		fetchErr error
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return archiver.FetchResult{}, err
	}
	if f.cfg.RequireImage && !isImage(result.ContentType) {
		return archiver.FetchResult{}, fmt.Errorf("%w: content type %q", ErrNotImage, result.ContentType)
	}
	return result, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	// One byte past the limit lets an oversized body be told apart from a truncated one.
	// Zero lifts colly's own 10 MiB default.
	collector.MaxBodySize = 0
	if f.cfg.MaxBodyBytes > 0 {
		collector.MaxBodySize = f.cfg.MaxBodyBytes + 1
	}
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	result *archiver.FetchResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, value := range f.cfg.Headers {
			r.Headers.Set(key, value)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		if f.cfg.MaxBodyBytes > 0 && len(r.Body) > f.cfg.MaxBodyBytes {
			*fetchErr = fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, f.cfg.MaxBodyBytes)
			return
		}
		*result = archiver.FetchResult{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = &StatusError{Code: r.StatusCode, Err: err}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %v", e.Code, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

func isImage(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/")
}

func newHTTPTransport(maxConnsPerHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxConnsPerHost:       maxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
}
