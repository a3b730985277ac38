// Package metrics exposes Prometheus collectors for the archiver service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal                  *prometheus.CounterVec
	pagesTotal                 *prometheus.CounterVec
	bytesFetchedTotal          *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	archiveBytesTotal          prometheus.Counter
	chaptersTotal              *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	queueDepth                 prometheus.Gauge
	floodWaitSeconds           prometheus.Histogram
	deliveriesTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapter_archiver_jobs_total",
				Help: "Total number of jobs that reached a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapter_archiver_pages_total",
				Help: "Total number of pages processed by workers, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		bytesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapter_archiver_fetched_bytes_total",
				Help: "Total number of page bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapter_archiver_fetch_retries_total",
				Help: "Total number of page fetch retries, labeled by site.",
			},
			[]string{"site"},
		)

		archiveBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "chapter_archiver_archive_bytes_total",
				Help: "Total size of finalized archives in bytes.",
			},
		)

		chaptersTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapter_archiver_chapters_total",
				Help: "Total number of chapters processed, labeled by result.",
			},
			[]string{"result"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chapter_archiver_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "chapter_archiver_queue_depth",
				Help: "Number of jobs waiting in the queue.",
			},
		)

		floodWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chapter_archiver_flood_wait_seconds",
				Help:    "Histogram of server-mandated waits before retrying a delivery.",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 300},
			},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chapter_archiver_deliveries_total",
				Help: "Total number of delivery attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chapter_archiver_rate_limit_delays_seconds",
				Help:    "Histogram of per-host politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage records one page fetch outcome ("ok" or "failed").
func ObservePage(pageURL string, result string, bytesFetched int) {
	Init()
	site := SanitizeSite(pageURL)
	pagesTotal.WithLabelValues(site, result).Inc()
	if bytesFetched > 0 {
		bytesFetchedTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry counts a page fetch retry.
func ObserveFetchRetry(pageURL string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(pageURL)).Inc()
}

// ObserveChapter counts a processed chapter ("done" or "empty").
func ObserveChapter(result string) {
	Init()
	chaptersTotal.WithLabelValues(result).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveArchive records the size of a finalized archive.
func ObserveArchive(size int64) {
	Init()
	if size > 0 {
		archiveBytesTotal.Add(float64(size))
	}
}

// ObserveDelivery counts a delivery attempt outcome.
func ObserveDelivery(outcome string) {
	Init()
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFloodWait records a server-mandated wait.
func ObserveFloodWait(wait time.Duration) {
	Init()
	floodWaitSeconds.Observe(wait.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// SetQueueDepth sets the queue depth gauge.
func SetQueueDepth(n int) {
	Init()
	queueDepth.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a per-host politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
