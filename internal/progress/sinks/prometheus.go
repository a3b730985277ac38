package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/chapter-archiver/internal/progress"
)

// PrometheusSink exports job lifecycle metrics derived from the progress stream.
type PrometheusSink struct {
	events       *prometheus.CounterVec
	jobsRunning  prometheus.Gauge
	jobRuntime   *prometheus.HistogramVec
	chapterPages prometheus.Histogram

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chapter_archiver_progress_events_total",
			Help: "Progress events observed partitioned by kind.",
		}, []string{"kind"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chapter_archiver_jobs_running",
			Help: "Jobs that have started and not yet reached a terminal event.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chapter_archiver_job_runtime_seconds",
			Help:    "Wall time per finished job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		chapterPages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chapter_archiver_chapter_pages",
			Help:    "Page count of chapters that started fetching.",
			Buckets: []float64{1, 5, 10, 20, 40, 80, 160},
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.jobsRunning,
		s.jobRuntime,
		s.chapterPages,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Kind)).Inc()
		switch {
		case evt.Kind == progress.KindJobStarted:
			if s.tracker.start(evt.JobID, evt.TS) {
				s.jobsRunning.Inc()
			}
		case evt.Kind.Terminal():
			if started, ok := s.tracker.complete(evt.JobID); ok {
				s.jobsRunning.Dec()
				if elapsed := evt.TS.Sub(started); elapsed > 0 {
					s.jobRuntime.WithLabelValues(resultLabel(evt.Kind)).Observe(elapsed.Seconds())
				}
			}
		case evt.Kind == progress.KindPageFetched && evt.PageIndex == 1:
			s.chapterPages.Observe(float64(evt.TotalPages))
		}
	}
	return nil
}

func resultLabel(kind progress.Kind) string {
	switch kind {
	case progress.KindCompleted:
		return "completed"
	case progress.KindCanceled:
		return "canceled"
	default:
		return "failed"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]time.Time)}
}

func (t *jobTracker) start(id string, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = ts
	return true
}

func (t *jobTracker) complete(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.running[id]
	if !ok {
		return time.Time{}, false
	}
	delete(t.running, id)
	return started, true
}
