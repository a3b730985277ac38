package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub. Zero values use the defaults below.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 100
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Hub buffers events and fans them out to sinks from one background
// goroutine. Report and Emit never block; a full buffer drops the event.
type Hub struct {
	cfg     Config
	sinks   []Sink
	events  chan Event
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	lastLog atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts a Hub over sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger.Named("progress"),
	}
	go h.run()
	return h
}

// Report implements Reporter.
func (h *Hub) Report(ownerID string, evt Event) {
	if evt.OwnerID == "" {
		evt.OwnerID = ownerID
	}
	h.Emit(evt)
}

// Emit enqueues an event without blocking.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		now := time.Now().UnixNano()
		last := h.lastLog.Load()
		if now-last >= dropLogInterval.Nanoseconds() && h.lastLog.CompareAndSwap(last, now) {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.dropped.Swap(0)))
		}
	}
}

// Close drains buffered events, flushes and closes sinks, and waits for the
// background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	var flushC <-chan time.Time
	flush := func() {
		if len(batch) > 0 {
			h.flush(batch)
			batch = batch[:0]
		}
		flushC = nil
	}
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				flush()
			} else if flushC == nil {
				flushC = time.After(h.cfg.MaxBatchWait)
			}
		case <-flushC:
			flush()
		case <-h.stopCh:
		drain:
			for {
				select {
				case evt := <-h.events:
					batch = append(batch, evt)
					if len(batch) >= h.cfg.MaxBatchEvents {
						flush()
					}
				default:
					break drain
				}
			}
			flush()
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
