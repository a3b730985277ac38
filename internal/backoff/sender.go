// Package backoff wraps output-sink calls that a remote service may throttle.
//
// A *archiver.RateLimitedError carries the server-mandated wait; the sender
// sleeps that long plus a safety margin and tries again with no attempt limit.
// Transient network failures get a fixed delay and a bounded number of retries.
// Everything else is returned to the caller unchanged.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/metrics"
)

// Config tunes the sender.
type Config struct {
	FloodMargin      time.Duration
	TransientDelay   time.Duration
	TransientRetries int
	// CancelPoll bounds how long a flood wait runs before the cancel check is consulted again.
	CancelPoll time.Duration
}

// Afterer is the part of archiver.Clock the sender sleeps through.
type Afterer interface {
	After(d time.Duration) <-chan time.Time
}

// Options carries per-call hooks.
type Options struct {
	// Canceled reports whether the owner asked to stop. Nil means never.
	Canceled func(ctx context.Context) bool
	// OnFloodWait is invoked before each server-mandated wait.
	OnFloodWait func(wait time.Duration)
}

// Sender retries throttled operations.
type Sender struct {
	cfg    Config
	clock  Afterer
	logger *zap.Logger
}

// New constructs a Sender. Zero config values fall back to a 1s margin, 2s
// transient delay, 3 transient retries and a 1s cancel poll.
func New(cfg Config, clock Afterer, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FloodMargin < 0 {
		cfg.FloodMargin = 0
	} else if cfg.FloodMargin == 0 {
		cfg.FloodMargin = time.Second
	}
	if cfg.TransientDelay <= 0 {
		cfg.TransientDelay = 2 * time.Second
	}
	if cfg.TransientRetries < 0 {
		cfg.TransientRetries = 0
	} else if cfg.TransientRetries == 0 {
		cfg.TransientRetries = 3
	}
	if cfg.CancelPoll <= 0 {
		cfg.CancelPoll = time.Second
	}
	return &Sender{cfg: cfg, clock: clock, logger: logger.Named("backoff")}
}

// Send runs op until it succeeds, fails permanently, or the caller cancels.
func (s *Sender) Send(ctx context.Context, opts Options, op func(ctx context.Context) error) error {
	_, err := Do(ctx, s, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do is the generic form of Send for operations that return a value.
func Do[T any](ctx context.Context, s *Sender, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	transient := 0
	for attempt := 1; ; attempt++ {
		if err := s.checkCanceled(ctx, opts); err != nil {
			return zero, err
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("send aborted: %w", ctx.Err())
		}

		var limited *archiver.RateLimitedError
		switch {
		case errors.As(err, &limited):
			wait := min(max(limited.Wait, 0), MaxRateLimitWait) + s.cfg.FloodMargin
			metrics.ObserveFloodWait(wait)
			if opts.OnFloodWait != nil {
				opts.OnFloodWait(wait)
			}
			s.logger.Info("rate limited, waiting before retry",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			if err := s.sleep(ctx, opts, wait); err != nil {
				return zero, err
			}
		case IsTransient(err) && transient < s.cfg.TransientRetries:
			transient++
			s.logger.Warn("transient send failure, retrying",
				zap.Int("attempt", attempt),
				zap.Int("transient_retry", transient),
				zap.Error(err),
			)
			if err := s.sleep(ctx, opts, s.cfg.TransientDelay); err != nil {
				return zero, err
			}
		default:
			return zero, err
		}
	}
}

func (s *Sender) checkCanceled(ctx context.Context, opts Options) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("send aborted: %w", err)
	}
	if opts.Canceled != nil && opts.Canceled(ctx) {
		return archiver.ErrCanceled
	}
	return nil
}

// sleep waits d in slices of at most CancelPoll so a long flood wait still
// notices owner cancellation.
func (s *Sender) sleep(ctx context.Context, opts Options, d time.Duration) error {
	for d > 0 {
		step := d
		if opts.Canceled != nil && step > s.cfg.CancelPoll {
			step = s.cfg.CancelPoll
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send aborted: %w", ctx.Err())
		case <-s.clock.After(step):
		}
		d -= step
		if d > 0 {
			if err := s.checkCanceled(ctx, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsTransient reports whether err looks like a short-lived network failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *archiver.TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
