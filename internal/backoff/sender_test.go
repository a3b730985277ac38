package backoff

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

func TestDoRetriesRateLimitedUntilSuccess(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	s := New(Config{FloodMargin: time.Second}, clk, nil)

	var calls, waits int
	id, err := Do(context.Background(), s, Options{OnFloodWait: func(time.Duration) { waits++ }},
		func(context.Context) (string, error) {
			calls++
			if calls <= 2 {
				return "", &archiver.RateLimitedError{Wait: 5 * time.Second}
			}
			return "delivery-1", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "delivery-1", id)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, waits)
	assert.GreaterOrEqual(t, clk.Total(), 10*time.Second)
	assert.Equal(t, 12*time.Second, clk.Total())
}

func TestDoRateLimitIsUnbounded(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	s := New(Config{FloodMargin: -1, TransientRetries: 1}, clk, nil)

	calls := 0
	err := s.Send(context.Background(), Options{}, func(context.Context) error {
		calls++
		if calls < 50 {
			return &archiver.RateLimitedError{Wait: time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 50, calls)
	assert.Equal(t, 49*time.Millisecond, clk.Total())
}

func TestDoClampsOutOfRangeWaits(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	s := New(Config{FloodMargin: time.Second}, clk, nil)

	waits := []time.Duration{-time.Hour, 100 * 365 * 24 * time.Hour}
	var seen []time.Duration
	err := s.Send(context.Background(), Options{OnFloodWait: func(d time.Duration) { seen = append(seen, d) }},
		func(context.Context) error {
			if len(waits) == 0 {
				return nil
			}
			w := waits[0]
			waits = waits[1:]
			return &archiver.RateLimitedError{Wait: w}
		})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, MaxRateLimitWait + time.Second}, seen)
	assert.Equal(t, MaxRateLimitWait+2*time.Second, clk.Total())
}

func TestDoTransientRetriesAreBounded(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	s := New(Config{TransientDelay: 2 * time.Second, TransientRetries: 2}, clk, nil)

	calls := 0
	err := s.Send(context.Background(), Options{}, func(context.Context) error {
		calls++
		return fmt.Errorf("upload: %w", io.ErrUnexpectedEOF)
	})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 4*time.Second, clk.Total())
}

func TestDoPermanentErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	s := New(Config{}, &fakeClock{}, nil)
	permanent := errors.New("file too large")
	calls := 0
	err := s.Send(context.Background(), Options{}, func(context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoStopsWhenOwnerCancels(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{}
	s := New(Config{CancelPoll: time.Second}, clk, nil)

	var canceled atomic.Bool
	calls := 0
	err := s.Send(context.Background(), Options{Canceled: func(context.Context) bool {
		return canceled.Load()
	}}, func(context.Context) error {
		calls++
		canceled.Store(true)
		return &archiver.RateLimitedError{Wait: time.Hour}
	})
	require.ErrorIs(t, err, archiver.ErrCanceled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, time.Second, clk.Total(), "cancellation is noticed after one poll slice")
}

func TestDoStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	s := New(Config{}, blockingClock{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := s.Send(ctx, Options{}, func(context.Context) error {
		return &archiver.RateLimitedError{Wait: time.Minute}
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(&archiver.TransientError{Err: errors.New("502")}))
	assert.True(t, IsTransient(fmt.Errorf("write: %w", syscall.ECONNRESET)))
	assert.True(t, IsTransient(io.ErrUnexpectedEOF))
	assert.True(t, IsTransient(timeoutErr{}))
	assert.False(t, IsTransient(errors.New("bad request")))
}

type fakeClock struct {
	mu    sync.Mutex
	total time.Duration
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.total += d
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *fakeClock) Total() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

type blockingClock struct{}

func (blockingClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
