package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxAttempts: 3})
	boom := errors.New("connection reset")

	assert.False(t, p.ShouldRetry(nil, 1))
	assert.True(t, p.ShouldRetry(boom, 1))
	assert.True(t, p.ShouldRetry(boom, 2))
	assert.False(t, p.ShouldRetry(boom, 3))
	assert.False(t, p.ShouldRetry(fmt.Errorf("get: %w", context.Canceled), 1))
	assert.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
}

func TestBackoffIsCapped(t *testing.T) {
	t.Parallel()

	p := New(Config{BaseDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond})
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
	first := p.Backoff(1)
	assert.GreaterOrEqual(t, first, 50*time.Millisecond)
	assert.LessOrEqual(t, first, 100*time.Millisecond)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	assert.Equal(t, 3, p.MaxAttempts())
	assert.LessOrEqual(t, p.Backoff(10), 5*time.Second)
}
