// Package retry implements the page fetch retry policy: a bounded number of
// attempts separated by capped exponential backoff with random jitter.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Config tunes the policy. Zero values fall back to defaults.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Policy decides whether and when a failed fetch is retried.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// New builds a policy, defaulting to 3 attempts, 250ms base and 5s cap.
func New(cfg Config) *Policy {
	p := &Policy{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 250 * time.Millisecond
	}
	if p.maxDelay <= 0 {
		p.maxDelay = 5 * time.Second
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = p.baseDelay
	}
	return p
}

// MaxAttempts returns the total number of attempts allowed.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt follows attempt number attempt (1-based).
// Every failure is retryable except context cancellation.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Backoff returns the wait before the attempt following attempt (1-based).
// The delay doubles per attempt up to the cap; half of it is jittered.
func (p *Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
