// Package simple contains the permissive host policy used when per-host pacing is off.
package simple

import (
	"context"
	"fmt"
)

// Policy never delays a request.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns immediately unless ctx is already done.
func (Policy) Wait(ctx context.Context, _ string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("host wait: %w", err)
	}
	return nil
}
