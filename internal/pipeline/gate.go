package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
)

// ownerGate wraps a CancelRegistry with a count of queued and running jobs per
// owner. A cancel for an owner with no active job is dropped, and the first
// job of an idle owner clears any flag left behind, so a stale flag never
// reaches a later job.
type ownerGate struct {
	mu     sync.Mutex
	active map[string]int
	reg    archiver.CancelRegistry
}

func newOwnerGate(reg archiver.CancelRegistry) *ownerGate {
	return &ownerGate{active: make(map[string]int), reg: reg}
}

func (g *ownerGate) track(ctx context.Context, ownerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[ownerID] == 0 {
		if err := g.reg.Clear(ctx, ownerID); err != nil {
			return fmt.Errorf("clear stale cancel flag: %w", err)
		}
	}
	g.active[ownerID]++
	return nil
}

func (g *ownerGate) untrack(ownerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release(ownerID)
}

func (g *ownerGate) release(ownerID string) {
	if n := g.active[ownerID]; n > 1 {
		g.active[ownerID] = n - 1
		return
	}
	delete(g.active, ownerID)
}

func (g *ownerGate) activeJobs(ownerID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[ownerID]
}

// RequestCancel sets the owner's flag when the owner has an active job.
func (g *ownerGate) RequestCancel(ctx context.Context, ownerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[ownerID] == 0 {
		return nil
	}
	return g.reg.RequestCancel(ctx, ownerID)
}

// IsCanceled implements archiver.CancelRegistry.
func (g *ownerGate) IsCanceled(ctx context.Context, ownerID string) (bool, error) {
	return g.reg.IsCanceled(ctx, ownerID)
}

// Clear is called by a worker when a job ends. It releases the job's slot and
// clears the flag the job consumed.
func (g *ownerGate) Clear(ctx context.Context, ownerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.release(ownerID)
	return g.reg.Clear(ctx, ownerID)
}
