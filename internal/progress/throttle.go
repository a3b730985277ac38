package progress

import (
	"sync"
	"time"
)

// Throttle forwards events to next but drops page-level events that arrive
// within MinInterval of the previous forwarded event for the same job.
// Chapter, archive and terminal events always pass.
type Throttle struct {
	next        Reporter
	minInterval time.Duration
	now         func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewThrottle wraps next. A non-positive interval forwards everything.
func NewThrottle(next Reporter, minInterval time.Duration, now func() time.Time) *Throttle {
	if now == nil {
		now = time.Now
	}
	return &Throttle{
		next:        next,
		minInterval: minInterval,
		now:         now,
		last:        make(map[string]time.Time),
	}
}

// Report implements Reporter.
func (t *Throttle) Report(ownerID string, evt Event) {
	if t.allow(evt) {
		t.next.Report(ownerID, evt)
	}
}

func (t *Throttle) allow(evt Event) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if evt.Kind.Terminal() {
		delete(t.last, evt.JobID)
		return true
	}
	if evt.Kind.PageLevel() && t.minInterval > 0 {
		if last, ok := t.last[evt.JobID]; ok && now.Sub(last) < t.minInterval {
			return false
		}
	}
	t.last[evt.JobID] = now
	return true
}
