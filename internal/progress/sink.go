package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Reporter receives progress for a job owner. Implementations must not block
// the worker for long.
type Reporter interface {
	Report(ownerID string, evt Event)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ownerID string, evt Event)

// Report calls f.
func (f ReporterFunc) Report(ownerID string, evt Event) {
	f(ownerID, evt)
}

// Fanout reports to every non-nil reporter in order.
type Fanout []Reporter

// Report forwards the event to each reporter.
func (f Fanout) Report(ownerID string, evt Event) {
	for _, r := range f {
		if r != nil {
			r.Report(ownerID, evt)
		}
	}
}

// Nop discards every event.
var Nop Reporter = ReporterFunc(func(string, Event) {})
