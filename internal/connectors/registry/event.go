package registry

import "time"

// UnknownPercent marks progress events where completion cannot be estimated.
const UnknownPercent = -1

// Event is one progress update emitted while a discovery run advances
// through its stages.
type Event struct {
	ConnectionID string
	RunID        string
	Platform     string
	Stage        string
	Percent      int
	Message      string
	Done         bool
	Err          error
	At           time.Time
}

// Reporter receives progress events. Implementations must be safe for
// concurrent use.
type Reporter interface {
	Report(Event)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(Event)

func (f ReporterFunc) Report(ev Event) { f(ev) }

// NopReporter discards all events.
type NopReporter struct{}

func (NopReporter) Report(Event) {}
