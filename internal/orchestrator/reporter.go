package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/darrentmorgan/singura/internal/connectors/registry"
)

const (
	defaultProgressInterval    = 5 * time.Second
	defaultProgressPercentStep = 10
)

type logReporterKey struct {
	connectionID string
	stage        string
}

type logReporterState struct {
	lastLoggedAt      time.Time
	lastLoggedPercent int
}

// LogReporter logs progress events through slog, throttling mid-stage
// progress so a chatty run does not flood the log. Stage boundaries, run
// completion, and errors always log.
type LogReporter struct {
	Logger              *slog.Logger
	ProgressInterval    time.Duration
	ProgressPercentStep int

	mu    sync.Mutex
	state map[logReporterKey]logReporterState
}

func (r *LogReporter) Report(e registry.Event) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := e.At
	if now.IsZero() {
		now = time.Now()
	}

	attrs := []any{"connection_id", e.ConnectionID}
	if e.RunID != "" {
		attrs = append(attrs, "run_id", e.RunID)
	}
	if e.Platform != "" {
		attrs = append(attrs, "platform", e.Platform)
	}
	if e.Stage != "" {
		attrs = append(attrs, "stage", e.Stage)
	}
	if e.Percent != registry.UnknownPercent {
		attrs = append(attrs, "percent", e.Percent)
	}

	message := e.Message
	if e.Err != nil {
		if message == "" {
			message = "discovery run failed"
		}
		attrs = append(attrs, "err", e.Err)
		logger.Error(message, attrs...)
		return
	}
	if message == "" {
		if !e.Done {
			return
		}
		message = "discovery run complete"
	}

	if !r.shouldLogEvent(now, e) {
		return
	}
	logger.Info(message, attrs...)
}

func (r *LogReporter) shouldLogEvent(now time.Time, e registry.Event) bool {
	interval := r.ProgressInterval
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	step := r.ProgressPercentStep
	if step <= 0 {
		step = defaultProgressPercentStep
	}

	// Completion and non-progress events always log.
	if e.Done || e.Percent == registry.UnknownPercent {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		r.state = make(map[logReporterKey]logReporterState)
	}
	key := logReporterKey{connectionID: e.ConnectionID, stage: e.Stage}
	state := r.state[key]

	// Stage boundaries always log for a known percent range.
	boundary := e.Percent <= 0 || e.Percent >= 100
	if !boundary && !state.lastLoggedAt.IsZero() {
		if now.Sub(state.lastLoggedAt) < interval && e.Percent < state.lastLoggedPercent+step {
			return false
		}
	}

	percent := e.Percent
	if percent > 0 {
		percent = (percent / step) * step
	}
	r.state[key] = logReporterState{
		lastLoggedAt:      now,
		lastLoggedPercent: percent,
	}
	return true
}
