// Package orchestrator drives discovery runs. A run loads one connection's
// credentials, authenticates the platform connector, executes every discovery
// method concurrently, and aggregates the surviving output into risk-scored
// automation events. The package also carries the service facade, the
// background runner, and the progress reporter used by the CLI.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/darrentmorgan/singura/internal/connectors/registry"
	"github.com/darrentmorgan/singura/internal/credentials"
	"github.com/darrentmorgan/singura/internal/discovery"
	"github.com/darrentmorgan/singura/internal/metrics"
)

// ErrAuthenticationFailed marks runs that stopped because the platform
// rejected the connection's credentials.
var ErrAuthenticationFailed = errors.New("authentication failed")

// State is the lifecycle position of a discovery run.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateDiscovering    State = "discovering"
	StateAggregating    State = "aggregating"
	StateDone           State = "done"
	StateFailed         State = "failed"
)

// Progress percent reported as the run enters each stage. Discovery methods
// fill the span between percentDiscovering and percentMethodsDone.
const (
	percentAuthenticating = 0
	percentDiscovering    = 10
	percentMethodsDone    = 80
	percentAggregating    = 90
	percentDone           = 100
)

// Result is the outcome of one discovery run. PartialFailures lists the
// methods that returned an error; a Done result with failures is a degraded
// run, not a clean one.
type Result struct {
	ConnectionID    string                      `json:"connectionId"`
	RunID           string                      `json:"runId"`
	Platform        string                      `json:"platform,omitempty"`
	State           State                       `json:"state"`
	Automations     []discovery.AutomationEvent `json:"automations"`
	PartialFailures []registry.MethodFailure    `json:"partialFailures"`
	StartedAt       time.Time                   `json:"startedAt"`
	FinishedAt      time.Time                   `json:"finishedAt"`
}

// CredentialSource loads a connection with credentials valid for at least
// the duration of a run.
type CredentialSource interface {
	GetCredentials(ctx context.Context, connectionID string) (credentials.Connection, error)
}

// Orchestrator executes discovery runs against registered platforms.
type Orchestrator struct {
	registry *registry.Registry
	provider CredentialSource
	reporter registry.Reporter
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(reg *registry.Registry, provider CredentialSource) *Orchestrator {
	return &Orchestrator{
		registry: reg,
		provider: provider,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

func (o *Orchestrator) SetReporter(r registry.Reporter) {
	o.reporter = r
}

func (o *Orchestrator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		o.logger = logger
	}
}

// Run executes one discovery run for the given connection.
//
// The run fails only when credentials cannot be loaded, the platform rejects
// authentication, the context is cancelled, or every discovery method fails.
// A subset of failing methods degrades the result instead: their errors land
// in PartialFailures and the surviving methods' events are aggregated in
// method registration order and risk-scored against the run start time.
func (o *Orchestrator) Run(ctx context.Context, connectionID string) (Result, error) {
	res := Result{
		ConnectionID: connectionID,
		RunID:        uuid.NewString(),
		State:        StateIdle,
		StartedAt:    o.now().UTC(),
	}

	res.State = StateAuthenticating
	o.report(res, percentAuthenticating, "loading credentials", nil, false)

	conn, err := o.provider.GetCredentials(ctx, connectionID)
	if err != nil {
		return o.fail(res, fmt.Errorf("credentials for connection %s: %w", connectionID, err))
	}
	res.Platform = conn.Platform

	connector, err := o.registry.NewConnector(conn.Platform, conn.Credentials)
	if err != nil {
		return o.fail(res, fmt.Errorf("build %s connector: %w", conn.Platform, err))
	}

	auth := connector.Authenticate(ctx)
	if !auth.Success {
		msg := auth.Error
		if msg == "" {
			msg = "platform rejected the credentials"
		}
		if auth.ErrorCode != "" {
			msg += " (" + auth.ErrorCode + ")"
		}
		return o.fail(res, fmt.Errorf("%w: %s", ErrAuthenticationFailed, msg))
	}

	res.State = StateDiscovering
	o.report(res, percentDiscovering, "authenticated as "+auth.DisplayName, nil, false)

	events, failures := registry.CollectMethods(ctx, o.instrument(res, connector.DiscoveryMethods()))
	res.PartialFailures = failures

	// A cancelled run discards partial results rather than presenting an
	// arbitrary subset as the connection's inventory.
	if err := ctx.Err(); err != nil {
		return o.fail(res, fmt.Errorf("discovery run canceled: %w", err))
	}
	if registry.AllMethodsFailed(connector.DiscoveryMethods(), failures) {
		return o.fail(res, &registry.DiscoveryFailedError{Platform: conn.Platform, Failures: failures})
	}

	res.State = StateAggregating
	events = dedupeEvents(events)
	o.report(res, percentAggregating, fmt.Sprintf("scoring %d automations", len(events)), nil, false)
	for i := range events {
		discovery.AnnotateRisk(&events[i], res.StartedAt)
	}

	res.Automations = events
	res.State = StateDone
	res.FinishedAt = o.now().UTC()
	o.report(res, percentDone, "discovery run complete", nil, true)
	o.observeRun(res, "success")
	o.logger.Info("discovery run complete",
		"connection_id", res.ConnectionID,
		"run_id", res.RunID,
		"platform", res.Platform,
		"automations", len(events),
		"partial_failures", len(failures))
	return res, nil
}

// instrument wraps each discovery method with per-method metrics and progress
// reporting. Each wrapper touches only its own state, so the methods stay
// safe to run concurrently.
func (o *Orchestrator) instrument(res Result, methods []registry.DiscoveryMethod) []registry.DiscoveryMethod {
	if len(methods) == 0 {
		return methods
	}

	var done atomic.Int64
	total := int64(len(methods))
	span := int64(percentMethodsDone - percentDiscovering)

	wrapped := make([]registry.DiscoveryMethod, len(methods))
	for i, method := range methods {
		method := method
		wrapped[i] = registry.DiscoveryMethod{
			Name: method.Name,
			Run: func(ctx context.Context) ([]discovery.AutomationEvent, error) {
				events, err := method.Run(ctx)
				percent := percentDiscovering + int(done.Add(1)*span/total)
				if err != nil {
					metrics.DiscoveryMethodFailuresTotal.WithLabelValues(res.Platform, method.Name).Inc()
					o.report(res, percent, method.Name+" failed", err, false)
					return nil, err
				}
				metrics.DiscoveryEventsTotal.WithLabelValues(res.Platform, method.Name).Add(float64(len(events)))
				o.report(res, percent, fmt.Sprintf("%s returned %d automations", method.Name, len(events)), nil, false)
				return events, nil
			},
		}
	}
	return wrapped
}

func (o *Orchestrator) fail(res Result, err error) (Result, error) {
	res.State = StateFailed
	res.FinishedAt = o.now().UTC()
	o.report(res, registry.UnknownPercent, "", err, true)
	o.observeRun(res, "failure")
	o.logger.Error("discovery run failed",
		"connection_id", res.ConnectionID,
		"run_id", res.RunID,
		"platform", platformLabel(res.Platform),
		"err", err)
	return res, err
}

func (o *Orchestrator) observeRun(res Result, status string) {
	platform := platformLabel(res.Platform)
	metrics.DiscoveryRunsTotal.WithLabelValues(platform, status).Inc()
	metrics.DiscoveryDuration.WithLabelValues(platform).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	if status == "success" {
		metrics.DiscoveryLastSuccessTimestamp.WithLabelValues(platform).Set(float64(res.FinishedAt.Unix()))
	}
}

func (o *Orchestrator) report(res Result, percent int, message string, err error, done bool) {
	if o.reporter == nil {
		return
	}
	o.reporter.Report(registry.Event{
		ConnectionID: res.ConnectionID,
		RunID:        res.RunID,
		Platform:     res.Platform,
		Stage:        string(res.State),
		Percent:      percent,
		Message:      message,
		Done:         done,
		Err:          err,
		At:           o.now().UTC(),
	})
}

// platformLabel keeps metric labels bounded when a run fails before the
// connection's platform is known.
func platformLabel(platform string) string {
	if platform == "" {
		return "unknown"
	}
	return platform
}

// dedupeEvents drops events without an id and keeps the first occurrence
// of each id, preserving method registration order. Methods on one
// platform can legitimately surface the same automation twice, such as a
// bot that is also an installed app.
func dedupeEvents(events []discovery.AutomationEvent) []discovery.AutomationEvent {
	out := events[:0]
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			continue
		}
		if _, ok := seen[ev.ID]; ok {
			continue
		}
		seen[ev.ID] = struct{}{}
		out = append(out, ev)
	}
	return out
}
