package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Scheduler drives a Runner at a fixed interval.
type Scheduler struct {
	Runner   Runner
	Interval time.Duration
}

func (s *Scheduler) Run(ctx context.Context) {
	if s.Runner == nil || s.Interval <= 0 {
		return
	}

	// Run immediately at startup.
	s.runOnce(ctx)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	err := s.Runner.RunOnce(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoConnections):
		slog.Info("discovery pass found no linked connections")
	default:
		slog.Error("discovery pass failed", "err", err)
	}
}
