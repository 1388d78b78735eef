package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Runner executes a single discovery pass.
type Runner interface {
	RunOnce(context.Context) error
}

// ErrRunInProgress is returned when a discovery run is requested for a
// connection that already has one in flight.
var ErrRunInProgress = errors.New("discovery run is already in progress")

// ErrNoConnections is returned by a pass that found no linked connections to
// discover.
var ErrNoConnections = errors.New("no connections are linked")

// ConnectionLister names the store surface the background runner needs.
type ConnectionLister interface {
	ListConnectionIDs(ctx context.Context) ([]string, error)
}

// StoreRunner runs discovery for every linked connection. Connections run
// concurrently; the per-connection run lock in Service turns overlap with a
// manually triggered run into a skip rather than a second run.
type StoreRunner struct {
	store   ConnectionLister
	service *Service
	logger  *slog.Logger
}

func NewStoreRunner(store ConnectionLister, service *Service) *StoreRunner {
	return &StoreRunner{
		store:   store,
		service: service,
		logger:  slog.Default(),
	}
}

func (r *StoreRunner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

func (r *StoreRunner) RunOnce(ctx context.Context) error {
	if r == nil || r.store == nil || r.service == nil {
		return errors.New("discovery runner is not configured")
	}

	ids, err := r.store.ListConnectionIDs(ctx)
	if err != nil {
		return fmt.Errorf("list connections: %w", err)
	}
	if len(ids) == 0 {
		return ErrNoConnections
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := r.service.RunDiscovery(ctx, id)
			switch {
			case err == nil:
				r.logger.Info("connection discovered",
					"connection_id", id,
					"platform", res.Platform,
					"automations", len(res.Automations),
					"partial_failures", len(res.PartialFailures))
			case errors.Is(err, ErrRunInProgress):
				r.logger.Info("connection skipped, run already in progress", "connection_id", id)
			default:
				mu.Lock()
				errs = append(errs, fmt.Errorf("connection %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
