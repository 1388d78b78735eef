package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/darrentmorgan/singura/internal/connectors/registry"
	"github.com/darrentmorgan/singura/internal/credentials"
	"github.com/darrentmorgan/singura/internal/discovery"
	"github.com/darrentmorgan/singura/internal/metrics"
)

// Service is the inbound facade over discovery. It serializes runs per
// connection and keeps the audit and permission surfaces best-effort: they
// degrade to empty results instead of surfacing platform errors.
type Service struct {
	orch     *Orchestrator
	registry *registry.Registry
	provider CredentialSource
	logger   *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

func NewService(reg *registry.Registry, provider CredentialSource) *Service {
	return &Service{
		orch:     NewOrchestrator(reg, provider),
		registry: reg,
		provider: provider,
		logger:   slog.Default(),
		running:  make(map[string]struct{}),
	}
}

func (s *Service) SetReporter(r registry.Reporter) {
	s.orch.SetReporter(r)
}

func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
		s.orch.SetLogger(logger)
	}
}

// RunDiscovery executes a discovery run for the connection. At most one run
// per connection is in flight at a time; an overlapping trigger returns
// ErrRunInProgress without touching the platform.
func (s *Service) RunDiscovery(ctx context.Context, connectionID string) (Result, error) {
	id := strings.TrimSpace(connectionID)
	if id == "" {
		return Result{}, errors.New("connection id is required")
	}
	if !s.tryLock(id) {
		return Result{}, fmt.Errorf("connection %s: %w", id, ErrRunInProgress)
	}
	defer s.unlock(id)
	return s.orch.Run(ctx, id)
}

// AuthenticateConnection validates raw credentials against a platform without
// requiring a stored connection. Failures fold into the result; this never
// returns an error.
func (s *Service) AuthenticateConnection(ctx context.Context, platform string, creds discovery.OAuthCredentials) discovery.AuthResult {
	connector, err := s.registry.NewConnector(platform, creds)
	if err != nil {
		return discovery.AuthResult{Success: false, Error: err.Error()}
	}
	return connector.Authenticate(ctx)
}

// FetchAuditLog returns the connection's audit entries at or after since.
// Only an unknown connection surfaces an error; every other failure logs a
// warning and degrades to an empty result.
func (s *Service) FetchAuditLog(ctx context.Context, connectionID string, since time.Time) ([]discovery.AuditLogEntry, error) {
	conn, connector, err := s.connectorFor(ctx, connectionID)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialNotFound) {
			return nil, err
		}
		s.logger.Warn("audit log fetch degraded", "connection_id", connectionID, "err", err)
		return []discovery.AuditLogEntry{}, nil
	}

	if auth := connector.Authenticate(ctx); !auth.Success {
		s.logger.Warn("audit log fetch degraded",
			"connection_id", connectionID,
			"platform", conn.Platform,
			"err", auth.Error)
		return []discovery.AuditLogEntry{}, nil
	}

	entries, err := connector.AuditLogs(ctx, since)
	if err != nil {
		s.logger.Warn("audit log fetch degraded",
			"connection_id", connectionID,
			"platform", conn.Platform,
			"err", err)
		return []discovery.AuditLogEntry{}, nil
	}

	metrics.AuditEntriesTotal.WithLabelValues(conn.Platform).Add(float64(len(entries)))
	if entries == nil {
		entries = []discovery.AuditLogEntry{}
	}
	return entries, nil
}

// CheckPermissions probes the connection's capability list. Only an unknown
// connection surfaces an error; setup failures fold into an invalid check.
func (s *Service) CheckPermissions(ctx context.Context, connectionID string) (discovery.PermissionCheck, error) {
	conn, connector, err := s.connectorFor(ctx, connectionID)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialNotFound) {
			return discovery.PermissionCheck{}, err
		}
		return discovery.PermissionCheck{IsValid: false, Errors: []string{err.Error()}}, nil
	}

	check := connector.ValidatePermissions(ctx)
	status := "invalid"
	if check.IsValid {
		status = "valid"
	}
	metrics.PermissionChecksTotal.WithLabelValues(conn.Platform, status).Inc()
	return check, nil
}

func (s *Service) connectorFor(ctx context.Context, connectionID string) (credentials.Connection, registry.Connector, error) {
	conn, err := s.provider.GetCredentials(ctx, connectionID)
	if err != nil {
		return credentials.Connection{}, nil, err
	}
	connector, err := s.registry.NewConnector(conn.Platform, conn.Credentials)
	if err != nil {
		return credentials.Connection{}, nil, err
	}
	return conn, connector, nil
}

func (s *Service) tryLock(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[connectionID]; busy {
		return false
	}
	s.running[connectionID] = struct{}{}
	return true
}

func (s *Service) unlock(connectionID string) {
	s.mu.Lock()
	delete(s.running, connectionID)
	s.mu.Unlock()
}
