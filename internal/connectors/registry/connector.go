package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/darrentmorgan/singura/internal/discovery"
)

// ErrNotAuthenticated is returned by connector operations that need a
// completed Authenticate call before they can talk to the platform.
var ErrNotAuthenticated = errors.New("connector is not authenticated")

// Connector is the per-connection surface every platform integration exposes.
// Implementations wrap one set of OAuth credentials and one vendor API.
type Connector interface {
	Kind() string
	Authenticate(ctx context.Context) discovery.AuthResult
	DiscoveryMethods() []DiscoveryMethod
	DiscoverAutomations(ctx context.Context) ([]discovery.AutomationEvent, error)
	AuditLogs(ctx context.Context, since time.Time) ([]discovery.AuditLogEntry, error)
	ValidatePermissions(ctx context.Context) discovery.PermissionCheck
}

// DiscoveryMethod is one named unit of discovery work on a platform, such as
// listing bot users or enumerating OAuth grants.
type DiscoveryMethod struct {
	Name string
	Run  func(ctx context.Context) ([]discovery.AutomationEvent, error)
}

// MethodFailure records one discovery method that returned an error.
type MethodFailure struct {
	Method string `json:"method"`
	Error  string `json:"error"`
}

// DiscoveryFailedError means discovery produced no usable result for a
// connection, either because the platform treats any method failure as fatal
// or because every method failed.
type DiscoveryFailedError struct {
	Platform string
	Failures []MethodFailure
}

func (e *DiscoveryFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Method+": "+f.Error)
	}
	return fmt.Sprintf("discover %s automations: %s", e.Platform, strings.Join(parts, "; "))
}

// CollectMethods runs every method concurrently and merges their output in
// registration order, so two runs over the same data produce byte-identical
// aggregates. Failed methods are reported alongside the merged events rather
// than aborting the survivors.
func CollectMethods(ctx context.Context, methods []DiscoveryMethod) ([]discovery.AutomationEvent, []MethodFailure) {
	if len(methods) == 0 {
		return nil, nil
	}

	eventsByMethod := make([][]discovery.AutomationEvent, len(methods))
	errsByMethod := make([]error, len(methods))

	var wg sync.WaitGroup
	for i, method := range methods {
		i, method := i, method
		wg.Add(1)
		go func() {
			defer wg.Done()
			eventsByMethod[i], errsByMethod[i] = method.Run(ctx)
		}()
	}
	wg.Wait()

	var out []discovery.AutomationEvent
	var failures []MethodFailure
	for i, method := range methods {
		if err := errsByMethod[i]; err != nil {
			failures = append(failures, MethodFailure{Method: method.Name, Error: err.Error()})
			continue
		}
		out = append(out, eventsByMethod[i]...)
	}
	return out, failures
}

// AllMethodsFailed reports whether every method failed, meaning the run
// produced no signal at all rather than a legitimately empty result.
func AllMethodsFailed(methods []DiscoveryMethod, failures []MethodFailure) bool {
	return len(methods) > 0 && len(failures) == len(methods)
}
