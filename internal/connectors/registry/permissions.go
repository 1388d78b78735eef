package registry

import (
	"context"

	"github.com/darrentmorgan/singura/internal/discovery"
)

// CapabilityProbe is one named capability and the cheapest call that proves
// the connection holds it.
type CapabilityProbe struct {
	Name  string
	Probe func(ctx context.Context) error
}

// RunCapabilityProbes probes each capability in order and partitions the
// names into granted, missing, and errored. Every probed capability lands in
// exactly one bucket; the check is valid only when nothing is missing and
// nothing errored.
func RunCapabilityProbes(ctx context.Context, probes []CapabilityProbe) discovery.PermissionCheck {
	check := discovery.PermissionCheck{
		Permissions:        []string{},
		MissingPermissions: []string{},
		Errors:             []string{},
	}
	for _, p := range probes {
		err := p.Probe(ctx)
		switch {
		case err == nil:
			check.Permissions = append(check.Permissions, p.Name)
		case IsPermissionDenied(err):
			check.MissingPermissions = append(check.MissingPermissions, p.Name)
		default:
			check.Errors = append(check.Errors, p.Name+": "+err.Error())
		}
	}
	check.IsValid = len(check.MissingPermissions) == 0 && len(check.Errors) == 0
	return check
}
