package directorygraph

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/darrentmorgan/singura/internal/connectors/registry"
	"github.com/darrentmorgan/singura/internal/discovery"
)

// Definition registers the directory graph platform.
type Definition struct {
	Options Options
}

func (d Definition) Kind() string { return discovery.PlatformDirectoryGraph }

func (d Definition) DisplayName() string { return "Directory Graph" }

func (d Definition) NewConnector(creds discovery.OAuthCredentials) (registry.Connector, error) {
	client, err := NewClient(creds.AccessToken, d.Options)
	if err != nil {
		return nil, err
	}
	return &Connector{
		client: client,
		scopes: discovery.NormalizeScopes(discovery.SplitScopeString(creds.Scope)),
	}, nil
}

// Connector wraps one tenant connection.
type Connector struct {
	client *Client
	scopes []string
	authed atomic.Bool
}

func (c *Connector) Kind() string { return discovery.PlatformDirectoryGraph }

// Authenticate resolves the tenant organization. App-only tokens carry no
// user identity, so PlatformUserID stays empty.
func (c *Connector) Authenticate(ctx context.Context) discovery.AuthResult {
	org, err := c.client.GetOrganization(ctx)
	if err != nil {
		return authFailure(err)
	}

	c.authed.Store(true)
	result := discovery.AuthResult{
		Success:             true,
		PlatformWorkspaceID: org.ID,
		DisplayName:         org.DisplayName,
		Permissions:         c.scopes,
	}
	if domain := defaultDomain(org); domain != "" {
		result.Metadata = map[string]any{"defaultDomain": domain}
	}
	return result
}

func defaultDomain(org Organization) string {
	for _, d := range org.VerifiedDomains {
		if d.IsDefault {
			return strings.ToLower(strings.TrimSpace(d.Name))
		}
	}
	return ""
}

func (c *Connector) DiscoveryMethods() []registry.DiscoveryMethod {
	return []registry.DiscoveryMethod{
		{Name: "applications", Run: c.discoverApplications},
		{Name: "service-principals", Run: c.discoverServicePrincipals},
		{Name: "permission-grants", Run: c.discoverPermissionGrants},
	}
}

// DiscoverAutomations runs every discovery method and tolerates partial
// failure; it errors only when no method produced a result.
func (c *Connector) DiscoverAutomations(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	methods := c.DiscoveryMethods()
	events, failures := registry.CollectMethods(ctx, methods)
	if registry.AllMethodsFailed(methods, failures) {
		return nil, &registry.DiscoveryFailedError{Platform: discovery.PlatformDirectoryGraph, Failures: failures}
	}
	return events, nil
}

func (c *Connector) discoverApplications(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	apps, err := c.client.ListApplications(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]discovery.AutomationEvent, 0, len(apps))
	for _, app := range apps {
		events = append(events, newApplicationEvent(app))
	}
	return events, nil
}

func (c *Connector) discoverServicePrincipals(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	principals, err := c.client.ListServicePrincipals(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]discovery.AutomationEvent, 0, len(principals))
	for _, sp := range principals {
		events = append(events, newServicePrincipalEvent(sp))
	}
	return events, nil
}

func (c *Connector) discoverPermissionGrants(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	grants, err := c.client.ListPermissionGrants(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]discovery.AutomationEvent, 0, len(grants))
	for _, grant := range grants {
		events = append(events, newGrantEvent(grant))
	}
	return events, nil
}

func newApplicationEvent(app Application) discovery.AutomationEvent {
	metadata := map[string]any{
		discovery.MetadataKeyIsAIPlatform: discovery.IsAIPlatform(app.DisplayName, app.Description, app.PublisherDomain),
		"appId":                           app.AppID,
		"passwordCredentials":             len(app.PasswordCredentials),
		"keyCredentials":                  len(app.KeyCredentials),
	}
	if app.PublisherDomain != "" {
		domain := discovery.NormalizeVendorDomain(app.PublisherDomain)
		metadata["publisherDomain"] = domain
		if vendor := discovery.VendorName(domain, app.DisplayName); vendor != "" {
			metadata["vendor"] = vendor
		}
	}

	return discovery.AutomationEvent{
		ID:          discovery.EventID(discovery.PlatformDirectoryGraph, "app", app.ID),
		Name:        app.DisplayName,
		Type:        discovery.AutomationTypeIntegration,
		Platform:    discovery.PlatformDirectoryGraph,
		Status:      discovery.StatusActive,
		Trigger:     discovery.TriggerAPICall,
		Actions:     []string{"api_access"},
		Description: app.Description,
		CreatedAt:   parseGraphTime(app.CreatedDateTime),
		Metadata:    metadata,
	}
}

func newServicePrincipalEvent(sp ServicePrincipal) discovery.AutomationEvent {
	status := discovery.StatusActive
	if sp.AccountEnabled != nil && !*sp.AccountEnabled {
		status = discovery.StatusInactive
	}

	metadata := map[string]any{
		discovery.MetadataKeyIsAIPlatform: discovery.IsAIPlatform(sp.DisplayName),
		"appId":                           sp.AppID,
	}
	if sp.ServicePrincipalType != "" {
		metadata["servicePrincipalType"] = sp.ServicePrincipalType
	}
	if sp.AppOwnerOrganizationID != "" {
		metadata["appOwnerOrganizationId"] = discovery.NormalizeGUID(sp.AppOwnerOrganizationID)
	}
	if len(sp.Tags) > 0 {
		metadata["tags"] = sp.Tags
	}

	return discovery.AutomationEvent{
		ID:        discovery.EventID(discovery.PlatformDirectoryGraph, "sp", sp.ID),
		Name:      sp.DisplayName,
		Type:      discovery.AutomationTypeServiceAccount,
		Platform:  discovery.PlatformDirectoryGraph,
		Status:    status,
		Trigger:   discovery.TriggerAPICall,
		Actions:   []string{"api_access"},
		CreatedAt: parseGraphTime(sp.CreatedDateTime),
		Metadata:  metadata,
	}
}

func newGrantEvent(grant OAuth2PermissionGrant) discovery.AutomationEvent {
	scopes := discovery.SplitScopeString(grant.Scope)

	metadata := map[string]any{
		discovery.MetadataKeyIsAIPlatform: false,
		discovery.MetadataKeyScopes:       scopes,
		"clientId":                        grant.ClientID,
		"resourceId":                      grant.ResourceID,
	}
	if grant.ConsentType != "" {
		metadata["consentType"] = grant.ConsentType
	}
	if grant.PrincipalID != "" {
		metadata["principalId"] = grant.PrincipalID
	}
	if strings.EqualFold(grant.ConsentType, "AllPrincipals") {
		metadata[discovery.MetadataKeyRiskFactors] = []string{"Tenant-wide admin consent grant"}
	}

	return discovery.AutomationEvent{
		ID:       discovery.EventID(discovery.PlatformDirectoryGraph, "grant", grant.ID),
		Name:     "OAuth grant " + grant.ClientID,
		Type:     discovery.AutomationTypeIntegration,
		Platform: discovery.PlatformDirectoryGraph,
		Status:   discovery.StatusActive,
		Trigger:  discovery.TriggerAPICall,
		Actions:  scopes,
		Metadata: metadata,
	}
}

// AuditLogs fetches directory audit events at or after since. The server
// filter is re-checked locally so clock skew or filter slippage never leaks
// older entries.
func (c *Connector) AuditLogs(ctx context.Context, since time.Time) ([]discovery.AuditLogEntry, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	raw, err := c.client.ListDirectoryAudits(ctx, since)
	if err != nil {
		return nil, err
	}

	entries := make([]discovery.AuditLogEntry, 0, len(raw))
	for _, audit := range raw {
		entries = append(entries, newAuditEntry(audit))
	}
	return discovery.FilterAuditSince(entries, since), nil
}

func newAuditEntry(audit DirectoryAudit) discovery.AuditLogEntry {
	entry := discovery.AuditLogEntry{
		ID:         audit.ID,
		Timestamp:  parseGraphTime(audit.ActivityDateTime),
		ActionType: audit.ActivityDisplayName,
		Result:     discovery.NormalizeAuditResult(audit.Result),
	}

	details := map[string]any{}
	if audit.Category != "" {
		details["category"] = audit.Category
	}
	switch {
	case audit.InitiatedBy.User != nil:
		entry.ActorID = audit.InitiatedBy.User.ID
		entry.ActorType = discovery.ActorTypeUser
		entry.IPAddress = audit.InitiatedBy.User.IPAddress
		if audit.InitiatedBy.User.DisplayName != "" {
			details["actorName"] = audit.InitiatedBy.User.DisplayName
		}
		if audit.InitiatedBy.User.UserPrincipalName != "" {
			details["actorPrincipal"] = discovery.NormalizeEmail(audit.InitiatedBy.User.UserPrincipalName)
		}
	case audit.InitiatedBy.App != nil:
		entry.ActorID = firstNonEmpty(audit.InitiatedBy.App.ServicePrincipalID, audit.InitiatedBy.App.AppID)
		entry.ActorType = discovery.ActorTypeApp
		if audit.InitiatedBy.App.DisplayName != "" {
			details["actorName"] = audit.InitiatedBy.App.DisplayName
		}
	default:
		entry.ActorType = discovery.ActorTypeSystem
	}

	if len(audit.TargetResources) > 0 {
		target := audit.TargetResources[0]
		entry.ResourceType = target.Type
		entry.ResourceID = target.ID
		if target.DisplayName != "" {
			details["targetName"] = target.DisplayName
		}
	}
	if len(details) > 0 {
		entry.Details = details
	}
	return entry
}

// ValidatePermissions probes the three application permissions discovery and
// audit need.
func (c *Connector) ValidatePermissions(ctx context.Context) discovery.PermissionCheck {
	check := registry.RunCapabilityProbes(ctx, []registry.CapabilityProbe{
		{Name: "Application.Read.All", Probe: func(ctx context.Context) error {
			return c.client.probe(ctx, "/applications", "applications")
		}},
		{Name: "Directory.Read.All", Probe: func(ctx context.Context) error {
			return c.client.probe(ctx, "/servicePrincipals", "service principals")
		}},
		{Name: "AuditLog.Read.All", Probe: func(ctx context.Context) error {
			return c.client.probe(ctx, "/auditLogs/directoryAudits", "directory audits")
		}},
	})
	check.Metadata = map[string]any{"platform": discovery.PlatformDirectoryGraph}
	return check
}

func authFailure(err error) discovery.AuthResult {
	result := discovery.AuthResult{Success: false, Error: err.Error()}
	var apiErr *registry.APIError
	if errors.As(err, &apiErr) {
		result.ErrorCode = apiErr.Code
		if result.ErrorCode == "" && apiErr.StatusCode != 0 {
			result.ErrorCode = strconv.Itoa(apiErr.StatusCode)
		}
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
