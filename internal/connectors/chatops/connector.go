// Package chatops discovers automations in a ChatOps workspace: bot users,
// approved app installations, and workflows, plus the workspace audit stream.
package chatops

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/darrentmorgan/singura/internal/connectors/registry"
	"github.com/darrentmorgan/singura/internal/discovery"
)

// Definition registers the ChatOps platform.
type Definition struct {
	Options Options
}

func (d Definition) Kind() string { return discovery.PlatformChatOps }

func (d Definition) DisplayName() string { return "ChatOps" }

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

// Connector wraps one workspace connection.
type Connector struct {
	client *Client
	scopes []string
	authed atomic.Bool
}

func (c *Connector) Kind() string { return discovery.PlatformChatOps }

// Authenticate verifies the token against auth.test. Rejected tokens and
// transport failures fold into Success=false.
func (c *Connector) Authenticate(ctx context.Context) discovery.AuthResult {
	resp, err := c.client.AuthTest(ctx)
	if err != nil {
		return authFailure(err)
	}

	c.authed.Store(true)
	result := discovery.AuthResult{
		Success:             true,
		PlatformUserID:      resp.UserID,
		PlatformWorkspaceID: resp.TeamID,
		DisplayName:         resp.Team,
		Permissions:         c.scopes,
	}
	metadata := map[string]any{}
	if resp.URL != "" {
		metadata["url"] = resp.URL
	}
	if resp.BotID != "" {
		metadata["botId"] = resp.BotID
	}
	if len(metadata) > 0 {
		result.Metadata = metadata
	}
	return result
}

func (c *Connector) DiscoveryMethods() []registry.DiscoveryMethod {
	return []registry.DiscoveryMethod{
		{Name: "bot-users", Run: c.discoverBotUsers},
		{Name: "installed-apps", Run: c.discoverInstalledApps},
		{Name: "workflows", Run: c.discoverWorkflows},
	}
}

// DiscoverAutomations runs every discovery method. Any method failure fails
// the whole call; this platform's listings are cheap and a partial inventory
// here has misled admins before.
func (c *Connector) DiscoverAutomations(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	events, failures := registry.CollectMethods(ctx, c.DiscoveryMethods())
	if len(failures) > 0 {
		return nil, &registry.DiscoveryFailedError{Platform: discovery.PlatformChatOps, Failures: failures}
	}
	return events, nil
}

func (c *Connector) discoverBotUsers(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	members, err := c.client.ListBotUsers(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]discovery.AutomationEvent, 0, len(members))
	for _, m := range members {
		events = append(events, newBotEvent(m))
	}
	return events, nil
}

func (c *Connector) discoverInstalledApps(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	apps, err := c.client.ListInstalledApps(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]discovery.AutomationEvent, 0, len(apps))
	for _, app := range apps {
		events = append(events, newAppEvent(app))
	}
	return events, nil
}

func (c *Connector) discoverWorkflows(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	workflows, err := c.client.ListWorkflows(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]discovery.AutomationEvent, 0, len(workflows))
	for _, wf := range workflows {
		events = append(events, newWorkflowEvent(wf))
	}
	return events, nil
}

func newBotEvent(m Member) discovery.AutomationEvent {
	status := discovery.StatusActive
	if m.Deleted {
		status = discovery.StatusInactive
	}

	metadata := map[string]any{
		discovery.MetadataKeyIsAIPlatform: discovery.IsAIPlatform(m.Name, m.RealName, m.Profile.RealName, m.Profile.Title),
	}
	if m.Profile.BotID != "" {
		metadata["botId"] = m.Profile.BotID
	}
	if m.Profile.APIAppID != "" {
		metadata["appId"] = m.Profile.APIAppID
	}

	return discovery.AutomationEvent{
		ID:       discovery.EventID(discovery.PlatformChatOps, "bot", m.ID),
		Name:     firstNonEmpty(m.Profile.RealName, m.RealName, m.Name),
		Type:     discovery.AutomationTypeBot,
		Platform: discovery.PlatformChatOps,
		Status:   status,
		Trigger:  discovery.TriggerMessage,
		Actions:  []string{"post_messages"},
		Metadata: metadata,
	}
}

func newAppEvent(app InstalledApp) discovery.AutomationEvent {
	scopes := make([]string, 0, len(app.Scopes))
	sensitive := false
	for _, scope := range app.Scopes {
		scopes = append(scopes, scope.Name)
		if scope.IsSensitive {
			sensitive = true
		}
	}
	scopes = discovery.NormalizeScopes(scopes)

	var factors []string
	if sensitive {
		factors = append(factors, "Sensitive permission scopes granted")
	}
	if !app.App.IsAppDirectoryApproved && !app.App.IsInternal {
		factors = append(factors, "App is not listed in the app directory")
	}

	metadata := map[string]any{
		discovery.MetadataKeyIsAIPlatform: discovery.IsAIPlatform(app.App.Name, app.App.Description, app.App.AppHomepageURL),
		discovery.MetadataKeyScopes:       scopes,
		"isInternal":                      app.App.IsInternal,
		"directoryApproved":               app.App.IsAppDirectoryApproved,
	}
	if len(factors) > 0 {
		metadata[discovery.MetadataKeyRiskFactors] = factors
	}

	ev := discovery.AutomationEvent{
		ID:          discovery.EventID(discovery.PlatformChatOps, "app", app.App.ID),
		Name:        app.App.Name,
		Type:        discovery.AutomationTypeApp,
		Platform:    discovery.PlatformChatOps,
		Status:      discovery.StatusActive,
		Trigger:     discovery.TriggerAPICall,
		Actions:     scopes,
		Description: app.App.Description,
		Metadata:    metadata,
	}
	if app.DateUpdated > 0 {
		t := time.Unix(app.DateUpdated, 0).UTC()
		ev.LastTriggered = &t
	}
	return ev
}

func newWorkflowEvent(wf Workflow) discovery.AutomationEvent {
	status := discovery.StatusActive
	if !wf.IsPublished {
		status = discovery.StatusInactive
	}

	metadata := map[string]any{
		discovery.MetadataKeyIsAIPlatform: discovery.IsAIPlatform(wf.Title, wf.Description),
		"published":                       wf.IsPublished,
	}
	if len(wf.Collaborators) > 0 {
		metadata["collaborators"] = wf.Collaborators
	} else {
		metadata[discovery.MetadataKeyRiskFactors] = []string{"Workflow has no listed collaborator"}
	}

	ev := discovery.AutomationEvent{
		ID:          discovery.EventID(discovery.PlatformChatOps, "workflow", wf.ID),
		Name:        wf.Title,
		Type:        discovery.AutomationTypeWorkflow,
		Platform:    discovery.PlatformChatOps,
		Status:      status,
		Trigger:     discovery.TriggerMessage,
		Actions:     []string{"run_workflow_steps"},
		Description: wf.Description,
		Metadata:    metadata,
	}
	if wf.DateUpdated > 0 {
		t := time.Unix(wf.DateUpdated, 0).UTC()
		ev.LastTriggered = &t
	}
	return ev
}

// AuditLogs fetches audit records at or after since, normalized and guarded
// against provider-side filter slippage.
func (c *Connector) AuditLogs(ctx context.Context, since time.Time) ([]discovery.AuditLogEntry, error) {
	if !c.authed.Load() {
		return nil, registry.ErrNotAuthenticated
	}
	raw, err := c.client.ListAuditLogs(ctx, since)
	if err != nil {
		return nil, err
	}

	entries := make([]discovery.AuditLogEntry, 0, len(raw))
	for _, e := range raw {
		entry := discovery.AuditLogEntry{
			ID:           e.ID,
			ActorID:      firstNonEmpty(e.Actor.User.ID, e.Actor.User.Email),
			ActorType:    auditActorType(e.Actor.Type),
			ActionType:   e.Action,
			ResourceType: e.Entity.Type,
			ResourceID:   e.Entity.ID,
			Result:       discovery.ResultSuccess,
			IPAddress:    e.Context.IPAddress,
		}
		if e.DateCreate > 0 {
			entry.Timestamp = time.Unix(e.DateCreate, 0).UTC()
		}
		details := map[string]any{}
		if e.Actor.User.Name != "" {
			details["actorName"] = e.Actor.User.Name
		}
		if e.Actor.User.Email != "" {
			details["actorEmail"] = discovery.NormalizeEmail(e.Actor.User.Email)
		}
		if e.Entity.Name != "" {
			details["entityName"] = e.Entity.Name
		}
		if e.Context.UA != "" {
			details["userAgent"] = e.Context.UA
		}
		if len(details) > 0 {
			entry.Details = details
		}
		entries = append(entries, entry)
	}
	return discovery.FilterAuditSince(entries, since), nil
}

// ValidatePermissions probes the four capabilities discovery and audit need.
func (c *Connector) ValidatePermissions(ctx context.Context) discovery.PermissionCheck {
	one := url.Values{"limit": []string{"1"}}
	check := registry.RunCapabilityProbes(ctx, []registry.CapabilityProbe{
		{Name: "users:read", Probe: func(ctx context.Context) error {
			return c.client.callAPI(ctx, "users.list", one, nil)
		}},
		{Name: "team:read", Probe: func(ctx context.Context) error {
			return c.client.callAPI(ctx, "auth.test", nil, nil)
		}},
		{Name: "admin.apps:read", Probe: func(ctx context.Context) error {
			return c.client.callAPI(ctx, "admin.apps.approved.list", one, nil)
		}},
		{Name: "auditlogs:read", Probe: func(ctx context.Context) error {
			_, err := c.client.get(ctx, c.client.auditBase+"/logs?limit=1", "audit logs")
			return err
		}},
	})
	check.Metadata = map[string]any{"platform": discovery.PlatformChatOps}
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

func auditActorType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user":
		return discovery.ActorTypeUser
	case "app", "bot":
		return discovery.ActorTypeApp
	default:
		return discovery.ActorTypeSystem
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
