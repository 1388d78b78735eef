package workspaceadmin

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/darrentmorgan/singura/internal/connectors/registry"
	"github.com/darrentmorgan/singura/internal/discovery"
)

// Definition registers the workspace admin platform.
type Definition struct {
	Options Options
}

func (d Definition) Kind() string { return discovery.PlatformWorkspaceAdmin }

func (d Definition) DisplayName() string { return "Workspace Admin" }

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

// Connector wraps one delegated admin connection.
type Connector struct {
	client *Client
	scopes []string

	mu         sync.Mutex
	authed     bool
	adminEmail string
}

func (c *Connector) Kind() string { return discovery.PlatformWorkspaceAdmin }

func (c *Connector) isAuthed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

func (c *Connector) adminEmailSnapshot() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.adminEmail
}

// Authenticate resolves the delegated admin identity behind the token.
func (c *Connector) Authenticate(ctx context.Context) discovery.AuthResult {
	info, err := c.client.Userinfo(ctx)
	if err != nil {
		return authFailure(err)
	}

	email := discovery.NormalizeEmail(info.Email)
	c.mu.Lock()
	c.authed = true
	c.adminEmail = email
	c.mu.Unlock()

	result := discovery.AuthResult{
		Success:             true,
		PlatformUserID:      info.Sub,
		PlatformWorkspaceID: strings.ToLower(strings.TrimSpace(info.HostedDomain)),
		DisplayName:         firstNonEmpty(info.Name, email),
		Permissions:         c.scopes,
	}
	if email != "" {
		result.Metadata = map[string]any{"email": email}
	}
	return result
}

func (c *Connector) DiscoveryMethods() []registry.DiscoveryMethod {
	return []registry.DiscoveryMethod{
		{Name: "token-grants", Run: c.discoverTokenGrants},
		{Name: "script-projects", Run: c.discoverScriptProjects},
	}
}

// DiscoverAutomations runs every discovery method. Without a prior
// successful Authenticate the inventory is empty rather than an error; this
// platform's listings are all delegated, so an unauthenticated connection
// has nothing to report.
func (c *Connector) DiscoverAutomations(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.isAuthed() {
		return []discovery.AutomationEvent{}, nil
	}
	methods := c.DiscoveryMethods()
	events, failures := registry.CollectMethods(ctx, methods)
	if registry.AllMethodsFailed(methods, failures) {
		return nil, &registry.DiscoveryFailedError{Platform: discovery.PlatformWorkspaceAdmin, Failures: failures}
	}
	return events, nil
}

// discoverTokenGrants lists domain users and fans out per-user token grant
// listings over a bounded worker pool. Results are reassembled in directory
// order so repeated runs produce the same sequence.
func (c *Connector) discoverTokenGrants(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.isAuthed() {
		return nil, nil
	}
	users, err := c.client.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}

	type userTokens struct {
		index  int
		grants []TokenGrant
	}

	indices := make([]int, len(users))
	for i := range indices {
		indices[i] = i
	}

	results, err := registry.ParallelCollect(ctx, indices, c.client.tokenWorkers,
		func(ctx context.Context, i int) (userTokens, error) {
			grants, err := c.client.ListUserTokens(ctx, users[i].PrimaryEmail)
			if err != nil {
				return userTokens{}, err
			}
			return userTokens{index: i, grants: grants}, nil
		}, nil)
	if err != nil {
		return nil, err
	}

	collected := make([]userTokens, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			continue
		}
		collected = append(collected, res.Value)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].index < collected[j].index })

	var events []discovery.AutomationEvent
	for _, ut := range collected {
		for _, grant := range ut.grants {
			events = append(events, newTokenGrantEvent(grant))
		}
	}
	return events, nil
}

func (c *Connector) discoverScriptProjects(ctx context.Context) ([]discovery.AutomationEvent, error) {
	if !c.isAuthed() {
		return nil, nil
	}
	projects, err := c.client.ListScriptProjects(ctx)
	if err != nil {
		return nil, err
	}
	events := make([]discovery.AutomationEvent, 0, len(projects))
	for _, project := range projects {
		events = append(events, newScriptProjectEvent(project))
	}
	return events, nil
}

func newTokenGrantEvent(grant TokenGrant) discovery.AutomationEvent {
	scopes := discovery.NormalizeScopes(grant.Scopes)
	userKey := discovery.NormalizeEmail(grant.UserKey)

	metadata := map[string]any{
		discovery.MetadataKeyIsAIPlatform: discovery.IsAIPlatform(grant.DisplayText),
		discovery.MetadataKeyScopes:       scopes,
		"clientId":                        grant.ClientID,
		"userKey":                         userKey,
		"nativeApp":                       grant.NativeApp,
	}
	if grant.Anonymous {
		metadata["anonymous"] = true
		metadata[discovery.MetadataKeyRiskFactors] = []string{"Anonymous OAuth client grant"}
	}

	return discovery.AutomationEvent{
		ID:       discovery.EventID(discovery.PlatformWorkspaceAdmin, "token", userKey+":"+grant.ClientID),
		Name:     firstNonEmpty(grant.DisplayText, grant.ClientID),
		Type:     discovery.AutomationTypeIntegration,
		Platform: discovery.PlatformWorkspaceAdmin,
		Status:   discovery.StatusActive,
		Trigger:  discovery.TriggerAPICall,
		Actions:  scopes,
		Metadata: metadata,
	}
}

func newScriptProjectEvent(project ScriptProject) discovery.AutomationEvent {
	owners := make([]string, 0, len(project.Owners))
	for _, owner := range project.Owners {
		if email := discovery.NormalizeEmail(owner.EmailAddress); email != "" {
			owners = append(owners, email)
		}
	}

	metadata := map[string]any{
		discovery.MetadataKeyIsAIPlatform: discovery.IsAIPlatform(project.Name, project.Description),
	}
	if len(owners) > 0 {
		metadata["owners"] = owners
	}
	if project.WebViewLink != "" {
		metadata["webViewLink"] = project.WebViewLink
	}

	ev := discovery.AutomationEvent{
		ID:          discovery.EventID(discovery.PlatformWorkspaceAdmin, "script", project.ID),
		Name:        project.Name,
		Type:        discovery.AutomationTypeWorkflow,
		Platform:    discovery.PlatformWorkspaceAdmin,
		Status:      discovery.StatusActive,
		Trigger:     discovery.TriggerItemChange,
		Actions:     []string{"execute_script"},
		Description: project.Description,
		CreatedAt:   parseReportTime(project.CreatedTime),
		Metadata:    metadata,
	}
	if modified := parseReportTime(project.ModifiedTime); !modified.IsZero() {
		ev.LastTriggered = &modified
	}
	return ev
}

// AuditLogs fetches admin activity records at or after since. Unauthenticated
// connections report an empty stream, matching DiscoverAutomations.
func (c *Connector) AuditLogs(ctx context.Context, since time.Time) ([]discovery.AuditLogEntry, error) {
	if !c.isAuthed() {
		return []discovery.AuditLogEntry{}, nil
	}
	activities, err := c.client.ListActivities(ctx, "admin", since)
	if err != nil {
		return nil, err
	}

	entries := make([]discovery.AuditLogEntry, 0, len(activities))
	for _, activity := range activities {
		entries = append(entries, newAuditEntry(activity))
	}
	return discovery.FilterAuditSince(entries, since), nil
}

func newAuditEntry(activity Activity) discovery.AuditLogEntry {
	entry := discovery.AuditLogEntry{
		ID:           activity.ID.UniqueQualifier,
		Timestamp:    parseReportTime(activity.ID.Time),
		ActorID:      firstNonEmpty(activity.Actor.Email, activity.Actor.ProfileID),
		ActorType:    discovery.ActorTypeUser,
		ActionType:   activity.EventName(),
		ResourceType: activity.ID.ApplicationName,
		Result:       discovery.ResultSuccess,
		IPAddress:    activity.IPAddress,
	}

	details := map[string]any{}
	if activity.Actor.ProfileID != "" && activity.Actor.Email != "" {
		details["actorProfileId"] = activity.Actor.ProfileID
	}
	for _, event := range activity.Events {
		if eventType := strings.TrimSpace(event.Type); eventType != "" {
			details["eventType"] = eventType
			break
		}
	}
	if len(details) > 0 {
		entry.Details = details
	}
	return entry
}

// ValidatePermissions probes the four read scopes discovery and audit need.
// The token grant probe targets the delegated admin's own account; when
// Authenticate has not run yet the identity is resolved on the fly.
func (c *Connector) ValidatePermissions(ctx context.Context) discovery.PermissionCheck {
	check := registry.RunCapabilityProbes(ctx, []registry.CapabilityProbe{
		{Name: "directory.users:read", Probe: c.client.probeUsers},
		{Name: "directory.tokens:read", Probe: func(ctx context.Context) error {
			email := c.adminEmailSnapshot()
			if email == "" {
				info, err := c.client.Userinfo(ctx)
				if err != nil {
					return err
				}
				email = discovery.NormalizeEmail(info.Email)
			}
			if email == "" {
				return errors.New("delegated admin email is unknown")
			}
			return c.client.probeTokens(ctx, email)
		}},
		{Name: "reports.audit:read", Probe: c.client.probeActivities},
		{Name: "drive.metadata:read", Probe: c.client.probeDrive},
	})
	check.Metadata = map[string]any{"platform": discovery.PlatformWorkspaceAdmin}
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
