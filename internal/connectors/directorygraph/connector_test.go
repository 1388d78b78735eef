package directorygraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/darrentmorgan/singura/internal/connectors/registry"
	"github.com/darrentmorgan/singura/internal/discovery"
)

func newTenantServer(t *testing.T, overrides map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	registered := make(map[string]bool)
	handle := func(path string, h http.HandlerFunc) {
		if override, ok := overrides[path]; ok {
			h = override
		}
		registered[path] = true
		mux.HandleFunc(path, h)
	}
	handle("/organization", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"id":"tenant-1","displayName":"Contoso","verifiedDomains":[{"name":"Contoso.com","isDefault":true}]}]}`))
	})
	handle("/applications", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"id":"app-1","appId":"client-1","displayName":"Payroll Sync","description":"Exports payroll data","publisherDomain":"apps.contoso.com","createdDateTime":"2024-01-15T10:30:00Z","passwordCredentials":[{"keyId":"pwd-1"}],"keyCredentials":[]}]}`))
	})
	handle("/servicePrincipals", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"id":"sp-1","appId":"client-9","displayName":"Claude Connector","accountEnabled":false,"servicePrincipalType":"Application","createdDateTime":"2023-06-01T00:00:00Z"}]}`))
	})
	handle("/oauth2PermissionGrants", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[{"id":"grant-1","clientId":"sp-1","consentType":"AllPrincipals","resourceId":"graph-sp","scope":"User.Read Mail.Send"}]}`))
	})
	handle("/auditLogs/directoryAudits", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[]}`))
	})
	for path, handler := range overrides {
		if !registered[path] {
			mux.HandleFunc(path, handler)
		}
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestConnector(t *testing.T, srv *httptest.Server) *Connector {
	t.Helper()

	def := Definition{Options: Options{BaseURL: srv.URL}}
	conn, err := def.NewConnector(discovery.OAuthCredentials{
		AccessToken: "tkn",
		Scope:       "Application.Read.All Directory.Read.All AuditLog.Read.All",
	})
	if err != nil {
		t.Fatalf("NewConnector: %v", err)
	}
	return conn.(*Connector)
}

func authenticated(t *testing.T, srv *httptest.Server) *Connector {
	t.Helper()

	conn := newTestConnector(t, srv)
	if result := conn.Authenticate(context.Background()); !result.Success {
		t.Fatalf("Authenticate failed: %+v", result)
	}
	return conn
}

func TestDefinition(t *testing.T) {
	t.Parallel()

	def := Definition{}
	if def.Kind() != discovery.PlatformDirectoryGraph {
		t.Fatalf("Kind = %q", def.Kind())
	}
	if _, err := def.NewConnector(discovery.OAuthCredentials{}); err == nil {
		t.Fatalf("expected error for missing access token")
	}
}

func TestAuthenticateResolvesTenant(t *testing.T) {
	t.Parallel()

	srv := newTenantServer(t, nil)
	conn := newTestConnector(t, srv)

	result := conn.Authenticate(context.Background())
	if !result.Success {
		t.Fatalf("Authenticate failed: %+v", result)
	}
	if result.PlatformWorkspaceID != "tenant-1" || result.DisplayName != "Contoso" {
		t.Fatalf("unexpected tenant identity: %+v", result)
	}
	if result.PlatformUserID != "" {
		t.Fatalf("expected empty PlatformUserID for app-only token, got %q", result.PlatformUserID)
	}
	if result.Metadata["defaultDomain"] != "contoso.com" {
		t.Fatalf("unexpected metadata: %v", result.Metadata)
	}
	if len(result.Permissions) != 3 {
		t.Fatalf("Permissions = %v", result.Permissions)
	}
}

func TestAuthenticateFailureCarriesErrorCode(t *testing.T) {
	t.Parallel()

	srv := newTenantServer(t, map[string]http.HandlerFunc{
		"/organization": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken","message":"Access token has expired."}}`))
		},
	})
	conn := newTestConnector(t, srv)

	result := conn.Authenticate(context.Background())
	if result.Success {
		t.Fatalf("expected failure")
	}
	if result.ErrorCode != "InvalidAuthenticationToken" {
		t.Fatalf("ErrorCode = %q", result.ErrorCode)
	}
}

func TestMethodsRequireAuthentication(t *testing.T) {
	t.Parallel()

	srv := newTenantServer(t, nil)
	conn := newTestConnector(t, srv)

	if _, err := conn.DiscoverAutomations(context.Background()); !errors.Is(err, registry.ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got: %v", err)
	}
	for _, method := range conn.DiscoveryMethods() {
		if _, err := method.Run(context.Background()); !errors.Is(err, registry.ErrNotAuthenticated) {
			t.Fatalf("%s: expected ErrNotAuthenticated, got: %v", method.Name, err)
		}
	}
	if _, err := conn.AuditLogs(context.Background(), time.Time{}); !errors.Is(err, registry.ErrNotAuthenticated) {
		t.Fatalf("AuditLogs: expected ErrNotAuthenticated, got: %v", err)
	}
}

func TestDiscoverAutomationsInventory(t *testing.T) {
	t.Parallel()

	srv := newTenantServer(t, nil)
	conn := authenticated(t, srv)

	events, err := conn.DiscoverAutomations(context.Background())
	if err != nil {
		t.Fatalf("DiscoverAutomations: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len(events)=%d want 3", len(events))
	}

	app := events[0]
	if app.ID != "directorygraph-app-app-1" || app.Type != discovery.AutomationTypeIntegration {
		t.Fatalf("unexpected app event: %+v", app)
	}
	if app.Trigger != discovery.TriggerAPICall {
		t.Fatalf("app Trigger = %q", app.Trigger)
	}
	if app.Metadata["passwordCredentials"] != 1 || app.Metadata["keyCredentials"] != 0 {
		t.Fatalf("unexpected credential counts: %v", app.Metadata)
	}
	if app.CreatedAt.IsZero() {
		t.Fatalf("expected parsed CreatedAt")
	}
	if app.Metadata["publisherDomain"] != "contoso.com" {
		t.Fatalf("publisherDomain = %v", app.Metadata["publisherDomain"])
	}
	if app.Metadata["vendor"] != "Contoso" {
		t.Fatalf("vendor = %v", app.Metadata["vendor"])
	}

	sp := events[1]
	if sp.ID != "directorygraph-sp-sp-1" || sp.Type != discovery.AutomationTypeServiceAccount {
		t.Fatalf("unexpected service principal event: %+v", sp)
	}
	if sp.Status != discovery.StatusInactive {
		t.Fatalf("sp Status = %q want inactive", sp.Status)
	}
	if sp.Metadata[discovery.MetadataKeyIsAIPlatform] != true {
		t.Fatalf("expected AI platform service principal: %v", sp.Metadata)
	}

	grant := events[2]
	if grant.ID != "directorygraph-grant-grant-1" || grant.Type != discovery.AutomationTypeIntegration {
		t.Fatalf("unexpected grant event: %+v", grant)
	}
	if want := []string{"user.read", "mail.send"}; !reflect.DeepEqual(grant.Actions, want) {
		t.Fatalf("grant Actions = %v want %v", grant.Actions, want)
	}
	factors := discovery.StringsFromMetadata(grant.Metadata, discovery.MetadataKeyRiskFactors)
	if !reflect.DeepEqual(factors, []string{"Tenant-wide admin consent grant"}) {
		t.Fatalf("grant risk factors = %v", factors)
	}
}

func TestDiscoverAutomationsToleratesPartialFailure(t *testing.T) {
	t.Parallel()

	srv := newTenantServer(t, map[string]http.HandlerFunc{
		"/servicePrincipals": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied","message":"denied"}}`))
		},
	})
	conn := authenticated(t, srv)

	events, err := conn.DiscoverAutomations(context.Background())
	if err != nil {
		t.Fatalf("expected partial result without error, got: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events)=%d want 2", len(events))
	}
	for _, ev := range events {
		if ev.Type == discovery.AutomationTypeServiceAccount {
			t.Fatalf("unexpected service principal in partial result")
		}
	}
}

func TestDiscoverAutomationsFailsWhenAllMethodsFail(t *testing.T) {
	t.Parallel()

	denied := func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied","message":"denied"}}`))
	}
	srv := newTenantServer(t, map[string]http.HandlerFunc{
		"/applications":           denied,
		"/servicePrincipals":      denied,
		"/oauth2PermissionGrants": denied,
	})
	conn := authenticated(t, srv)

	_, err := conn.DiscoverAutomations(context.Background())
	var failed *registry.DiscoveryFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected DiscoveryFailedError, got: %v", err)
	}
	if len(failed.Failures) != 3 {
		t.Fatalf("len(failures)=%d want 3", len(failed.Failures))
	}
}

func TestAuditLogsAppliesSinceGuard(t *testing.T) {
	t.Parallel()

	srv := newTenantServer(t, map[string]http.HandlerFunc{
		"/auditLogs/directoryAudits": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"value":[` +
				`{"id":"early","activityDateTime":"2023-11-30T00:00:00Z","activityDisplayName":"Add application","result":"success","initiatedBy":{"user":{"id":"user-7"}}},` +
				`{"id":"no-actor","activityDateTime":"2023-12-02T00:00:00Z","activityDisplayName":"Policy sync","result":"success"},` +
				`{"id":"kept","activityDateTime":"2023-12-01T10:00:00Z","category":"ApplicationManagement","activityDisplayName":"Consent to application","result":"Success","initiatedBy":{"user":{"id":"user-1","displayName":"Alice Admin","userPrincipalName":"Alice@Contoso.com","ipAddress":"10.1.2.3"}},"targetResources":[{"id":"sp-1","displayName":"Claude Connector","type":"ServicePrincipal"}]}` +
				`]}`))
		},
	})
	conn := authenticated(t, srv)

	since := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
	entries, err := conn.AuditLogs(context.Background(), since)
	if err != nil {
		t.Fatalf("AuditLogs: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries)=%d want 1: %+v", len(entries), entries)
	}

	entry := entries[0]
	if entry.ID != "kept" || entry.ActorID != "user-1" || entry.ActorType != discovery.ActorTypeUser {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Result != discovery.ResultSuccess {
		t.Fatalf("Result = %q", entry.Result)
	}
	if entry.ResourceType != "ServicePrincipal" || entry.ResourceID != "sp-1" {
		t.Fatalf("unexpected target: %+v", entry)
	}
	if entry.IPAddress != "10.1.2.3" {
		t.Fatalf("IPAddress = %q", entry.IPAddress)
	}
	if entry.Details["actorPrincipal"] != "alice@contoso.com" || entry.Details["category"] != "ApplicationManagement" {
		t.Fatalf("unexpected details: %v", entry.Details)
	}
}

func TestValidatePermissionsPartitionsProbes(t *testing.T) {
	t.Parallel()

	srv := newTenantServer(t, map[string]http.HandlerFunc{
		"/servicePrincipals": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":"Authorization_RequestDenied","message":"denied"}}`))
		},
		"/auditLogs/directoryAudits": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken","message":"expired"}}`))
		},
	})
	conn := newTestConnector(t, srv)

	check := conn.ValidatePermissions(context.Background())
	if check.IsValid {
		t.Fatalf("expected invalid check: %+v", check)
	}
	if want := []string{"Application.Read.All"}; !reflect.DeepEqual(check.Permissions, want) {
		t.Fatalf("Permissions = %v want %v", check.Permissions, want)
	}
	if want := []string{"Directory.Read.All"}; !reflect.DeepEqual(check.MissingPermissions, want) {
		t.Fatalf("MissingPermissions = %v want %v", check.MissingPermissions, want)
	}
	if len(check.Errors) != 1 || !strings.HasPrefix(check.Errors[0], "AuditLog.Read.All: ") {
		t.Fatalf("Errors = %v", check.Errors)
	}
}

func TestNewGrantEventSinglePrincipal(t *testing.T) {
	t.Parallel()

	ev := newGrantEvent(OAuth2PermissionGrant{
		ID:          "grant-2",
		ClientID:    "sp-2",
		ConsentType: "Principal",
		PrincipalID: "user-1",
		Scope:       "User.Read",
	})
	if factors := discovery.StringsFromMetadata(ev.Metadata, discovery.MetadataKeyRiskFactors); len(factors) != 0 {
		t.Fatalf("unexpected risk factors: %v", factors)
	}
	if ev.Metadata["principalId"] != "user-1" {
		t.Fatalf("unexpected metadata: %v", ev.Metadata)
	}
}

func TestNewServicePrincipalEventEnabledByDefault(t *testing.T) {
	t.Parallel()

	ev := newServicePrincipalEvent(ServicePrincipal{ID: "sp-3", DisplayName: "Build Agent"})
	if ev.Status != discovery.StatusActive {
		t.Fatalf("Status = %q want active when accountEnabled missing", ev.Status)
	}
	if ev.Metadata[discovery.MetadataKeyIsAIPlatform] != false {
		t.Fatalf("unexpected AI flag: %v", ev.Metadata)
	}
}

func TestNewAuditEntryAppActor(t *testing.T) {
	t.Parallel()

	entry := newAuditEntry(DirectoryAudit{
		ID:                  "audit-2",
		ActivityDateTime:    "2024-02-01T00:00:00Z",
		ActivityDisplayName: "Update application",
		Result:              "failure",
	})
	if entry.ActorType != discovery.ActorTypeSystem || entry.ActorID != "" {
		t.Fatalf("expected system actor: %+v", entry)
	}
	if entry.Result != discovery.ResultFailure {
		t.Fatalf("Result = %q", entry.Result)
	}
}

func TestNormalizationIsDeterministic(t *testing.T) {
	t.Parallel()

	enabled := false
	app := Application{
		ID:              "app-7",
		AppID:           "client-7",
		DisplayName:     "Payroll Sync",
		Description:     "Exports payroll data",
		PublisherDomain: "apps.contoso.com",
		CreatedDateTime: "2024-01-15T10:30:00Z",
		PasswordCredentials: []PasswordCredential{
			{KeyID: "pwd-1"},
			{KeyID: "pwd-2"},
		},
	}
	sp := ServicePrincipal{
		ID:                   "sp-7",
		AppID:                "client-7",
		DisplayName:          "OpenAI Connector",
		AccountEnabled:       &enabled,
		ServicePrincipalType: "Application",
		Tags:                 []string{"WindowsAzureActiveDirectoryIntegratedApp"},
	}
	grant := OAuth2PermissionGrant{
		ID:          "grant-7",
		ClientID:    "sp-7",
		ConsentType: "AllPrincipals",
		Scope:       "User.Read Mail.Send",
	}

	tests := []struct {
		name  string
		event func() discovery.AutomationEvent
	}{
		{name: "application", event: func() discovery.AutomationEvent { return newApplicationEvent(app) }},
		{name: "service principal", event: func() discovery.AutomationEvent { return newServicePrincipalEvent(sp) }},
		{name: "grant", event: func() discovery.AutomationEvent { return newGrantEvent(grant) }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			first, err := json.Marshal(tc.event())
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			second, err := json.Marshal(tc.event())
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !bytes.Equal(first, second) {
				t.Fatalf("normalizing the same record twice diverged:\n%s\n%s", first, second)
			}
		})
	}
}
