package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/darrentmorgan/singura/internal/credentials"
	"github.com/darrentmorgan/singura/internal/discovery"
	"github.com/darrentmorgan/singura/internal/orchestrator"
)

type stubService struct {
	runResult orchestrator.Result
	runErr    error
	lastRunID string

	authResult   discovery.AuthResult
	lastPlatform string
	lastCreds    discovery.OAuthCredentials

	auditEntries []discovery.AuditLogEntry
	auditErr     error
	lastSince    time.Time

	permCheck discovery.PermissionCheck
	permErr   error
}

func (s *stubService) RunDiscovery(ctx context.Context, connectionID string) (orchestrator.Result, error) {
	s.lastRunID = connectionID
	return s.runResult, s.runErr
}

func (s *stubService) AuthenticateConnection(ctx context.Context, platform string, creds discovery.OAuthCredentials) discovery.AuthResult {
	s.lastPlatform = platform
	s.lastCreds = creds
	return s.authResult
}

func (s *stubService) FetchAuditLog(ctx context.Context, connectionID string, since time.Time) ([]discovery.AuditLogEntry, error) {
	s.lastSince = since
	return s.auditEntries, s.auditErr
}

func (s *stubService) CheckPermissions(ctx context.Context, connectionID string) (discovery.PermissionCheck, error) {
	return s.permCheck, s.permErr
}

func newTestContext(method, target string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func newTestHandlers(svc DiscoveryService) *Handlers {
	return &Handlers{Service: svc, Logger: discardLogger()}
}

func TestHandleTriggerDiscoveryReturnsResult(t *testing.T) {
	t.Parallel()

	svc := &stubService{runResult: orchestrator.Result{
		ConnectionID: "conn-1",
		RunID:        "run-9",
		Platform:     "chatops",
		State:        orchestrator.StateDone,
		Automations: []discovery.AutomationEvent{
			{ID: "chatops-bot-U1", Name: "deploy-bot", Type: "bot", Platform: "chatops"},
		},
	}}
	c, rec := newTestContext(http.MethodPost, "/api/v1/connections/conn-1/discovery", nil)
	c.SetParamNames("id")
	c.SetParamValues("conn-1")

	if err := newTestHandlers(svc).HandleTriggerDiscovery(c); err != nil {
		t.Fatalf("HandleTriggerDiscovery() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastRunID != "conn-1" {
		t.Fatalf("service saw connection %q, want conn-1", svc.lastRunID)
	}

	var got orchestrator.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.State != orchestrator.StateDone {
		t.Fatalf("state = %q, want %q", got.State, orchestrator.StateDone)
	}
	if len(got.Automations) != 1 || got.Automations[0].ID != "chatops-bot-U1" {
		t.Fatalf("unexpected automations: %+v", got.Automations)
	}
}

func TestHandleTriggerDiscoveryRequiresID(t *testing.T) {
	t.Parallel()

	c, rec := newTestContext(http.MethodPost, "/api/v1/connections/%20/discovery", nil)
	c.SetParamNames("id")
	c.SetParamValues("  ")

	if err := newTestHandlers(&stubService{}).HandleTriggerDiscovery(c); err != nil {
		t.Fatalf("HandleTriggerDiscovery() error = %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleTriggerDiscoveryErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "unknown connection",
			err:        fmt.Errorf("credentials for connection conn-1: %w", credentials.ErrCredentialNotFound),
			wantStatus: http.StatusNotFound,
			wantBody:   "connection not found",
		},
		{
			name:       "run in progress",
			err:        fmt.Errorf("connection conn-1: %w", orchestrator.ErrRunInProgress),
			wantStatus: http.StatusConflict,
			wantBody:   "already in progress",
		},
		{
			name:       "failed run",
			err:        fmt.Errorf("%w: invalid token (invalid_auth)", orchestrator.ErrAuthenticationFailed),
			wantStatus: http.StatusBadGateway,
			wantBody:   "authentication failed",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, rec := newTestContext(http.MethodPost, "/api/v1/connections/conn-1/discovery", nil)
			c.SetParamNames("id")
			c.SetParamValues("conn-1")

			if err := newTestHandlers(&stubService{runErr: tt.err}).HandleTriggerDiscovery(c); err != nil {
				t.Fatalf("HandleTriggerDiscovery() error = %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("body = %q, want substring %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleAuthenticatePassesCredentials(t *testing.T) {
	t.Parallel()

	svc := &stubService{authResult: discovery.AuthResult{Success: true, DisplayName: "Acme"}}
	body := strings.NewReader(`{"platform":"chatops","credentials":{"accessToken":"xoxb-1"}}`)
	c, rec := newTestContext(http.MethodPost, "/api/v1/authenticate", body)

	if err := newTestHandlers(svc).HandleAuthenticate(c); err != nil {
		t.Fatalf("HandleAuthenticate() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if svc.lastPlatform != "chatops" {
		t.Fatalf("platform = %q, want chatops", svc.lastPlatform)
	}
	if svc.lastCreds.AccessToken != "xoxb-1" {
		t.Fatalf("access token = %q, want xoxb-1", svc.lastCreds.AccessToken)
	}

	var got discovery.AuthResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !got.Success || got.DisplayName != "Acme" {
		t.Fatalf("unexpected auth result: %+v", got)
	}
}

func TestHandleAuthenticateRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"platform":`},
		{name: "missing platform", body: `{"credentials":{"accessToken":"tok"}}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, rec := newTestContext(http.MethodPost, "/api/v1/authenticate", strings.NewReader(tt.body))
			if err := newTestHandlers(&stubService{}).HandleAuthenticate(c); err != nil {
				t.Fatalf("HandleAuthenticate() error = %v", err)
			}
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestHandleAuditLogsParsesSince(t *testing.T) {
	t.Parallel()

	entry := discovery.AuditLogEntry{
		ID:         "evt-1",
		Timestamp:  time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC),
		ActorID:    "U1",
		ActorType:  "user",
		ActionType: "app_installed",
		Result:     "success",
	}
	svc := &stubService{auditEntries: []discovery.AuditLogEntry{entry}}
	c, rec := newTestContext(http.MethodGet, "/api/v1/connections/conn-1/audit-logs?since=2024-01-02T03:04:05Z", nil)
	c.SetParamNames("id")
	c.SetParamValues("conn-1")

	if err := newTestHandlers(svc).HandleAuditLogs(c); err != nil {
		t.Fatalf("HandleAuditLogs() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	if !svc.lastSince.Equal(want) {
		t.Fatalf("since = %v, want %v", svc.lastSince, want)
	}

	var got auditLogResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ConnectionID != "conn-1" {
		t.Fatalf("connectionId = %q, want conn-1", got.ConnectionID)
	}
	if got.Since == nil || !got.Since.Equal(want) {
		t.Fatalf("since = %v, want %v", got.Since, want)
	}
	if len(got.Entries) != 1 || got.Entries[0].ID != "evt-1" {
		t.Fatalf("unexpected entries: %+v", got.Entries)
	}
}

func TestHandleAuditLogsRejectsBadSince(t *testing.T) {
	t.Parallel()

	c, rec := newTestContext(http.MethodGet, "/api/v1/connections/conn-1/audit-logs?since=yesterday", nil)
	c.SetParamNames("id")
	c.SetParamValues("conn-1")

	if err := newTestHandlers(&stubService{}).HandleAuditLogs(c); err != nil {
		t.Fatalf("HandleAuditLogs() error = %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "RFC 3339") {
		t.Fatalf("body = %q, want RFC 3339 hint", rec.Body.String())
	}
}

func TestHandleAuditLogsUnknownConnection(t *testing.T) {
	t.Parallel()

	c, rec := newTestContext(http.MethodGet, "/api/v1/connections/ghost/audit-logs", nil)
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	svc := &stubService{auditErr: credentials.ErrCredentialNotFound}
	if err := newTestHandlers(svc).HandleAuditLogs(c); err != nil {
		t.Fatalf("HandleAuditLogs() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleAuditLogsEncodesEmptySliceAsArray(t *testing.T) {
	t.Parallel()

	c, rec := newTestContext(http.MethodGet, "/api/v1/connections/conn-1/audit-logs", nil)
	c.SetParamNames("id")
	c.SetParamValues("conn-1")

	svc := &stubService{auditEntries: []discovery.AuditLogEntry{}}
	if err := newTestHandlers(svc).HandleAuditLogs(c); err != nil {
		t.Fatalf("HandleAuditLogs() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"entries":[]`) {
		t.Fatalf("body = %q, want empty entries array", rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"since"`) {
		t.Fatalf("body = %q, want since omitted", rec.Body.String())
	}
}

func TestHandlePermissionsReturnsCheck(t *testing.T) {
	t.Parallel()

	svc := &stubService{permCheck: discovery.PermissionCheck{
		IsValid:            true,
		Permissions:        []string{"users:read", "team:read"},
		MissingPermissions: []string{},
		Errors:             []string{},
	}}
	c, rec := newTestContext(http.MethodGet, "/api/v1/connections/conn-1/permissions", nil)
	c.SetParamNames("id")
	c.SetParamValues("conn-1")

	if err := newTestHandlers(svc).HandlePermissions(c); err != nil {
		t.Fatalf("HandlePermissions() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var got discovery.PermissionCheck
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !got.IsValid || len(got.Permissions) != 2 {
		t.Fatalf("unexpected check: %+v", got)
	}
}

func TestHandlePermissionsUnknownConnection(t *testing.T) {
	t.Parallel()

	c, rec := newTestContext(http.MethodGet, "/api/v1/connections/ghost/permissions", nil)
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	svc := &stubService{permErr: credentials.ErrCredentialNotFound}
	if err := newTestHandlers(svc).HandlePermissions(c); err != nil {
		t.Fatalf("HandlePermissions() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleHealthz(t *testing.T) {
	t.Parallel()

	c, rec := newTestContext(http.MethodGet, "/healthz", nil)
	if err := newTestHandlers(&stubService{}).HandleHealthz(c); err != nil {
		t.Fatalf("HandleHealthz() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Fatalf("body = %q, want ok", rec.Body.String())
	}
}
