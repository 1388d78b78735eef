package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/darrentmorgan/singura/internal/credentials"
	"github.com/darrentmorgan/singura/internal/discovery"
	"github.com/darrentmorgan/singura/internal/orchestrator"
)

// DiscoveryService is the surface of the orchestrator consumed by the API.
type DiscoveryService interface {
	RunDiscovery(ctx context.Context, connectionID string) (orchestrator.Result, error)
	AuthenticateConnection(ctx context.Context, platform string, creds discovery.OAuthCredentials) discovery.AuthResult
	FetchAuditLog(ctx context.Context, connectionID string, since time.Time) ([]discovery.AuditLogEntry, error)
	CheckPermissions(ctx context.Context, connectionID string) (discovery.PermissionCheck, error)
}

// Handlers groups the API handlers and their shared dependencies.
type Handlers struct {
	Service DiscoveryService
	Logger  *slog.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type authenticateRequest struct {
	Platform    string                     `json:"platform"`
	Credentials discovery.OAuthCredentials `json:"credentials"`
}

type auditLogResponse struct {
	ConnectionID string                    `json:"connectionId"`
	Since        *time.Time                `json:"since,omitempty"`
	Entries      []discovery.AuditLogEntry `json:"entries"`
}

// HandleHealthz reports process liveness.
func (h *Handlers) HandleHealthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// HandleTriggerDiscovery runs a discovery pass for one connection and returns
// the full run result.
func (h *Handlers) HandleTriggerDiscovery(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "connection id is required"})
	}

	res, err := h.Service.RunDiscovery(c.Request().Context(), id)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, credentials.ErrCredentialNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "connection not found"})
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		// The run itself failed upstream; the platform error is the caller's
		// own connection, so it is safe to pass through.
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
}

// HandleAuthenticate validates platform credentials without storing them.
func (h *Handlers) HandleAuthenticate(c echo.Context) error {
	var req authenticateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	platform := strings.TrimSpace(req.Platform)
	if platform == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "platform is required"})
	}

	result := h.Service.AuthenticateConnection(c.Request().Context(), platform, req.Credentials)
	return c.JSON(http.StatusOK, result)
}

// HandleAuditLogs returns the connection's automation audit trail, optionally
// bounded by a since timestamp.
func (h *Handlers) HandleAuditLogs(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "connection id is required"})
	}

	var since time.Time
	if raw := strings.TrimSpace(c.QueryParam("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid since timestamp, want RFC 3339"})
		}
		since = parsed
	}

	entries, err := h.Service.FetchAuditLog(c.Request().Context(), id, since)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "connection not found"})
		}
		return err
	}

	resp := auditLogResponse{ConnectionID: id, Entries: entries}
	if !since.IsZero() {
		resp.Since = &since
	}
	return c.JSON(http.StatusOK, resp)
}

// HandlePermissions reports whether the connection's credential still carries
// the capabilities discovery needs.
func (h *Handlers) HandlePermissions(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "connection id is required"})
	}

	check, err := h.Service.CheckPermissions(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, credentials.ErrCredentialNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "connection not found"})
		}
		return err
	}
	return c.JSON(http.StatusOK, check)
}
