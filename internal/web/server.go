// Package web serves the discovery API over HTTP.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/darrentmorgan/singura/internal/orchestrator"
)

var _ DiscoveryService = (*orchestrator.Service)(nil)

// Server is the HTTP server wrapper.
type Server struct {
	h *Handlers
	e *echo.Echo
}

// NewServer creates a new HTTP server around the discovery service.
func NewServer(svc DiscoveryService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		h: &Handlers{Service: svc, Logger: logger},
		e: echo.New(),
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.HTTPErrorHandler = s.jsonErrorHandler
	s.e.Use(middleware.RequestID())
	s.e.Use(middleware.Recover())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.e.GET("/healthz", s.h.HandleHealthz)

	api := s.e.Group("/api/v1")
	api.POST("/authenticate", s.h.HandleAuthenticate)
	api.POST("/connections/:id/discovery", s.h.HandleTriggerDiscovery)
	api.GET("/connections/:id/audit-logs", s.h.HandleAuditLogs)
	api.GET("/connections/:id/permissions", s.h.HandlePermissions)
}

// jsonErrorHandler renders uncaught errors as JSON without echoing their
// internal detail back to the client.
func (s *Server) jsonErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := httpStatusFromError(err)
	if status >= http.StatusInternalServerError {
		s.h.Logger.Error("request failed",
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"err", err,
		)
	}
	if writeErr := c.JSON(status, errorResponse{Error: http.StatusText(status)}); writeErr != nil {
		s.h.Logger.Error("write error response", "err", writeErr)
	}
}

func httpStatusFromError(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Code >= http.StatusBadRequest {
		return he.Code
	}
	return http.StatusInternalServerError
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

// StartServer starts the HTTP server with a custom http.Server.
func (s *Server) StartServer(server *http.Server) error {
	return s.e.StartServer(server)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
