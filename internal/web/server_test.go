package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServerRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
	}{
		{name: "healthz", method: http.MethodGet, target: "/healthz", wantStatus: http.StatusOK},
		{name: "trigger discovery", method: http.MethodPost, target: "/api/v1/connections/conn-1/discovery", wantStatus: http.StatusOK},
		{name: "authenticate", method: http.MethodPost, target: "/api/v1/authenticate", body: `{"platform":"chatops","credentials":{"accessToken":"tok"}}`, wantStatus: http.StatusOK},
		{name: "audit logs", method: http.MethodGet, target: "/api/v1/connections/conn-1/audit-logs", wantStatus: http.StatusOK},
		{name: "permissions", method: http.MethodGet, target: "/api/v1/connections/conn-1/permissions", wantStatus: http.StatusOK},
		{name: "unknown route", method: http.MethodGet, target: "/nope", wantStatus: http.StatusNotFound},
		{name: "wrong method", method: http.MethodGet, target: "/api/v1/authenticate", wantStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewServer(&stubService{}, discardLogger())
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.target, body)
			if tt.body != "" {
				req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			}
			rec := httptest.NewRecorder()
			s.e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestJSONErrorHandlerHidesInternalDetail(t *testing.T) {
	t.Parallel()

	s := NewServer(&stubService{}, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	c := s.e.NewContext(req, rec)

	s.jsonErrorHandler(errors.New("very sensitive detail"), c)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	body := rec.Body.String()
	if strings.Contains(body, "very sensitive") {
		t.Fatalf("response leaked error details: %q", body)
	}
	if !strings.Contains(body, http.StatusText(http.StatusInternalServerError)) {
		t.Fatalf("response missing generic message: %q", body)
	}
}

func TestJSONErrorHandlerKeepsHTTPErrorStatus(t *testing.T) {
	t.Parallel()

	s := NewServer(&stubService{}, discardLogger())
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	rec := httptest.NewRecorder()
	c := s.e.NewContext(req, rec)

	s.jsonErrorHandler(echo.NewHTTPError(http.StatusNotFound, "leaky not found"), c)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	body := rec.Body.String()
	if strings.Contains(body, "leaky") {
		t.Fatalf("response leaked error details: %q", body)
	}
	if !strings.Contains(body, http.StatusText(http.StatusNotFound)) {
		t.Fatalf("response missing status text: %q", body)
	}
}

func TestHTTPStatusFromError(t *testing.T) {
	t.Parallel()

	if got := httpStatusFromError(echo.ErrNotFound); got != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", got, http.StatusNotFound)
	}
	if got := httpStatusFromError(echo.ErrForbidden); got != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", got, http.StatusForbidden)
	}
	if got := httpStatusFromError(errors.New("boom")); got != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", got, http.StatusInternalServerError)
	}
}
