package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// Failure kinds bucket connector errors for control flow and metric labels.
const (
	FailureAuthentication    = "authentication"
	FailurePermissionDenied  = "permission_denied"
	FailureTransientAPI      = "transient_api"
	FailureMalformedResponse = "malformed_response"
	FailureCancelled         = "cancelled"
	FailureUnknown           = "unknown"
)

// APIError is a platform API call that completed with an error response.
// StatusCode is zero for platforms that signal errors inside a 200 body,
// in which case Code carries the platform's error string.
type APIError struct {
	Platform   string
	Operation  string
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s api: %s failed", e.Platform, e.Operation)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ": %s", e.Code)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}

// Error codes the supported platforms use for rejected or expired
// credentials. Codes are compared case-insensitively.
var authErrorCodes = []string{
	"invalid_auth",
	"token_revoked",
	"token_expired",
	"not_authed",
	"account_inactive",
	"invalid_grant",
	"invalidauthenticationtoken",
	"unauthorized",
}

// Error codes for callers that are authenticated but lack a scope or role.
var permissionErrorCodes = []string{
	"missing_scope",
	"not_allowed_token_type",
	"no_permission",
	"access_denied",
	"authorization_requestdenied",
	"insufficientpermissions",
	"accessnotconfigured",
	"forbidden",
}

// Error codes for throttling and server-side conditions that clear on retry.
var transientErrorCodes = []string{
	"ratelimited",
	"rate_limited",
	"internal_error",
	"service_unavailable",
	"backoff",
	"quotaexceeded",
	"ratelimitexceeded",
	"userratelimitexceeded",
}

func hasErrorCode(codes []string, code string) bool {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	for _, c := range codes {
		if code == c {
			return true
		}
	}
	return false
}

// AuthFailure reports whether the platform rejected the credential itself.
func (e *APIError) AuthFailure() bool {
	if e.StatusCode == http.StatusUnauthorized {
		return true
	}
	return hasErrorCode(authErrorCodes, e.Code)
}

// PermissionDenied reports whether the credential was accepted but lacks
// access to the requested resource.
func (e *APIError) PermissionDenied() bool {
	if e.AuthFailure() {
		return false
	}
	if e.StatusCode == http.StatusForbidden {
		return true
	}
	return hasErrorCode(permissionErrorCodes, e.Code)
}

// Transient reports whether the same call could succeed if repeated.
func (e *APIError) Transient() bool {
	if e.AuthFailure() || e.PermissionDenied() {
		return false
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	if e.StatusCode >= 500 {
		return true
	}
	return hasErrorCode(transientErrorCodes, e.Code)
}

// MalformedResponseError is a platform response body that could not be
// decoded into the expected shape.
type MalformedResponseError struct {
	Platform  string
	Operation string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s api: %s returned a malformed response: %v", e.Platform, e.Operation, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// IsAuthFailure reports whether err carries an authentication failure.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.AuthFailure()
}

// IsPermissionDenied reports whether err carries a permission denial.
func IsPermissionDenied(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.PermissionDenied()
}

// IsMalformedResponse reports whether err carries an undecodable response.
func IsMalformedResponse(err error) bool {
	var malformed *MalformedResponseError
	return errors.As(err, &malformed)
}

// IsTransient reports whether err is worth retrying on an idempotent read.
// Context cancellation is never transient; a deadline or network timeout is.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return os.IsTimeout(err)
}

// ClassifyFailure maps err onto one of the failure kind labels.
func ClassifyFailure(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return FailureCancelled
	case IsAuthFailure(err):
		return FailureAuthentication
	case IsPermissionDenied(err):
		return FailurePermissionDenied
	case IsTransient(err):
		return FailureTransientAPI
	case IsMalformedResponse(err):
		return FailureMalformedResponse
	default:
		return FailureUnknown
	}
}
