// Package directorygraph discovers automations registered in a directory
// graph tenant: app registrations, service principals, and delegated OAuth
// grants, plus the directory audit stream.
package directorygraph

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/darrentmorgan/singura/internal/connectors/registry"
	"github.com/darrentmorgan/singura/internal/discovery"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	defaultTimeout = 30 * time.Second

	listPageSize  = "999"
	auditPageSize = "200"

	maxErrorBodySize    = 1 << 20 // 1 MiB
	maxErrorMessageRune = 300

	userAgent = "singura"
)

// Options configure the graph client.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string

	// RateLimit caps outbound requests per second. Zero disables
	// client-side limiting.
	RateLimit float64
	RateBurst int
}

// Client talks to the directory graph API with a pre-issued bearer token.
// Token refresh happens upstream; an expired token surfaces as an auth
// failure, not a refresh attempt.
type Client struct {
	token   string
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

// Organization identifies the tenant behind a token.
type Organization struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"displayName"`
	VerifiedDomains []Domain `json:"verifiedDomains"`
}

type Domain struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"isDefault"`
}

// Application is one app registration.
type Application struct {
	ID                  string               `json:"id"`
	AppID               string               `json:"appId"`
	DisplayName         string               `json:"displayName"`
	Description         string               `json:"description"`
	PublisherDomain     string               `json:"publisherDomain"`
	CreatedDateTime     string               `json:"createdDateTime"`
	PasswordCredentials []PasswordCredential `json:"passwordCredentials"`
	KeyCredentials      []KeyCredential      `json:"keyCredentials"`
}

type PasswordCredential struct {
	KeyID       string `json:"keyId"`
	DisplayName string `json:"displayName"`
	EndDateTime string `json:"endDateTime"`
}

type KeyCredential struct {
	KeyID       string `json:"keyId"`
	DisplayName string `json:"displayName"`
	Usage       string `json:"usage"`
}

// ServicePrincipal is one service principal.
type ServicePrincipal struct {
	ID                     string   `json:"id"`
	AppID                  string   `json:"appId"`
	DisplayName            string   `json:"displayName"`
	AccountEnabled         *bool    `json:"accountEnabled"`
	ServicePrincipalType   string   `json:"servicePrincipalType"`
	AppOwnerOrganizationID string   `json:"appOwnerOrganizationId"`
	CreatedDateTime        string   `json:"createdDateTime"`
	Tags                   []string `json:"tags"`
}

// OAuth2PermissionGrant is one delegated consent grant.
type OAuth2PermissionGrant struct {
	ID          string `json:"id"`
	ClientID    string `json:"clientId"`
	ConsentType string `json:"consentType"`
	PrincipalID string `json:"principalId"`
	ResourceID  string `json:"resourceId"`
	Scope       string `json:"scope"`
}

// DirectoryAudit is one raw directory audit event.
type DirectoryAudit struct {
	ID                  string `json:"id"`
	Category            string `json:"category"`
	Result              string `json:"result"`
	ActivityDisplayName string `json:"activityDisplayName"`
	ActivityDateTime    string `json:"activityDateTime"`
	InitiatedBy         struct {
		User *struct {
			ID                string `json:"id"`
			DisplayName       string `json:"displayName"`
			UserPrincipalName string `json:"userPrincipalName"`
			IPAddress         string `json:"ipAddress"`
		} `json:"user"`
		App *struct {
			AppID              string `json:"appId"`
			DisplayName        string `json:"displayName"`
			ServicePrincipalID string `json:"servicePrincipalId"`
		} `json:"app"`
	} `json:"initiatedBy"`
	TargetResources []struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Type        string `json:"type"`
	} `json:"targetResources"`
}

// NewClient creates a graph client for one tenant token.
func NewClient(token string, opts Options) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("directorygraph access token is required")
	}

	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	return &Client{token: token, base: base, http: httpClient, limiter: limiter}, nil
}

// GetOrganization returns the tenant the token belongs to.
func (c *Client) GetOrganization(ctx context.Context) (Organization, error) {
	endpoint, err := c.graphURL("/organization", url.Values{
		"$select": []string{"id,displayName,verifiedDomains"},
	})
	if err != nil {
		return Organization{}, err
	}

	body, err := c.get(ctx, endpoint, "organization")
	if err != nil {
		return Organization{}, err
	}

	var page struct {
		Value []Organization `json:"value"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return Organization{}, &registry.MalformedResponseError{Platform: discovery.PlatformDirectoryGraph, Operation: "organization", Err: err}
	}
	if len(page.Value) == 0 {
		return Organization{}, &registry.MalformedResponseError{
			Platform:  discovery.PlatformDirectoryGraph,
			Operation: "organization",
			Err:       errors.New("empty organization collection"),
		}
	}
	return page.Value[0], nil
}

// ListApplications returns every app registration in the tenant.
func (c *Client) ListApplications(ctx context.Context) ([]Application, error) {
	endpoint, err := c.graphURL("/applications", url.Values{
		"$select": []string{"id,appId,displayName,description,publisherDomain,createdDateTime,passwordCredentials,keyCredentials"},
		"$top":    []string{listPageSize},
	})
	if err != nil {
		return nil, err
	}
	return listPaged[Application](ctx, c, endpoint, "applications")
}

// ListServicePrincipals returns every service principal in the tenant.
func (c *Client) ListServicePrincipals(ctx context.Context) ([]ServicePrincipal, error) {
	endpoint, err := c.graphURL("/servicePrincipals", url.Values{
		"$select": []string{"id,appId,displayName,accountEnabled,servicePrincipalType,appOwnerOrganizationId,createdDateTime,tags"},
		"$top":    []string{listPageSize},
	})
	if err != nil {
		return nil, err
	}
	return listPaged[ServicePrincipal](ctx, c, endpoint, "service principals")
}

// ListPermissionGrants returns every delegated OAuth consent grant.
func (c *Client) ListPermissionGrants(ctx context.Context) ([]OAuth2PermissionGrant, error) {
	endpoint, err := c.graphURL("/oauth2PermissionGrants", url.Values{
		"$select": []string{"id,clientId,consentType,principalId,resourceId,scope"},
		"$top":    []string{listPageSize},
	})
	if err != nil {
		return nil, err
	}
	return listPaged[OAuth2PermissionGrant](ctx, c, endpoint, "permission grants")
}

// ListDirectoryAudits returns directory audit events at or after since. The
// filter is best effort server side; callers apply their own since guard.
func (c *Client) ListDirectoryAudits(ctx context.Context, since time.Time) ([]DirectoryAudit, error) {
	query := url.Values{
		"$orderby": []string{"activityDateTime desc"},
		"$top":     []string{auditPageSize},
	}
	if !since.IsZero() {
		query.Set("$filter", "activityDateTime ge "+since.UTC().Format(time.RFC3339))
	}

	endpoint, err := c.graphURL("/auditLogs/directoryAudits", query)
	if err != nil {
		return nil, err
	}
	return listPaged[DirectoryAudit](ctx, c, endpoint, "directory audits")
}

// probe issues a minimal single-item read against path to test access.
func (c *Client) probe(ctx context.Context, path, operation string) error {
	endpoint, err := c.graphURL(path, url.Values{"$top": []string{"1"}})
	if err != nil {
		return err
	}
	_, err = c.get(ctx, endpoint, operation)
	return err
}

func listPaged[T any](ctx context.Context, c *Client, endpoint, operation string) ([]T, error) {
	var out []T
	for {
		body, err := c.get(ctx, endpoint, operation)
		if err != nil {
			return nil, err
		}

		var page struct {
			Value    []T    `json:"value"`
			NextLink string `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, &registry.MalformedResponseError{Platform: discovery.PlatformDirectoryGraph, Operation: operation, Err: err}
		}
		out = append(out, page.Value...)

		next := strings.TrimSpace(page.NextLink)
		if next == "" {
			break
		}
		endpoint = next
	}
	return out, nil
}

func (c *Client) graphURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.base)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	u.Fragment = ""
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, endpoint, operation string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= registry.DefaultMaxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			if registry.IsTransient(err) && attempt < registry.DefaultMaxRetries {
				lastErr = err
				if serr := registry.Sleep(ctx, registry.RetryBackoff(attempt)); serr != nil {
					return nil, serr
				}
				continue
			}
			return nil, err
		}
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			lastErr = apiError(operation, resp, body)
			if attempt == registry.DefaultMaxRetries {
				return nil, lastErr
			}
			wait, ok := registry.RetryAfterDuration(resp.Header.Get("Retry-After"))
			if !ok {
				wait = registry.RetryBackoff(attempt)
			}
			if err := registry.Sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, apiError(operation, resp, body)
		}
		return body, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("directorygraph request failed")
}

// apiError maps the graph error envelope {"error":{"code","message"}} onto
// the shared taxonomy.
func apiError(operation string, resp *http.Response, body []byte) *registry.APIError {
	apiErr := &registry.APIError{
		Platform:   discovery.PlatformDirectoryGraph,
		Operation:  operation,
		StatusCode: resp.StatusCode,
	}
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = strings.TrimSpace(payload.Error.Code)
		apiErr.Message = truncateMessage(payload.Error.Message)
	}
	if wait, ok := registry.RetryAfterDuration(resp.Header.Get("Retry-After")); ok {
		apiErr.RetryAfter = wait
	}
	return apiErr
}

func truncateMessage(message string) string {
	message = strings.TrimSpace(message)
	if utf8.RuneCountInString(message) <= maxErrorMessageRune {
		return message
	}
	runes := []rune(message)
	return string(runes[:maxErrorMessageRune]) + "…"
}

func parseGraphTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
