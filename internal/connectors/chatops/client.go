package chatops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/darrentmorgan/singura/internal/connectors/registry"
	"github.com/darrentmorgan/singura/internal/discovery"
)

const (
	defaultAPIBase   = "https://slack.com/api"
	defaultAuditBase = "https://api.slack.com/audit/v1"
	defaultTimeout   = 30 * time.Second
	defaultPageLimit = 200
	maxErrorBodySize = 1 << 20 // 1 MiB
	userAgent        = "singura"
)

// Options configure the ChatOps workspace client.
type Options struct {
	HTTPClient   *http.Client
	APIBaseURL   string
	AuditBaseURL string
	RateLimit    float64
	RateBurst    int
}

// Client talks to a ChatOps workspace admin API with a bot or user token.
type Client struct {
	token     string
	apiBase   string
	auditBase string
	http      *http.Client
	limiter   *rate.Limiter
}

// AuthTestResponse identifies the workspace and principal behind a token.
type AuthTestResponse struct {
	URL    string `json:"url"`
	Team   string `json:"team"`
	User   string `json:"user"`
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
}

// Member is one workspace user from users.list.
type Member struct {
	ID       string        `json:"id"`
	TeamID   string        `json:"team_id"`
	Name     string        `json:"name"`
	RealName string        `json:"real_name"`
	IsBot    bool          `json:"is_bot"`
	Deleted  bool          `json:"deleted"`
	Updated  int64         `json:"updated"`
	Profile  MemberProfile `json:"profile"`
}

type MemberProfile struct {
	RealName string `json:"real_name"`
	Title    string `json:"title"`
	BotID    string `json:"bot_id"`
	APIAppID string `json:"api_app_id"`
}

// InstalledApp is one approved app from admin.apps.approved.list.
type InstalledApp struct {
	App         AppInfo    `json:"app"`
	Scopes      []AppScope `json:"scopes"`
	DateUpdated int64      `json:"date_updated"`
}

type AppInfo struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Description            string `json:"description"`
	AppHomepageURL         string `json:"app_homepage_url"`
	IsAppDirectoryApproved bool   `json:"is_app_directory_approved"`
	IsInternal             bool   `json:"is_internal"`
}

type AppScope struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsSensitive bool   `json:"is_sensitive"`
	TokenType   string `json:"token_type"`
}

// Workflow is one workspace workflow from admin.workflows.search.
type Workflow struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	IsPublished   bool     `json:"is_published"`
	DateUpdated   int64    `json:"date_updated"`
	Collaborators []string `json:"collaborators"`
}

// AuditEntry is one raw record from the audit logs API.
type AuditEntry struct {
	ID         string `json:"id"`
	DateCreate int64  `json:"date_create"`
	Action     string `json:"action"`
	Actor      struct {
		Type string `json:"type"`
		User struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"user"`
	} `json:"actor"`
	Entity struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"entity"`
	Context struct {
		IPAddress string `json:"ip_address"`
		UA        string `json:"ua"`
	} `json:"context"`
}

// NewClient creates a client for one workspace token.
func NewClient(token string, opts Options) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("chatops access token is required")
	}

	apiBase := strings.TrimRight(strings.TrimSpace(opts.APIBaseURL), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	auditBase := strings.TrimRight(strings.TrimSpace(opts.AuditBaseURL), "/")
	if auditBase == "" {
		auditBase = defaultAuditBase
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

	return &Client{
		token:     token,
		apiBase:   apiBase,
		auditBase: auditBase,
		http:      httpClient,
		limiter:   limiter,
	}, nil
}

// AuthTest verifies the token and identifies its workspace and principal.
func (c *Client) AuthTest(ctx context.Context) (AuthTestResponse, error) {
	var payload AuthTestResponse
	if err := c.callAPI(ctx, "auth.test", nil, &payload); err != nil {
		return AuthTestResponse{}, err
	}
	return payload, nil
}

// ListBotUsers returns every member flagged is_bot, including deactivated
// ones.
func (c *Client) ListBotUsers(ctx context.Context) ([]Member, error) {
	var out []Member
	cursor := ""
	for {
		query := url.Values{"limit": []string{strconv.Itoa(defaultPageLimit)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var payload struct {
			Members          []Member `json:"members"`
			ResponseMetadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.callAPI(ctx, "users.list", query, &payload); err != nil {
			return nil, err
		}
		for _, m := range payload.Members {
			if !m.IsBot {
				continue
			}
			out = append(out, m)
		}
		cursor = strings.TrimSpace(payload.ResponseMetadata.NextCursor)
		if cursor == "" {
			break
		}
	}
	return out, nil
}

// ListInstalledApps returns the workspace's approved app installations.
func (c *Client) ListInstalledApps(ctx context.Context) ([]InstalledApp, error) {
	var out []InstalledApp
	cursor := ""
	for {
		query := url.Values{"limit": []string{strconv.Itoa(defaultPageLimit)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var payload struct {
			ApprovedApps     []InstalledApp `json:"approved_apps"`
			ResponseMetadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.callAPI(ctx, "admin.apps.approved.list", query, &payload); err != nil {
			return nil, err
		}
		out = append(out, payload.ApprovedApps...)
		cursor = strings.TrimSpace(payload.ResponseMetadata.NextCursor)
		if cursor == "" {
			break
		}
	}
	return out, nil
}

// ListWorkflows returns the workspace's workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var out []Workflow
	cursor := ""
	for {
		query := url.Values{"limit": []string{strconv.Itoa(defaultPageLimit)}}
		if cursor != "" {
			query.Set("cursor", cursor)
		}
		var payload struct {
			Workflows        []Workflow `json:"workflows"`
			ResponseMetadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := c.callAPI(ctx, "admin.workflows.search", query, &payload); err != nil {
			return nil, err
		}
		out = append(out, payload.Workflows...)
		cursor = strings.TrimSpace(payload.ResponseMetadata.NextCursor)
		if cursor == "" {
			break
		}
	}
	return out, nil
}

// ListAuditLogs returns audit records created at or after oldest. The audit
// API filters server side; entries still go through the caller's since guard.
func (c *Client) ListAuditLogs(ctx context.Context, oldest time.Time) ([]AuditEntry, error) {
	var out []AuditEntry
	cursor := ""
	for {
		query := url.Values{"limit": []string{strconv.Itoa(defaultPageLimit)}}
		if !oldest.IsZero() {
			query.Set("oldest", strconv.FormatInt(oldest.Unix(), 10))
		}
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		endpoint := c.auditBase + "/logs?" + query.Encode()
		body, err := c.get(ctx, endpoint, "audit logs")
		if err != nil {
			return nil, err
		}

		var payload struct {
			Entries          []AuditEntry `json:"entries"`
			ResponseMetadata struct {
				NextCursor string `json:"next_cursor"`
			} `json:"response_metadata"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, &registry.MalformedResponseError{Platform: discovery.PlatformChatOps, Operation: "audit logs", Err: err}
		}
		out = append(out, payload.Entries...)
		cursor = strings.TrimSpace(payload.ResponseMetadata.NextCursor)
		if cursor == "" {
			break
		}
	}
	return out, nil
}

// callAPI performs one admin API method call and decodes the ok/error
// envelope before handing the body to out.
func (c *Client) callAPI(ctx context.Context, method string, query url.Values, out any) error {
	endpoint := c.apiBase + "/" + method
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= registry.DefaultMaxRetries; attempt++ {
		body, err := c.get(ctx, endpoint, method)
		if err != nil {
			return err
		}

		var envelope struct {
			OK    bool   `json:"ok"`
			Error string `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return &registry.MalformedResponseError{Platform: discovery.PlatformChatOps, Operation: method, Err: err}
		}
		if !envelope.OK {
			apiErr := &registry.APIError{Platform: discovery.PlatformChatOps, Operation: method, Code: envelope.Error}
			// Rate-limit codes can arrive inside a 200 envelope rather
			// than as an HTTP 429. Those clear on retry just like the
			// status-level kind.
			if apiErr.Transient() && attempt < registry.DefaultMaxRetries {
				lastErr = apiErr
				if serr := registry.Sleep(ctx, registry.RetryBackoff(attempt)); serr != nil {
					return serr
				}
				continue
			}
			return apiErr
		}
		if out != nil {
			if err := json.Unmarshal(body, out); err != nil {
				return &registry.MalformedResponseError{Platform: discovery.PlatformChatOps, Operation: method, Err: err}
			}
		}
		return nil
	}
	return lastErr
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

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
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
	return nil, fmt.Errorf("chatops api: %s failed", operation)
}

func apiError(operation string, resp *http.Response, body []byte) *registry.APIError {
	apiErr := &registry.APIError{
		Platform:   discovery.PlatformChatOps,
		Operation:  operation,
		StatusCode: resp.StatusCode,
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = strings.TrimSpace(payload.Error)
		apiErr.Message = strings.TrimSpace(payload.Message)
	}
	if wait, ok := registry.RetryAfterDuration(resp.Header.Get("Retry-After")); ok {
		apiErr.RetryAfter = wait
	}
	return apiErr
}
