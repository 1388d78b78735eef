// Package workspaceadmin discovers automations in a workspace admin domain:
// per-user OAuth token grants and script projects, plus the admin activity
// report stream.
package workspaceadmin

import (
	"context"
	"encoding/json"
	"errors"
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
	defaultDirectoryBaseURL = "https://admin.googleapis.com/admin/directory/v1"
	defaultReportsBaseURL   = "https://admin.googleapis.com/admin/reports/v1"
	defaultDriveBaseURL     = "https://www.googleapis.com/drive/v3"
	defaultUserinfoURL      = "https://openidconnect.googleapis.com/v1/userinfo"
	defaultTimeout          = 30 * time.Second

	// DefaultTokenWorkers bounds the per-user token grant fan-out.
	DefaultTokenWorkers = 4

	scriptMimeType   = "application/vnd.google-apps.script"
	maxErrorBodySize = 1 << 20 // 1 MiB
	userAgent        = "singura"
)

// Options configure the workspace admin client.
type Options struct {
	HTTPClient       *http.Client
	DirectoryBaseURL string
	ReportsBaseURL   string
	DriveBaseURL     string
	UserinfoURL      string
	TokenWorkers     int

	// RateLimit caps outbound requests per second across all three
	// API surfaces. Zero disables client-side limiting.
	RateLimit float64
	RateBurst int
}

// Client talks to the workspace admin, reports, and drive APIs with a
// pre-issued bearer token.
type Client struct {
	token         string
	directoryBase string
	reportsBase   string
	driveBase     string
	userinfoURL   string
	http          *http.Client
	tokenWorkers  int
	limiter       *rate.Limiter
}

// Userinfo identifies the delegated admin behind a token.
type Userinfo struct {
	Sub          string `json:"sub"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	HostedDomain string `json:"hd"`
}

// User is one directory user.
type User struct {
	ID           string `json:"id"`
	PrimaryEmail string `json:"primaryEmail"`
	Suspended    bool   `json:"suspended"`
	IsAdmin      bool   `json:"isAdmin"`
	Name         struct {
		FullName string `json:"fullName"`
	} `json:"name"`
}

// TokenGrant is one third-party OAuth grant issued by a user.
type TokenGrant struct {
	UserKey     string   `json:"userKey"`
	ClientID    string   `json:"clientId"`
	DisplayText string   `json:"displayText"`
	NativeApp   bool     `json:"nativeApp"`
	Anonymous   bool     `json:"anonymous"`
	Scopes      []string `json:"scopes"`
}

// ScriptProject is one script file from the drive listing.
type ScriptProject struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	MimeType     string `json:"mimeType"`
	CreatedTime  string `json:"createdTime"`
	ModifiedTime string `json:"modifiedTime"`
	WebViewLink  string `json:"webViewLink"`
	Owners       []struct {
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	} `json:"owners"`
}

// Activity is one raw admin activity report record.
type Activity struct {
	ID struct {
		Time            string `json:"time"`
		UniqueQualifier string `json:"uniqueQualifier"`
		ApplicationName string `json:"applicationName"`
	} `json:"id"`
	Actor struct {
		Email     string `json:"email"`
		ProfileID string `json:"profileId"`
	} `json:"actor"`
	Events []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"events"`
	IPAddress string `json:"ipAddress"`
}

// EventName returns the first named event in the activity record.
func (a Activity) EventName() string {
	for _, event := range a.Events {
		if name := strings.TrimSpace(event.Name); name != "" {
			return name
		}
	}
	return ""
}

// NewClient creates a client for one delegated admin token.
func NewClient(token string, opts Options) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("workspaceadmin access token is required")
	}

	directoryBase := strings.TrimRight(strings.TrimSpace(opts.DirectoryBaseURL), "/")
	if directoryBase == "" {
		directoryBase = defaultDirectoryBaseURL
	}
	reportsBase := strings.TrimRight(strings.TrimSpace(opts.ReportsBaseURL), "/")
	if reportsBase == "" {
		reportsBase = defaultReportsBaseURL
	}
	driveBase := strings.TrimRight(strings.TrimSpace(opts.DriveBaseURL), "/")
	if driveBase == "" {
		driveBase = defaultDriveBaseURL
	}
	userinfoURL := strings.TrimSpace(opts.UserinfoURL)
	if userinfoURL == "" {
		userinfoURL = defaultUserinfoURL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	workers := opts.TokenWorkers
	if workers < 1 {
		workers = DefaultTokenWorkers
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
		token:         token,
		directoryBase: directoryBase,
		reportsBase:   reportsBase,
		driveBase:     driveBase,
		userinfoURL:   userinfoURL,
		http:          httpClient,
		tokenWorkers:  workers,
		limiter:       limiter,
	}, nil
}

// Userinfo resolves the identity behind the token via the OIDC userinfo
// endpoint.
func (c *Client) Userinfo(ctx context.Context) (Userinfo, error) {
	body, err := c.get(ctx, c.userinfoURL, "userinfo")
	if err != nil {
		return Userinfo{}, err
	}
	var info Userinfo
	if err := json.Unmarshal(body, &info); err != nil {
		return Userinfo{}, &registry.MalformedResponseError{Platform: discovery.PlatformWorkspaceAdmin, Operation: "userinfo", Err: err}
	}
	if strings.TrimSpace(info.Sub) == "" {
		return Userinfo{}, &registry.MalformedResponseError{
			Platform:  discovery.PlatformWorkspaceAdmin,
			Operation: "userinfo",
			Err:       errors.New("userinfo response missing sub"),
		}
	}
	return info, nil
}

// ListUsers returns every user in the domain.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	items, err := c.listPaged(ctx, c.directoryBase+"/users", "users", url.Values{
		"customer":   []string{"my_customer"},
		"maxResults": []string{"500"},
		"orderBy":    []string{"email"},
	})
	if err != nil {
		return nil, err
	}

	out := make([]User, 0, len(items))
	for _, raw := range items {
		var user User
		if err := json.Unmarshal(raw, &user); err != nil {
			return nil, &registry.MalformedResponseError{Platform: discovery.PlatformWorkspaceAdmin, Operation: "users", Err: err}
		}
		out = append(out, user)
	}
	return out, nil
}

// ListUserTokens returns the OAuth token grants issued by one user. Users
// without grants surface as an empty list, including the 404 the API returns
// for accounts that never granted anything.
func (c *Client) ListUserTokens(ctx context.Context, userKey string) ([]TokenGrant, error) {
	userKey = strings.TrimSpace(userKey)
	if userKey == "" {
		return nil, errors.New("workspaceadmin user key is required")
	}
	endpoint := c.directoryBase + "/users/" + url.PathEscape(userKey) + "/tokens"
	items, err := c.listPaged(ctx, endpoint, "items", nil)
	if err != nil {
		var apiErr *registry.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	out := make([]TokenGrant, 0, len(items))
	for _, raw := range items {
		var grant TokenGrant
		if err := json.Unmarshal(raw, &grant); err != nil {
			return nil, &registry.MalformedResponseError{Platform: discovery.PlatformWorkspaceAdmin, Operation: "tokens", Err: err}
		}
		if grant.UserKey == "" {
			grant.UserKey = userKey
		}
		out = append(out, grant)
	}
	return out, nil
}

// ListScriptProjects returns every script file visible to the token.
func (c *Client) ListScriptProjects(ctx context.Context) ([]ScriptProject, error) {
	items, err := c.listPaged(ctx, c.driveBase+"/files", "files", url.Values{
		"q":        []string{"mimeType='" + scriptMimeType + "'"},
		"pageSize": []string{"100"},
		"fields":   []string{"nextPageToken,files(id,name,description,mimeType,createdTime,modifiedTime,webViewLink,owners)"},
	})
	if err != nil {
		return nil, err
	}

	out := make([]ScriptProject, 0, len(items))
	for _, raw := range items {
		var project ScriptProject
		if err := json.Unmarshal(raw, &project); err != nil {
			return nil, &registry.MalformedResponseError{Platform: discovery.PlatformWorkspaceAdmin, Operation: "script projects", Err: err}
		}
		out = append(out, project)
	}
	return out, nil
}

// ListActivities returns admin activity report records at or after since.
func (c *Client) ListActivities(ctx context.Context, applicationName string, since time.Time) ([]Activity, error) {
	applicationName = strings.TrimSpace(applicationName)
	if applicationName == "" {
		return nil, errors.New("workspaceadmin report application name is required")
	}
	query := url.Values{"maxResults": []string{"1000"}}
	if !since.IsZero() {
		query.Set("startTime", since.UTC().Format(time.RFC3339))
	}
	endpoint := c.reportsBase + "/activity/users/all/applications/" + url.PathEscape(applicationName)
	items, err := c.listPaged(ctx, endpoint, "items", query)
	if err != nil {
		return nil, err
	}

	out := make([]Activity, 0, len(items))
	for _, raw := range items {
		var activity Activity
		if err := json.Unmarshal(raw, &activity); err != nil {
			return nil, &registry.MalformedResponseError{Platform: discovery.PlatformWorkspaceAdmin, Operation: "activities", Err: err}
		}
		out = append(out, activity)
	}
	return out, nil
}

func (c *Client) probeUsers(ctx context.Context) error {
	_, err := c.get(ctx, c.directoryBase+"/users?"+url.Values{
		"customer":   []string{"my_customer"},
		"maxResults": []string{"1"},
	}.Encode(), "users")
	return err
}

func (c *Client) probeTokens(ctx context.Context, userKey string) error {
	_, err := c.get(ctx, c.directoryBase+"/users/"+url.PathEscape(userKey)+"/tokens", "tokens")
	var apiErr *registry.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) probeActivities(ctx context.Context) error {
	_, err := c.get(ctx, c.reportsBase+"/activity/users/all/applications/admin?maxResults=1", "activities")
	return err
}

func (c *Client) probeDrive(ctx context.Context) error {
	_, err := c.get(ctx, c.driveBase+"/files?"+url.Values{
		"pageSize": []string{"1"},
		"fields":   []string{"files(id)"},
	}.Encode(), "script projects")
	return err
}

func (c *Client) listPaged(ctx context.Context, endpoint, key string, values url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	pageToken := ""
	for {
		query := cloneValues(values)
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		requestURL := endpoint
		if encoded := query.Encode(); encoded != "" {
			requestURL += "?" + encoded
		}

		body, err := c.get(ctx, requestURL, key)
		if err != nil {
			return nil, err
		}

		var payload struct {
			NextPageToken string            `json:"nextPageToken"`
			Items         []json.RawMessage `json:"items"`
			Users         []json.RawMessage `json:"users"`
			Files         []json.RawMessage `json:"files"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, &registry.MalformedResponseError{Platform: discovery.PlatformWorkspaceAdmin, Operation: key, Err: err}
		}

		switch key {
		case "users":
			all = append(all, payload.Users...)
		case "files":
			all = append(all, payload.Files...)
		default:
			all = append(all, payload.Items...)
		}

		pageToken = strings.TrimSpace(payload.NextPageToken)
		if pageToken == "" {
			break
		}
	}
	return all, nil
}

func cloneValues(values url.Values) url.Values {
	cloned := make(url.Values, len(values)+1)
	for key, items := range values {
		cp := make([]string, len(items))
		copy(cp, items)
		cloned[key] = cp
	}
	return cloned
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
	return nil, errors.New("workspaceadmin request failed")
}

// apiError maps the error envelope {"error":{"status","message","errors":
// [{"reason"}]}} onto the shared taxonomy. The reason string carries the
// most specific code.
func apiError(operation string, resp *http.Response, body []byte) *registry.APIError {
	apiErr := &registry.APIError{
		Platform:   discovery.PlatformWorkspaceAdmin,
		Operation:  operation,
		StatusCode: resp.StatusCode,
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
			Errors  []struct {
				Reason string `json:"reason"`
			} `json:"errors"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if len(payload.Error.Errors) > 0 {
			apiErr.Code = strings.TrimSpace(payload.Error.Errors[0].Reason)
		}
		if apiErr.Code == "" {
			apiErr.Code = strings.TrimSpace(payload.Error.Status)
		}
		apiErr.Message = strings.TrimSpace(payload.Error.Message)
	}
	if wait, ok := registry.RetryAfterDuration(resp.Header.Get("Retry-After")); ok {
		apiErr.RetryAfter = wait
	}
	return apiErr
}

func parseReportTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	if unixMS, err := strconv.ParseInt(raw, 10, 64); err == nil && unixMS > 0 {
		return time.UnixMilli(unixMS).UTC()
	}
	return time.Time{}
}
