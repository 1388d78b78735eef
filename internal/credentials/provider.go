package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/darrentmorgan/singura/internal/discovery"
	"github.com/darrentmorgan/singura/internal/metrics"
)

const (
	// defaultRefreshSkew is how close to expiry a token may get before it is
	// refreshed ahead of use.
	defaultRefreshSkew = 5 * time.Minute

	defaultRefreshTimeout = 30 * time.Second
)

// ErrCredentialNotFound means no stored credential exists for a connection.
// Callers must not retry; the connection has to be re-linked first.
var ErrCredentialNotFound = errors.New("credential not found")

// ErrTokenRefresh means a refresh-token grant was rejected or unreachable.
// Callers must not retry with the same refresh token.
var ErrTokenRefresh = errors.New("token refresh failed")

// Connection is one linked platform account with its OAuth client settings
// and current credentials.
type Connection struct {
	ID           string
	Platform     string
	DisplayName  string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Credentials  discovery.OAuthCredentials
}

// Store loads and persists connection credentials. Implementations return
// ErrCredentialNotFound for unknown connection ids.
type Store interface {
	Load(ctx context.Context, connectionID string) (Connection, error)
	PersistRefreshed(ctx context.Context, connectionID string, creds discovery.OAuthCredentials) error
}

// Options tunes a Provider. The zero value uses production defaults.
type Options struct {
	RefreshSkew    time.Duration
	RefreshTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Now            func() time.Time
}

// Provider hands out valid access tokens for connections, refreshing expiring
// ones ahead of use. Concurrent refreshes for the same connection collapse
// into a single upstream token request.
type Provider struct {
	store          Store
	skew           time.Duration
	refreshTimeout time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
	now            func() time.Time

	group singleflight.Group
}

// NewProvider creates a Provider backed by the given store.
func NewProvider(store Store, opts Options) *Provider {
	skew := opts.RefreshSkew
	if skew <= 0 {
		skew = defaultRefreshSkew
	}
	refreshTimeout := opts.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultRefreshTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{
		store:          store,
		skew:           skew,
		refreshTimeout: refreshTimeout,
		httpClient:     opts.HTTPClient,
		logger:         logger,
		now:            now,
	}
}

// GetCredentials loads a connection and returns it with credentials that are
// valid for at least the refresh skew.
func (p *Provider) GetCredentials(ctx context.Context, connectionID string) (Connection, error) {
	conn, err := p.store.Load(ctx, connectionID)
	if err != nil {
		return Connection{}, fmt.Errorf("load connection %s: %w", connectionID, err)
	}
	creds, err := p.EnsureValid(ctx, conn)
	if err != nil {
		return Connection{}, err
	}
	conn.Credentials = creds
	return conn, nil
}

// EnsureValid returns credentials for conn that will not expire within the
// refresh skew, refreshing them if needed.
func (p *Provider) EnsureValid(ctx context.Context, conn Connection) (discovery.OAuthCredentials, error) {
	if !p.needsRefresh(conn.Credentials) {
		return conn.Credentials, nil
	}

	v, err, _ := p.group.Do(conn.ID, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(ctx, p.refreshTimeout)
		defer cancel()
		return p.refresh(refreshCtx, conn)
	})
	if err != nil {
		return discovery.OAuthCredentials{}, err
	}
	return v.(discovery.OAuthCredentials), nil
}

// needsRefresh reports whether the access token is missing or expires within
// the skew window. Tokens without an expiry never refresh.
func (p *Provider) needsRefresh(creds discovery.OAuthCredentials) bool {
	if strings.TrimSpace(creds.AccessToken) == "" {
		return strings.TrimSpace(creds.RefreshToken) != ""
	}
	if creds.ExpiresAt == nil {
		return false
	}
	return !p.now().Add(p.skew).Before(*creds.ExpiresAt)
}

func (p *Provider) refresh(ctx context.Context, conn Connection) (discovery.OAuthCredentials, error) {
	old := conn.Credentials
	if strings.TrimSpace(old.RefreshToken) == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return discovery.OAuthCredentials{}, fmt.Errorf("%w: connection %s has an expiring access token and no refresh token", ErrTokenRefresh, conn.ID)
	}
	if strings.TrimSpace(conn.TokenURL) == "" {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return discovery.OAuthCredentials{}, fmt.Errorf("%w: connection %s has no token endpoint", ErrTokenRefresh, conn.ID)
	}

	cfg := oauth2.Config{
		ClientID:     conn.ClientID,
		ClientSecret: conn.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: conn.TokenURL},
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: old.RefreshToken}).Token()
	if err != nil {
		metrics.TokenRefreshesTotal.WithLabelValues("failure").Inc()
		return discovery.OAuthCredentials{}, errors.Join(ErrTokenRefresh, fmt.Errorf("refresh connection %s: %w", conn.ID, err))
	}

	creds := discovery.OAuthCredentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Scope:        old.Scope,
	}
	// Providers that do not rotate refresh tokens omit them from the response.
	if creds.RefreshToken == "" {
		creds.RefreshToken = old.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(scope) != "" {
		creds.Scope = scope
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		creds.ExpiresAt = &expiry
	}

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()

	// The refreshed token is valid even if we cannot write it back; the run
	// proceeds and the next run refreshes again.
	if err := p.store.PersistRefreshed(ctx, conn.ID, creds); err != nil {
		p.logger.Warn("persist refreshed credentials",
			"connection_id", conn.ID,
			"platform", conn.Platform,
			"error", err)
	}
	return creds, nil
}
