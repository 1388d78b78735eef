package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darrentmorgan/singura/internal/config"
	"github.com/darrentmorgan/singura/internal/connectors/chatops"
	"github.com/darrentmorgan/singura/internal/connectors/directorygraph"
	"github.com/darrentmorgan/singura/internal/connectors/registry"
	"github.com/darrentmorgan/singura/internal/connectors/workspaceadmin"
	"github.com/darrentmorgan/singura/internal/credentials"
	"github.com/darrentmorgan/singura/internal/orchestrator"
	"github.com/darrentmorgan/singura/internal/secrets"
	"github.com/darrentmorgan/singura/internal/store"
)

// appServices bundles the wired application for the serve, worker, and
// one-off discovery commands.
type appServices struct {
	pool    *pgxpool.Pool
	store   *store.Postgres
	service *orchestrator.Service
}

func buildAppServices(ctx context.Context, cfg config.Config) (*appServices, error) {
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	cipher, err := buildCipher(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	st := store.NewPostgres(pool, cipher)
	provider := credentials.NewProvider(st, credentials.Options{
		RefreshSkew:    cfg.TokenRefreshSkew,
		RefreshTimeout: cfg.PlatformTimeout,
		HTTPClient:     &http.Client{Timeout: cfg.PlatformTimeout},
	})

	svc := orchestrator.NewService(reg, provider)
	svc.SetReporter(&orchestrator.LogReporter{})

	return &appServices{pool: pool, store: st, service: svc}, nil
}

func (a *appServices) Close() {
	a.pool.Close()
}

func buildRegistry(cfg config.Config) (*registry.Registry, error) {
	client := &http.Client{Timeout: cfg.PlatformTimeout}

	reg := registry.NewRegistry()
	if err := reg.Register(chatops.Definition{Options: chatops.Options{
		HTTPClient:   client,
		APIBaseURL:   cfg.ChatOpsAPIBaseURL,
		AuditBaseURL: cfg.ChatOpsAuditBaseURL,
		RateLimit:    cfg.PlatformRateLimit,
		RateBurst:    cfg.PlatformRateBurst,
	}}); err != nil {
		return nil, err
	}
	if err := reg.Register(directorygraph.Definition{Options: directorygraph.Options{
		HTTPClient: client,
		BaseURL:    cfg.DirectoryGraphBaseURL,
		RateLimit:  cfg.PlatformRateLimit,
		RateBurst:  cfg.PlatformRateBurst,
	}}); err != nil {
		return nil, err
	}
	if err := reg.Register(workspaceadmin.Definition{Options: workspaceadmin.Options{
		HTTPClient:       client,
		DirectoryBaseURL: cfg.WorkspaceDirectoryBaseURL,
		ReportsBaseURL:   cfg.WorkspaceReportsBaseURL,
		DriveBaseURL:     cfg.WorkspaceDriveBaseURL,
		UserinfoURL:      cfg.WorkspaceUserinfoURL,
		TokenWorkers:     cfg.WorkspaceTokenWorkers,
		RateLimit:        cfg.PlatformRateLimit,
		RateBurst:        cfg.PlatformRateBurst,
	}}); err != nil {
		return nil, err
	}
	return reg, nil
}

func buildCipher(ctx context.Context, cfg config.Config) (secrets.Cipher, error) {
	switch cfg.SecretsBackend {
	case "", secrets.BackendPlaintext:
		return secrets.PlaintextCipher{}, nil
	case secrets.BackendVault:
		return secrets.NewVaultCipher(secrets.VaultOptions{
			Address:          cfg.VaultAddress,
			Namespace:        cfg.VaultNamespace,
			AuthType:         cfg.VaultAuthType,
			Token:            cfg.VaultToken,
			AppRoleMountPath: cfg.VaultAppRoleMountPath,
			AppRoleRoleID:    cfg.VaultAppRoleRoleID,
			AppRoleSecretID:  cfg.VaultAppRoleSecretID,
			TransitMountPath: cfg.VaultTransitMountPath,
			KeyName:          cfg.VaultTransitKey,
			TLSSkipVerify:    cfg.VaultTLSSkipVerify,
			TLSCACertPEM:     cfg.VaultTLSCACertPEM,
		})
	case secrets.BackendKMS:
		return secrets.NewKMSCipher(ctx, secrets.KMSOptions{
			KeyID:           cfg.KMSKeyID,
			Region:          cfg.KMSRegion,
			AuthType:        cfg.KMSAuthType,
			AccessKeyID:     cfg.KMSAccessKeyID,
			SecretAccessKey: cfg.KMSSecretAccessKey,
			SessionToken:    cfg.KMSSessionToken,
		})
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", cfg.SecretsBackend)
	}
}
