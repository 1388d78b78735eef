package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultHTTPAddr    = ":8080"
	defaultMetricsAddr = ":9090"

	defaultDiscoveryInterval = 15 * time.Minute
	defaultPlatformTimeout   = 30 * time.Second
	defaultTokenRefreshSkew  = 5 * time.Minute

	defaultWorkspaceTokenWorkers = 4
)

type Config struct {
	DatabaseURL string
	HTTPAddr    string
	MetricsAddr string

	DiscoveryInterval time.Duration

	PlatformTimeout       time.Duration
	PlatformRateLimit     float64
	PlatformRateBurst     int
	TokenRefreshSkew      time.Duration
	WorkspaceTokenWorkers int

	SecretsBackend string

	VaultAddress          string
	VaultNamespace        string
	VaultAuthType         string
	VaultToken            string
	VaultAppRoleMountPath string
	VaultAppRoleRoleID    string
	VaultAppRoleSecretID  string
	VaultTransitMountPath string
	VaultTransitKey       string
	VaultTLSSkipVerify    bool
	VaultTLSCACertPEM     string

	KMSKeyID           string
	KMSRegion          string
	KMSAuthType        string
	KMSAccessKeyID     string
	KMSSecretAccessKey string
	KMSSessionToken    string

	ChatOpsAPIBaseURL         string
	ChatOpsAuditBaseURL       string
	DirectoryGraphBaseURL     string
	WorkspaceDirectoryBaseURL string
	WorkspaceReportsBaseURL   string
	WorkspaceDriveBaseURL     string
	WorkspaceUserinfoURL      string
}

type LoadOptions struct {
	RequireDatabaseURL bool
}

func Load() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: true})
}

func LoadOptionalDB() (Config, error) {
	return LoadWithOptions(LoadOptions{RequireDatabaseURL: false})
}

func LoadWithOptions(opts LoadOptions) (Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, err
		}
	}

	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPAddr:    getenvDefault("HTTP_ADDR", defaultHTTPAddr),
		MetricsAddr: getenvDefault("METRICS_ADDR", defaultMetricsAddr),

		DiscoveryInterval: getenvDurationDefault("DISCOVERY_INTERVAL", defaultDiscoveryInterval),

		PlatformTimeout:       getenvDurationDefault("PLATFORM_TIMEOUT", defaultPlatformTimeout),
		PlatformRateLimit:     getenvFloatDefault("PLATFORM_RATE_LIMIT", 0),
		PlatformRateBurst:     getenvIntDefault("PLATFORM_RATE_BURST", 0),
		TokenRefreshSkew:      getenvDurationDefault("TOKEN_REFRESH_SKEW", defaultTokenRefreshSkew),
		WorkspaceTokenWorkers: getenvIntDefault("WORKSPACE_TOKEN_WORKERS", defaultWorkspaceTokenWorkers),

		SecretsBackend: strings.ToLower(strings.TrimSpace(getenvDefault("SECRETS_BACKEND", "plaintext"))),

		VaultAddress:          os.Getenv("VAULT_ADDR"),
		VaultNamespace:        os.Getenv("VAULT_NAMESPACE"),
		VaultAuthType:         os.Getenv("VAULT_AUTH_TYPE"),
		VaultToken:            os.Getenv("VAULT_TOKEN"),
		VaultAppRoleMountPath: os.Getenv("VAULT_APPROLE_MOUNT_PATH"),
		VaultAppRoleRoleID:    os.Getenv("VAULT_APPROLE_ROLE_ID"),
		VaultAppRoleSecretID:  os.Getenv("VAULT_APPROLE_SECRET_ID"),
		VaultTransitMountPath: os.Getenv("VAULT_TRANSIT_MOUNT_PATH"),
		VaultTransitKey:       os.Getenv("VAULT_TRANSIT_KEY"),
		VaultTLSSkipVerify:    getenvBoolDefault("VAULT_TLS_SKIP_VERIFY", false),
		VaultTLSCACertPEM:     os.Getenv("VAULT_CACERT_PEM"),

		KMSKeyID:           os.Getenv("KMS_KEY_ID"),
		KMSRegion:          getenvDefault("KMS_REGION", os.Getenv("AWS_REGION")),
		KMSAuthType:        os.Getenv("KMS_AUTH_TYPE"),
		KMSAccessKeyID:     os.Getenv("KMS_ACCESS_KEY_ID"),
		KMSSecretAccessKey: os.Getenv("KMS_SECRET_ACCESS_KEY"),
		KMSSessionToken:    os.Getenv("KMS_SESSION_TOKEN"),

		ChatOpsAPIBaseURL:         os.Getenv("CHATOPS_API_BASE_URL"),
		ChatOpsAuditBaseURL:       os.Getenv("CHATOPS_AUDIT_BASE_URL"),
		DirectoryGraphBaseURL:     os.Getenv("DIRECTORYGRAPH_BASE_URL"),
		WorkspaceDirectoryBaseURL: os.Getenv("WORKSPACEADMIN_DIRECTORY_BASE_URL"),
		WorkspaceReportsBaseURL:   os.Getenv("WORKSPACEADMIN_REPORTS_BASE_URL"),
		WorkspaceDriveBaseURL:     os.Getenv("WORKSPACEADMIN_DRIVE_BASE_URL"),
		WorkspaceUserinfoURL:      os.Getenv("WORKSPACEADMIN_USERINFO_URL"),
	}

	if opts.RequireDatabaseURL && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func getenvFloatDefault(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

func getenvDurationDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getenvBoolDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch v {
	case "1":
		return true
	case "0":
		return false
	default:
		return def
	}
}
