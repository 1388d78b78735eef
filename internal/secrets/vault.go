package secrets

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
)

const (
	vaultAuthTypeToken   = "token"
	vaultAuthTypeAppRole = "approle"

	vaultHTTPTimeout = 120 * time.Second
)

// VaultOptions configure a Transit-backed cipher.
type VaultOptions struct {
	Address          string
	Namespace        string
	AuthType         string
	Token            string
	AppRoleMountPath string
	AppRoleRoleID    string
	AppRoleSecretID  string
	TransitMountPath string
	KeyName          string
	TLSSkipVerify    bool
	TLSCACertPEM     string
}

// VaultCipher encrypts and decrypts through a Vault Transit key, so the
// encryption key never leaves Vault.
type VaultCipher struct {
	client    *vaultapi.Client
	mountPath string
	keyName   string
}

// NewVaultCipher builds a cipher against the given Vault server, logging in
// with a static token or an AppRole.
func NewVaultCipher(opts VaultOptions) (*VaultCipher, error) {
	address := strings.TrimSpace(opts.Address)
	if address == "" {
		return nil, errors.New("vault address is required")
	}
	keyName := strings.TrimSpace(opts.KeyName)
	if keyName == "" {
		return nil, errors.New("vault transit key name is required")
	}
	mountPath := normalizeMountPath(opts.TransitMountPath)
	if mountPath == "" {
		mountPath = "transit"
	}
	authType := strings.ToLower(strings.TrimSpace(opts.AuthType))
	if authType == "" {
		authType = vaultAuthTypeToken
	}

	cfg := vaultapi.DefaultConfig()
	cfg.Address = address
	cfg.HttpClient = &http.Client{
		Timeout:   vaultHTTPTimeout,
		Transport: buildHTTPTransport(opts.TLSSkipVerify, strings.TrimSpace(opts.TLSCACertPEM)),
	}

	client, err := vaultapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault client setup: %w", err)
	}
	if namespace := strings.TrimSpace(opts.Namespace); namespace != "" {
		client.SetNamespace(namespace)
	}

	switch authType {
	case vaultAuthTypeToken:
		token := strings.TrimSpace(opts.Token)
		if token == "" {
			return nil, errors.New("vault token is required")
		}
		client.SetToken(token)
	case vaultAuthTypeAppRole:
		roleID := strings.TrimSpace(opts.AppRoleRoleID)
		secretID := strings.TrimSpace(opts.AppRoleSecretID)
		loginMount := normalizeMountPath(opts.AppRoleMountPath)
		if loginMount == "" {
			loginMount = "approle"
		}
		if roleID == "" {
			return nil, errors.New("vault AppRole role ID is required")
		}
		if secretID == "" {
			return nil, errors.New("vault AppRole secret ID is required")
		}
		loginPath := "auth/" + loginMount + "/login"
		secret, err := client.Logical().Write(loginPath, map[string]any{
			"role_id":   roleID,
			"secret_id": secretID,
		})
		if err != nil {
			return nil, fmt.Errorf("vault approle login at %s: %w", loginPath, err)
		}
		if secret == nil || secret.Auth == nil || strings.TrimSpace(secret.Auth.ClientToken) == "" {
			return nil, errors.New("vault approle login succeeded without client token")
		}
		client.SetToken(secret.Auth.ClientToken)
	default:
		return nil, errors.New("vault auth type is invalid")
	}

	return &VaultCipher{
		client:    client,
		mountPath: mountPath,
		keyName:   keyName,
	}, nil
}

func (c *VaultCipher) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	path := c.mountPath + "/encrypt/" + pathEscape(c.keyName)
	secret, err := c.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("vault transit encrypt: %w", err)
	}
	ciphertext := secretDataString(secret, "ciphertext")
	if ciphertext == "" {
		return "", errors.New("vault transit encrypt returned no ciphertext")
	}
	return ciphertext, nil
}

func (c *VaultCipher) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	path := c.mountPath + "/decrypt/" + pathEscape(c.keyName)
	secret, err := c.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"ciphertext": strings.TrimSpace(ciphertext),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: %w", err)
	}
	encoded := secretDataString(secret, "plaintext")
	if encoded == "" {
		return nil, errors.New("vault transit decrypt returned no plaintext")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: decode plaintext: %w", err)
	}
	return decoded, nil
}

func secretDataString(secret *vaultapi.Secret, key string) string {
	if secret == nil || secret.Data == nil {
		return ""
	}
	raw, ok := secret.Data[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(raw))
}

func pathEscape(value string) string {
	return neturl.PathEscape(strings.TrimSpace(value))
}

func normalizeMountPath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

func buildHTTPTransport(skipVerify bool, caCertPEM string) http.RoundTripper {
	base, _ := http.DefaultTransport.(*http.Transport)
	if base == nil {
		return http.DefaultTransport
	}
	transport := base.Clone()
	if transport.TLSClientConfig == nil {
		transport.TLSClientConfig = &tls.Config{}
	} else {
		transport.TLSClientConfig = transport.TLSClientConfig.Clone()
	}
	transport.TLSClientConfig.MinVersion = tls.VersionTLS12
	transport.TLSClientConfig.InsecureSkipVerify = skipVerify
	if strings.TrimSpace(caCertPEM) != "" {
		pool := x509.NewCertPool()
		if pool.AppendCertsFromPEM([]byte(caCertPEM)) {
			transport.TLSClientConfig.RootCAs = pool
		}
	}
	return transport
}
