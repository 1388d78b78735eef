package secrets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeTransit emulates the Vault Transit encrypt/decrypt endpoints.
type fakeTransit struct {
	mu      sync.Mutex
	nextID  int
	stored  map[string]string
	tokens  map[string]bool
	loginOK bool
}

func newFakeTransit() *fakeTransit {
	return &fakeTransit{
		stored: make(map[string]string),
		tokens: map[string]bool{"root-token": true},
	}
}

func (f *fakeTransit) handler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		switch {
		case strings.HasSuffix(r.URL.Path, "/auth/approle/login"):
			f.mu.Lock()
			f.loginOK = true
			f.tokens["approle-token"] = true
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{
				"auth": map[string]any{"client_token": "approle-token"},
			})

		case strings.Contains(r.URL.Path, "/transit/encrypt/"):
			if !f.tokens[r.Header.Get("X-Vault-Token")] {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			plaintext, _ := body["plaintext"].(string)
			if plaintext == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.nextID++
			ciphertext := fmt.Sprintf("vault:v1:%d", f.nextID)
			f.stored[ciphertext] = plaintext
			f.mu.Unlock()
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"ciphertext": ciphertext},
			})

		case strings.Contains(r.URL.Path, "/transit/decrypt/"):
			if !f.tokens[r.Header.Get("X-Vault-Token")] {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			ciphertext, _ := body["ciphertext"].(string)
			f.mu.Lock()
			plaintext, ok := f.stored[ciphertext]
			f.mu.Unlock()
			if !ok {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"plaintext": plaintext},
			})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestVaultCipherRoundTrip(t *testing.T) {
	t.Parallel()

	fake := newFakeTransit()
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	cipher, err := NewVaultCipher(VaultOptions{
		Address: srv.URL,
		Token:   "root-token",
		KeyName: "connection-creds",
	})
	if err != nil {
		t.Fatalf("NewVaultCipher() = %v", err)
	}

	plaintext := []byte(`{"accessToken":"secret-token"}`)
	ciphertext, err := cipher.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("Encrypt() = %v", err)
	}
	if !strings.HasPrefix(ciphertext, "vault:v1:") {
		t.Fatalf("ciphertext = %q, want a vault:v1: prefix", ciphertext)
	}

	decrypted, err := cipher.Decrypt(context.Background(), ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("Decrypt() = %q, want %q", decrypted, plaintext)
	}

	// The stored form must be base64, never the raw secret.
	fake.mu.Lock()
	for _, stored := range fake.stored {
		if stored != base64.StdEncoding.EncodeToString(plaintext) {
			t.Errorf("stored plaintext = %q, want base64 of the input", stored)
		}
	}
	fake.mu.Unlock()
}

func TestVaultCipherAppRoleLogin(t *testing.T) {
	t.Parallel()

	fake := newFakeTransit()
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	cipher, err := NewVaultCipher(VaultOptions{
		Address:         srv.URL,
		AuthType:        "approle",
		AppRoleRoleID:   "role-1",
		AppRoleSecretID: "secret-1",
		KeyName:         "connection-creds",
	})
	if err != nil {
		t.Fatalf("NewVaultCipher() = %v", err)
	}
	if !fake.loginOK {
		t.Fatalf("approle login endpoint was never called")
	}

	if _, err := cipher.Encrypt(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Encrypt() with approle token = %v", err)
	}
}

func TestVaultCipherDecryptUnknownCiphertext(t *testing.T) {
	t.Parallel()

	fake := newFakeTransit()
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	cipher, err := NewVaultCipher(VaultOptions{
		Address: srv.URL,
		Token:   "root-token",
		KeyName: "connection-creds",
	})
	if err != nil {
		t.Fatalf("NewVaultCipher() = %v", err)
	}

	if _, err := cipher.Decrypt(context.Background(), "vault:v1:999"); err == nil {
		t.Fatalf("Decrypt(unknown ciphertext) = nil, want error")
	}
}

func TestNewVaultCipherValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts VaultOptions
	}{
		{"missing address", VaultOptions{Token: "t", KeyName: "k"}},
		{"missing key", VaultOptions{Address: "http://127.0.0.1:8200", Token: "t"}},
		{"missing token", VaultOptions{Address: "http://127.0.0.1:8200", KeyName: "k"}},
		{"bad auth type", VaultOptions{Address: "http://127.0.0.1:8200", KeyName: "k", AuthType: "ldap"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewVaultCipher(tt.opts); err == nil {
				t.Fatalf("NewVaultCipher() = nil, want error")
			}
		})
	}
}
