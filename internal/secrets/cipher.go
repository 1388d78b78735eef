package secrets

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Backends selectable through configuration.
const (
	BackendPlaintext = "plaintext"
	BackendVault     = "vault"
	BackendKMS       = "kms"
)

// Cipher encrypts credential material before it is stored and decrypts it on
// load. Ciphertext is an opaque string safe for a text column.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext []byte) (string, error)
	Decrypt(ctx context.Context, ciphertext string) ([]byte, error)
}

// PlaintextCipher stores secrets base64 encoded without encryption. It is
// meant for local development only.
type PlaintextCipher struct{}

func (PlaintextCipher) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

func (PlaintextCipher) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("decode stored secret: %w", err)
	}
	return decoded, nil
}
