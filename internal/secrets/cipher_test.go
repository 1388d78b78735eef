package secrets

import (
	"bytes"
	"context"
	"testing"
)

func TestPlaintextCipherRoundTrip(t *testing.T) {
	t.Parallel()

	cipher := PlaintextCipher{}
	plaintext := []byte(`{"accessToken":"xoxb-123","refreshToken":"xoxr-456"}`)

	encrypted, err := cipher.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("Encrypt() = %v", err)
	}
	if bytes.Contains([]byte(encrypted), []byte("xoxb-123")) {
		t.Fatalf("encrypted form contains the raw token")
	}

	decrypted, err := cipher.Decrypt(context.Background(), encrypted)
	if err != nil {
		t.Fatalf("Decrypt() = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestPlaintextCipherRejectsGarbage(t *testing.T) {
	t.Parallel()

	cipher := PlaintextCipher{}
	if _, err := cipher.Decrypt(context.Background(), "not base64 ===="); err == nil {
		t.Fatalf("Decrypt(garbage) = nil, want error")
	}
}
