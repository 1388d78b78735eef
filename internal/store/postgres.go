// Package store persists linked connections in Postgres. Credential material
// is encrypted through a secrets.Cipher before it reaches the database.
//
// Expected schema:
//
//	CREATE TABLE connections (
//	    id                text PRIMARY KEY,
//	    platform          text NOT NULL,
//	    display_name      text NOT NULL DEFAULT '',
//	    token_url         text NOT NULL DEFAULT '',
//	    client_id         text NOT NULL DEFAULT '',
//	    client_secret_enc text NOT NULL DEFAULT '',
//	    credentials_enc   text NOT NULL,
//	    created_at        timestamptz NOT NULL DEFAULT now(),
//	    updated_at        timestamptz NOT NULL DEFAULT now()
//	);
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/darrentmorgan/singura/internal/credentials"
	"github.com/darrentmorgan/singura/internal/discovery"
	"github.com/darrentmorgan/singura/internal/secrets"
)

// Postgres implements credentials.Store on a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	cipher secrets.Cipher
}

// NewPostgres creates a store over pool, encrypting secrets with cipher.
func NewPostgres(pool *pgxpool.Pool, cipher secrets.Cipher) *Postgres {
	return &Postgres{pool: pool, cipher: cipher}
}

const loadConnectionSQL = `
SELECT id, platform, display_name, token_url, client_id, client_secret_enc, credentials_enc
FROM connections
WHERE id = $1`

// Load returns the connection with decrypted credentials, or
// credentials.ErrCredentialNotFound if the id is unknown.
func (s *Postgres) Load(ctx context.Context, connectionID string) (credentials.Connection, error) {
	var conn credentials.Connection
	var clientSecretEnc, credentialsEnc string

	row := s.pool.QueryRow(ctx, loadConnectionSQL, strings.TrimSpace(connectionID))
	err := row.Scan(&conn.ID, &conn.Platform, &conn.DisplayName, &conn.TokenURL, &conn.ClientID, &clientSecretEnc, &credentialsEnc)
	if errors.Is(err, pgx.ErrNoRows) {
		return credentials.Connection{}, credentials.ErrCredentialNotFound
	}
	if err != nil {
		return credentials.Connection{}, fmt.Errorf("load connection %s: %w", connectionID, err)
	}

	if clientSecretEnc != "" {
		secret, err := s.cipher.Decrypt(ctx, clientSecretEnc)
		if err != nil {
			return credentials.Connection{}, fmt.Errorf("decrypt client secret for %s: %w", connectionID, err)
		}
		conn.ClientSecret = string(secret)
	}

	creds, err := decodeCredentials(ctx, s.cipher, credentialsEnc)
	if err != nil {
		return credentials.Connection{}, fmt.Errorf("decrypt credentials for %s: %w", connectionID, err)
	}
	conn.Credentials = creds
	return conn, nil
}

const persistRefreshedSQL = `
UPDATE connections
SET credentials_enc = $2, updated_at = now()
WHERE id = $1`

// PersistRefreshed writes refreshed credentials back for an existing
// connection.
func (s *Postgres) PersistRefreshed(ctx context.Context, connectionID string, creds discovery.OAuthCredentials) error {
	encrypted, err := encodeCredentials(ctx, s.cipher, creds)
	if err != nil {
		return fmt.Errorf("encrypt credentials for %s: %w", connectionID, err)
	}

	tag, err := s.pool.Exec(ctx, persistRefreshedSQL, strings.TrimSpace(connectionID), encrypted)
	if err != nil {
		return fmt.Errorf("persist credentials for %s: %w", connectionID, err)
	}
	if tag.RowsAffected() == 0 {
		return credentials.ErrCredentialNotFound
	}
	return nil
}

const saveConnectionSQL = `
INSERT INTO connections (id, platform, display_name, token_url, client_id, client_secret_enc, credentials_enc)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
    platform          = EXCLUDED.platform,
    display_name      = EXCLUDED.display_name,
    token_url         = EXCLUDED.token_url,
    client_id         = EXCLUDED.client_id,
    client_secret_enc = EXCLUDED.client_secret_enc,
    credentials_enc   = EXCLUDED.credentials_enc,
    updated_at        = now()`

// Save upserts a connection, assigning an id when none is set, and returns
// the stored id.
func (s *Postgres) Save(ctx context.Context, conn credentials.Connection) (string, error) {
	id := strings.TrimSpace(conn.ID)
	if id == "" {
		id = uuid.NewString()
	}
	platform := strings.ToLower(strings.TrimSpace(conn.Platform))
	if platform == "" {
		return "", errors.New("connection platform is required")
	}

	var clientSecretEnc string
	if conn.ClientSecret != "" {
		encrypted, err := s.cipher.Encrypt(ctx, []byte(conn.ClientSecret))
		if err != nil {
			return "", fmt.Errorf("encrypt client secret: %w", err)
		}
		clientSecretEnc = encrypted
	}

	credentialsEnc, err := encodeCredentials(ctx, s.cipher, conn.Credentials)
	if err != nil {
		return "", fmt.Errorf("encrypt credentials: %w", err)
	}

	_, err = s.pool.Exec(ctx, saveConnectionSQL,
		id, platform, strings.TrimSpace(conn.DisplayName), strings.TrimSpace(conn.TokenURL),
		strings.TrimSpace(conn.ClientID), clientSecretEnc, credentialsEnc)
	if err != nil {
		return "", fmt.Errorf("save connection %s: %w", id, err)
	}
	return id, nil
}

const listConnectionIDsSQL = `
SELECT id FROM connections ORDER BY created_at, id`

// ListConnectionIDs returns every linked connection id, oldest first.
func (s *Postgres) ListConnectionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, listConnectionIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return ids, nil
}

func encodeCredentials(ctx context.Context, cipher secrets.Cipher, creds discovery.OAuthCredentials) (string, error) {
	payload, err := json.Marshal(creds)
	if err != nil {
		return "", err
	}
	return cipher.Encrypt(ctx, payload)
}

func decodeCredentials(ctx context.Context, cipher secrets.Cipher, encrypted string) (discovery.OAuthCredentials, error) {
	if strings.TrimSpace(encrypted) == "" {
		return discovery.OAuthCredentials{}, nil
	}
	payload, err := cipher.Decrypt(ctx, encrypted)
	if err != nil {
		return discovery.OAuthCredentials{}, err
	}
	var creds discovery.OAuthCredentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return discovery.OAuthCredentials{}, fmt.Errorf("decode credentials payload: %w", err)
	}
	return creds, nil
}
