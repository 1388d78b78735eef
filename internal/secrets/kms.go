package secrets

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

const kmsHTTPTimeout = 120 * time.Second

// KMSOptions configure an AWS KMS backed cipher.
type KMSOptions struct {
	KeyID           string
	Region          string
	AuthType        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

type kmsAPI interface {
	Encrypt(context.Context, *kms.EncryptInput, ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(context.Context, *kms.DecryptInput, ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSCipher encrypts and decrypts through an AWS KMS key.
type KMSCipher struct {
	keyID string
	kms   kmsAPI
}

// NewKMSCipher builds a cipher using the default AWS credential chain or a
// static access key.
func NewKMSCipher(ctx context.Context, opts KMSOptions) (*KMSCipher, error) {
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		return nil, errors.New("aws kms region is required")
	}

	authType := strings.ToLower(strings.TrimSpace(opts.AuthType))
	switch authType {
	case "", "default_chain":
		authType = "default_chain"
	case "access_key":
		if strings.TrimSpace(opts.AccessKeyID) == "" || strings.TrimSpace(opts.SecretAccessKey) == "" {
			return nil, errors.New("aws access key id and secret access key are required")
		}
	default:
		return nil, errors.New("unsupported aws credential auth type")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithHTTPClient(&http.Client{Timeout: kmsHTTPTimeout}),
	}
	if authType == "access_key" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			strings.TrimSpace(opts.AccessKeyID),
			strings.TrimSpace(opts.SecretAccessKey),
			strings.TrimSpace(opts.SessionToken),
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	return NewKMSCipherWithConfig(cfg, opts)
}

// NewKMSCipherWithConfig builds a cipher from an already loaded AWS config.
func NewKMSCipherWithConfig(cfg aws.Config, opts KMSOptions) (*KMSCipher, error) {
	return NewKMSCipherWithClient(opts, kms.NewFromConfig(cfg))
}

// NewKMSCipherWithClient builds a cipher around an existing KMS client.
func NewKMSCipherWithClient(opts KMSOptions, api kmsAPI) (*KMSCipher, error) {
	keyID := strings.TrimSpace(opts.KeyID)
	if keyID == "" {
		return nil, errors.New("aws kms key id is required")
	}
	return &KMSCipher{keyID: keyID, kms: api}, nil
}

func (c *KMSCipher) Encrypt(ctx context.Context, plaintext []byte) (string, error) {
	out, err := c.kms.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(c.keyID),
		Plaintext: plaintext,
	})
	if err != nil {
		return "", fmt.Errorf("kms encrypt: %w", err)
	}
	if len(out.CiphertextBlob) == 0 {
		return "", errors.New("kms encrypt returned no ciphertext")
	}
	return base64.StdEncoding.EncodeToString(out.CiphertextBlob), nil
}

func (c *KMSCipher) Decrypt(ctx context.Context, ciphertext string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("kms decrypt: decode ciphertext: %w", err)
	}
	out, err := c.kms.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(c.keyID),
		CiphertextBlob: blob,
	})
	if err != nil {
		return nil, fmt.Errorf("kms decrypt: %w", err)
	}
	return out.Plaintext, nil
}
