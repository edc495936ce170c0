package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MinioConfig holds the S3 compatible endpoint settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// Minio presigns object URLs against a MinIO or S3 compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
}

// NewMinio constructs the provider. No network call is made.
func NewMinio(cfg MinioConfig, logger zerolog.Logger) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, ErrNotConfigured
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize minio: %w", err)
	}

	return &Minio{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "minio_storage").Logger(),
	}, nil
}

// Name identifies the provider.
func (m *Minio) Name() string { return "minio" }

// PresignUpload returns a presigned PUT URL for key.
func (m *Minio) PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (UploadTarget, error) {
	u, err := m.client.PresignedPutObject(ctx, m.bucket, key, ttl)
	if err != nil {
		return UploadTarget{}, fmt.Errorf("presign upload: %w", err)
	}

	target := UploadTarget{
		URL:       u.String(),
		Method:    http.MethodPut,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if contentType != "" {
		target.Headers = map[string]string{"Content-Type": contentType}
	}

	m.logger.Debug().Str("key", key).Msg("presigned upload url issued")
	return target, nil
}

// PresignDownload returns a presigned GET URL for key.
func (m *Minio) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := m.client.PresignedGetObject(ctx, m.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}
