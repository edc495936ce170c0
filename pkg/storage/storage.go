package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotConfigured is returned when a provider lacks credentials.
var ErrNotConfigured = errors.New("storage provider not configured")

// UploadTarget describes how a client uploads one object directly to storage.
type UploadTarget struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Provider issues time-limited URLs for direct object access.
type Provider interface {
	Name() string
	PresignUpload(ctx context.Context, key, contentType string, ttl time.Duration) (UploadTarget, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}
