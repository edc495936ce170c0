package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/readmaster-api/pkg/storage"
)

const audioKeyPrefix = "assessments_audio"

var audioExtensions = map[string]string{
	"audio/wav":   "wav",
	"audio/x-wav": "wav",
	"audio/wave":  "wav",
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/ogg":   "ogg",
	"audio/mp4":   "m4a",
	"audio/x-m4a": "m4a",
	"audio/webm":  "webm",
}

// UploadURLBroker issues time-limited object storage URLs. It never retries;
// provider failures surface as TransientError.
type UploadURLBroker interface {
	GetUploadURL(ctx context.Context, key, contentType string) (storage.UploadTarget, error)
	GetDownloadURL(ctx context.Context, key string) (string, error)
}

type uploadURLBroker struct {
	provider    storage.Provider
	uploadTTL   time.Duration
	downloadTTL time.Duration
	logger      zerolog.Logger
}

// NewUploadURLBroker constructs a broker over provider.
func NewUploadURLBroker(provider storage.Provider, uploadTTL, downloadTTL time.Duration, logger zerolog.Logger) UploadURLBroker {
	if uploadTTL <= 0 {
		uploadTTL = time.Hour
	}
	if downloadTTL <= 0 {
		downloadTTL = 15 * time.Minute
	}
	return &uploadURLBroker{
		provider:    provider,
		uploadTTL:   uploadTTL,
		downloadTTL: downloadTTL,
		logger:      logger.With().Str("component", "upload_url_broker").Logger(),
	}
}

func (b *uploadURLBroker) GetUploadURL(ctx context.Context, key, contentType string) (storage.UploadTarget, error) {
	target, err := b.provider.PresignUpload(ctx, key, contentType, b.uploadTTL)
	if err != nil {
		b.logger.Warn().Err(err).Str("provider", b.provider.Name()).Str("key", key).Msg("presign upload failed")
		return storage.UploadTarget{}, &TransientError{Op: "presign upload", Err: err}
	}
	return target, nil
}

func (b *uploadURLBroker) GetDownloadURL(ctx context.Context, key string) (string, error) {
	url, err := b.provider.PresignDownload(ctx, key, b.downloadTTL)
	if err != nil {
		b.logger.Warn().Err(err).Str("provider", b.provider.Name()).Str("key", key).Msg("presign download failed")
		return "", &TransientError{Op: "presign download", Err: err}
	}
	return url, nil
}

// AudioObjectKey derives the storage key for an assessment recording.
// Unknown content types fall back to wav.
func AudioObjectKey(assessmentID, contentType string) string {
	return fmt.Sprintf("%s/%s.%s", audioKeyPrefix, assessmentID, AudioExtension(contentType))
}

// AudioExtension maps a content type to the stored file extension.
func AudioExtension(contentType string) string {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	if ext, ok := audioExtensions[normalized]; ok {
		return ext
	}
	return "wav"
}
