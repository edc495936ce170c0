package storage

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestMinioPresignsWithoutNetwork(t *testing.T) {
	provider, err := NewMinio(MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "audio",
	}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "minio", provider.Name())

	target, err := provider.PresignUpload(context.Background(), "assessments/a1/recording.webm", "audio/webm", time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, target.Method)
	require.Equal(t, "audio/webm", target.Headers["Content-Type"])

	parsed, err := url.Parse(target.URL)
	require.NoError(t, err)
	require.Equal(t, "/audio/assessments/a1/recording.webm", parsed.Path)
	require.Equal(t, "3600", parsed.Query().Get("X-Amz-Expires"))

	download, err := provider.PresignDownload(context.Background(), "assessments/a1/recording.webm", 15*time.Minute)
	require.NoError(t, err)
	require.Contains(t, download, "X-Amz-Signature")
}

func TestMinioRequiresEndpoint(t *testing.T) {
	_, err := NewMinio(MinioConfig{Bucket: "audio"}, zerolog.Nop())
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestCloudinarySignsUploadFields(t *testing.T) {
	provider, err := NewCloudinary(CloudinaryConfig{
		CloudName: "demo",
		APIKey:    "key",
		APISecret: "secret",
		Folder:    "/readmaster/",
	}, zerolog.Nop())
	require.NoError(t, err)
	provider.now = func() time.Time { return time.Unix(1700000000, 0) }

	target, err := provider.PresignUpload(context.Background(), "assessments/a1/recording.mp3", "audio/mpeg", 3*time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, target.Method)
	require.Equal(t, "https://api.cloudinary.com/v1_1/demo/video/upload", target.URL)
	require.Equal(t, "readmaster/assessments/a1/recording", target.Fields["public_id"])
	require.Equal(t, "1700000000", target.Fields["timestamp"])
	require.Equal(t, "key", target.Fields["api_key"])
	require.NotEmpty(t, target.Fields["signature"])
	require.Equal(t, time.Unix(1700000000, 0).UTC().Add(time.Hour), target.ExpiresAt)

	download, err := provider.PresignDownload(context.Background(), "assessments/a1/recording.mp3", time.Minute)
	require.NoError(t, err)
	require.True(t, strings.Contains(download, "readmaster/assessments/a1/recording"))
}

func TestCloudinaryRequiresCredentials(t *testing.T) {
	_, err := NewCloudinary(CloudinaryConfig{CloudName: "demo"}, zerolog.Nop())
	require.ErrorIs(t, err, ErrNotConfigured)
}
