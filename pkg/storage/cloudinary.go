package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/rs/zerolog"
)

// CloudinaryConfig contains credentials required to talk to Cloudinary.
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

// Cloudinary issues signed direct-upload parameters. Audio is stored under the
// video resource type, which Cloudinary uses for all audio formats.
type Cloudinary struct {
	client    *cloudinary.Cloudinary
	cloudName string
	apiKey    string
	apiSecret string
	folder    string
	now       func() time.Time
	logger    zerolog.Logger
}

// NewCloudinary constructs a Cloudinary provider instance.
func NewCloudinary(cfg CloudinaryConfig, logger zerolog.Logger) (*Cloudinary, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrNotConfigured
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	return &Cloudinary{
		client:    cld,
		cloudName: cfg.CloudName,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		folder:    strings.Trim(cfg.Folder, "/"),
		now:       time.Now,
		logger:    logger.With().Str("component", "cloudinary_storage").Logger(),
	}, nil
}

// Name identifies the provider.
func (c *Cloudinary) Name() string { return "cloudinary" }

func (c *Cloudinary) publicID(key string) string {
	id := strings.TrimSuffix(key, path.Ext(key))
	if c.folder == "" {
		return id
	}
	return c.folder + "/" + id
}

// PresignUpload signs a multipart POST to the upload API. The signature covers
// the public id and timestamp, so the client cannot pick another destination.
func (c *Cloudinary) PresignUpload(_ context.Context, key, _ string, ttl time.Duration) (UploadTarget, error) {
	now := c.now().UTC()
	params := url.Values{}
	params.Set("public_id", c.publicID(key))
	params.Set("timestamp", strconv.FormatInt(now.Unix(), 10))

	signature, err := api.SignParameters(params, c.apiSecret)
	if err != nil {
		return UploadTarget{}, fmt.Errorf("sign upload parameters: %w", err)
	}

	fields := map[string]string{
		"api_key":   c.apiKey,
		"signature": signature,
	}
	for k := range params {
		fields[k] = params.Get(k)
	}

	c.logger.Debug().Str("public_id", fields["public_id"]).Msg("signed upload issued")

	// Cloudinary rejects signatures older than one hour regardless of ttl.
	if ttl > time.Hour {
		ttl = time.Hour
	}

	return UploadTarget{
		URL:       fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/video/upload", c.cloudName),
		Method:    http.MethodPost,
		Fields:    fields,
		ExpiresAt: now.Add(ttl),
	}, nil
}

// PresignDownload returns the delivery URL of the uploaded asset.
func (c *Cloudinary) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	asset, err := c.client.Video(c.publicID(key) + path.Ext(key))
	if err != nil {
		return "", fmt.Errorf("build delivery url: %w", err)
	}
	return asset.String()
}
