// Package media re-hosts inbound WhatsApp media in an S3-compatible bucket so
// stored messages carry a durable URL instead of a short-lived provider link.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/soyeahso/vlowchat/internal/config"
	"github.com/soyeahso/vlowchat/internal/logging"
)

// Uploader writes objects to one bucket.
type Uploader struct {
	client    *s3.Client
	bucket    string
	endpoint  string
	region    string
	pathStyle bool
	publicURL string
	log       *logging.Logger
}

// NewUploader builds an S3 client from static credentials. Endpoint is for
// S3-compatible stores (MinIO, R2, Spaces); empty means AWS.
func NewUploader(cfg config.MediaConfig, log *logging.Logger) (*Uploader, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("media: bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("media: access key and secret key are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	// Buckets with dots break virtual-host TLS.
	pathStyle := cfg.PathStyle || strings.Contains(cfg.Bucket, ".")

	awsCfg := aws.Config{
		Region:      region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	u := &Uploader{
		client:    client,
		bucket:    cfg.Bucket,
		endpoint:  endpoint,
		region:    region,
		pathStyle: pathStyle,
		publicURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		log:       log.Sub("media"),
	}
	u.log.Info().Str("bucket", cfg.Bucket).Str("region", region).Str("endpoint", endpoint).Msg("media uploader ready")
	return u, nil
}

// Upload stores data under key and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	input := &s3.PutObjectInput{
		Bucket:       aws.String(u.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(mimeType),
		CacheControl: aws.String("public, max-age=3600"),
	}
	if strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/") || mimeType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		u.log.Error().Err(err).Str("key", key).Int("size", len(data)).Msg("upload failed")
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	u.log.Debug().Str("key", key).Int("size", len(data)).Msg("uploaded")
	return u.PublicURL(key), nil
}

// PublicURL is where clients fetch an object.
func (u *Uploader) PublicURL(key string) string {
	switch {
	case u.publicURL != "":
		return u.publicURL + "/" + key
	case u.endpoint != "" && u.pathStyle:
		return fmt.Sprintf("%s/%s/%s", u.endpoint, u.bucket, key)
	case u.endpoint != "":
		scheme, host, ok := strings.Cut(u.endpoint, "://")
		if !ok {
			return fmt.Sprintf("https://%s.%s/%s", u.bucket, u.endpoint, key)
		}
		return fmt.Sprintf("%s://%s.%s/%s", scheme, u.bucket, host, key)
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
	}
}

// ObjectKey lays out inbound media by workspace, contact and day:
// inbox/<workspace>/<contact>/YYYY/MM/DD/<kind>/<message><ext>.
func ObjectKey(workspaceID, contact, messageID, mimeType string, at time.Time) string {
	return fmt.Sprintf("inbox/%s/%s/%s/%s/%s%s",
		workspaceID,
		sanitize(contact),
		at.UTC().Format("2006/01/02"),
		folderFor(mimeType),
		sanitize(messageID),
		extensionFor(mimeType),
	)
}

func sanitize(s string) string {
	return strings.NewReplacer("@", "_", ":", "_", "/", "_", "=", "_").Replace(s)
}

func folderFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "images"
	case strings.HasPrefix(mimeType, "video/"):
		return "videos"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	}
	return "documents"
}

func extensionFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "opus"):
		return ".opus"
	case strings.Contains(mimeType, "mpeg"):
		return ".mp3"
	case strings.Contains(mimeType, "pdf"):
		return ".pdf"
	case strings.Contains(mimeType, "openxmlformats-officedocument.wordprocessingml"):
		return ".docx"
	case strings.Contains(mimeType, "msword"):
		return ".doc"
	case strings.Contains(mimeType, "spreadsheetml"):
		return ".xlsx"
	}
	return ".bin"
}
