package media

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/vlowchat/internal/channel/whatsapp"
)

// Source resolves and downloads provider media.
type Source interface {
	MediaInfo(ctx context.Context, mediaID string) (whatsapp.MediaInfo, error)
	Download(ctx context.Context, url string, maxBytes int64) ([]byte, string, error)
}

// Store persists media bytes and returns a URL.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}

// Rehoster copies provider media into the bucket.
type Rehoster struct {
	src      Source
	dst      Store
	maxBytes int64
}

// NewRehoster wires a media source to a store. maxBytes <= 0 disables the
// size check.
func NewRehoster(src Source, dst Store, maxBytes int64) *Rehoster {
	return &Rehoster{src: src, dst: dst, maxBytes: maxBytes}
}

// Request identifies one media object to copy.
type Request struct {
	WorkspaceID string
	Contact     string
	MessageID   string
	MediaID     string
	MimeType    string
	At          time.Time
}

// Rehost downloads the media and uploads it, returning the durable URL.
func (r *Rehoster) Rehost(ctx context.Context, req Request) (string, error) {
	info, err := r.src.MediaInfo(ctx, req.MediaID)
	if err != nil {
		return "", fmt.Errorf("resolving media %s: %w", req.MediaID, err)
	}
	if r.maxBytes > 0 && info.FileSize > r.maxBytes {
		return "", fmt.Errorf("media %s is %d bytes: %w", req.MediaID, info.FileSize, whatsapp.ErrMediaTooLarge)
	}
	data, contentType, err := r.src.Download(ctx, info.URL, r.maxBytes)
	if err != nil {
		return "", fmt.Errorf("downloading media %s: %w", req.MediaID, err)
	}

	mime := req.MimeType
	if mime == "" {
		mime = info.MimeType
	}
	if mime == "" {
		mime = contentType
	}
	key := ObjectKey(req.WorkspaceID, req.Contact, req.MessageID, mime, req.At)
	return r.dst.Upload(ctx, key, data, mime)
}
