// Package whatsapp talks to the WhatsApp Cloud API: it sends text replies,
// resolves inbound media and models the webhook payloads Meta delivers.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/soyeahso/vlowchat/internal/config"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/version"
)

// ErrNotConfigured is returned when sends are attempted without credentials.
var ErrNotConfigured = errors.New("whatsapp: access token or phone number id not configured")

// ErrMediaTooLarge is returned when media exceeds the download limit.
var ErrMediaTooLarge = errors.New("whatsapp: media exceeds size limit")

// Client is a Cloud API client for one business phone number.
type Client struct {
	http          *resty.Client
	apiVersion    string
	phoneNumberID string
	configured    bool
	log           *logging.Logger
}

// NewClient builds a client from config. A client without credentials is
// still usable for webhook handling; sends return ErrNotConfigured.
func NewClient(cfg config.WhatsAppConfig, log *logging.Logger) *Client {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = config.DefaultGraphBaseURL
	}
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = config.DefaultGraphAPIVersion
	}

	http := resty.New().
		SetBaseURL(base).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", version.UserAgent()).
		SetTimeout(timeout)

	return &Client{
		http:          http,
		apiVersion:    apiVersion,
		phoneNumberID: cfg.PhoneNumberID,
		configured:    cfg.Configured(),
		log:           log.Sub("whatsapp"),
	}
}

// Configured reports whether outbound calls can be made.
func (c *Client) Configured() bool { return c.configured }

// APIError is a non-2xx answer from the Graph API. Body holds the decoded
// error document when it was JSON.
type APIError struct {
	StatusCode int
	Body       any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api: status %d", e.StatusCode)
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText sends a text message and returns the provider message id. The
// id is empty when the API accepted the message without returning one.
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	if !c.configured {
		return "", ErrNotConfigured
	}
	path := fmt.Sprintf("/%s/%s/messages", c.apiVersion, c.phoneNumberID)

	var out sendResponse
	var apiErr map[string]any
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(sendRequest{
			MessagingProduct: "whatsapp",
			To:               to,
			Type:             "text",
			Text:             textBody{Body: body},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		c.log.Error().Err(err).Str("to", to).Msg("send request failed")
		return "", fmt.Errorf("whatsapp send: %w", err)
	}
	if resp.IsError() {
		c.log.Error().Int("status", resp.StatusCode()).Str("to", to).Str("body", resp.String()).Msg("send rejected")
		var details any = resp.String()
		if apiErr != nil {
			details = apiErr
		}
		return "", &APIError{StatusCode: resp.StatusCode(), Body: details}
	}

	var id string
	if len(out.Messages) > 0 {
		id = out.Messages[0].ID
	}
	c.log.Debug().Str("to", to).Str("wa_message_id", id).Msg("message sent")
	return id, nil
}

// MediaInfo describes an uploaded media object.
type MediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	FileSize int64  `json:"file_size"`
	SHA256   string `json:"sha256"`
	ID       string `json:"id"`
}

// MediaInfo resolves a media id from a webhook into a short-lived download URL.
func (c *Client) MediaInfo(ctx context.Context, mediaID string) (MediaInfo, error) {
	if !c.configured {
		return MediaInfo{}, ErrNotConfigured
	}
	var info MediaInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&info).
		Get(fmt.Sprintf("/%s/%s", c.apiVersion, mediaID))
	if err != nil {
		return MediaInfo{}, fmt.Errorf("whatsapp media lookup: %w", err)
	}
	if resp.IsError() {
		return MediaInfo{}, &APIError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}
	if info.URL == "" {
		return MediaInfo{}, fmt.Errorf("whatsapp media lookup: no url for %s", mediaID)
	}
	return info, nil
}

// Download fetches media bytes from a URL returned by MediaInfo. When
// maxBytes > 0 the body is streamed and abandoned as soon as it passes the
// limit, so an oversized object is never buffered whole.
func (c *Client) Download(ctx context.Context, url string, maxBytes int64) ([]byte, string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp media download: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.IsError() {
		return nil, "", &APIError{StatusCode: resp.StatusCode(), Body: resp.Status()}
	}
	if maxBytes > 0 && resp.RawResponse.ContentLength > maxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes, limit %d", ErrMediaTooLarge, resp.RawResponse.ContentLength, maxBytes)
	}

	var r io.Reader = body
	if maxBytes > 0 {
		r = io.LimitReader(body, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp media download: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrMediaTooLarge, maxBytes)
	}
	return data, resp.Header().Get("Content-Type"), nil
}
