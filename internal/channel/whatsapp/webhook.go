package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/soyeahso/vlowchat/internal/domain"
)

// ObjectBusinessAccount is the only webhook object type processed.
const ObjectBusinessAccount = "whatsapp_business_account"

// FieldMessages is the change field that carries messages.
const FieldMessages = "messages"

// SignatureHeader carries the HMAC of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// ErrInvalidPayload is returned for bodies that are not a business-account
// webhook.
var ErrInvalidPayload = errors.New("invalid payload")

// WebhookPayload is the envelope Meta posts to the webhook.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one notification inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the messages and the contacts that sent them.
type ChangeValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Metadata         Metadata         `json:"metadata"`
	Contacts         []WebhookContact `json:"contacts,omitempty"`
	Messages         []WebhookMessage `json:"messages,omitempty"`
	Statuses         []Status         `json:"statuses,omitempty"`
}

// Metadata identifies the receiving business number.
type Metadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

// WebhookContact is the sender profile.
type WebhookContact struct {
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
	WaID string `json:"wa_id"`
}

// Media is the common shape of image, document, audio and video parts.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// WebhookMessage is one inbound message.
type WebhookMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image    *Media `json:"image,omitempty"`
	Document *Media `json:"document,omitempty"`
	Audio    *Media `json:"audio,omitempty"`
	Video    *Media `json:"video,omitempty"`
}

// Status is a delivery receipt for an outbound message. Receipts are parsed
// but not stored.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// ParseWebhook decodes a webhook body and checks its object type.
func ParseWebhook(body []byte) (WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return WebhookPayload{}, ErrInvalidPayload
	}
	if p.Object != ObjectBusinessAccount {
		return WebhookPayload{}, ErrInvalidPayload
	}
	return p, nil
}

// VerifySignature checks the X-Hub-Signature-256 header ("sha256=<hex>")
// against an HMAC-SHA256 of body keyed with the app secret.
func VerifySignature(body []byte, header, appSecret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature header value for body. Used by tests and
// tooling that replays webhooks.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifyHandshake validates the subscription handshake and returns the
// challenge to echo back.
func VerifyHandshake(q url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" || q.Get("hub.mode") != "subscribe" {
		return "", false
	}
	token := q.Get("hub.verify_token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", false
	}
	return q.Get("hub.challenge"), true
}

// ContactName returns the profile name of the sender, or its wa_id when the
// payload carries no matching profile.
func (v ChangeValue) ContactName(waID string) string {
	for _, c := range v.Contacts {
		if c.WaID == waID && c.Profile.Name != "" {
			return c.Profile.Name
		}
	}
	return waID
}

// Normalize converts the messages of one change into channel-independent
// inbound messages. WorkspaceID is left for the caller to fill.
func (v ChangeValue) Normalize(receivedAt time.Time) []domain.InboundMessage {
	out := make([]domain.InboundMessage, 0, len(v.Messages))
	for _, m := range v.Messages {
		in := domain.InboundMessage{
			Channel:     domain.ChannelWhatsApp,
			Identity:    m.From,
			DisplayName: v.ContactName(m.From),
			UpstreamID:  m.ID,
			ReceivedAt:  receivedAt,
		}
		switch {
		case m.Text != nil:
			in.ContentType = domain.ContentText
			in.Text = m.Text.Body
		case m.Image != nil:
			in.ContentType = domain.ContentImage
			in.MediaMimeType = m.Image.MimeType
			in.Text = m.Image.Caption
			in.MediaID = m.Image.ID
		case m.Document != nil:
			in.ContentType = domain.ContentDocument
			in.MediaMimeType = m.Document.MimeType
			in.Text = m.Document.Filename
			in.MediaID = m.Document.ID
		case m.Audio != nil:
			in.ContentType = domain.ContentAudio
			in.MediaMimeType = m.Audio.MimeType
			in.MediaID = m.Audio.ID
		case m.Video != nil:
			in.ContentType = domain.ContentVideo
			in.MediaMimeType = m.Video.MimeType
			in.MediaID = m.Video.ID
		default:
			in.ContentType = domain.ContentOther
		}
		out = append(out, in)
	}
	return out
}
