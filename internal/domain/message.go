package domain

import (
	"strings"
	"time"
	"unicode/utf16"
)

// Direction tells whether a message came from the contact or was sent to it.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderType classifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAI       SenderType = "ai"
	SenderHuman    SenderType = "human"
)

// ContentType is the kind of payload a message carries.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentDocument ContentType = "document"
	ContentAudio    ContentType = "audio"
	ContentVideo    ContentType = "video"
	ContentOther    ContentType = "other"
)

// DeliveryStatus records what happened to an outbound message upstream.
// Inbound messages are always DeliveryStored.
type DeliveryStatus string

const (
	DeliveryStored DeliveryStatus = "stored"
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// MaxMessageLength bounds message text on every entry point, measured by
// TextLength.
const MaxMessageLength = 5000

// TextLength counts s in UTF-16 code units, the unit browser clients count
// in. Characters outside the Basic Multilingual Plane count as two.
func TextLength(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Message is one immutable unit of conversation content.
type Message struct {
	ID                string         `json:"id"`
	WorkspaceID       string         `json:"workspace_id"`
	ChatID            string         `json:"chat_id"`
	ContactID         string         `json:"contact_id"`
	Direction         Direction      `json:"direction"`
	SenderType        SenderType     `json:"sender_type"`
	SenderUserID      string         `json:"sender_user_id,omitempty"`
	ContentType       ContentType    `json:"content_type"`
	Text              string         `json:"text,omitempty"`
	MediaURL          string         `json:"media_url,omitempty"`
	MediaMimeType     string         `json:"media_mime_type,omitempty"`
	UpstreamMessageID string         `json:"upstream_message_id,omitempty"`
	DeliveryStatus    DeliveryStatus `json:"delivery_status"`
	DeliveryError     string         `json:"delivery_error,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Channel identifiers.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelWidget   = "widget"
)

// widgetIdentityPrefix marks synthetic identities of website visitors.
const widgetIdentityPrefix = "web-"

// WidgetIdentity returns the contact identity used for a widget visitor.
func WidgetIdentity(visitorID string) string {
	return widgetIdentityPrefix + visitorID
}

// ChannelForIdentity maps a contact identity to the channel that reaches it.
func ChannelForIdentity(identity string) string {
	if strings.HasPrefix(identity, widgetIdentityPrefix) {
		return ChannelWidget
	}
	return ChannelWhatsApp
}

// InboundMessage is a normalized inbound event, independent of the channel
// that delivered it.
type InboundMessage struct {
	WorkspaceID string
	Channel     string

	// Identity is the contact's channel address (phone number or web-<visitor>).
	Identity string
	// DisplayName is left empty to keep the stored name.
	DisplayName string

	// UpstreamID is the provider's message id. Empty for widget posts.
	UpstreamID string

	ContentType   ContentType
	Text          string
	MediaURL      string
	MediaMimeType string
	// MediaID is the provider-side media handle, resolved to MediaURL when
	// media re-hosting is enabled.
	MediaID string

	ReceivedAt time.Time
}
