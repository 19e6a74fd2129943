package domain

import "context"

// ChannelStatus reports whether an outbound channel is usable.
type ChannelStatus struct {
	ChannelID  string `json:"channel_id"`
	Configured bool   `json:"configured"`
	LastError  string `json:"last_error,omitempty"`
}

// OutboundMessage is a text reply handed to a channel for delivery.
type OutboundMessage struct {
	WorkspaceID string `json:"workspace_id"`
	ChatID      string `json:"chat_id"`
	To          string `json:"to"`
	Body        string `json:"body"`
}

// SendReceipt is what a channel reports after accepting a message.
type SendReceipt struct {
	// ProviderMessageID is empty for channels without upstream ids.
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// Channel is implemented by every outbound transport.
type Channel interface {
	// ID returns the channel identifier ("whatsapp", "widget").
	ID() string

	// Send delivers an outbound message through this channel.
	Send(ctx context.Context, msg OutboundMessage) (SendReceipt, error)
}
