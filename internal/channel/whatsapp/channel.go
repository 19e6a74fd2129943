package whatsapp

import (
	"context"
	"sync"

	"github.com/soyeahso/vlowchat/internal/domain"
)

// Channel delivers outbound replies through the Cloud API.
type Channel struct {
	client *Client

	mu      sync.Mutex
	lastErr string
}

// NewChannel wraps a client as a domain.Channel.
func NewChannel(client *Client) *Channel {
	return &Channel{client: client}
}

func (c *Channel) ID() string { return domain.ChannelWhatsApp }

// Send posts a text message to the contact's phone number.
func (c *Channel) Send(ctx context.Context, msg domain.OutboundMessage) (domain.SendReceipt, error) {
	id, err := c.client.SendText(ctx, msg.To, msg.Body)
	c.mu.Lock()
	if err != nil {
		c.lastErr = err.Error()
	} else {
		c.lastErr = ""
	}
	c.mu.Unlock()
	if err != nil {
		return domain.SendReceipt{}, err
	}
	return domain.SendReceipt{ProviderMessageID: id}, nil
}

// Status reports whether credentials are present and the last send error.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.ChannelStatus{
		ChannelID:  domain.ChannelWhatsApp,
		Configured: c.client.Configured(),
		LastError:  c.lastErr,
	}
}
