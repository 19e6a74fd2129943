package widget

import (
	"context"

	"github.com/soyeahso/vlowchat/internal/domain"
)

// Channel is the outbound side of the widget. Web visitors read replies from
// the stored conversation, so sending only acknowledges the message.
type Channel struct{}

// NewChannel returns the widget channel.
func NewChannel() *Channel { return &Channel{} }

func (Channel) ID() string { return domain.ChannelWidget }

func (Channel) Send(context.Context, domain.OutboundMessage) (domain.SendReceipt, error) {
	return domain.SendReceipt{}, nil
}
