// Package dispatch sends agent and AI replies: it authorizes the caller
// against the chat's workspace, enforces the chat mode, calls the channel
// and records the outbound message whatever the provider answered.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/vlowchat/internal/channel/whatsapp"
	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/store"
)

// Store is the persistence dispatch needs.
type Store interface {
	ChatWorkspaceID(ctx context.Context, chatID string) (string, error)
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
	GetChat(ctx context.Context, workspaceID, chatID string) (domain.Chat, error)
	AppendOutbound(ctx context.Context, workspaceID string, msg domain.Message) (store.AppendResult, error)
}

// Channels picks the transport for a contact.
type Channels interface {
	ForIdentity(identity string) (domain.Channel, bool)
}

// Options configures a Service.
type Options struct {
	Store    Store
	Channels Channels
	Hooks    *hooks.Manager
	// SendTimeout bounds each provider call. Defaults to 10s.
	SendTimeout time.Duration
	// StoreTimeout bounds the local write, which runs detached from the
	// request so a slow provider never prevents storage. Defaults to 10s.
	StoreTimeout time.Duration
	Log          *logging.Logger
}

// Service dispatches outbound messages.
type Service struct {
	store        Store
	channels     Channels
	hooks        *hooks.Manager
	sendTimeout  time.Duration
	storeTimeout time.Duration
	now          func() time.Time
	log          *logging.Logger
}

// New creates a dispatch service.
func New(opts Options) *Service {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	return &Service{
		store:        opts.Store,
		channels:     opts.Channels,
		hooks:        opts.Hooks,
		sendTimeout:  opts.SendTimeout,
		storeTimeout: opts.StoreTimeout,
		now:          time.Now,
		log:          opts.Log.Sub("dispatch"),
	}
}

// Request is an outbound text reply.
type Request struct {
	ChatID  string `json:"chat_id"`
	Message string `json:"message"`
}

// Result describes a dispatched message. It is populated even when the
// provider call failed, since the message is stored regardless.
type Result struct {
	Message        domain.Message
	Chat           domain.Chat
	WaMessageID    string
	DeliveryStatus domain.DeliveryStatus
}

// SendHuman dispatches a reply from a human agent. The chat must be in
// human mode.
func (s *Service) SendHuman(ctx context.Context, p domain.Principal, req Request) (Result, error) {
	if p.Kind != domain.TokenKindAgent {
		return Result{}, domain.Forbidden("Agent credentials required")
	}
	return s.send(ctx, p, req, domain.SenderHuman)
}

// SendAI dispatches a reply from the automated responder. The chat must be
// in ai mode.
func (s *Service) SendAI(ctx context.Context, p domain.Principal, req Request) (Result, error) {
	if p.Kind != domain.TokenKindAI {
		return Result{}, domain.Forbidden("AI credentials required")
	}
	return s.send(ctx, p, req, domain.SenderAI)
}

// Validate checks the request shape and returns the trimmed message.
func (req Request) Validate() (string, error) {
	if strings.TrimSpace(req.ChatID) == "" {
		return "", domain.Validation("chat_id is required")
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return "", domain.Validation("message is required and must be a non-empty string")
	}
	if domain.TextLength(text) > domain.MaxMessageLength {
		return "", domain.Validation(fmt.Sprintf("message must be at most %d characters", domain.MaxMessageLength))
	}
	return text, nil
}

func (s *Service) send(ctx context.Context, p domain.Principal, req Request, sender domain.SenderType) (Result, error) {
	text, err := req.Validate()
	if err != nil {
		return Result{}, err
	}

	// Tenant comes from the stored chat, never from the caller.
	wsID, err := s.store.ChatWorkspaceID(ctx, req.ChatID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, domain.NotFound("Chat not found")
	}
	if err != nil {
		return Result{}, err
	}

	member, err := s.store.IsMember(ctx, wsID, p.UserID)
	if err != nil {
		return Result{}, err
	}
	if !member {
		s.log.Warn().Str("user_id", p.UserID).Str("chat_id", req.ChatID).Msg("dispatch by non-member refused")
		return Result{}, domain.Forbidden("Not a workspace member")
	}

	chat, err := s.store.GetChat(ctx, wsID, req.ChatID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, domain.NotFound("Chat not found")
	}
	if err != nil {
		return Result{}, err
	}
	if !chat.Status.AcceptsSender(sender) {
		if sender == domain.SenderAI {
			return Result{}, domain.Conflict("Chat is not in AI mode")
		}
		return Result{}, domain.Conflict("Chat is not in human mode")
	}
	if chat.Contact == nil {
		return Result{}, domain.Internal(fmt.Errorf("chat %s has no contact", chat.ID))
	}

	ch, ok := s.channels.ForIdentity(chat.Contact.PhoneNumber)
	if !ok {
		return Result{}, domain.Internal(fmt.Errorf("no channel for contact %s", chat.Contact.ID))
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	receipt, sendErr := ch.Send(sendCtx, domain.OutboundMessage{
		WorkspaceID: wsID,
		ChatID:      chat.ID,
		To:          chat.Contact.PhoneNumber,
		Body:        text,
	})
	cancel()

	status := domain.DeliveryStored
	var deliveryErr string
	switch {
	case sendErr != nil:
		status = domain.DeliveryFailed
		deliveryErr = sendErr.Error()
	case ch.ID() == domain.ChannelWhatsApp:
		status = domain.DeliverySent
	}

	storeCtx, cancelStore := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancelStore()
	msg := domain.Message{
		ChatID:            chat.ID,
		ContactID:         chat.ContactID,
		SenderType:        sender,
		ContentType:       domain.ContentText,
		Text:              text,
		UpstreamMessageID: receipt.ProviderMessageID,
		DeliveryStatus:    status,
		DeliveryError:     deliveryErr,
		CreatedAt:         s.now(),
	}
	if sender == domain.SenderHuman {
		msg.SenderUserID = p.UserID
	}
	res, err := s.store.AppendOutbound(storeCtx, wsID, msg)
	if err != nil {
		return Result{}, fmt.Errorf("storing outbound message: %w", err)
	}
	res.Chat.Contact = chat.Contact

	out := Result{
		Message:        res.Message,
		Chat:           res.Chat,
		WaMessageID:    receipt.ProviderMessageID,
		DeliveryStatus: status,
	}

	if s.hooks != nil && !res.Duplicate {
		s.hooks.Emit(storeCtx, hooks.EventMessageAppended, wsID, res.Message)
		s.hooks.Emit(storeCtx, hooks.EventChatChanged, wsID, res.Chat)
	}

	logEvt := s.log.Info()
	if sendErr != nil {
		logEvt = s.log.Warn().Err(sendErr)
	}
	logEvt.
		Str("workspace_id", wsID).
		Str("chat_id", chat.ID).
		Str("message_id", res.Message.ID).
		Str("sender", string(sender)).
		Str("delivery_status", string(status)).
		Msg("outbound message dispatched")

	if sendErr != nil {
		return out, domain.Upstream("WhatsApp API error", sendErr, providerDetails(sendErr))
	}
	return out, nil
}

func providerDetails(err error) any {
	var apiErr *whatsapp.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Body
	}
	return err.Error()
}
