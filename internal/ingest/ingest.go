// Package ingest turns normalized inbound channel events into durable
// conversation records: contact upsert, chat resolution, idempotent message
// append and chat activity, followed by the publish step.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soyeahso/vlowchat/internal/channel/whatsapp"
	"github.com/soyeahso/vlowchat/internal/channel/widget"
	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/media"
	"github.com/soyeahso/vlowchat/internal/store"
)

// Store is the persistence the pipeline needs.
type Store interface {
	UpsertContact(ctx context.Context, workspaceID, identity, displayName string, seenAt time.Time) (domain.Contact, error)
	EnsureChat(ctx context.Context, workspaceID, contactID string, at time.Time) (domain.Chat, bool, error)
	ReopenResolved(ctx context.Context, workspaceID, chatID string) (bool, error)
	MessageByUpstreamID(ctx context.Context, workspaceID, upstreamID string) (domain.Message, error)
	AppendInbound(ctx context.Context, workspaceID string, msg domain.Message) (store.AppendResult, error)
	SetMessageMedia(ctx context.Context, workspaceID, messageID, mediaURL string) (domain.Message, error)
}

// Workspaces resolves tenants.
type Workspaces interface {
	GetWorkspace(ctx context.Context, workspaceID string) (domain.Workspace, error)
	WorkspaceByPhoneNumber(ctx context.Context, phone string) (domain.Workspace, error)
}

// Limiter throttles widget visitors.
type Limiter interface {
	Allow(ctx context.Context, workspaceID, visitorID string) error
}

// Rehoster copies provider media to durable storage.
type Rehoster interface {
	Rehost(ctx context.Context, req media.Request) (string, error)
}

// Options configures a Service.
type Options struct {
	Store      Store
	Workspaces Workspaces
	Limiter    Limiter
	// Media is optional; without it media messages are stored without a URL.
	Media Rehoster
	// MediaTimeout bounds one background rehost. Defaults to 30s.
	MediaTimeout time.Duration
	Hooks        *hooks.Manager
	// RequireWidgetSecret refuses widget posts to workspaces without a secret.
	RequireWidgetSecret bool
	Log                 *logging.Logger
}

// Service runs the inbound pipeline for every channel.
type Service struct {
	store         Store
	workspaces    Workspaces
	limiter       Limiter
	media         Rehoster
	mediaTimeout  time.Duration
	hooks         *hooks.Manager
	requireSecret bool
	now           func() time.Time
	log           *logging.Logger

	// rehosts tracks background media copies still running.
	rehosts sync.WaitGroup
}

const defaultMediaTimeout = 30 * time.Second

// New creates an ingestion service.
func New(opts Options) *Service {
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = defaultMediaTimeout
	}
	return &Service{
		store:         opts.Store,
		workspaces:    opts.Workspaces,
		limiter:       opts.Limiter,
		media:         opts.Media,
		mediaTimeout:  opts.MediaTimeout,
		hooks:         opts.Hooks,
		requireSecret: opts.RequireWidgetSecret,
		now:           time.Now,
		log:           opts.Log.Sub("ingest"),
	}
}

// Result is the outcome of ingesting one message.
type Result struct {
	Message   domain.Message
	Chat      domain.Chat
	Duplicate bool
}

// Ingest stores one inbound message for a resolved workspace. A message whose
// upstream id is already stored returns the earlier row with Duplicate set
// and touches nothing.
func (s *Service) Ingest(ctx context.Context, ws domain.Workspace, in domain.InboundMessage) (Result, error) {
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = s.now()
	}

	if in.UpstreamID != "" {
		existing, err := s.store.MessageByUpstreamID(ctx, ws.ID, in.UpstreamID)
		switch {
		case err == nil:
			s.log.Debug().Str("workspace_id", ws.ID).Str("upstream_id", in.UpstreamID).Msg("redelivery ignored")
			return Result{Message: existing, Duplicate: true}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return Result{}, fmt.Errorf("checking upstream id: %w", err)
		}
	}

	contact, err := s.store.UpsertContact(ctx, ws.ID, in.Identity, in.DisplayName, in.ReceivedAt)
	if err != nil {
		return Result{}, fmt.Errorf("upserting contact: %w", err)
	}

	chat, created, err := s.store.EnsureChat(ctx, ws.ID, contact.ID, in.ReceivedAt)
	if err != nil {
		return Result{}, fmt.Errorf("resolving chat: %w", err)
	}
	if chat.Status == domain.ChatStatusResolved {
		if _, err := s.store.ReopenResolved(ctx, ws.ID, chat.ID); err != nil {
			return Result{}, err
		}
		s.log.Info().Str("workspace_id", ws.ID).Str("chat_id", chat.ID).Msg("resolved chat reopened")
	}

	res, err := s.store.AppendInbound(ctx, ws.ID, domain.Message{
		ChatID:            chat.ID,
		ContactID:         contact.ID,
		SenderType:        domain.SenderCustomer,
		ContentType:       in.ContentType,
		Text:              in.Text,
		MediaURL:          in.MediaURL,
		MediaMimeType:     in.MediaMimeType,
		UpstreamMessageID: in.UpstreamID,
		DeliveryStatus:    domain.DeliveryStored,
		CreatedAt:         in.ReceivedAt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("appending message: %w", err)
	}
	if res.Duplicate {
		return Result{Message: res.Message, Duplicate: true}, nil
	}

	res.Chat.Contact = &contact
	s.log.Info().
		Str("workspace_id", ws.ID).
		Str("chat_id", res.Chat.ID).
		Str("message_id", res.Message.ID).
		Str("channel", in.Channel).
		Bool("new_chat", created).
		Msg("inbound message stored")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventMessageAppended, ws.ID, res.Message)
		s.hooks.Emit(ctx, hooks.EventChatChanged, ws.ID, res.Chat)
	}

	if in.MediaID != "" && in.MediaURL == "" && s.media != nil {
		s.rehosts.Add(1)
		go s.rehost(context.WithoutCancel(ctx), ws.ID, res.Message.ID, media.Request{
			WorkspaceID: ws.ID,
			Contact:     in.Identity,
			MessageID:   in.UpstreamID,
			MediaID:     in.MediaID,
			MimeType:    in.MediaMimeType,
			At:          in.ReceivedAt,
		})
	}
	return Result{Message: res.Message, Chat: res.Chat}, nil
}

// rehost copies provider media for an already stored message and records
// the durable URL. The message stays without a URL when the copy fails.
func (s *Service) rehost(ctx context.Context, workspaceID, messageID string, req media.Request) {
	defer s.rehosts.Done()

	ctx, cancel := context.WithTimeout(ctx, s.mediaTimeout)
	defer cancel()

	url, err := s.media.Rehost(ctx, req)
	if err != nil {
		s.log.Warn().Err(err).Str("workspace_id", workspaceID).Str("media_id", req.MediaID).Msg("media re-hosting failed, message kept without url")
		return
	}
	msg, err := s.store.SetMessageMedia(ctx, workspaceID, messageID, url)
	if err != nil {
		s.log.Error().Err(err).Str("workspace_id", workspaceID).Str("message_id", messageID).Msg("recording media url failed")
		return
	}
	s.log.Debug().Str("workspace_id", workspaceID).Str("message_id", messageID).Msg("media re-hosted")
	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventMessageUpdated, workspaceID, msg)
	}
}

// Wait blocks until background media copies have finished.
func (s *Service) Wait() {
	s.rehosts.Wait()
}

// IngestWidget authorizes and rate limits a widget post, then stores it.
func (s *Service) IngestWidget(ctx context.Context, post widget.Post, access widget.Access) (Result, error) {
	ws, err := s.workspaces.GetWorkspace(ctx, post.WorkspaceID)
	if errors.Is(err, domain.ErrNotFound) {
		return Result{}, domain.NotFound("Workspace not found")
	}
	if err != nil {
		return Result{}, err
	}
	if err := widget.CheckAccess(ws, access, s.requireSecret); err != nil {
		s.log.Warn().Str("workspace_id", ws.ID).Str("origin", access.Origin).Msg("widget access denied")
		return Result{}, err
	}
	if s.limiter != nil {
		if err := s.limiter.Allow(ctx, ws.ID, post.VisitorID); err != nil {
			return Result{}, err
		}
	}

	return s.Ingest(ctx, ws, domain.InboundMessage{
		WorkspaceID: ws.ID,
		Channel:     domain.ChannelWidget,
		Identity:    post.Identity(),
		DisplayName: post.DisplayName(),
		ContentType: post.ContentType,
		Text:        post.Message,
		MediaURL:    post.MediaURL,
	})
}

// WebhookSummary counts what a WhatsApp delivery produced.
type WebhookSummary struct {
	Stored     int
	Duplicates int
	Skipped    int
}

// IngestWhatsApp processes every message change of a webhook delivery.
// Changes for unknown business numbers are skipped; any store failure aborts
// so the provider redelivers the whole payload.
func (s *Service) IngestWhatsApp(ctx context.Context, p whatsapp.WebhookPayload) (WebhookSummary, error) {
	var sum WebhookSummary
	receivedAt := s.now()

	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != whatsapp.FieldMessages {
				sum.Skipped++
				continue
			}
			phone := change.Value.Metadata.DisplayPhoneNumber
			ws, err := s.workspaces.WorkspaceByPhoneNumber(ctx, phone)
			if errors.Is(err, domain.ErrNotFound) {
				s.log.Warn().Str("phone", phone).Msg("no workspace for business number, skipping change")
				sum.Skipped++
				continue
			}
			if err != nil {
				return sum, err
			}

			for _, in := range change.Value.Normalize(receivedAt) {
				in.WorkspaceID = ws.ID
				res, err := s.Ingest(ctx, ws, in)
				if err != nil {
					return sum, err
				}
				if res.Duplicate {
					sum.Duplicates++
				} else {
					sum.Stored++
				}
			}
		}
	}
	return sum, nil
}
