// Package inbox exposes the agent-side actions on chats: status changes,
// read receipts and the workspace-scoped chat and message listings.
package inbox

import (
	"context"
	"errors"

	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/store"
)

// Store is the persistence the inbox needs.
type Store interface {
	ChatWorkspaceID(ctx context.Context, chatID string) (string, error)
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
	GetChat(ctx context.Context, workspaceID, chatID string) (domain.Chat, error)
	SetChatStatus(ctx context.Context, workspaceID, chatID string, status domain.ChatStatus, actorUserID string) (domain.Chat, error)
	MarkChatRead(ctx context.Context, workspaceID, chatID string) (domain.Chat, error)
	ListChats(ctx context.Context, workspaceID string, f store.ChatFilter) ([]domain.Chat, error)
	ListMessages(ctx context.Context, workspaceID, chatID string, limit int) ([]domain.Message, error)
}

// Service implements the chat state machine actions.
type Service struct {
	store Store
	hooks *hooks.Manager
	log   *logging.Logger
}

// New creates an inbox service.
func New(s Store, h *hooks.Manager, log *logging.Logger) *Service {
	return &Service{store: s, hooks: h, log: log.Sub("inbox")}
}

// SetStatus writes any valid status. Membership is the only gate.
func (s *Service) SetStatus(ctx context.Context, p domain.Principal, chatID, status string) (domain.Chat, error) {
	next, err := domain.ParseChatStatus(status)
	if err != nil {
		return domain.Chat{}, err
	}
	wsID, err := s.authorizeChat(ctx, p, chatID)
	if err != nil {
		return domain.Chat{}, err
	}

	chat, err := s.store.SetChatStatus(ctx, wsID, chatID, next, p.UserID)
	if err != nil {
		return domain.Chat{}, notFoundAs(err, "Chat not found")
	}
	s.log.Info().
		Str("workspace_id", wsID).
		Str("chat_id", chatID).
		Str("status", string(next)).
		Str("user_id", p.UserID).
		Msg("chat status changed")
	s.emit(ctx, wsID, chat)
	return chat, nil
}

// MarkRead clears the unread counter.
func (s *Service) MarkRead(ctx context.Context, p domain.Principal, chatID string) (domain.Chat, error) {
	wsID, err := s.authorizeChat(ctx, p, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	chat, err := s.store.MarkChatRead(ctx, wsID, chatID)
	if err != nil {
		return domain.Chat{}, notFoundAs(err, "Chat not found")
	}
	s.emit(ctx, wsID, chat)
	return chat, nil
}

// ListChats returns a workspace's chats by last activity, optionally
// filtered by status.
func (s *Service) ListChats(ctx context.Context, p domain.Principal, workspaceID, status string, limit int) ([]domain.Chat, error) {
	var f store.ChatFilter
	if status != "" {
		st, err := domain.ParseChatStatus(status)
		if err != nil {
			return nil, err
		}
		f.Status = st
	}
	f.Limit = limit
	if err := s.authorizeWorkspace(ctx, p, workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListChats(ctx, workspaceID, f)
}

// GetChat loads one chat.
func (s *Service) GetChat(ctx context.Context, p domain.Principal, chatID string) (domain.Chat, error) {
	wsID, err := s.authorizeChat(ctx, p, chatID)
	if err != nil {
		return domain.Chat{}, err
	}
	chat, err := s.store.GetChat(ctx, wsID, chatID)
	return chat, notFoundAs(err, "Chat not found")
}

// ListMessages returns a chat's messages oldest first.
func (s *Service) ListMessages(ctx context.Context, p domain.Principal, chatID string, limit int) ([]domain.Message, error) {
	wsID, err := s.authorizeChat(ctx, p, chatID)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, wsID, chatID, limit)
}

// authorizeChat resolves the chat's workspace and checks membership.
func (s *Service) authorizeChat(ctx context.Context, p domain.Principal, chatID string) (string, error) {
	if chatID == "" {
		return "", domain.Validation("chat id is required")
	}
	wsID, err := s.store.ChatWorkspaceID(ctx, chatID)
	if err != nil {
		return "", notFoundAs(err, "Chat not found")
	}
	if err := s.authorizeWorkspace(ctx, p, wsID); err != nil {
		return "", err
	}
	return wsID, nil
}

func (s *Service) authorizeWorkspace(ctx context.Context, p domain.Principal, workspaceID string) error {
	ok, err := s.store.IsMember(ctx, workspaceID, p.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.Forbidden("Not a workspace member")
	}
	return nil
}

func (s *Service) emit(ctx context.Context, wsID string, chat domain.Chat) {
	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventChatChanged, wsID, chat)
	}
}

func notFoundAs(err error, msg string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NotFound(msg)
	}
	return err
}
