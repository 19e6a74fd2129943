package domain

import (
	"strings"
	"time"
)

// ChatStatus is the routing state of a chat.
//
// Older data used open/needs_action/resolved. Those values are not accepted;
// rows carrying "open" must be migrated to "ai" before they are read.
type ChatStatus string

const (
	ChatStatusAI          ChatStatus = "ai"
	ChatStatusNeedsAction ChatStatus = "needs_action"
	ChatStatusHuman       ChatStatus = "human"
	ChatStatusResolved    ChatStatus = "resolved"
)

// ChatStatuses lists every valid status in lifecycle order.
var ChatStatuses = []ChatStatus{
	ChatStatusAI,
	ChatStatusNeedsAction,
	ChatStatusHuman,
	ChatStatusResolved,
}

// ParseChatStatus converts a wire value to a ChatStatus.
func ParseChatStatus(s string) (ChatStatus, error) {
	v := ChatStatus(strings.TrimSpace(s))
	for _, st := range ChatStatuses {
		if v == st {
			return st, nil
		}
	}
	if v == "open" {
		return "", Validation(`legacy status "open" is no longer supported; use "ai"`)
	}
	return "", Validation("status must be one of: ai, needs_action, human, resolved")
}

// AcceptsSender reports whether an outbound message from the given sender
// kind may be dispatched while the chat is in this status.
func (s ChatStatus) AcceptsSender(sender SenderType) bool {
	switch sender {
	case SenderHuman:
		return s == ChatStatusHuman
	case SenderAI:
		return s == ChatStatusAI
	}
	return false
}

// Contact is a counterparty reachable on one channel identity.
type Contact struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	PhoneNumber string    `json:"phone_number"`
	DisplayName string    `json:"display_name,omitempty"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Chat is the single conversation record between a workspace and a contact.
type Chat struct {
	ID                  string     `json:"id"`
	WorkspaceID         string     `json:"workspace_id"`
	ContactID           string     `json:"contact_id"`
	Status              ChatStatus `json:"current_status"`
	AssignedUserID      string     `json:"assigned_user_id,omitempty"`
	UnreadCountForHuman int        `json:"unread_count_for_human"`
	LastMessageAt       time.Time  `json:"last_message_at"`
	CreatedAt           time.Time  `json:"created_at"`

	Contact *Contact `json:"contact,omitempty"`
}
