package domain

import (
	"strings"
	"time"
)

// Workspace is the tenant boundary. Every contact, chat, message and invoice
// belongs to exactly one workspace.
type Workspace struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	WhatsAppPhoneNumber  string    `json:"whatsapp_phone_number,omitempty"`
	WidgetSecretHash     string    `json:"-"`
	WidgetAllowedOrigins []string  `json:"widget_allowed_origins,omitempty"`
	Locale               string    `json:"locale,omitempty"`
	Timezone             string    `json:"timezone,omitempty"`
	CurrencyCode         string    `json:"currency_code,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Location returns the workspace timezone, falling back to UTC when the
// configured zone is empty or unknown.
func (w Workspace) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasWidgetSecret reports whether the workspace opted into widget secrets.
func (w Workspace) HasWidgetSecret() bool {
	return w.WidgetSecretHash != ""
}

// Role is a workspace membership role.
type Role string

const (
	RoleOwner Role = "owner"
	RoleAdmin Role = "admin"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", Validation("role must be one of: owner, admin")
}

// Member links a user to a workspace.
type Member struct {
	WorkspaceID string    `json:"workspace_id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// TokenKind distinguishes human agent credentials from the automated responder.
type TokenKind string

const (
	TokenKindAgent TokenKind = "agent"
	TokenKindAI    TokenKind = "ai"
)

// Principal is the authenticated caller behind a bearer token.
type Principal struct {
	UserID string    `json:"user_id"`
	Kind   TokenKind `json:"kind"`
	Label  string    `json:"label,omitempty"`
}
