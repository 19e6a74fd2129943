// Package widget handles posts from the embeddable website chat widget:
// payload validation, per-workspace access checks and the outbound channel
// for web visitors.
package widget

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/soyeahso/vlowchat/internal/domain"
)

const (
	MaxVisitorIDLength   = 100
	MaxVisitorNameLength = 100
)

var uuidPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// Post is a validated widget message.
type Post struct {
	WorkspaceID string
	VisitorID   string
	// VisitorName is empty when the visitor did not provide one.
	VisitorName string
	Message     string
	ContentType domain.ContentType
	MediaURL    string
}

// Identity is the contact identity of the visitor.
func (p Post) Identity() string {
	return domain.WidgetIdentity(p.VisitorID)
}

// DisplayName is the visitor name, or "Visitor <first 8 chars of id>".
func (p Post) DisplayName() string {
	if p.VisitorName != "" {
		return p.VisitorName
	}
	id := p.VisitorID
	if r := []rune(id); len(r) > 8 {
		id = string(r[:8])
	}
	return "Visitor " + id
}

// ParsePost decodes and validates a widget request body. Every failure is a
// validation error carrying the message returned to the widget.
func ParsePost(body []byte) (Post, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Post{}, domain.Validation("Invalid JSON in request body")
	}
	p, ok := raw.(map[string]any)
	if !ok {
		return Post{}, domain.Validation("Invalid request body")
	}

	wsID, ok := p["workspace_id"].(string)
	if !ok || !uuidPattern.MatchString(wsID) {
		return Post{}, domain.Validation("Invalid workspace_id format - must be a valid UUID")
	}

	visitorID, ok := p["visitor_id"].(string)
	if !ok || strings.TrimSpace(visitorID) == "" {
		return Post{}, domain.Validation("visitor_id is required and must be a non-empty string")
	}
	if domain.TextLength(visitorID) > MaxVisitorIDLength {
		return Post{}, domain.Validation(fmt.Sprintf("visitor_id must be at most %d characters", MaxVisitorIDLength))
	}

	message, ok := p["message"].(string)
	if !ok || strings.TrimSpace(message) == "" {
		return Post{}, domain.Validation("message is required and must be a non-empty string")
	}
	if domain.TextLength(message) > domain.MaxMessageLength {
		return Post{}, domain.Validation(fmt.Sprintf("message must be at most %d characters", domain.MaxMessageLength))
	}

	out := Post{
		WorkspaceID: strings.ToLower(wsID),
		VisitorID:   strings.TrimSpace(visitorID),
		Message:     strings.TrimSpace(message),
		ContentType: domain.ContentText,
	}

	if v, present := p["visitor_name"]; present {
		name, ok := v.(string)
		if !ok {
			return Post{}, domain.Validation("visitor_name must be a string")
		}
		if domain.TextLength(name) > MaxVisitorNameLength {
			return Post{}, domain.Validation(fmt.Sprintf("visitor_name must be at most %d characters", MaxVisitorNameLength))
		}
		out.VisitorName = strings.TrimSpace(name)
	}

	if v, present := p["content_type"]; present {
		ct, _ := v.(string)
		switch domain.ContentType(ct) {
		case domain.ContentText, domain.ContentImage, domain.ContentDocument:
			out.ContentType = domain.ContentType(ct)
		default:
			return Post{}, domain.Validation("content_type must be one of: text, image, document")
		}
	}

	if v, present := p["media_url"]; present {
		mu, ok := v.(string)
		if !ok {
			return Post{}, domain.Validation("media_url must be a string")
		}
		u, err := url.Parse(mu)
		if err != nil || !u.IsAbs() {
			return Post{}, domain.Validation("media_url must be a valid URL")
		}
		out.MediaURL = mu
	}

	return out, nil
}
