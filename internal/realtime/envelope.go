// Package realtime publishes workspace events to external consumers.
package realtime

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/vlowchat/internal/hooks"
)

// Meta identifies one published event.
type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Producer string    `json:"producer,omitempty"`
	Time     time.Time `json:"time"`
}

// Envelope is the body of every published event.
type Envelope struct {
	Meta        Meta   `json:"meta"`
	WorkspaceID string `json:"workspace_id"`
	Data        any    `json:"data"`
}

// NewEnvelope wraps a hook payload. Event types carry a version suffix so
// consumers can bind to a stable shape.
func NewEnvelope(p hooks.Payload, producer string) Envelope {
	at := p.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     p.Event + ".v1",
			Producer: producer,
			Time:     at,
		},
		WorkspaceID: p.WorkspaceID,
		Data:        p.Data,
	}
}

// RoutingKey is "ws.<workspace>.<event>", so a consumer can bind to one
// tenant with "ws.<id>.#" or to one event across tenants with "ws.*.chat.changed".
func RoutingKey(p hooks.Payload) string {
	ws := strings.ReplaceAll(p.WorkspaceID, ".", "_")
	if ws == "" {
		ws = "_"
	}
	return "ws." + ws + "." + p.Event
}
