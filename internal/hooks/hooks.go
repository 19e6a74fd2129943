// Package hooks is the in-process event bus. Services emit an event after
// every durable write; the gateway's WebSocket hub and the AMQP bridge
// subscribe to fan events out to clients.
package hooks

import (
	"context"
	"sync"
	"time"

	"github.com/soyeahso/vlowchat/internal/logging"
)

// Event names.
const (
	EventMessageAppended = "message.appended"
	EventMessageUpdated  = "message.updated"
	EventChatChanged     = "chat.changed"
	EventInvoiceChanged  = "invoice.changed"
	EventGatewayStart    = "gateway.start"
	EventGatewayStop     = "gateway.stop"
)

// Payload carries event data to hook handlers. WorkspaceID is empty only for
// process lifecycle events.
type Payload struct {
	Event       string    `json:"event"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	At          time.Time `json:"at"`
	Data        any       `json:"data,omitempty"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and debugging.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// WorkspaceEvents are the events emitted after a workspace-scoped write.
var WorkspaceEvents = []string{EventMessageAppended, EventMessageUpdated, EventChatChanged, EventInvoiceChanged}

// OnAll registers one handler for every workspace-scoped event.
func (m *Manager) OnAll(name string, handler Handler) {
	for _, ev := range WorkspaceEvents {
		m.On(ev, name, handler)
	}
}

// Emit dispatches an event to all registered handlers synchronously.
// Handlers are called in registration order. Errors are logged but do not
// prevent subsequent handlers from running.
func (m *Manager) Emit(ctx context.Context, event, workspaceID string, data any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, WorkspaceID: workspaceID, At: time.Now().UTC(), Data: data}

	for _, h := range handlers {
		if err := h.handler(ctx, payload); err != nil {
			m.log.Warn().
				Err(err).
				Str("event", event).
				Str("workspace_id", workspaceID).
				Str("handler", h.name).
				Msg("hook handler error")
		}
	}
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handlers := make([]namedHandler, len(m.handlers[event]))
	copy(handlers, m.handlers[event])
	return handlers
}
