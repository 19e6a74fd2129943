package gateway

import (
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/logging"
)

// Client represents an authenticated WebSocket connection.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	Principal   domain.Principal
	ConnectedAt time.Time

	mu         sync.Mutex
	closed     bool
	workspaces []string
	log        *logging.Logger
}

// NewClient creates a Client for a newly authenticated WebSocket connection.
// workspaces is the set of tenants whose events the client receives.
func NewClient(conn *websocket.Conn, info ClientInfo, p domain.Principal, workspaces []string, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		Socket:      conn,
		Principal:   p,
		ConnectedAt: time.Now(),
		workspaces:  slices.Clone(workspaces),
		log:         log,
	}
}

// Subscribed reports whether events of workspaceID go to this client.
func (c *Client) Subscribed(workspaceID string) bool {
	return slices.Contains(c.workspaces, workspaceID)
}

// Workspaces returns the subscribed workspace ids.
func (c *Client) Workspaces() []string {
	return slices.Clone(c.workspaces)
}

// Send sends a frame to the client. Thread-safe.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Socket.WriteJSON(frame)
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event, workspaceID string, payload any, seq int64) error {
	f, err := NewEvent(event, workspaceID, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame from the WebSocket.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Socket.Close()
}

// ClientRegistry manages connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().
		Str("connId", c.ConnID).
		Str("client", c.Info.ID).
		Str("user_id", c.Principal.UserID).
		Strs("workspaces", c.workspaces).
		Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Get returns a client by connection ID.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// BroadcastWorkspace sends an event to the clients subscribed to
// workspaceID. It returns how many clients were sent the event.
func (r *ClientRegistry) BroadcastWorkspace(workspaceID, event string, payload any, seq int64) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if c.Subscribed(workspaceID) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.SendEvent(event, workspaceID, payload, seq); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ConnID).Msg("broadcast send failed")
			continue
		}
		sent++
	}
	return sent
}

// CloseAll closes all connected clients.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}
