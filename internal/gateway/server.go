// Package gateway is the HTTP and WebSocket front of vlowchat: webhook and
// widget intake, the authenticated agent API and realtime event fan-out.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/soyeahso/vlowchat/internal/channel"
	"github.com/soyeahso/vlowchat/internal/config"
	"github.com/soyeahso/vlowchat/internal/dispatch"
	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/inbox"
	"github.com/soyeahso/vlowchat/internal/ingest"
	"github.com/soyeahso/vlowchat/internal/invoice"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/version"
)

var (
	ErrClientClosed      = errors.New("client connection closed")
	errIngestUnavailable = errors.New("ingestion not configured")
)

const (
	maxSocketPayload = 1 << 20
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = pongWait * 9 / 10
	handshakeTimeout = 10 * time.Second
	rpcTimeout       = 10 * time.Second
)

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the vlowchat HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	directory Directory
	pinger    Pinger
	ingest    *ingest.Service
	dispatch  *dispatch.Service
	inbox     *inbox.Service
	invoices  *invoice.Service
	channels  *channel.Registry
	hooks     *hooks.Manager

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithDirectory sets the token and membership resolver.
func WithDirectory(d Directory) ServerOption {
	return func(s *Server) { s.directory = d }
}

// WithPinger enables the database check on /health.
func WithPinger(p Pinger) ServerOption {
	return func(s *Server) { s.pinger = p }
}

// WithIngest enables the webhook and widget endpoints.
func WithIngest(svc *ingest.Service) ServerOption {
	return func(s *Server) { s.ingest = svc }
}

// WithDispatch enables the outbound send endpoints.
func WithDispatch(svc *dispatch.Service) ServerOption {
	return func(s *Server) { s.dispatch = svc }
}

// WithInbox enables the chat endpoints.
func WithInbox(svc *inbox.Service) ServerOption {
	return func(s *Server) { s.inbox = svc }
}

// WithInvoices enables the invoice endpoints.
func WithInvoices(svc *invoice.Service) ServerOption {
	return func(s *Server) { s.invoices = svc }
}

// WithChannels sets the channel registry for channel status reporting.
func WithChannels(ch *channel.Registry) ServerOption {
	return func(s *Server) { s.channels = ch }
}

// WithHooks sets the hook manager for lifecycle events and realtime fan-out.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) { s.hooks = hm }
}

// New creates a new gateway server.
func New(cfg config.Config, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Server.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	s.subscribeHooks()
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the sorted list of registered RPC method names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Handler returns the full HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Server.RequestTimeout())
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Server)

	// The write timeout must outlast the request timeout so handlers can
	// still render their error.
	writeTimeout := s.cfg.Server.RequestTimeout() + 15*time.Second
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Server.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Server.TLS.CertPath, s.cfg.Server.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Server.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled; tokens and webhook bodies travel in cleartext")
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Server.Bind).
		Int("methods", len(s.handlers)).
		Msg("gateway server starting")

	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventGatewayStart, "", map[string]any{
			"addr": ln.Addr().String(),
		})
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		if s.hooks != nil {
			s.hooks.Emit(context.Background(), hooks.EventGatewayStop, "", nil)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Uptime reports how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rate limited: too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxSocketPayload)

	s.log.Debug().Str("remote", r.RemoteAddr).Msg("new websocket connection")

	client, err := s.handshake(r.Context(), conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("handshake failed")
		s.authLimiter.recordFailure(r.RemoteAddr)
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(client, done)

	s.readLoop(client)
}

// handshake performs the WebSocket authentication handshake.
// Flow: server sends challenge → client sends connect with its API token →
// server resolves memberships → sends hello-ok.
func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))

	challenge, err := NewEvent("connect.challenge", "", map[string]any{
		"nonce": uuid.New().String(),
		"ts":    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("creating challenge: %w", err)
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}

	authCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	var token string
	if params.Auth != nil {
		token = params.Auth.Token
	}
	principal, err := s.authenticate(authCtx, token)
	if err != nil {
		de := domain.AsError(err)
		sendErrorAndClose(conn, frame.ID, string(de.Kind), de.Message)
		return nil, fmt.Errorf("auth failed: %s", de.Message)
	}

	member, err := s.directory.WorkspacesForUser(authCtx, principal.UserID)
	if err != nil {
		sendErrorAndClose(conn, frame.ID, string(domain.KindInternal), "could not load workspaces")
		return nil, fmt.Errorf("loading workspaces: %w", err)
	}
	workspaces := member
	if len(params.Workspaces) > 0 {
		workspaces = make([]string, 0, len(params.Workspaces))
		for _, id := range params.Workspaces {
			if !slices.Contains(member, id) {
				sendErrorAndClose(conn, frame.ID, string(domain.KindAuthorization), "Not a workspace member")
				return nil, fmt.Errorf("user %s is not a member of %s", principal.UserID, id)
			}
			workspaces = append(workspaces, id)
		}
	}

	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, principal, workspaces, s.log.Sub("ws"))

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: s.version,
			Commit:  version.Commit,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  hooks.WorkspaceEvents,
		},
		Policy: ServerPolicy{
			MaxPayload:     maxSocketPayload,
			TickIntervalMs: int(pingPeriod.Milliseconds()),
		},
		Workspaces: client.Workspaces(),
	}

	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Str("user_id", principal.UserID).
		Str("kind", string(principal.Kind)).
		Int("workspaces", len(workspaces)).
		Msg("client authenticated")

	return client, nil
}

// keepAlive pings the client until done is closed. Missed pongs surface as a
// read deadline error in readLoop.
func (s *Server) keepAlive(c *Client, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.log.Debug().Err(err).Str("connId", c.ConnID).Msg("ping failed")
				return
			}
		}
	}
}

// readLoop processes incoming frames from an authenticated client.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}

		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}

		s.dispatchRPC(client, frame)
	}
}

// dispatchRPC routes a request frame to the appropriate handler.
func (s *Server) dispatchRPC(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}

	handler(&RequestContext{
		Client: client,
		Frame:  frame,
		Server: s,
	})
}

func (s *Server) rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), rpcTimeout)
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{
		Code:    code,
		Message: message,
	}))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
