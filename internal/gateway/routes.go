package gateway

import (
	"context"
	"net/http"

	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/hooks"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux. Route groups
// whose service is not configured are left out.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	if s.ingest != nil {
		mux.HandleFunc("GET /webhooks/whatsapp", s.handleWhatsAppVerify)
		mux.HandleFunc("POST /webhooks/whatsapp", s.handleWhatsAppEvents)

		widgetCORS := widgetCORS()
		mux.Handle("POST /api/widget/messages", widgetCORS(http.HandlerFunc(s.handleWidgetMessage)))
		mux.Handle("OPTIONS /api/widget/messages", widgetCORS(http.HandlerFunc(handlePreflight)))
	}

	api := http.NewServeMux()
	if s.dispatch != nil {
		api.HandleFunc("POST /api/messages/send", s.requireAuth(s.handleSendHuman))
		api.HandleFunc("POST /api/ai/messages/send", s.requireAuth(s.handleSendAI))
	}
	if s.inbox != nil {
		api.HandleFunc("GET /api/chats/{id}", s.requireAuth(s.handleGetChat))
		api.HandleFunc("POST /api/chats/{id}/status", s.requireAuth(s.handleChatStatus))
		api.HandleFunc("POST /api/chats/{id}/read", s.requireAuth(s.handleChatRead))
		api.HandleFunc("GET /api/chats/{id}/messages", s.requireAuth(s.handleListMessages))
		api.HandleFunc("GET /api/workspaces/{id}/chats", s.requireAuth(s.handleListChats))
	}
	if s.invoices != nil {
		api.HandleFunc("POST /api/workspaces/{id}/invoices", s.requireAuth(s.handleCreateInvoice))
		api.HandleFunc("GET /api/workspaces/{id}/invoices", s.requireAuth(s.handleListInvoices))
		api.HandleFunc("GET /api/workspaces/{id}/invoices/paid-today", s.requireAuth(s.handlePaidToday))
		api.HandleFunc("GET /api/workspaces/{id}/invoices/export", s.requireAuth(s.handleExportInvoices))
		api.HandleFunc("GET /api/invoices/{id}", s.requireAuth(s.handleGetInvoice))
		api.HandleFunc("POST /api/invoices/{id}/status", s.requireAuth(s.handleInvoiceStatus))
	}
	api.HandleFunc("OPTIONS /api/", handlePreflight)
	api.HandleFunc("/", handleNotFound)
	mux.Handle("/api/", apiCORS(s.cfg.Server.AllowedOrigins)(api))

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// handlePreflight answers OPTIONS requests the CORS layer passed through.
func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// registerRPCHandlers sets up the WebSocket RPC methods.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("channels.status", s.rpcChannelsStatus)
	s.Handle("workspaces.list", s.rpcWorkspacesList)
	if s.inbox != nil {
		s.Handle("chats.list", s.rpcChatsList)
		s.Handle("messages.list", s.rpcMessagesList)
	}
}

// subscribeHooks forwards workspace events to subscribed socket clients.
func (s *Server) subscribeHooks() {
	if s.hooks == nil {
		return
	}
	s.hooks.OnAll("ws-hub", s.broadcast)
}

func (s *Server) broadcast(_ context.Context, p hooks.Payload) error {
	s.clients.BroadcastWorkspace(p.WorkspaceID, p.Event, p.Data, s.eventSeq.Add(1))
	return nil
}

// Built-in RPC handlers

func (s *Server) rpcHealth(rc *RequestContext) {
	rc.Respond(HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Clients:  s.clients.Count(),
		UptimeMs: s.Uptime().Milliseconds(),
	})
}

func (s *Server) rpcChannelsStatus(rc *RequestContext) {
	if s.channels != nil {
		rc.Respond(map[string]any{"channels": s.channels.Status()})
		return
	}
	rc.Respond(map[string]any{"channels": []any{}})
}

func (s *Server) rpcWorkspacesList(rc *RequestContext) {
	rc.Respond(map[string]any{"workspaces": rc.Client.Workspaces()})
}

type chatsListParams struct {
	WorkspaceID string `json:"workspaceId"`
	Status      string `json:"status,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

func (s *Server) rpcChatsList(rc *RequestContext) {
	var p chatsListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondErr(domain.Validation(err.Error()))
		return
	}
	ctx, cancel := s.rpcContext()
	defer cancel()
	chats, err := s.inbox.ListChats(ctx, rc.Client.Principal, p.WorkspaceID, p.Status, p.Limit)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(map[string]any{"chats": chats})
}

type messagesListParams struct {
	ChatID string `json:"chatId"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Server) rpcMessagesList(rc *RequestContext) {
	var p messagesListParams
	if err := rc.Params(&p); err != nil {
		rc.RespondErr(domain.Validation(err.Error()))
		return
	}
	ctx, cancel := s.rpcContext()
	defer cancel()
	msgs, err := s.inbox.ListMessages(ctx, rc.Client.Principal, p.ChatID, p.Limit)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	rc.Respond(map[string]any{"messages": msgs})
}
