package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/vlowchat/internal/channel"
	"github.com/soyeahso/vlowchat/internal/channel/whatsapp"
	"github.com/soyeahso/vlowchat/internal/channel/widget"
	"github.com/soyeahso/vlowchat/internal/config"
	"github.com/soyeahso/vlowchat/internal/dispatch"
	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/inbox"
	"github.com/soyeahso/vlowchat/internal/ingest"
	"github.com/soyeahso/vlowchat/internal/invoice"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/ratelimit"
	"github.com/soyeahso/vlowchat/internal/store"
)

const (
	businessNumber = "15550001111"
	appSecret      = "app-secret"
	agentToken     = "agent-token"
	aiToken        = "ai-token"
	strangerToken  = "stranger-token"
)

type fixture struct {
	db        *store.DB
	srv       *Server
	ts        *httptest.Server
	ws        domain.Workspace
	graphFail atomic.Bool
	graphHits atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logging.New(nil, "silent")
	f := &fixture{}

	graph := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.graphHits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if f.graphFail.Load() {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"Recipient not on allow list","code":131030}}`))
			return
		}
		w.Write([]byte(`{"messaging_product":"whatsapp","messages":[{"id":"wamid.OUT"}]}`))
	}))
	t.Cleanup(graph.Close)

	db, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: ":memory:"}, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	f.db = db

	f.ws, err = db.CreateWorkspace(ctx, domain.Workspace{Name: "Toko", WhatsAppPhoneNumber: businessNumber})
	require.NoError(t, err)
	_, err = db.AddMember(ctx, f.ws.ID, "agent-1", domain.RoleAdmin)
	require.NoError(t, err)
	_, err = db.AddMember(ctx, f.ws.ID, "bot", domain.RoleAdmin)
	require.NoError(t, err)
	require.NoError(t, db.CreateToken(ctx, HashToken(agentToken), "agent-1", "laptop", domain.TokenKindAgent))
	require.NoError(t, db.CreateToken(ctx, HashToken(aiToken), "bot", "responder", domain.TokenKindAI))
	require.NoError(t, db.CreateToken(ctx, HashToken(strangerToken), "stranger", "", domain.TokenKindAgent))

	cfg := config.Defaults()
	cfg.WhatsApp.BaseURL = graph.URL
	cfg.WhatsApp.AccessToken = "graph-token"
	cfg.WhatsApp.PhoneNumberID = "PNID"
	cfg.WhatsApp.VerifyToken = "verify-me"
	cfg.WhatsApp.AppSecret = appSecret

	hm := hooks.NewManager(log)
	reg := channel.NewRegistry(log)
	reg.Register(whatsapp.NewChannel(whatsapp.NewClient(cfg.WhatsApp, log)))
	reg.Register(widget.NewChannel())

	f.srv = New(cfg, log,
		WithDirectory(db),
		WithPinger(db),
		WithHooks(hm),
		WithChannels(reg),
		WithIngest(ingest.New(ingest.Options{
			Store:      db,
			Workspaces: store.NewWorkspaceCache(db, time.Minute),
			Limiter:    ratelimit.New(db, cfg.RateLimit.Requests, cfg.RateLimit.Window(), log),
			Hooks:      hm,
			Log:        log,
		})),
		WithDispatch(dispatch.New(dispatch.Options{Store: db, Channels: reg, Hooks: hm, Log: log})),
		WithInbox(inbox.New(db, hm, log)),
		WithInvoices(invoice.New(db, hm, cfg.Invoices.NumberPrefix, log)),
	)
	// Handler skips Start, so record a start time here.
	f.srv.startedAt = time.Now().Add(-time.Minute)
	f.ts = httptest.NewServer(f.srv.Handler())
	t.Cleanup(f.ts.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, token string, body any, header http.Header) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func webhookBody(msgID, from, text string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "BIZ", "changes": [{"field": "messages", "value": {
			"messaging_product": "whatsapp",
			"metadata": {"display_phone_number": %q, "phone_number_id": "PNID"},
			"contacts": [{"profile": {"name": "Budi"}, "wa_id": %q}],
			"messages": [{"from": %q, "id": %q, "timestamp": "1700000000", "type": "text", "text": {"body": %q}}]
		}}]}]
	}`, businessNumber, from, from, msgID, text))
}

func (f *fixture) postWebhook(t *testing.T, body []byte) *http.Response {
	t.Helper()
	h := http.Header{}
	h.Set(whatsapp.SignatureHeader, whatsapp.Sign(body, appSecret))
	h.Set("Content-Type", "application/json")
	return f.do(t, http.MethodPost, "/webhooks/whatsapp", "", body, h)
}

// whatsappChat ingests one customer message and returns its chat.
func (f *fixture) whatsappChat(t *testing.T, from string) domain.Chat {
	t.Helper()
	resp := f.postWebhook(t, webhookBody("wamid."+from, from, "halo"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chats, err := f.db.ListChats(context.Background(), f.ws.ID, store.ChatFilter{})
	require.NoError(t, err)
	for _, c := range chats {
		contact, err := f.db.GetContact(context.Background(), f.ws.ID, c.ContactID)
		require.NoError(t, err)
		if contact.PhoneNumber == from {
			return c
		}
	}
	t.Fatalf("no chat for %s", from)
	return domain.Chat{}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "ok", health.Status)
	assert.Empty(t, health.Version)
	assert.GreaterOrEqual(t, health.UptimeMs, time.Minute.Milliseconds())
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestNotFoundEndpoint(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodGet, "/nonexistent", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/nope", agentToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWhatsAppVerify(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", "", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "12345", string(body))

	resp = f.do(t, http.MethodGet, "/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", "", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWhatsAppWebhook_RedeliveryStoresOnce(t *testing.T) {
	f := newFixture(t)
	body := webhookBody("wamid.123", "628111", "halo kak")

	for range 2 {
		resp := f.postWebhook(t, body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, map[string]bool{"success": true}, decode[map[string]bool](t, resp))
	}

	msg, err := f.db.MessageByUpstreamID(context.Background(), f.ws.ID, "wamid.123")
	require.NoError(t, err)
	msgs, err := f.db.ListMessages(context.Background(), f.ws.ID, msg.ChatID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestWhatsAppWebhook_Signature(t *testing.T) {
	f := newFixture(t)
	body := webhookBody("wamid.1", "628111", "halo")
	h := http.Header{}
	h.Set(whatsapp.SignatureHeader, whatsapp.Sign(body, "other-secret"))

	resp := f.do(t, http.MethodPost, "/webhooks/whatsapp", "", body, h)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/webhooks/whatsapp", "", body, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWhatsAppWebhook_InvalidPayload(t *testing.T) {
	f := newFixture(t)
	resp := f.postWebhook(t, []byte(`{"object":"page"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWhatsAppWebhook_UnknownNumberAcknowledged(t *testing.T) {
	f := newFixture(t)
	body := bytes.Replace(webhookBody("wamid.9", "628111", "halo"), []byte(businessNumber), []byte("19999999999"), 1)
	resp := f.postWebhook(t, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := f.db.MessageByUpstreamID(context.Background(), f.ws.ID, "wamid.9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWidget_FirstMessageCreatesContactAndChat(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, http.MethodPost, "/api/widget/messages", "", map[string]string{
		"workspace_id": f.ws.ID,
		"visitor_id":   "v1",
		"message":      "hello",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[WidgetResponse](t, resp)
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.ChatID)
	assert.NotEmpty(t, out.MessageID)
	assert.False(t, out.CreatedAt.IsZero())

	chat, err := f.db.GetChat(context.Background(), f.ws.ID, out.ChatID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusAI, chat.Status)
	n, err := f.db.CountContacts(context.Background(), f.ws.ID, "web-v1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWidget_RateLimited(t *testing.T) {
	f := newFixture(t)
	post := map[string]string{"workspace_id": f.ws.ID, "visitor_id": "v1", "message": "spam"}

	for i := range 10 {
		resp := f.do(t, http.MethodPost, "/api/widget/messages", "", post, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, "request %d", i+1)
	}
	resp := f.do(t, http.MethodPost, "/api/widget/messages", "", post, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, "rate_limited", decode[errorBody](t, resp).Code)
}

func TestWidget_Rejections(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"malformed json", "{", http.StatusBadRequest},
		{"bad workspace id", map[string]string{"workspace_id": "nope", "visitor_id": "v", "message": "m"}, http.StatusBadRequest},
		{"missing message", map[string]string{"workspace_id": f.ws.ID, "visitor_id": "v"}, http.StatusBadRequest},
		{"unknown workspace", map[string]string{"workspace_id": "6f1c2a4e-0000-4000-8000-000000000000", "visitor_id": "v", "message": "m"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/api/widget/messages", "", tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestWidget_Preflight(t *testing.T) {
	f := newFixture(t)
	h := http.Header{}
	h.Set("Origin", "https://shop.example")
	h.Set("Access-Control-Request-Method", "POST")
	h.Set("Access-Control-Request-Headers", "content-type, x-widget-secret")

	resp := f.do(t, http.MethodOptions, "/api/widget/messages", "", nil, h)
	assert.Less(t, resp.StatusCode, 300)
	assert.Equal(t, "https://shop.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAPI_CrossOriginDeniedByDefault(t *testing.T) {
	f := newFixture(t)
	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	resp := f.do(t, http.MethodGet, "/api/workspaces/"+f.ws.ID+"/chats", agentToken, nil, h)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestSend_Authentication(t *testing.T) {
	f := newFixture(t)
	chat := f.whatsappChat(t, "628111")
	req := map[string]string{"chat_id": chat.ID, "message": "halo"}

	resp := f.do(t, http.MethodPost, "/api/messages/send", "", req, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/messages/send", "bogus", req, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/messages/send", aiToken, req, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSend_RejectedWhileAIOwnsChat(t *testing.T) {
	f := newFixture(t)
	chat := f.whatsappChat(t, "628111")

	resp := f.do(t, http.MethodPost, "/api/messages/send", agentToken, map[string]string{"chat_id": chat.ID, "message": "halo"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	msgs, err := f.db.ListMessages(context.Background(), f.ws.ID, chat.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "only the inbound message")
	assert.Zero(t, f.graphHits.Load())
}

func TestSend_EscalateThenReply(t *testing.T) {
	f := newFixture(t)
	chat := f.whatsappChat(t, "628111")

	resp := f.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/status", agentToken, map[string]string{"status": "human"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.ChatStatusHuman, decode[domain.Chat](t, resp).Status)

	resp = f.do(t, http.MethodPost, "/api/messages/send", agentToken, map[string]string{"chat_id": chat.ID, "message": "Halo, ada yang bisa dibantu?"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[SendResponse](t, resp)
	assert.True(t, out.Success)
	assert.Equal(t, "wamid.OUT", out.WaMessageID)
	assert.Equal(t, domain.DeliverySent, out.DeliveryStatus)

	msg, err := f.db.GetMessage(context.Background(), f.ws.ID, out.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.SenderHuman, msg.SenderType)
	assert.Equal(t, "agent-1", msg.SenderUserID)

	after, err := f.db.GetChat(context.Background(), f.ws.ID, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.UnreadCountForHuman)
	assert.False(t, after.LastMessageAt.Before(msg.CreatedAt))
}

func TestSend_ProviderFailureStillStores(t *testing.T) {
	f := newFixture(t)
	chat := f.whatsappChat(t, "628111")
	resp := f.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/status", agentToken, map[string]string{"status": "human"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.graphFail.Store(true)
	resp = f.do(t, http.MethodPost, "/api/messages/send", agentToken, map[string]string{"chat_id": chat.ID, "message": "halo"}, nil)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body struct {
		Code    string `json:"code"`
		Details struct {
			MessageID     string `json:"message_id"`
			ProviderError any    `json:"provider_error"`
		} `json:"details"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "upstream_error", body.Code)
	require.NotEmpty(t, body.Details.MessageID)
	assert.NotNil(t, body.Details.ProviderError)

	msg, err := f.db.GetMessage(context.Background(), f.ws.ID, body.Details.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryFailed, msg.DeliveryStatus)
}

func TestSend_AIReply(t *testing.T) {
	f := newFixture(t)
	chat := f.whatsappChat(t, "628111")

	resp := f.do(t, http.MethodPost, "/api/ai/messages/send", aiToken, map[string]string{"chat_id": chat.ID, "message": "Halo dari bot"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode[SendResponse](t, resp)

	msg, err := f.db.GetMessage(context.Background(), f.ws.ID, out.MessageID)
	require.NoError(t, err)
	assert.Equal(t, domain.SenderAI, msg.SenderType)
}

func TestTenantIsolation(t *testing.T) {
	f := newFixture(t)
	chat := f.whatsappChat(t, "628111")

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/chats/" + chat.ID},
		{http.MethodGet, "/api/chats/" + chat.ID + "/messages"},
		{http.MethodPost, "/api/chats/" + chat.ID + "/read"},
		{http.MethodGet, "/api/workspaces/" + f.ws.ID + "/chats"},
		{http.MethodGet, "/api/workspaces/" + f.ws.ID + "/invoices"},
	}
	for _, p := range paths {
		resp := f.do(t, p.method, p.path, strangerToken, nil, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, p.path)
	}

	resp := f.do(t, http.MethodPost, "/api/messages/send", strangerToken, map[string]string{"chat_id": chat.ID, "message": "halo"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestChats_ListAndRead(t *testing.T) {
	f := newFixture(t)
	chat := f.whatsappChat(t, "628111")
	f.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/status", agentToken, map[string]string{"status": "needs_action"}, nil)
	require.Equal(t, http.StatusOK, f.postWebhook(t, webhookBody("wamid.2", "628111", "halo lagi")).StatusCode)

	resp := f.do(t, http.MethodGet, "/api/workspaces/"+f.ws.ID+"/chats?status=needs_action", agentToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Chats []domain.Chat `json:"chats"`
	}](t, resp)
	require.Len(t, list.Chats, 1)
	assert.Equal(t, 1, list.Chats[0].UnreadCountForHuman)

	resp = f.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/read", agentToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[domain.Chat](t, resp).UnreadCountForHuman)

	resp = f.do(t, http.MethodGet, "/api/chats/"+chat.ID+"/messages", agentToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msgs := decode[struct {
		Messages []domain.Message `json:"messages"`
	}](t, resp)
	assert.Len(t, msgs.Messages, 2)

	resp = f.do(t, http.MethodPost, "/api/chats/"+chat.ID+"/status", agentToken, map[string]string{"status": "open"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/workspaces/"+f.ws.ID+"/chats?limit=-1", agentToken, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvoices_Flow(t *testing.T) {
	f := newFixture(t)
	chat := f.whatsappChat(t, "628111")
	base := "/api/workspaces/" + f.ws.ID + "/invoices"

	resp := f.do(t, http.MethodPost, base, agentToken, map[string]any{
		"chat_id": chat.ID,
		"items":   []map[string]any{{"name": "Kopi", "quantity": 2, "unit_price": 15000}},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	inv := decode[domain.Invoice](t, resp)
	assert.True(t, strings.HasPrefix(inv.InvoiceNumber, "INV-"))
	assert.Equal(t, int64(30000), inv.TotalAmount)

	resp = f.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", agentToken, map[string]string{"status": "approved"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/invoices/"+inv.ID+"/status", agentToken, map[string]string{"status": "paid"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, base+"?status=paid&status=approved", agentToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Invoices []domain.Invoice `json:"invoices"`
	}](t, resp)
	require.Len(t, list.Invoices, 1)

	resp = f.do(t, http.MethodGet, base+"/paid-today", agentToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[map[string]int](t, resp)["count"])

	resp = f.do(t, http.MethodGet, "/api/invoices/"+inv.ID, agentToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[domain.Invoice](t, resp).Items, 1)

	resp = f.do(t, http.MethodGet, base+"/export", agentToken, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")
}

func dialWS(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	assert.Equal(t, "connect.challenge", challenge.Event)
	return conn
}

func connect(t *testing.T, conn *websocket.Conn, token string) Frame {
	t.Helper()
	req, err := NewRequest("c1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "inbox-ui", Version: "1.0.0", Platform: "web"},
		Auth:        &ConnectAuth{Token: token},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	return res
}

func TestWebSocket_HandshakeAndFanOut(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f)

	res := connect(t, conn, agentToken)
	require.NotNil(t, res.OK)
	require.True(t, *res.OK)
	var hello HelloOK
	require.NoError(t, json.Unmarshal(res.Payload, &hello))
	assert.Equal(t, []string{f.ws.ID}, hello.Workspaces)
	assert.Contains(t, hello.Features.Methods, "chats.list")

	require.Eventually(t, func() bool { return f.srv.clients.Count() == 1 }, time.Second, 10*time.Millisecond)

	resp := f.do(t, http.MethodPost, "/api/widget/messages", "", map[string]string{
		"workspace_id": f.ws.ID, "visitor_id": "v1", "message": "hello",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt Frame
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, FrameTypeEvent, evt.Type)
	assert.Equal(t, hooks.EventMessageAppended, evt.Event)
	assert.Equal(t, f.ws.ID, evt.WorkspaceID)

	var msg domain.Message
	require.NoError(t, json.Unmarshal(evt.Payload, &msg))
	assert.Equal(t, "hello", msg.Text)
}

func TestWebSocket_RPC(t *testing.T) {
	f := newFixture(t)
	f.whatsappChat(t, "628111")
	conn := dialWS(t, f)
	connect(t, conn, agentToken)

	req, err := NewRequest("r1", "chats.list", chatsListParams{WorkspaceID: f.ws.ID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.OK)
	assert.True(t, *res.OK)
	assert.Contains(t, string(res.Payload), `"chats"`)

	req, err = NewRequest("h1", "health", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.OK)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(res.Payload, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Clients)
	assert.GreaterOrEqual(t, health.UptimeMs, time.Minute.Milliseconds())

	req, err = NewRequest("r2", "nope", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.Error)
	assert.Equal(t, "method_not_found", res.Error.Code)
}

func TestWebSocket_BadToken(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f)

	res := connect(t, conn, "bogus")
	require.NotNil(t, res.OK)
	assert.False(t, *res.OK)
	require.NotNil(t, res.Error)
	assert.Equal(t, "unauthorized", res.Error.Code)
}

func TestWebSocket_ForeignWorkspaceRefused(t *testing.T) {
	f := newFixture(t)
	conn := dialWS(t, f)

	req, err := NewRequest("c1", "connect", ConnectParams{
		Client:     ClientInfo{ID: "inbox-ui"},
		Auth:       &ConnectAuth{Token: strangerToken},
		Workspaces: []string{f.ws.ID},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.Error)
	assert.Equal(t, "forbidden", res.Error.Code)
}
