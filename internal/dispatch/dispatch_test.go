package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/vlowchat/internal/channel"
	"github.com/soyeahso/vlowchat/internal/channel/whatsapp"
	"github.com/soyeahso/vlowchat/internal/channel/widget"
	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/store"
)

// fakeWhatsApp records sends and fails on demand.
type fakeWhatsApp struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
	err  error
	wait time.Duration
}

func (f *fakeWhatsApp) ID() string { return domain.ChannelWhatsApp }

func (f *fakeWhatsApp) Send(ctx context.Context, msg domain.OutboundMessage) (domain.SendReceipt, error) {
	if f.wait > 0 {
		select {
		case <-ctx.Done():
			return domain.SendReceipt{}, ctx.Err()
		case <-time.After(f.wait):
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.SendReceipt{}, f.err
	}
	f.sent = append(f.sent, msg)
	return domain.SendReceipt{ProviderMessageID: "wamid.OUT"}, nil
}

type fixture struct {
	db     *store.DB
	svc    *Service
	wa     *fakeWhatsApp
	ws     domain.Workspace
	agent  domain.Principal
	ai     domain.Principal
	events []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := logging.New(nil, "silent")
	db, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: ":memory:"}, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ws, err := db.CreateWorkspace(ctx, domain.Workspace{Name: "Toko"})
	require.NoError(t, err)
	_, err = db.AddMember(ctx, ws.ID, "agent-1", domain.RoleAdmin)
	require.NoError(t, err)
	_, err = db.AddMember(ctx, ws.ID, "bot", domain.RoleAdmin)
	require.NoError(t, err)

	f := &fixture{
		db:    db,
		wa:    &fakeWhatsApp{},
		ws:    ws,
		agent: domain.Principal{UserID: "agent-1", Kind: domain.TokenKindAgent},
		ai:    domain.Principal{UserID: "bot", Kind: domain.TokenKindAI},
	}

	reg := channel.NewRegistry(log)
	reg.Register(f.wa)
	reg.Register(widget.NewChannel())

	hm := hooks.NewManager(log)
	hm.OnAll("test", func(_ context.Context, p hooks.Payload) error {
		f.events = append(f.events, p.Event)
		return nil
	})

	f.svc = New(Options{Store: db, Channels: reg, Hooks: hm, SendTimeout: 200 * time.Millisecond, Log: log})
	return f
}

func (f *fixture) chat(t *testing.T, identity string, status domain.ChatStatus) domain.Chat {
	t.Helper()
	ctx := context.Background()
	c, err := f.db.UpsertContact(ctx, f.ws.ID, identity, "", time.Now())
	require.NoError(t, err)
	chat, _, err := f.db.EnsureChat(ctx, f.ws.ID, c.ID, time.Now())
	require.NoError(t, err)
	if status != domain.ChatStatusAI {
		chat, err = f.db.SetChatStatus(ctx, f.ws.ID, chat.ID, status, "")
		require.NoError(t, err)
	}
	return chat
}

func TestSendHuman_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SendHuman(ctx, f.agent, Request{ChatID: "", Message: "hi"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.svc.SendHuman(ctx, f.agent, Request{ChatID: "x", Message: "   "})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	long := make([]byte, domain.MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = f.svc.SendHuman(ctx, f.agent, Request{ChatID: "x", Message: string(long)})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	// An astral character takes two of the 5000 units.
	_, err = f.svc.SendHuman(ctx, f.agent, Request{ChatID: "x", Message: string(long[:4999]) + "\U0001F600"})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = f.svc.SendHuman(ctx, f.agent, Request{ChatID: "x", Message: string(long[:4998]) + "\U0001F600"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestSendHuman_UnknownChat(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SendHuman(context.Background(), f.agent, Request{ChatID: "missing", Message: "hi"})
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

// A non-member gets 403 even when the chat is not in human mode, and nothing
// is stored or sent.
func TestSendHuman_NonMemberForbidden(t *testing.T) {
	f := newFixture(t)
	chat := f.chat(t, "628111", domain.ChatStatusAI)

	outsider := domain.Principal{UserID: "stranger", Kind: domain.TokenKindAgent}
	_, err := f.svc.SendHuman(context.Background(), outsider, Request{ChatID: chat.ID, Message: "hi"})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	msgs, err := f.db.ListMessages(context.Background(), f.ws.ID, chat.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, f.wa.sent)
}

func TestSendHuman_RequiresHumanMode(t *testing.T) {
	f := newFixture(t)
	for _, st := range []domain.ChatStatus{domain.ChatStatusAI, domain.ChatStatusNeedsAction, domain.ChatStatusResolved} {
		t.Run(string(st), func(t *testing.T) {
			chat := f.chat(t, "628"+string(st), st)
			_, err := f.svc.SendHuman(context.Background(), f.agent, Request{ChatID: chat.ID, Message: "hi"})
			de := domain.AsError(err)
			assert.Equal(t, domain.KindConflict, de.Kind)
			assert.Equal(t, "Chat is not in human mode", de.Message)
		})
	}
	assert.Empty(t, f.wa.sent)
}

func TestSendHuman_WrongTokenKind(t *testing.T) {
	f := newFixture(t)
	chat := f.chat(t, "628111", domain.ChatStatusHuman)
	_, err := f.svc.SendHuman(context.Background(), f.ai, Request{ChatID: chat.ID, Message: "hi"})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}

// Escalate to human, then dispatch: the reply is stored as a human message
// and the unread counter is cleared.
func TestSendHuman_EscalateThenDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "628111", domain.ChatStatusNeedsAction)

	_, err := f.db.AppendInbound(ctx, f.ws.ID, domain.Message{
		ChatID: chat.ID, ContactID: chat.ContactID, SenderType: domain.SenderCustomer,
		ContentType: domain.ContentText, Text: "tolong", CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	_, err = f.db.SetChatStatus(ctx, f.ws.ID, chat.ID, domain.ChatStatusHuman, f.agent.UserID)
	require.NoError(t, err)

	res, err := f.svc.SendHuman(ctx, f.agent, Request{ChatID: chat.ID, Message: "  siap kak  "})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliverySent, res.DeliveryStatus)
	assert.Equal(t, "wamid.OUT", res.WaMessageID)
	assert.Equal(t, "siap kak", res.Message.Text)
	assert.Equal(t, domain.SenderHuman, res.Message.SenderType)
	assert.Equal(t, "agent-1", res.Message.SenderUserID)
	assert.Equal(t, domain.DirectionOutbound, res.Message.Direction)

	require.Len(t, f.wa.sent, 1)
	assert.Equal(t, "628111", f.wa.sent[0].To)

	stored, err := f.db.GetChat(ctx, f.ws.ID, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusHuman, stored.Status)
	assert.Equal(t, 0, stored.UnreadCountForHuman)
	assert.Equal(t, []string{hooks.EventMessageAppended, hooks.EventChatChanged}, f.events)
}

func TestSendHuman_ProviderFailureStillStores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "628111", domain.ChatStatusHuman)
	f.wa.err = &whatsapp.APIError{StatusCode: 400, Body: map[string]any{"error": "bad number"}}

	res, err := f.svc.SendHuman(ctx, f.agent, Request{ChatID: chat.ID, Message: "hi"})
	de := domain.AsError(err)
	require.Equal(t, domain.KindUpstream, de.Kind)
	assert.Equal(t, map[string]any{"error": "bad number"}, de.Details)
	assert.Equal(t, domain.DeliveryFailed, res.DeliveryStatus)
	require.NotEmpty(t, res.Message.ID)

	stored, err := f.db.GetMessage(ctx, f.ws.ID, res.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryFailed, stored.DeliveryStatus)
	assert.NotEmpty(t, stored.DeliveryError)
	assert.Empty(t, stored.UpstreamMessageID)
}

func TestSendHuman_ProviderTimeoutStillStores(t *testing.T) {
	f := newFixture(t)
	chat := f.chat(t, "628111", domain.ChatStatusHuman)
	f.wa.wait = time.Second

	res, err := f.svc.SendHuman(context.Background(), f.agent, Request{ChatID: chat.ID, Message: "hi"})
	assert.Equal(t, domain.KindUpstream, domain.KindOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, domain.DeliveryFailed, res.DeliveryStatus)
	assert.NotEmpty(t, res.Message.ID)
}

func TestSendHuman_WidgetContactSkipsProvider(t *testing.T) {
	f := newFixture(t)
	chat := f.chat(t, "web-visitor-1", domain.ChatStatusHuman)

	res, err := f.svc.SendHuman(context.Background(), f.agent, Request{ChatID: chat.ID, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStored, res.DeliveryStatus)
	assert.Empty(t, res.WaMessageID)
	assert.Empty(t, f.wa.sent)
}

func TestSendAI(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat := f.chat(t, "628111", domain.ChatStatusAI)

	res, err := f.svc.SendAI(ctx, f.ai, Request{ChatID: chat.ID, Message: "Halo, ada yang bisa dibantu?"})
	require.NoError(t, err)
	assert.Equal(t, domain.SenderAI, res.Message.SenderType)
	assert.Empty(t, res.Message.SenderUserID)

	stored, err := f.db.GetChat(ctx, f.ws.ID, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusAI, stored.Status)

	_, err = f.db.SetChatStatus(ctx, f.ws.ID, chat.ID, domain.ChatStatusHuman, "agent-1")
	require.NoError(t, err)
	_, err = f.svc.SendAI(ctx, f.ai, Request{ChatID: chat.ID, Message: "x"})
	de := domain.AsError(err)
	assert.Equal(t, domain.KindConflict, de.Kind)
	assert.Equal(t, "Chat is not in AI mode", de.Message)

	_, err = f.svc.SendAI(ctx, f.agent, Request{ChatID: chat.ID, Message: "x"})
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
}
