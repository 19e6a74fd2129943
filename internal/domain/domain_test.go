package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- ChatStatus tests ---

func TestParseChatStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    ChatStatus
		wantErr bool
	}{
		{"ai", ChatStatusAI, false},
		{"needs_action", ChatStatusNeedsAction, false},
		{"human", ChatStatusHuman, false},
		{"resolved", ChatStatusResolved, false},
		{" human ", ChatStatusHuman, false},
		{"open", "", true},
		{"HUMAN", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseChatStatus(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindValidation, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseChatStatus_LegacyOpenMentionsReplacement(t *testing.T) {
	_, err := ParseChatStatus("open")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ai"`)
}

func TestChatStatus_AcceptsSender(t *testing.T) {
	for _, st := range ChatStatuses {
		assert.Equal(t, st == ChatStatusHuman, st.AcceptsSender(SenderHuman), "human sender in %s", st)
		assert.Equal(t, st == ChatStatusAI, st.AcceptsSender(SenderAI), "ai sender in %s", st)
		assert.False(t, st.AcceptsSender(SenderCustomer))
	}
}

// --- Identity tests ---

func TestChannelForIdentity(t *testing.T) {
	assert.Equal(t, ChannelWidget, ChannelForIdentity(WidgetIdentity("v1")))
	assert.Equal(t, ChannelWhatsApp, ChannelForIdentity("628123456789"))
	assert.Equal(t, ChannelWhatsApp, ChannelForIdentity("website-1"))
	assert.Equal(t, "web-v1", WidgetIdentity("v1"))
}

func TestTextLength(t *testing.T) {
	assert.Equal(t, 0, TextLength(""))
	assert.Equal(t, 5, TextLength("halo!"))
	assert.Equal(t, 1, TextLength("é"))
	assert.Equal(t, 2, TextLength("\U0001F600"))
	assert.Equal(t, 3, TextLength("a\U0001F44B"))
}

// --- Workspace tests ---

func TestWorkspaceLocation(t *testing.T) {
	assert.Equal(t, time.UTC, Workspace{}.Location())
	assert.Equal(t, time.UTC, Workspace{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "Asia/Jakarta", Workspace{Timezone: "Asia/Jakarta"}.Location().String())
}

func TestWorkspaceJSON_HidesSecretHash(t *testing.T) {
	ws := Workspace{ID: "w1", Name: "Shop", WidgetSecretHash: "deadbeef"}
	data, err := json.Marshal(ws)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "deadbeef")
	assert.True(t, ws.HasWidgetSecret())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Owner")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, r)

	_, err = ParseRole("agent")
	assert.Error(t, err)
}

// --- Error tests ---

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("chat")))
	assert.Equal(t, KindConflict, KindOf(fmt.Errorf("wrapped: %w", Conflict("x"))))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestAsError(t *testing.T) {
	base := errors.New("db down")
	de := AsError(base)
	assert.Equal(t, KindInternal, de.Kind)
	assert.ErrorIs(t, de, base)

	rl := RateLimited(30 * time.Second)
	assert.Same(t, rl, AsError(rl))
	assert.Equal(t, 30*time.Second, rl.RetryAfter)
}

func TestUpstreamError_Unwraps(t *testing.T) {
	cause := errors.New("timeout")
	err := Upstream("WhatsApp API error", cause, map[string]any{"code": 131047})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "timeout")
}

// --- Invoice tests ---

func TestInvoiceStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to InvoiceStatus
		want     bool
	}{
		{InvoiceWaitingForPayment, InvoicePaid, true},
		{InvoicePaid, InvoiceApproved, true},
		{InvoiceApproved, InvoicePaid, true},
		{InvoicePaid, InvoicePaid, true},
		{InvoiceWaitingForPayment, InvoiceApproved, false},
		{InvoiceApproved, InvoiceWaitingForPayment, false},
		{InvoicePaid, InvoiceWaitingForPayment, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestParseDiscountType(t *testing.T) {
	dt, err := ParseDiscountType("")
	require.NoError(t, err)
	assert.Equal(t, DiscountNone, dt)

	dt, err = ParseDiscountType("percentage")
	require.NoError(t, err)
	assert.Equal(t, DiscountPercentage, dt)

	_, err = ParseDiscountType("bogo")
	assert.Error(t, err)
}

func TestComputeLineTotal(t *testing.T) {
	tests := []struct {
		name string
		item InvoiceItem
		want int64
	}{
		{"no discount", InvoiceItem{Quantity: 3, UnitPrice: 1000, DiscountType: DiscountNone}, 3000},
		{"percentage", InvoiceItem{Quantity: 2, UnitPrice: 5000, DiscountType: DiscountPercentage, DiscountValue: 10}, 9000},
		{"fixed", InvoiceItem{Quantity: 1, UnitPrice: 5000, DiscountType: DiscountFixed, DiscountValue: 1500}, 3500},
		{"fixed above gross", InvoiceItem{Quantity: 1, UnitPrice: 100, DiscountType: DiscountFixed, DiscountValue: 500}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.ComputeLineTotal())
		})
	}
}

func TestComputeInvoiceTotals(t *testing.T) {
	items := []InvoiceItem{
		{Quantity: 2, UnitPrice: 10000, DiscountType: DiscountNone},
		{Quantity: 1, UnitPrice: 5000, DiscountType: DiscountPercentage, DiscountValue: 20},
	}
	totals := ComputeInvoiceTotals(items, 2000, 1100)
	assert.Equal(t, int64(24000), totals.Subtotal)
	assert.Equal(t, int64(23100), totals.Total)
}
