package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/vlowchat/internal/domain"
)

func testInvoice(chat domain.Chat, number string) domain.Invoice {
	return domain.Invoice{
		ChatID:          chat.ID,
		InvoiceNumber:   number,
		CurrencyCode:    "IDR",
		SubtotalAmount:  25000,
		DiscountAmount:  1000,
		TaxAmount:       500,
		TotalAmount:     24500,
		CreatedByType:   domain.SenderHuman,
		CreatedByUserID: "u1",
		Items: []domain.InvoiceItem{
			{Name: "Kopi", Quantity: 2, UnitPrice: 10000, LineTotal: 20000},
			{Name: "Roti", Description: "cokelat", Quantity: 1, UnitPrice: 5000, DiscountType: domain.DiscountNone, LineTotal: 5000},
		},
	}
}

func TestCreateInvoice_WithItems(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ws := testWorkspace(t, db, "628400")
	chat := seedChat(t, db, ws, "628999")

	inv, err := db.CreateInvoice(ctx, ws.ID, testInvoice(chat, "INV-1"))
	require.NoError(t, err)
	assert.Equal(t, chat.ContactID, inv.ContactID)
	assert.Equal(t, domain.InvoiceWaitingForPayment, inv.Status)

	got, err := db.GetInvoice(ctx, ws.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(24500), got.TotalAmount)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Kopi", got.Items[0].Name)
	assert.Equal(t, domain.DiscountNone, got.Items[0].DiscountType)
	assert.Equal(t, "cokelat", got.Items[1].Description)

	wsID, err := db.InvoiceWorkspaceID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ws.ID, wsID)
}

func TestCreateInvoice_DuplicateNumber(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ws := testWorkspace(t, db, "628401")
	chat := seedChat(t, db, ws, "628999")

	_, err := db.CreateInvoice(ctx, ws.ID, testInvoice(chat, "INV-1"))
	require.NoError(t, err)
	_, err = db.CreateInvoice(ctx, ws.ID, testInvoice(chat, "INV-1"))
	assert.ErrorIs(t, err, ErrDuplicate)

	n, err := db.CountInvoicesWithPrefix(ctx, ws.ID, "INV-")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed insert leaves no rows behind")
}

func TestCreateInvoice_ChatMustBelongToWorkspace(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	a := testWorkspace(t, db, "628402")
	b := testWorkspace(t, db, "628403")
	chat := seedChat(t, db, a, "628999")

	_, err := db.CreateInvoice(ctx, b.ID, testInvoice(chat, "INV-1"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListInvoices_FilterAndOrder(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ws := testWorkspace(t, db, "628404")
	chat := seedChat(t, db, ws, "628999")

	base := time.Now()
	var ids []string
	for i, n := range []string{"INV-1", "INV-2", "INV-3"} {
		inv := testInvoice(chat, n)
		inv.CreatedAt = base.Add(time.Duration(i) * time.Second)
		created, err := db.CreateInvoice(ctx, ws.ID, inv)
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}
	_, err := db.UpdateInvoiceStatus(ctx, ws.ID, ids[0], domain.InvoicePaid, time.Now())
	require.NoError(t, err)

	all, err := db.ListInvoices(ctx, ws.ID, InvoiceFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")

	paid, err := db.ListInvoices(ctx, ws.ID, InvoiceFilter{Statuses: []domain.InvoiceStatus{domain.InvoicePaid}})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, ids[0], paid[0].ID)

	both, err := db.ListInvoices(ctx, ws.ID, InvoiceFilter{
		Statuses: []domain.InvoiceStatus{domain.InvoicePaid, domain.InvoiceWaitingForPayment},
		ChatID:   chat.ID,
		Limit:    2,
	})
	require.NoError(t, err)
	assert.Len(t, both, 2)

	other := testWorkspace(t, db, "628405")
	none, err := db.ListInvoices(ctx, other.ID, InvoiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateInvoiceStatus_Lifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ws := testWorkspace(t, db, "628406")
	chat := seedChat(t, db, ws, "628999")
	inv, err := db.CreateInvoice(ctx, ws.ID, testInvoice(chat, "INV-1"))
	require.NoError(t, err)

	_, err = db.UpdateInvoiceStatus(ctx, ws.ID, inv.ID, domain.InvoiceApproved, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	later := time.Now().Add(time.Minute)
	paid, err := db.UpdateInvoiceStatus(ctx, ws.ID, inv.ID, domain.InvoicePaid, later)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, paid.Status)
	assert.Equal(t, fromMicros(toMicros(later)), paid.UpdatedAt)

	approved, err := db.UpdateInvoiceStatus(ctx, ws.ID, inv.ID, domain.InvoiceApproved, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceApproved, approved.Status)

	back, err := db.UpdateInvoiceStatus(ctx, ws.ID, inv.ID, domain.InvoicePaid, time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, back.Status)

	_, err = db.UpdateInvoiceStatus(ctx, ws.ID, inv.ID, domain.InvoiceWaitingForPayment, time.Now())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = db.UpdateInvoiceStatus(ctx, ws.ID, "missing", domain.InvoicePaid, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCountPaidSince(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ws := testWorkspace(t, db, "628407")
	chat := seedChat(t, db, ws, "628999")

	midnight := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	a, err := db.CreateInvoice(ctx, ws.ID, testInvoice(chat, "INV-A"))
	require.NoError(t, err)
	b, err := db.CreateInvoice(ctx, ws.ID, testInvoice(chat, "INV-B"))
	require.NoError(t, err)
	c, err := db.CreateInvoice(ctx, ws.ID, testInvoice(chat, "INV-C"))
	require.NoError(t, err)

	_, err = db.UpdateInvoiceStatus(ctx, ws.ID, a.ID, domain.InvoicePaid, midnight.Add(time.Hour))
	require.NoError(t, err)
	_, err = db.UpdateInvoiceStatus(ctx, ws.ID, b.ID, domain.InvoicePaid, midnight.Add(-time.Hour))
	require.NoError(t, err)
	_, err = db.UpdateInvoiceStatus(ctx, ws.ID, c.ID, domain.InvoicePaid, midnight.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = db.UpdateInvoiceStatus(ctx, ws.ID, c.ID, domain.InvoiceApproved, midnight.Add(3*time.Hour))
	require.NoError(t, err)

	n, err := db.CountPaidSince(ctx, ws.ID, midnight)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
