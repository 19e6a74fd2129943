package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/soyeahso/vlowchat/internal/domain"
)

type invoiceRow struct {
	ID              string         `db:"id"`
	WorkspaceID     string         `db:"workspace_id"`
	ChatID          string         `db:"chat_id"`
	ContactID       string         `db:"contact_id"`
	InvoiceNumber   string         `db:"invoice_number"`
	Status          string         `db:"status"`
	CurrencyCode    string         `db:"currency_code"`
	SubtotalAmount  int64          `db:"subtotal_amount"`
	DiscountAmount  int64          `db:"discount_amount"`
	TaxAmount       int64          `db:"tax_amount"`
	TotalAmount     int64          `db:"total_amount"`
	CreatedByType   string         `db:"created_by_type"`
	CreatedByUserID sql.NullString `db:"created_by_user_id"`
	CreatedAt       int64          `db:"created_at"`
	UpdatedAt       int64          `db:"updated_at"`
}

func (r invoiceRow) toDomain() domain.Invoice {
	return domain.Invoice{
		ID:              r.ID,
		WorkspaceID:     r.WorkspaceID,
		ChatID:          r.ChatID,
		ContactID:       r.ContactID,
		InvoiceNumber:   r.InvoiceNumber,
		Status:          domain.InvoiceStatus(r.Status),
		CurrencyCode:    r.CurrencyCode,
		SubtotalAmount:  r.SubtotalAmount,
		DiscountAmount:  r.DiscountAmount,
		TaxAmount:       r.TaxAmount,
		TotalAmount:     r.TotalAmount,
		CreatedByType:   domain.SenderType(r.CreatedByType),
		CreatedByUserID: r.CreatedByUserID.String,
		CreatedAt:       fromMicros(r.CreatedAt),
		UpdatedAt:       fromMicros(r.UpdatedAt),
	}
}

type invoiceItemRow struct {
	ID            string         `db:"id"`
	InvoiceID     string         `db:"invoice_id"`
	LineNo        int            `db:"line_no"`
	Name          string         `db:"name"`
	Description   sql.NullString `db:"description"`
	Quantity      int64          `db:"quantity"`
	UnitPrice     int64          `db:"unit_price"`
	DiscountType  string         `db:"discount_type"`
	DiscountValue int64          `db:"discount_value"`
	LineTotal     int64          `db:"line_total"`
}

func (r invoiceItemRow) toDomain() domain.InvoiceItem {
	return domain.InvoiceItem{
		ID:            r.ID,
		InvoiceID:     r.InvoiceID,
		Name:          r.Name,
		Description:   r.Description.String,
		Quantity:      r.Quantity,
		UnitPrice:     r.UnitPrice,
		DiscountType:  domain.DiscountType(r.DiscountType),
		DiscountValue: r.DiscountValue,
		LineTotal:     r.LineTotal,
	}
}

const invoiceColumns = `id, workspace_id, chat_id, contact_id, invoice_number, status, currency_code,
	subtotal_amount, discount_amount, tax_amount, total_amount, created_by_type, created_by_user_id,
	created_at, updated_at`

const invoiceItemColumns = `id, invoice_id, line_no, name, description, quantity, unit_price,
	discount_type, discount_value, line_total`

// CreateInvoice inserts an invoice and its items atomically. The chat must
// belong to the workspace; its contact is copied onto the invoice.
func (db *DB) CreateInvoice(ctx context.Context, workspaceID string, inv domain.Invoice) (domain.Invoice, error) {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	now := time.Now()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = inv.CreatedAt
	if inv.Status == "" {
		inv.Status = domain.InvoiceWaitingForPayment
	}
	inv.WorkspaceID = workspaceID

	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		var contactID string
		err := tx.GetContext(ctx, &contactID, db.q(`
			SELECT contact_id FROM chats WHERE workspace_id = ? AND id = ?`),
			workspaceID, inv.ChatID,
		)
		if err != nil {
			return fmt.Errorf("loading invoice chat: %w", notFound(err))
		}
		inv.ContactID = contactID

		_, err = tx.ExecContext(ctx, db.q(`
			INSERT INTO invoices (`+invoiceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			inv.ID, workspaceID, inv.ChatID, inv.ContactID, inv.InvoiceNumber, string(inv.Status),
			inv.CurrencyCode, inv.SubtotalAmount, inv.DiscountAmount, inv.TaxAmount, inv.TotalAmount,
			string(inv.CreatedByType), nullString(inv.CreatedByUserID),
			toMicros(inv.CreatedAt), toMicros(inv.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("invoice number %q: %w", inv.InvoiceNumber, ErrDuplicate)
			}
			return fmt.Errorf("inserting invoice: %w", err)
		}

		for i := range inv.Items {
			it := &inv.Items[i]
			if it.ID == "" {
				it.ID = uuid.NewString()
			}
			it.InvoiceID = inv.ID
			if it.DiscountType == "" {
				it.DiscountType = domain.DiscountNone
			}
			_, err := tx.ExecContext(ctx, db.q(`
				INSERT INTO invoice_items (`+invoiceItemColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				it.ID, inv.ID, i, it.Name, nullString(it.Description), it.Quantity, it.UnitPrice,
				string(it.DiscountType), it.DiscountValue, it.LineTotal,
			)
			if err != nil {
				return fmt.Errorf("inserting invoice item %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.CreatedAt = fromMicros(toMicros(inv.CreatedAt))
	inv.UpdatedAt = inv.CreatedAt
	return inv, nil
}

// GetInvoice loads an invoice with its items.
func (db *DB) GetInvoice(ctx context.Context, workspaceID, invoiceID string) (domain.Invoice, error) {
	var row invoiceRow
	err := db.x.GetContext(ctx, &row, db.q(`
		SELECT `+invoiceColumns+` FROM invoices WHERE workspace_id = ? AND id = ?`),
		workspaceID, invoiceID,
	)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("loading invoice: %w", notFound(err))
	}
	inv := row.toDomain()

	var items []invoiceItemRow
	err = db.x.SelectContext(ctx, &items, db.q(`
		SELECT `+invoiceItemColumns+` FROM invoice_items WHERE invoice_id = ? ORDER BY line_no`),
		invoiceID,
	)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("loading invoice items: %w", err)
	}
	for _, it := range items {
		inv.Items = append(inv.Items, it.toDomain())
	}
	return inv, nil
}

// InvoiceWorkspaceID resolves which workspace owns an invoice, for callers
// that only hold an invoice id.
func (db *DB) InvoiceWorkspaceID(ctx context.Context, invoiceID string) (string, error) {
	var ws string
	err := db.x.GetContext(ctx, &ws, db.q(`SELECT workspace_id FROM invoices WHERE id = ?`), invoiceID)
	if err != nil {
		return "", fmt.Errorf("resolving invoice workspace: %w", notFound(err))
	}
	return ws, nil
}

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter struct {
	Statuses []domain.InvoiceStatus
	ChatID   string
	Limit    int
}

// ListInvoices returns invoices newest first, without items.
func (db *DB) ListInvoices(ctx context.Context, workspaceID string, f InvoiceFilter) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE workspace_id = ?`
	args := []any{workspaceID}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND status IN (` + strings.Join(marks, ", ") + `)`
	}
	if f.ChatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, f.ChatID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []invoiceRow
	if err := db.x.SelectContext(ctx, &rows, db.q(query), args...); err != nil {
		return nil, fmt.Errorf("listing invoices: %w", err)
	}
	out := make([]domain.Invoice, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// UpdateInvoiceStatus moves an invoice to next if the lifecycle allows it,
// touching updated_at. The check and the write are one conditional UPDATE.
func (db *DB) UpdateInvoiceStatus(ctx context.Context, workspaceID, invoiceID string, next domain.InvoiceStatus, at time.Time) (domain.Invoice, error) {
	var allowedFrom []string
	for _, from := range []domain.InvoiceStatus{domain.InvoiceWaitingForPayment, domain.InvoicePaid, domain.InvoiceApproved} {
		if from.CanTransition(next) {
			allowedFrom = append(allowedFrom, string(from))
		}
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(allowedFrom)), ", ")

	args := []any{string(next), toMicros(at), workspaceID, invoiceID}
	for _, s := range allowedFrom {
		args = append(args, s)
	}

	var row invoiceRow
	err := db.x.GetContext(ctx, &row, db.q(`
		UPDATE invoices SET status = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ? AND status IN (`+marks+`)
		RETURNING `+invoiceColumns),
		args...,
	)
	if err == nil {
		return row.toDomain(), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Invoice{}, fmt.Errorf("updating invoice status: %w", err)
	}

	// Either the invoice is missing or the transition is not allowed.
	current, lookupErr := db.GetInvoice(ctx, workspaceID, invoiceID)
	if lookupErr != nil {
		return domain.Invoice{}, lookupErr
	}
	return current, fmt.Errorf("invoice %s -> %s: %w", current.Status, next, ErrInvalidTransition)
}

// CountPaidSince counts invoices currently paid whose last status change is
// at or after since.
func (db *DB) CountPaidSince(ctx context.Context, workspaceID string, since time.Time) (int, error) {
	var n int
	err := db.x.GetContext(ctx, &n, db.q(`
		SELECT COUNT(*) FROM invoices WHERE workspace_id = ? AND status = ? AND updated_at >= ?`),
		workspaceID, string(domain.InvoicePaid), toMicros(since),
	)
	if err != nil {
		return 0, fmt.Errorf("counting paid invoices: %w", err)
	}
	return n, nil
}

// CountInvoicesWithPrefix counts invoice numbers sharing a prefix, used to
// sequence generated numbers.
func (db *DB) CountInvoicesWithPrefix(ctx context.Context, workspaceID, prefix string) (int, error) {
	var n int
	err := db.x.GetContext(ctx, &n, db.q(`
		SELECT COUNT(*) FROM invoices WHERE workspace_id = ? AND invoice_number LIKE ?`),
		workspaceID, prefix+"%",
	)
	if err != nil {
		return 0, fmt.Errorf("counting invoice numbers: %w", err)
	}
	return n, nil
}
