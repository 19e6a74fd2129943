// Package invoice is the billing subledger attached to chats: creation with
// generated numbers, status lifecycle, reporting and spreadsheet export.
package invoice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/hooks"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/store"
)

// Store is the persistence the subledger needs.
type Store interface {
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
	GetWorkspace(ctx context.Context, workspaceID string) (domain.Workspace, error)
	CreateInvoice(ctx context.Context, workspaceID string, inv domain.Invoice) (domain.Invoice, error)
	GetInvoice(ctx context.Context, workspaceID, invoiceID string) (domain.Invoice, error)
	InvoiceWorkspaceID(ctx context.Context, invoiceID string) (string, error)
	ListInvoices(ctx context.Context, workspaceID string, f store.InvoiceFilter) ([]domain.Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, workspaceID, invoiceID string, next domain.InvoiceStatus, at time.Time) (domain.Invoice, error)
	CountPaidSince(ctx context.Context, workspaceID string, since time.Time) (int, error)
	CountInvoicesWithPrefix(ctx context.Context, workspaceID, prefix string) (int, error)
}

// maxNumberAttempts bounds retries when two creators race for a number.
const maxNumberAttempts = 5

// Service implements the invoice operations.
type Service struct {
	store  Store
	hooks  *hooks.Manager
	prefix string
	now    func() time.Time
	log    *logging.Logger
}

// New creates an invoice service. prefix defaults to "INV".
func New(s Store, h *hooks.Manager, prefix string, log *logging.Logger) *Service {
	if prefix == "" {
		prefix = "INV"
	}
	return &Service{store: s, hooks: h, prefix: prefix, now: time.Now, log: log.Sub("invoice")}
}

// ItemInput is one requested line item.
type ItemInput struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Quantity      int64  `json:"quantity"`
	UnitPrice     int64  `json:"unit_price"`
	DiscountType  string `json:"discount_type,omitempty"`
	DiscountValue int64  `json:"discount_value,omitempty"`
	LineTotal     *int64 `json:"line_total,omitempty"`
}

// CreateRequest is the body of an invoice creation. Amounts are minor units.
type CreateRequest struct {
	ChatID         string      `json:"chat_id"`
	InvoiceNumber  string      `json:"invoice_number,omitempty"`
	CurrencyCode   string      `json:"currency_code,omitempty"`
	SubtotalAmount *int64      `json:"subtotal_amount,omitempty"`
	DiscountAmount int64       `json:"discount_amount,omitempty"`
	TaxAmount      int64       `json:"tax_amount,omitempty"`
	TotalAmount    *int64      `json:"total_amount,omitempty"`
	Items          []ItemInput `json:"items"`
}

func (req CreateRequest) items() ([]domain.InvoiceItem, error) {
	if len(req.Items) == 0 {
		return nil, domain.Validation("items must contain at least one item")
	}
	out := make([]domain.InvoiceItem, 0, len(req.Items))
	for i, in := range req.Items {
		name := strings.TrimSpace(in.Name)
		if name == "" {
			return nil, domain.Validation(fmt.Sprintf("items[%d].name is required", i))
		}
		if in.Quantity <= 0 {
			return nil, domain.Validation(fmt.Sprintf("items[%d].quantity must be positive", i))
		}
		if in.UnitPrice < 0 || in.DiscountValue < 0 {
			return nil, domain.Validation(fmt.Sprintf("items[%d] amounts must not be negative", i))
		}
		dt, err := domain.ParseDiscountType(in.DiscountType)
		if err != nil {
			return nil, err
		}
		if dt == domain.DiscountPercentage && in.DiscountValue > 100 {
			return nil, domain.Validation(fmt.Sprintf("items[%d].discount_value must be at most 100 for percentage discounts", i))
		}
		it := domain.InvoiceItem{
			Name:          name,
			Description:   strings.TrimSpace(in.Description),
			Quantity:      in.Quantity,
			UnitPrice:     in.UnitPrice,
			DiscountType:  dt,
			DiscountValue: in.DiscountValue,
		}
		if in.LineTotal != nil {
			it.LineTotal = *in.LineTotal
		} else {
			it.LineTotal = it.ComputeLineTotal()
		}
		out = append(out, it)
	}
	return out, nil
}

// Create stores a new invoice for a chat in the caller's workspace. Amounts
// sent by the client are kept as given; a mismatch with the recomputed
// totals is logged.
func (s *Service) Create(ctx context.Context, p domain.Principal, workspaceID string, req CreateRequest) (domain.Invoice, error) {
	if strings.TrimSpace(req.ChatID) == "" {
		return domain.Invoice{}, domain.Validation("chat_id is required")
	}
	if req.DiscountAmount < 0 || req.TaxAmount < 0 {
		return domain.Invoice{}, domain.Validation("amounts must not be negative")
	}
	items, err := req.items()
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := s.authorize(ctx, p, workspaceID); err != nil {
		return domain.Invoice{}, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return domain.Invoice{}, notFoundAs(err, "Workspace not found")
	}

	computed := domain.ComputeInvoiceTotals(items, req.DiscountAmount, req.TaxAmount)
	subtotal, total := computed.Subtotal, computed.Total
	if req.SubtotalAmount != nil {
		subtotal = *req.SubtotalAmount
	}
	if req.TotalAmount != nil {
		total = *req.TotalAmount
	}
	if subtotal != computed.Subtotal || total != computed.Total {
		s.log.Warn().
			Str("workspace_id", workspaceID).
			Str("chat_id", req.ChatID).
			Int64("subtotal", subtotal).
			Int64("computed_subtotal", computed.Subtotal).
			Int64("total", total).
			Int64("computed_total", computed.Total).
			Msg("invoice totals differ from line items")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.CurrencyCode))
	if currency == "" {
		currency = ws.CurrencyCode
	}

	inv := domain.Invoice{
		ChatID:         req.ChatID,
		InvoiceNumber:  strings.TrimSpace(req.InvoiceNumber),
		Status:         domain.InvoiceWaitingForPayment,
		CurrencyCode:   currency,
		SubtotalAmount: subtotal,
		DiscountAmount: req.DiscountAmount,
		TaxAmount:      req.TaxAmount,
		TotalAmount:    total,
		CreatedByType:  domain.SenderHuman,
		Items:          items,
	}
	if p.Kind == domain.TokenKindAI {
		inv.CreatedByType = domain.SenderAI
	} else {
		inv.CreatedByUserID = p.UserID
	}

	created, err := s.insert(ctx, ws, inv)
	if err != nil {
		return domain.Invoice{}, err
	}
	s.log.Info().
		Str("workspace_id", workspaceID).
		Str("invoice_id", created.ID).
		Str("number", created.InvoiceNumber).
		Int64("total", created.TotalAmount).
		Msg("invoice created")
	s.emit(ctx, workspaceID, created)
	return created, nil
}

// insert stores inv, generating a number when none was given and retrying
// when a concurrent creator took the same one.
func (s *Service) insert(ctx context.Context, ws domain.Workspace, inv domain.Invoice) (domain.Invoice, error) {
	explicit := inv.InvoiceNumber != ""
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		if !explicit {
			n, err := s.nextNumber(ctx, ws, attempt)
			if err != nil {
				return domain.Invoice{}, err
			}
			inv.InvoiceNumber = n
		}
		created, err := s.store.CreateInvoice(ctx, ws.ID, inv)
		switch {
		case err == nil:
			return created, nil
		case errors.Is(err, domain.ErrNotFound):
			return domain.Invoice{}, domain.NotFound("Chat not found")
		case errors.Is(err, store.ErrDuplicate) && explicit:
			return domain.Invoice{}, domain.Conflict("Invoice number already exists")
		case errors.Is(err, store.ErrDuplicate):
			continue
		default:
			return domain.Invoice{}, err
		}
	}
	return domain.Invoice{}, domain.Conflict("Could not allocate an invoice number")
}

// nextNumber returns PREFIX-YYYYMMDD-NNNN for the workspace's local day.
func (s *Service) nextNumber(ctx context.Context, ws domain.Workspace, offset int) (string, error) {
	day := s.now().In(ws.Location()).Format("20060102")
	prefix := fmt.Sprintf("%s-%s-", s.prefix, day)
	n, err := s.store.CountInvoicesWithPrefix(ctx, ws.ID, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, n+1+offset), nil
}

// Get loads one invoice with its items.
func (s *Service) Get(ctx context.Context, p domain.Principal, invoiceID string) (domain.Invoice, error) {
	wsID, err := s.authorizeInvoice(ctx, p, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv, err := s.store.GetInvoice(ctx, wsID, invoiceID)
	return inv, notFoundAs(err, "Invoice not found")
}

// ListRequest filters List.
type ListRequest struct {
	Statuses []string
	ChatID   string
	Limit    int
}

// List returns a workspace's invoices newest first.
func (s *Service) List(ctx context.Context, p domain.Principal, workspaceID string, req ListRequest) ([]domain.Invoice, error) {
	f := store.InvoiceFilter{ChatID: req.ChatID, Limit: req.Limit}
	for _, raw := range req.Statuses {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			st, err := domain.ParseInvoiceStatus(part)
			if err != nil {
				return nil, err
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if err := s.authorize(ctx, p, workspaceID); err != nil {
		return nil, err
	}
	return s.store.ListInvoices(ctx, workspaceID, f)
}

// UpdateStatus moves an invoice through its lifecycle and touches updated_at.
func (s *Service) UpdateStatus(ctx context.Context, p domain.Principal, invoiceID, status string) (domain.Invoice, error) {
	next, err := domain.ParseInvoiceStatus(status)
	if err != nil {
		return domain.Invoice{}, err
	}
	wsID, err := s.authorizeInvoice(ctx, p, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}

	inv, err := s.store.UpdateInvoiceStatus(ctx, wsID, invoiceID, next, s.now())
	switch {
	case errors.Is(err, store.ErrInvalidTransition):
		return domain.Invoice{}, domain.Conflict(fmt.Sprintf("Invoice cannot move from %s to %s", inv.Status, next))
	case err != nil:
		return domain.Invoice{}, notFoundAs(err, "Invoice not found")
	}
	s.log.Info().Str("workspace_id", wsID).Str("invoice_id", invoiceID).Str("status", string(next)).Msg("invoice status changed")
	s.emit(ctx, wsID, inv)
	return inv, nil
}

// PaidToday counts invoices that reached paid since midnight in the
// workspace's timezone.
func (s *Service) PaidToday(ctx context.Context, p domain.Principal, workspaceID string) (int, error) {
	if err := s.authorize(ctx, p, workspaceID); err != nil {
		return 0, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return 0, notFoundAs(err, "Workspace not found")
	}
	return s.store.CountPaidSince(ctx, workspaceID, StartOfDay(s.now(), ws.Location()))
}

// StartOfDay returns local midnight of t in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func (s *Service) authorize(ctx context.Context, p domain.Principal, workspaceID string) error {
	ok, err := s.store.IsMember(ctx, workspaceID, p.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.Forbidden("Not a workspace member")
	}
	return nil
}

func (s *Service) authorizeInvoice(ctx context.Context, p domain.Principal, invoiceID string) (string, error) {
	wsID, err := s.store.InvoiceWorkspaceID(ctx, invoiceID)
	if err != nil {
		return "", notFoundAs(err, "Invoice not found")
	}
	return wsID, s.authorize(ctx, p, wsID)
}

func (s *Service) emit(ctx context.Context, wsID string, inv domain.Invoice) {
	if s.hooks != nil {
		s.hooks.Emit(ctx, hooks.EventInvoiceChanged, wsID, inv)
	}
}

func notFoundAs(err error, msg string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NotFound(msg)
	}
	return err
}
