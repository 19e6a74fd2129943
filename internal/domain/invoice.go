package domain

import "time"

// InvoiceStatus is the payment lifecycle of an invoice.
type InvoiceStatus string

const (
	InvoiceWaitingForPayment InvoiceStatus = "waiting_for_payment"
	InvoicePaid              InvoiceStatus = "paid"
	InvoiceApproved          InvoiceStatus = "approved"
)

// ParseInvoiceStatus validates a wire value.
func ParseInvoiceStatus(s string) (InvoiceStatus, error) {
	switch InvoiceStatus(s) {
	case InvoiceWaitingForPayment, InvoicePaid, InvoiceApproved:
		return InvoiceStatus(s), nil
	}
	return "", Validation("status must be one of: waiting_for_payment, paid, approved")
}

// invoiceTransitions lists the allowed moves. approved -> paid is the manual
// "return to paid" reversal.
var invoiceTransitions = map[InvoiceStatus][]InvoiceStatus{
	InvoiceWaitingForPayment: {InvoicePaid},
	InvoicePaid:              {InvoiceApproved},
	InvoiceApproved:          {InvoicePaid},
}

// CanTransition reports whether an invoice may move from s to next.
// Re-applying the current status is allowed.
func (s InvoiceStatus) CanTransition(next InvoiceStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range invoiceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// DiscountType describes how a discount value is applied.
type DiscountType string

const (
	DiscountNone       DiscountType = "none"
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// ParseDiscountType validates a wire value; empty means none.
func ParseDiscountType(s string) (DiscountType, error) {
	switch DiscountType(s) {
	case "", DiscountNone:
		return DiscountNone, nil
	case DiscountPercentage, DiscountFixed:
		return DiscountType(s), nil
	}
	return "", Validation("discount_type must be one of: none, percentage, fixed")
}

// Invoice is a billing record attached to a chat. Amounts are integer minor
// units of CurrencyCode.
type Invoice struct {
	ID              string        `json:"id"`
	WorkspaceID     string        `json:"workspace_id"`
	ChatID          string        `json:"chat_id"`
	ContactID       string        `json:"contact_id"`
	InvoiceNumber   string        `json:"invoice_number"`
	Status          InvoiceStatus `json:"status"`
	CurrencyCode    string        `json:"currency_code"`
	SubtotalAmount  int64         `json:"subtotal_amount"`
	DiscountAmount  int64         `json:"discount_amount"`
	TaxAmount       int64         `json:"tax_amount"`
	TotalAmount     int64         `json:"total_amount"`
	CreatedByType   SenderType    `json:"created_by_type"`
	CreatedByUserID string        `json:"created_by_user_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`

	Items []InvoiceItem `json:"items,omitempty"`
}

// InvoiceItem is an immutable line item.
type InvoiceItem struct {
	ID            string       `json:"id"`
	InvoiceID     string       `json:"invoice_id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Quantity      int64        `json:"quantity"`
	UnitPrice     int64        `json:"unit_price"`
	DiscountType  DiscountType `json:"discount_type"`
	DiscountValue int64        `json:"discount_value"`
	LineTotal     int64        `json:"line_total"`
}

// ComputeLineTotal applies the item discount to quantity * unit price.
// Percentage values are whole percents. The result never goes below zero.
func (it InvoiceItem) ComputeLineTotal() int64 {
	gross := it.Quantity * it.UnitPrice
	var discount int64
	switch it.DiscountType {
	case DiscountPercentage:
		discount = gross * it.DiscountValue / 100
	case DiscountFixed:
		discount = it.DiscountValue
	}
	return max(gross-discount, 0)
}

// InvoiceTotals holds recomputed amounts.
type InvoiceTotals struct {
	Subtotal int64
	Total    int64
}

// ComputeInvoiceTotals recomputes subtotal from the items and the total from
// subtotal, discount and tax.
func ComputeInvoiceTotals(items []InvoiceItem, discount, tax int64) InvoiceTotals {
	var subtotal int64
	for _, it := range items {
		subtotal += it.ComputeLineTotal()
	}
	return InvoiceTotals{Subtotal: subtotal, Total: max(subtotal-discount+tax, 0)}
}
