package invoice

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/soyeahso/vlowchat/internal/domain"
)

// SheetName is the worksheet holding one row per invoice.
const SheetName = "Invoices"

// ItemsSheetName holds one row per line item.
const ItemsSheetName = "Items"

var invoiceHeaders = []string{
	"Invoice Number", "Status", "Chat ID", "Contact ID", "Currency",
	"Subtotal", "Discount", "Tax", "Total", "Created By", "Created At", "Updated At",
}

var itemHeaders = []string{
	"Invoice Number", "Name", "Description", "Quantity", "Unit Price",
	"Discount Type", "Discount Value", "Line Total",
}

// Export writes the filtered invoices of a workspace as an xlsx workbook.
// Timestamps are rendered in the workspace's timezone.
func (s *Service) Export(ctx context.Context, p domain.Principal, workspaceID string, req ListRequest, w io.Writer) (int, error) {
	list, err := s.List(ctx, p, workspaceID, req)
	if err != nil {
		return 0, err
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return 0, notFoundAs(err, "Workspace not found")
	}
	// List omits items; load them per invoice for the items sheet.
	full := make([]domain.Invoice, 0, len(list))
	for _, inv := range list {
		withItems, err := s.store.GetInvoice(ctx, workspaceID, inv.ID)
		if err != nil {
			return 0, err
		}
		full = append(full, withItems)
	}
	if err := WriteWorkbook(w, full, ws); err != nil {
		return 0, err
	}
	s.log.Info().Str("workspace_id", workspaceID).Int("invoices", len(full)).Msg("invoices exported")
	return len(full), nil
}

// WriteWorkbook renders invoices into a two-sheet workbook.
func WriteWorkbook(w io.Writer, invoices []domain.Invoice, ws domain.Workspace) error {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(SheetName); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	if _, err := f.NewSheet(ItemsSheetName); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("deleting default sheet: %w", err)
	}
	if idx, err := f.GetSheetIndex(SheetName); err == nil {
		f.SetActiveSheet(idx)
	}

	if err := writeRow(f, SheetName, 1, toAny(invoiceHeaders)); err != nil {
		return err
	}
	if err := writeRow(f, ItemsSheetName, 1, toAny(itemHeaders)); err != nil {
		return err
	}

	loc := ws.Location()
	itemRow := 2
	for i, inv := range invoices {
		row := []any{
			inv.InvoiceNumber,
			string(inv.Status),
			inv.ChatID,
			inv.ContactID,
			inv.CurrencyCode,
			inv.SubtotalAmount,
			inv.DiscountAmount,
			inv.TaxAmount,
			inv.TotalAmount,
			string(inv.CreatedByType),
			inv.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
			inv.UpdatedAt.In(loc).Format("2006-01-02 15:04:05"),
		}
		if err := writeRow(f, SheetName, i+2, row); err != nil {
			return err
		}
		for _, it := range inv.Items {
			if err := writeRow(f, ItemsSheetName, itemRow, []any{
				inv.InvoiceNumber,
				it.Name,
				it.Description,
				it.Quantity,
				it.UnitPrice,
				string(it.DiscountType),
				it.DiscountValue,
				it.LineTotal,
			}); err != nil {
				return err
			}
			itemRow++
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	for col, v := range values {
		cell, err := excelize.CoordinatesToCellName(col+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return fmt.Errorf("setting %s!%s: %w", sheet, cell, err)
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
