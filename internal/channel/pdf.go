package channel

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/resolver"
)

// InvoicePDF renders a one-page invoice summary.
//
// The core PDF fonts only cover Latin-1, so labels are English and
// non-Latin customer text is transliterated by the font translator.
func InvoicePDF(inv *db.InvoiceSnapshot, brand, address string) (*Attachment, error) {
	if brand == "" {
		brand = DefaultBrand
	}
	totals := resolver.Totals(inv)
	currency := inv.Currency
	if currency == "" {
		currency = resolver.DefaultCurrency
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, tr(brand))
	pdf.Ln(8)
	if address != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.Cell(0, 6, tr(address))
		pdf.Ln(8)
	}

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 8, fmt.Sprintf("Invoice #%d", inv.ID))
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 10)
	meta := [][2]string{
		{"Customer", inv.Customer.Name},
		{"Date", resolver.Date(&inv.CreatedAt)},
		{"Due date", resolver.Date(inv.DueDate)},
		{"Status", inv.Status},
	}
	for _, row := range meta {
		if row[1] == resolver.Unspecified || row[1] == "" {
			continue
		}
		pdf.CellFormat(35, 6, row[0]+":", "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr(row[1]), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	headers := []string{"Description", "Qty", "Unit price", "Total"}
	widths := []float64{95, 20, 35, 40}

	pdf.SetFont("Arial", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, item := range inv.Items {
		pdf.CellFormat(widths[0], 6, tr(item.Description), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, strconv.FormatFloat(item.Quantity, 'f', -1, 64), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[2], 6, resolver.Amount(item.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, resolver.Amount(item.Quantity*item.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	summary := [][2]string{
		{"Subtotal", resolver.Money(totals.Subtotal, currency)},
		{"Discount", resolver.Money(totals.Discount, currency)},
		{"Tax", resolver.Money(inv.TaxAmount, currency)},
		{"Shipping", resolver.Money(inv.ShippingAmount, currency)},
		{"Total", resolver.Money(totals.Total, currency)},
		{"Paid", resolver.Money(inv.AmountPaid, currency)},
		{"Remaining", resolver.Money(totals.Remaining, currency)},
	}
	for _, row := range summary {
		pdf.CellFormat(150, 6, row[0], "", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, row[1], "", 1, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render invoice pdf: %w", err)
	}

	return &Attachment{
		Name:        fmt.Sprintf("invoice-%d.pdf", inv.ID),
		ContentType: "application/pdf",
		Data:        buf.Bytes(),
	}, nil
}

// InvoiceRows formats invoice items for the email table.
func InvoiceRows(inv *db.InvoiceSnapshot) []ItemRow {
	currency := inv.Currency
	rows := make([]ItemRow, 0, len(inv.Items))
	for _, item := range inv.Items {
		rows = append(rows, ItemRow{
			Description: item.Description,
			Quantity:    strconv.FormatFloat(item.Quantity, 'f', -1, 64),
			UnitPrice:   resolver.Money(item.UnitPrice, currency),
			Total:       resolver.Money(item.Quantity*item.UnitPrice, currency),
		})
	}
	return rows
}
