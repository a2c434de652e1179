package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Entities reads denormalized snapshots from the ERP tables. It never writes.
type Entities struct {
	db     *DB
	logger *zap.Logger
}

func NewEntities(db *DB, logger *zap.Logger) *Entities {
	return &Entities{db: db, logger: logger}
}

const customerColumns = `
	c.id, COALESCE(c.first_name, ''), COALESCE(c.last_name, ''),
	COALESCE(c.name, ''), COALESCE(c.phone, ''), COALESCE(c.email, '')`

func customerDest(c *Customer) []any {
	return []any{&c.ID, &c.FirstName, &c.LastName, &c.Name, &c.Phone, &c.Email}
}

// Repair loads a repair request with its customer and device.
func (e *Entities) Repair(ctx context.Context, id int64) (*RepairSnapshot, error) {
	query := `
		SELECT
			rr.id, COALESCE(rr.request_number, ''), rr.status,
			COALESCE(d.brand, ''), COALESCE(d.model, ''), COALESCE(d.device_type, ''),
			COALESCE(rr.reported_problem, ''), COALESCE(rr.custom_fields::text, ''),
			COALESCE(rr.customer_notes, ''), COALESCE(rr.notes, ''),
			COALESCE(rr.technician_report, ''), COALESCE(rr.diagnostic_notes, ''),
			rr.estimated_cost, COALESCE(rr.currency, 'EGP'), COALESCE(rr.tracking_token, ''),
			COALESCE(rr.rejection_reason, ''), COALESCE(rr.hold_reason, ''),
			COALESCE(old_inv.id::text, ''),
			rr.created_at, rr.updated_at,` + customerColumns + `
		FROM repair_requests rr
		JOIN customers c ON c.id = rr.customer_id
		LEFT JOIN devices d ON d.id = rr.device_id
		LEFT JOIN invoices old_inv ON old_inv.id = rr.old_invoice_id
		WHERE rr.id = $1 AND rr.deleted_at IS NULL
	`

	var s RepairSnapshot
	dest := []any{
		&s.ID, &s.RequestNumber, &s.Status,
		&s.DeviceBrand, &s.DeviceModel, &s.DeviceType,
		&s.ReportedProblem, &s.CustomFields,
		&s.CustomerNotes, &s.Notes,
		&s.TechnicianReport, &s.DiagnosticNotes,
		&s.EstimatedCost, &s.Currency, &s.TrackingToken,
		&s.RejectionReason, &s.HoldReason,
		&s.OldInvoiceNumber,
		&s.CreatedAt, &s.UpdatedAt,
	}
	err := e.db.Pool().QueryRow(ctx, query, id).Scan(append(dest, customerDest(&s.Customer)...)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("repair %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query repair snapshot: %w", err)
	}
	return &s, nil
}

// Invoice loads an invoice with its items and customer.
func (e *Entities) Invoice(ctx context.Context, id int64) (*InvoiceSnapshot, error) {
	query := `
		SELECT
			i.id, i.status, i.repair_request_id,
			COALESCE(i.total_amount, 0), COALESCE(i.amount_paid, 0),
			i.discount_percent, COALESCE(i.discount_amount, 0),
			COALESCE(i.tax_amount, 0), COALESCE(i.shipping_amount, 0),
			COALESCE(i.currency, 'EGP'), i.created_at, i.due_date,` + customerColumns + `
		FROM invoices i
		JOIN customers c ON c.id = i.customer_id
		WHERE i.id = $1 AND i.deleted_at IS NULL
	`

	var s InvoiceSnapshot
	dest := []any{
		&s.ID, &s.Status, &s.RepairRequestID,
		&s.TotalAmount, &s.AmountPaid,
		&s.DiscountPercent, &s.DiscountAmount,
		&s.TaxAmount, &s.ShippingAmount,
		&s.Currency, &s.CreatedAt, &s.DueDate,
	}
	err := e.db.Pool().QueryRow(ctx, query, id).Scan(append(dest, customerDest(&s.Customer)...)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("invoice %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query invoice snapshot: %w", err)
	}

	rows, err := e.db.Pool().Query(ctx, `
		SELECT COALESCE(description, ''), COALESCE(quantity, 0), COALESCE(unit_price, 0)
		FROM invoice_items WHERE invoice_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query invoice items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item InvoiceItem
		if err := rows.Scan(&item.Description, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan invoice item: %w", err)
		}
		s.Items = append(s.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return &s, nil
}

// Quotation loads a quotation with its customer and linked repair number.
func (e *Entities) Quotation(ctx context.Context, id int64) (*QuotationSnapshot, error) {
	query := `
		SELECT
			q.id, q.status, q.repair_request_id, COALESCE(rr.request_number, ''),
			COALESCE(q.total_amount, 0), COALESCE(q.currency, 'EGP'),
			q.valid_until, q.created_at,` + customerColumns + `
		FROM quotations q
		JOIN customers c ON c.id = q.customer_id
		LEFT JOIN repair_requests rr ON rr.id = q.repair_request_id
		WHERE q.id = $1 AND q.deleted_at IS NULL
	`

	var s QuotationSnapshot
	dest := []any{
		&s.ID, &s.Status, &s.RepairRequestID, &s.RepairNumber,
		&s.TotalAmount, &s.Currency,
		&s.ValidUntil, &s.CreatedAt,
	}
	err := e.db.Pool().QueryRow(ctx, query, id).Scan(append(dest, customerDest(&s.Customer)...)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("quotation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query quotation snapshot: %w", err)
	}
	return &s, nil
}

// Payment loads a payment with its invoice totals. PreviousPaid sums the
// invoice's earlier payments.
func (e *Entities) Payment(ctx context.Context, id int64) (*PaymentSnapshot, error) {
	query := `
		SELECT
			p.id, p.invoice_id, COALESCE(p.amount, 0),
			COALESCE((
				SELECT SUM(prev.amount) FROM payments prev
				WHERE prev.invoice_id = p.invoice_id AND prev.id <> p.id
					AND prev.created_at <= p.created_at
			), 0),
			COALESCE(i.total_amount, 0), COALESCE(p.currency, i.currency, 'EGP'),
			COALESCE(p.payment_method, ''), COALESCE(p.payment_date, p.created_at),
			i.due_date,` + customerColumns + `
		FROM payments p
		JOIN invoices i ON i.id = p.invoice_id
		JOIN customers c ON c.id = i.customer_id
		WHERE p.id = $1
	`

	var s PaymentSnapshot
	dest := []any{
		&s.ID, &s.InvoiceID, &s.Amount,
		&s.PreviousPaid,
		&s.InvoiceTotal, &s.Currency,
		&s.PaymentMethod, &s.PaymentDate,
		&s.DueDate,
	}
	err := e.db.Pool().QueryRow(ctx, query, id).Scan(append(dest, customerDest(&s.Customer)...)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("payment %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query payment snapshot: %w", err)
	}
	return &s, nil
}

// OverdueInvoices returns unpaid invoices whose due date is before today.
func (e *Entities) OverdueInvoices(ctx context.Context, today time.Time, limit int) ([]ReminderCandidate, error) {
	query := `
		SELECT i.id, c.id, COALESCE(c.phone, ''), COALESCE(c.email, ''), i.due_date
		FROM invoices i
		JOIN customers c ON c.id = i.customer_id
		WHERE i.status IN ('unpaid', 'partially_paid', 'overdue')
			AND i.due_date IS NOT NULL
			AND i.due_date < $1
			AND COALESCE(i.amount_paid, 0) < COALESCE(i.total_amount, 0)
			AND i.deleted_at IS NULL
		ORDER BY i.due_date ASC
		LIMIT $2
	`
	return e.candidates(ctx, query, today, limit)
}

// UpcomingInvoices returns unpaid invoices due between from and to inclusive.
func (e *Entities) UpcomingInvoices(ctx context.Context, from, to time.Time, limit int) ([]ReminderCandidate, error) {
	query := `
		SELECT i.id, c.id, COALESCE(c.phone, ''), COALESCE(c.email, ''), i.due_date
		FROM invoices i
		JOIN customers c ON c.id = i.customer_id
		WHERE i.status IN ('unpaid', 'partially_paid')
			AND i.due_date BETWEEN $1 AND $2
			AND COALESCE(i.amount_paid, 0) < COALESCE(i.total_amount, 0)
			AND i.deleted_at IS NULL
		ORDER BY i.due_date ASC
		LIMIT $3
	`
	return e.candidates(ctx, query, from, to, limit)
}

func (e *Entities) candidates(ctx context.Context, query string, args ...any) ([]ReminderCandidate, error) {
	rows, err := e.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminder candidates: %w", err)
	}
	defer rows.Close()

	var out []ReminderCandidate
	for rows.Next() {
		var c ReminderCandidate
		if err := rows.Scan(&c.InvoiceID, &c.CustomerID, &c.Phone, &c.Email, &c.DueDate); err != nil {
			return nil, fmt.Errorf("scan reminder candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// MessagingSettings returns the raw messaging_settings document, or nil when absent.
func (e *Entities) MessagingSettings(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := e.db.Pool().QueryRow(ctx,
		`SELECT value::text FROM system_settings WHERE key = 'messaging_settings'`,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query messaging settings: %w", err)
	}
	return raw, nil
}
