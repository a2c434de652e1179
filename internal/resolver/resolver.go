// Package resolver turns entity snapshots into the display variables used by
// message templates. Every function here is pure: no I/O, no clock reads.
package resolver

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fixzone/notifier/internal/db"
)

const (
	// Unspecified replaces any value that could not be resolved.
	Unspecified     = "غير محدد"
	DefaultCurrency = "EGP"

	defaultCustomerName = "العميل"
	pendingDiagnosis    = "قيد التشخيص"
	pendingCost         = "قيد التحديد"
	quotationValidity   = 30 * 24 * time.Hour
)

// Variables maps token names to display strings. Values are never absent.
type Variables map[string]string

// BaseURLFunc returns the frontend origin used to build links.
type BaseURLFunc func() string

// StaticBaseURL returns a BaseURLFunc for a fixed origin.
func StaticBaseURL(base string) BaseURLFunc {
	base = strings.TrimRight(base, "/")
	return func() string { return base }
}

type Resolver struct {
	baseURL  BaseURLFunc
	location string
}

// New builds a resolver. location is the shop address shown in pickup messages.
func New(baseURL BaseURLFunc, location string) *Resolver {
	if baseURL == nil {
		baseURL = StaticBaseURL("http://localhost:3000")
	}
	if location == "" {
		location = Unspecified
	}
	return &Resolver{baseURL: baseURL, location: location}
}

// Resolve dispatches on the snapshot type.
func (r *Resolver) Resolve(snapshot any) (Variables, error) {
	switch s := snapshot.(type) {
	case *db.RepairSnapshot:
		return r.Repair(s), nil
	case *db.InvoiceSnapshot:
		return r.Invoice(s), nil
	case *db.QuotationSnapshot:
		return r.Quotation(s), nil
	case *db.PaymentSnapshot:
		return r.Payment(s), nil
	default:
		return nil, fmt.Errorf("unsupported snapshot type %T", snapshot)
	}
}

// NeedsResolve reports whether caller-supplied variables are too thin to render with.
func NeedsResolve(entityType string, vars map[string]string) bool {
	if len(vars) == 0 {
		return true
	}
	if entityType == db.EntityRepair {
		p := strings.TrimSpace(vars["problem"])
		return !meaningful(p) || p == Unspecified
	}
	return false
}

func (r *Resolver) link(path string) string {
	return r.baseURL() + path
}

func customerName(c db.Customer) string {
	return Or(defaultCustomerName, Field(c.FirstName), Field(c.Name))
}

// RepairNumber returns the explicit request number, or REP-YYYYMMDD-NNN derived
// from the creation date and id.
func RepairNumber(s *db.RepairSnapshot) string {
	if v, ok := FirstOf(Field(s.RequestNumber)); ok {
		return v
	}
	return fmt.Sprintf("REP-%s-%03d", s.CreatedAt.Format("20060102"), s.ID)
}

// Repair resolves the repair request tokens.
func (r *Resolver) Repair(s *db.RepairSnapshot) Variables {
	problem := Or(Unspecified,
		Field(s.ReportedProblem),
		CustomField(s.CustomFields, "problemDescription", "problem", "description", "issueDescription"),
		Field(s.CustomerNotes),
		Field(s.Notes),
	)

	diagnosis := Or(pendingDiagnosis,
		Field(s.TechnicianReport),
		Field(s.Notes),
		Field(s.DiagnosticNotes),
	)

	estimatedCost := pendingCost
	if s.EstimatedCost != nil && *s.EstimatedCost > 0 {
		estimatedCost = Money(*s.EstimatedCost, s.Currency)
	}

	token := Or(strconv.FormatInt(s.ID, 10), Field(s.TrackingToken))

	oldInvoice := ""
	if v, ok := FirstOf(Field(s.OldInvoiceNumber)); ok {
		oldInvoice = "\n• فاتورة قديمة: #" + v
	}

	createdAt := s.CreatedAt
	return Variables{
		"customerName":     customerName(s.Customer),
		"repairNumber":     RepairNumber(s),
		"deviceInfo":       Or(Unspecified, Field(strings.TrimSpace(s.DeviceBrand+" "+s.DeviceModel))),
		"deviceBrand":      Or(Unspecified, Field(s.DeviceBrand)),
		"deviceModel":      Or(Unspecified, Field(s.DeviceModel)),
		"deviceType":       Or(Unspecified, Field(s.DeviceType)),
		"problem":          problem,
		"diagnosis":        diagnosis,
		"estimatedCost":    estimatedCost,
		"trackingUrl":      r.link("/track?trackingToken=" + url.QueryEscape(token)),
		"status":           label(repairStatusLabels, strings.ToUpper(s.Status)),
		"location":         r.location,
		"rejectionReason":  Or(Unspecified, Field(s.RejectionReason)),
		"holdReason":       Or(Unspecified, Field(s.HoldReason)),
		"oldInvoiceNumber": oldInvoice,
		"createdAt":        Date(&createdAt),
		"updatedAt":        Date(s.UpdatedAt),
	}
}

// InvoiceTotals is the computed breakdown of an invoice.
type InvoiceTotals struct {
	Subtotal  float64
	Discount  float64
	Total     float64
	Remaining float64
}

// Totals recomputes the invoice from its items when present, otherwise trusts the stored total.
func Totals(s *db.InvoiceSnapshot) InvoiceTotals {
	var t InvoiceTotals
	if len(s.Items) == 0 {
		t.Subtotal = s.TotalAmount
		t.Total = s.TotalAmount
	} else {
		for _, item := range s.Items {
			t.Subtotal += item.Quantity * item.UnitPrice
		}
		if s.DiscountPercent != nil && *s.DiscountPercent > 0 {
			t.Discount = t.Subtotal * *s.DiscountPercent / 100
		} else {
			t.Discount = s.DiscountAmount
		}
		t.Total = t.Subtotal - t.Discount + s.TaxAmount + s.ShippingAmount
	}
	t.Remaining = math.Max(t.Total-s.AmountPaid, 0)
	return t
}

// Invoice resolves the invoice tokens.
func (r *Resolver) Invoice(s *db.InvoiceSnapshot) Variables {
	t := Totals(s)
	currency := Or(DefaultCurrency, Field(s.Currency))
	createdAt := s.CreatedAt
	id := strconv.FormatInt(s.ID, 10)

	return Variables{
		"customerName":    customerName(s.Customer),
		"invoiceId":       id,
		"amount":          Amount(t.Total),
		"totalAmount":     Money(t.Total, currency),
		"subtotal":        Money(t.Subtotal, currency),
		"discount":        Money(t.Discount, currency),
		"tax":             Money(s.TaxAmount, currency),
		"shipping":        Money(s.ShippingAmount, currency),
		"amountPaid":      Money(s.AmountPaid, currency),
		"remainingAmount": Money(t.Remaining, currency),
		"currency":        currency,
		"invoiceDate":     Date(&createdAt),
		"dueDate":         Date(s.DueDate),
		"status":          label(invoiceStatusLabels, s.Status),
		"invoiceLink":     r.link("/invoices/" + id),
	}
}

// Quotation resolves the quotation tokens. Validity defaults to 30 days after creation.
func (r *Resolver) Quotation(s *db.QuotationSnapshot) Variables {
	currency := Or(DefaultCurrency, Field(s.Currency))
	validUntil := s.ValidUntil
	if validUntil == nil && !s.CreatedAt.IsZero() {
		v := s.CreatedAt.Add(quotationValidity)
		validUntil = &v
	}
	id := strconv.FormatInt(s.ID, 10)

	return Variables{
		"customerName":  customerName(s.Customer),
		"quotationId":   id,
		"repairNumber":  Or(Unspecified, Field(s.RepairNumber)),
		"amount":        Amount(s.TotalAmount),
		"totalAmount":   Money(s.TotalAmount, currency),
		"currency":      currency,
		"validUntil":    Date(validUntil),
		"status":        label(quotationStatusLabels, strings.ToUpper(s.Status)),
		"quotationLink": r.link("/quotations/" + id),
	}
}

// Payment resolves the payment tokens.
func (r *Resolver) Payment(s *db.PaymentSnapshot) Variables {
	currency := Or(DefaultCurrency, Field(s.Currency))
	remaining := math.Max(s.InvoiceTotal-(s.PreviousPaid+s.Amount), 0)
	paymentDate := s.PaymentDate
	id := strconv.FormatInt(s.ID, 10)

	return Variables{
		"customerName":    customerName(s.Customer),
		"paymentAmount":   Money(s.Amount, currency),
		"amount":          Amount(s.Amount),
		"invoiceId":       strconv.FormatInt(s.InvoiceID, 10),
		"totalAmount":     Money(s.InvoiceTotal, currency),
		"remainingAmount": Money(remaining, currency),
		"paymentDate":     Date(&paymentDate),
		"paymentMethod":   Or(Unspecified, Field(s.PaymentMethod)),
		"dueDate":         Date(s.DueDate),
		"currency":        currency,
		"paymentLink":     r.link("/payments/" + id),
	}
}
