package db

import "time"

// Customer carries the contact fields joined onto every snapshot.
type Customer struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
}

// Reachable reports whether at least one channel has an address.
func (c Customer) Reachable() bool {
	return c.Phone != "" || c.Email != ""
}

type RepairSnapshot struct {
	ID               int64
	RequestNumber    string
	Status           string
	Customer         Customer
	DeviceBrand      string
	DeviceModel      string
	DeviceType       string
	ReportedProblem  string
	CustomFields     string // raw JSON blob from the intake form
	CustomerNotes    string
	Notes            string
	TechnicianReport string
	DiagnosticNotes  string
	EstimatedCost    *float64
	Currency         string
	TrackingToken    string
	RejectionReason  string
	HoldReason       string
	OldInvoiceNumber string
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

type InvoiceItem struct {
	Description string
	Quantity    float64
	UnitPrice   float64
}

type InvoiceSnapshot struct {
	ID              int64
	Status          string
	Customer        Customer
	RepairRequestID *int64
	Items           []InvoiceItem
	TotalAmount     float64
	AmountPaid      float64
	DiscountPercent *float64
	DiscountAmount  float64
	TaxAmount       float64
	ShippingAmount  float64
	Currency        string
	CreatedAt       time.Time
	DueDate         *time.Time
}

type QuotationSnapshot struct {
	ID              int64
	Status          string
	Customer        Customer
	RepairRequestID *int64
	RepairNumber    string
	TotalAmount     float64
	Currency        string
	ValidUntil      *time.Time
	CreatedAt       time.Time
}

type PaymentSnapshot struct {
	ID            int64
	InvoiceID     int64
	Customer      Customer
	Amount        float64
	PreviousPaid  float64 // paid on the invoice before this payment
	InvoiceTotal  float64
	Currency      string
	PaymentMethod string
	PaymentDate   time.Time
	DueDate       *time.Time
}

// ReminderCandidate is an unpaid invoice picked up by a payment sweep.
type ReminderCandidate struct {
	InvoiceID  int64
	CustomerID int64
	Phone      string
	Email      string
	DueDate    time.Time
}
