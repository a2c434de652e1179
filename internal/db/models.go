package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageLog is one channel-level send attempt in messaging_logs.
type MessageLog struct {
	ID           uuid.UUID       `json:"id"`
	EntityType   string          `json:"entity_type"`
	EntityID     int64           `json:"entity_id"`
	CustomerID   *int64          `json:"customer_id,omitempty"`
	Channel      string          `json:"channel"`
	Recipient    string          `json:"recipient"`
	Message      string          `json:"message"`
	TemplateName *string         `json:"template_name,omitempty"`
	Subject      *string         `json:"subject,omitempty"`
	Status       string          `json:"status"`
	SentBy       *int64          `json:"sent_by,omitempty"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time      `json:"delivered_at,omitempty"`
	ReadAt       *time.Time      `json:"read_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	RetryCount   int             `json:"retry_count"`
	Metadata     json.RawMessage `json:"metadata"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RetryInterrupted reports whether the entry is a retry whose outcome was never
// recorded: still pending after a retry and untouched since staleBefore.
func (m *MessageLog) RetryInterrupted(staleBefore time.Time) bool {
	return m.Status == StatusPending && m.RetryCount > 0 && m.UpdatedAt.Before(staleBefore)
}

// Status constants
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Channel constants
const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

// Entity types
const (
	EntityRepair    = "repair"
	EntityInvoice   = "invoice"
	EntityQuotation = "quotation"
	EntityPayment   = "payment"
)

// ValidChannel reports whether c is a supported delivery channel.
func ValidChannel(c string) bool {
	return c == ChannelWhatsApp || c == ChannelEmail
}

// ValidEntityType reports whether t is one of the four notifiable entity types.
func ValidEntityType(t string) bool {
	switch t {
	case EntityRepair, EntityInvoice, EntityQuotation, EntityPayment:
		return true
	}
	return false
}

var statusRank = map[string]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusFailed:    1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// CanTransition enforces pending -> {sent, failed} -> {delivered, read}.
// A failed entry only moves forward through a retry, which resets it to pending first.
func CanTransition(from, to string) bool {
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	if from == StatusFailed && to != StatusPending {
		return false
	}
	if from == StatusFailed && to == StatusPending {
		return true
	}
	if from == StatusPending && (to == StatusDelivered || to == StatusRead) {
		return false
	}
	return toRank > fromRank
}

// LogFilter narrows ListLogs and Stats queries. Zero values are ignored.
type LogFilter struct {
	EntityType string
	EntityID   *int64
	CustomerID *int64
	Channel    string
	Status     string
	Recipient  string // substring match
	DateFrom   *time.Time
	DateTo     *time.Time
}

// LogPage is one page of ListLogs output.
type LogPage struct {
	Logs    []*MessageLog `json:"logs"`
	Total   int           `json:"total"`
	Limit   int           `json:"limit"`
	Offset  int           `json:"offset"`
	HasMore bool          `json:"has_more"`
}

type StatsSummary struct {
	Total       int     `json:"total"`
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	Delivered   int     `json:"delivered"`
	Read        int     `json:"read"`
	Pending     int     `json:"pending"`
	SuccessRate float64 `json:"success_rate"`
	FailureRate float64 `json:"failure_rate"`
}

type ChannelStat struct {
	Channel string `json:"channel"`
	Total   int    `json:"total"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
}

type EntityStat struct {
	EntityType string `json:"entity_type"`
	Total      int    `json:"total"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

type DailyStat struct {
	Date   string `json:"date"`
	Total  int    `json:"total"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

type HourlyStat struct {
	Hour   int `json:"hour"`
	Total  int `json:"total"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type FailureReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// Stats aggregates messaging_logs for dashboards.
type Stats struct {
	Summary        StatsSummary    `json:"summary"`
	ByChannel      []ChannelStat   `json:"by_channel"`
	ByEntity       []EntityStat    `json:"by_entity"`
	Daily          []DailyStat     `json:"daily"`
	Hourly         []HourlyStat    `json:"hourly"`
	FailureReasons []FailureReason `json:"failure_reasons"`
}

// Rates fills SuccessRate and FailureRate as percentages rounded to two decimals.
func (s *StatsSummary) Rates() {
	if s.Total == 0 {
		s.SuccessRate, s.FailureRate = 0, 0
		return
	}
	ok := s.Sent + s.Delivered + s.Read
	s.SuccessRate = round2(float64(ok) * 100 / float64(s.Total))
	s.FailureRate = round2(float64(s.Failed) * 100 / float64(s.Total))
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
