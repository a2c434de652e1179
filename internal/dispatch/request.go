package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/db"
)

// Recipients holds one address per channel.
type Recipients struct {
	WhatsApp string `json:"whatsapp,omitempty"`
	Email    string `json:"email,omitempty"`
}

func (r Recipients) For(ch string) string {
	switch ch {
	case db.ChannelWhatsApp:
		return strings.TrimSpace(r.WhatsApp)
	case db.ChannelEmail:
		return strings.TrimSpace(r.Email)
	}
	return ""
}

type Options struct {
	AttachPDF bool `json:"attachPdf"`
}

// Request is one send across one or more channels. Either Message or Template
// must be set; Variables are resolved from the entity when they are too thin.
type Request struct {
	EntityType string
	EntityID   int64
	CustomerID *int64
	Channels   []string
	Recipients Recipients
	Message    string
	Subject    string
	Template   string
	Variables  map[string]string
	SentBy     *int64
	Options    Options
}

func (r *Request) validate() error {
	const op = "dispatch.Send"

	if !db.ValidEntityType(r.EntityType) {
		return apperr.Validation(op, "unknown entity type %q", r.EntityType)
	}
	if r.EntityID <= 0 {
		return apperr.Validation(op, "entity id is required")
	}
	if len(r.Channels) == 0 {
		return apperr.Validation(op, "at least one channel is required")
	}

	seen := make(map[string]bool, len(r.Channels))
	for _, ch := range r.Channels {
		if !db.ValidChannel(ch) {
			return apperr.Validation(op, "unsupported channel %q", ch)
		}
		if seen[ch] {
			return apperr.Validation(op, "channel %q listed twice", ch)
		}
		seen[ch] = true
		if r.Recipients.For(ch) == "" {
			return apperr.Validation(op, "no %s recipient", ch)
		}
	}

	if strings.TrimSpace(r.Message) == "" && strings.TrimSpace(r.Template) == "" {
		return apperr.Validation(op, "either message or template is required")
	}
	return nil
}

// ChannelResult is the outcome of one channel attempt.
type ChannelResult struct {
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	LogID     uuid.UUID `json:"logId"`
	Method    string    `json:"method,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Result aggregates the channel outcomes of a Send.
type Result struct {
	Success     bool            `json:"success"`
	HasFailures bool            `json:"hasFailures"`
	Message     string          `json:"message"`
	Channels    []ChannelResult `json:"channels"`
}

func (r *Result) add(cr ChannelResult) {
	r.Channels = append(r.Channels, cr)
	if cr.Success {
		r.Success = true
	} else {
		r.HasFailures = true
	}
}

// Outcome is published after each attempt for downstream consumers.
type Outcome struct {
	LogID      string    `json:"logId"`
	EntityType string    `json:"entityType"`
	EntityID   int64     `json:"entityId"`
	Channel    string    `json:"channel"`
	Status     string    `json:"status"`
	Method     string    `json:"method,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retryCount"`
	OccurredAt time.Time `json:"occurredAt"`
}

func defaultSubject(entityType string, entityID int64) string {
	switch entityType {
	case db.EntityInvoice:
		return fmt.Sprintf("فاتورة رقم #%d - Fix Zone", entityID)
	case db.EntityQuotation:
		return fmt.Sprintf("عرض سعر رقم #%d - Fix Zone", entityID)
	default:
		return "رسالة من Fix Zone"
	}
}
