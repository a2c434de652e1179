package api

import (
	"github.com/fixzone/notifier/internal/dispatch"
)

// SendMessageRequest is the body of POST /v1/messages.
type SendMessageRequest struct {
	EntityType string            `json:"entityType" validate:"required,oneof=repair invoice quotation payment"`
	EntityID   int64             `json:"entityId" validate:"required,gt=0"`
	CustomerID *int64            `json:"customerId,omitempty" validate:"omitempty,gt=0"`
	Channels   []string          `json:"channels" validate:"required,min=1,max=2,unique,dive,oneof=whatsapp email"`
	Recipients RecipientsDTO     `json:"recipients"`
	Message    string            `json:"message,omitempty" validate:"max=4096"`
	Subject    string            `json:"subject,omitempty" validate:"max=255"`
	Template   string            `json:"template,omitempty" validate:"max=100"`
	Variables  map[string]string `json:"variables,omitempty"`
	SentBy     *int64            `json:"sentBy,omitempty" validate:"omitempty,gt=0"`
	AttachPDF  bool              `json:"attachPdf,omitempty"`
}

// RecipientsDTO carries raw addresses. Syntax is checked per channel by the
// senders, so one bad address does not block the other channel.
type RecipientsDTO struct {
	WhatsApp string `json:"whatsapp,omitempty" validate:"omitempty,max=32"`
	Email    string `json:"email,omitempty" validate:"omitempty,max=254"`
}

func (r SendMessageRequest) toDispatch() dispatch.Request {
	return dispatch.Request{
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		CustomerID: r.CustomerID,
		Channels:   r.Channels,
		Recipients: dispatch.Recipients{WhatsApp: r.Recipients.WhatsApp, Email: r.Recipients.Email},
		Message:    r.Message,
		Subject:    r.Subject,
		Template:   r.Template,
		Variables:  r.Variables,
		SentBy:     r.SentBy,
		Options:    dispatch.Options{AttachPDF: r.AttachPDF},
	}
}

// StatusUpdateRequest is a delivery or read receipt.
type StatusUpdateRequest struct {
	Status       string  `json:"status" validate:"required,oneof=sent failed delivered read"`
	ErrorMessage *string `json:"errorMessage,omitempty" validate:"omitempty,max=1000"`
}

// StatusChangeRequest is the body of POST /v1/automation/status-change.
type StatusChangeRequest struct {
	EntityType     string `json:"entityType" validate:"required,oneof=repair invoice quotation payment"`
	EntityID       int64  `json:"entityId" validate:"required,gt=0"`
	PreviousStatus string `json:"previousStatus" validate:"max=50"`
	NewStatus      string `json:"newStatus" validate:"required,max=50"`
	ActorID        *int64 `json:"actorId,omitempty" validate:"omitempty,gt=0"`
}

// CreatedRequest is the body of POST /v1/automation/created.
type CreatedRequest struct {
	EntityType string `json:"entityType" validate:"required,oneof=invoice quotation payment"`
	EntityID   int64  `json:"entityId" validate:"required,gt=0"`
	ActorID    *int64 `json:"actorId,omitempty" validate:"omitempty,gt=0"`
}

// ListQuery holds the string filters of GET /v1/messages and /v1/messages/stats.
type ListQuery struct {
	EntityType string `validate:"omitempty,oneof=repair invoice quotation payment"`
	Channel    string `validate:"omitempty,oneof=whatsapp email"`
	Status     string `validate:"omitempty,oneof=pending sent failed delivered read"`
	Recipient  string `validate:"max=254"`
}

type SweepResponse struct {
	Sweep string `json:"sweep"`
	Sent  int    `json:"sent"`
}

type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
}
