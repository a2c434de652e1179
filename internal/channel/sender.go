// Package channel delivers rendered messages to customers over WhatsApp and email.
package channel

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/settings"
)

// Channel names. They match the values stored in messaging_logs.channel.
const (
	WhatsApp = "whatsapp"
	Email    = "email"
)

// Message is one rendered message bound for a single channel.
type Message struct {
	Channel   string
	Recipient string
	Subject   string
	Body      string
	// HTML overrides the branded wrapper for email.
	HTML        string
	Attachments []Attachment

	// Settings is the messaging document the send was prepared with.
	Settings settings.Messaging
}

type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result describes a successful delivery attempt.
type Result struct {
	Method    string
	MessageID string
	URL       string
	Response  string
	Extra     map[string]any
}

// Metadata flattens the result into the JSON stored on the log row.
func (r *Result) Metadata() map[string]any {
	if r == nil {
		return map[string]any{}
	}
	md := make(map[string]any, len(r.Extra)+4)
	for k, v := range r.Extra {
		md[k] = v
	}
	if r.Method != "" {
		md["method"] = r.Method
	}
	if r.MessageID != "" {
		md["messageId"] = r.MessageID
	}
	if r.URL != "" {
		md["url"] = r.URL
	}
	if r.Response != "" {
		md["response"] = r.Response
	}
	return md
}

// Sender is implemented by every channel adapter.
type Sender interface {
	Send(ctx context.Context, msg *Message) (*Result, error)
	SupportsChannel(channel string) bool
}

// Router picks the first sender supporting the message channel.
type Router struct {
	senders []Sender
	logger  *zap.Logger
}

func NewRouter(logger *zap.Logger, senders ...Sender) *Router {
	return &Router{
		senders: senders,
		logger:  logger,
	}
}

func (r *Router) Send(ctx context.Context, msg *Message) (*Result, error) {
	for _, sender := range r.senders {
		if sender.SupportsChannel(msg.Channel) {
			r.logger.Debug("routing message to sender",
				zap.String("channel", msg.Channel),
				zap.String("recipient", msg.Recipient),
			)
			return sender.Send(ctx, msg)
		}
	}

	return nil, fmt.Errorf("no sender found for channel: %s", msg.Channel)
}

func (r *Router) SupportsChannel(channel string) bool {
	for _, sender := range r.senders {
		if sender.SupportsChannel(channel) {
			return true
		}
	}
	return false
}
