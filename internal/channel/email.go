package channel

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/settings"
)

var ErrEmailDisabled = errors.New("email is disabled")

const defaultSubject = "رسالة من Fix Zone"

// Envelope is a fully prepared email handed to a transport.
type Envelope struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Transport delivers an envelope. It returns the provider message id when one exists.
type Transport interface {
	Deliver(ctx context.Context, cfg settings.Email, env *Envelope) (string, error)
	Name() string
}

type EmailSender struct {
	transport Transport
	address   string
	logger    *zap.Logger
}

// NewEmailSender builds the email adapter. address is printed in the footer.
func NewEmailSender(transport Transport, address string, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		transport: transport,
		address:   address,
		logger:    logger,
	}
}

func (s *EmailSender) Send(ctx context.Context, msg *Message) (*Result, error) {
	cfg := msg.Settings.Email
	if !cfg.Enabled {
		return nil, apperr.Wrap(apperr.KindConfiguration, "email", ErrEmailDisabled)
	}

	to := strings.TrimSpace(msg.Recipient)
	if !strings.Contains(to, "@") {
		return nil, apperr.Validation("email", "invalid recipient %q", to)
	}

	subject := msg.Subject
	if subject == "" {
		subject = cfg.DefaultSubject
	}
	if subject == "" {
		subject = defaultSubject
	}

	body := msg.HTML
	if body == "" {
		rendered, err := RenderHTML(Layout{
			Subject: subject,
			Brand:   cfg.FromName,
			Address: s.address,
			Body:    msg.Body,
		})
		if err != nil {
			return nil, err
		}
		body = rendered
	}

	env := &Envelope{
		To:          to,
		Subject:     subject,
		HTML:        body,
		Text:        PlainText(body),
		Attachments: msg.Attachments,
	}

	id, err := s.transport.Deliver(ctx, cfg, env)
	if err != nil {
		if apperr.Is(err, apperr.KindConfiguration) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindTransport, "email "+s.transport.Name(), err)
	}

	s.logger.Info("email sent",
		zap.String("to", to),
		zap.String("transport", s.transport.Name()),
		zap.Int("attachments", len(msg.Attachments)),
	)

	res := &Result{
		Method:    s.transport.Name(),
		MessageID: id,
	}
	if len(msg.Attachments) > 0 {
		names := make([]string, 0, len(msg.Attachments))
		for _, a := range msg.Attachments {
			names = append(names, a.Name)
		}
		res.Extra = map[string]any{"attachments": names}
	}
	return res, nil
}

func (s *EmailSender) SupportsChannel(channel string) bool {
	return channel == Email
}
