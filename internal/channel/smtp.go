package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/settings"
)

var ErrSMTPNotConfigured = errors.New("smtp host or sender address missing")

// SMTPTransport dials the shop's SMTP server for every message using the
// credentials in the messaging settings.
type SMTPTransport struct {
	timeout time.Duration
}

func NewSMTPTransport(timeout time.Duration) *SMTPTransport {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &SMTPTransport{timeout: timeout}
}

func (t *SMTPTransport) Name() string { return "smtp" }

func (t *SMTPTransport) Deliver(ctx context.Context, cfg settings.Email, env *Envelope) (string, error) {
	from := cfg.FromEmail
	if from == "" {
		from = cfg.SMTPUser
	}
	if cfg.SMTPHost == "" || from == "" {
		return "", apperr.Wrap(apperr.KindConfiguration, "smtp", ErrSMTPNotConfigured)
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(cfg.FromName, from); err != nil {
		return "", fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(env.To); err != nil {
		return "", fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(env.Subject)
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextHTML, env.HTML)
	if env.Text != "" {
		msg.AddAlternativeString(gomail.TypeTextPlain, env.Text)
	}

	for _, att := range env.Attachments {
		msg.AttachReader(att.Name, bytes.NewReader(att.Data))
	}

	opts := []gomail.Option{
		gomail.WithPort(cfg.SMTPPort),
		gomail.WithTimeout(t.timeout),
	}
	if cfg.SMTPUser != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.SMTPUser),
			gomail.WithPassword(cfg.SMTPPassword),
		)
	}
	if cfg.Secure() {
		opts = append(opts, gomail.WithSSLPort(false))
	} else {
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSOpportunistic))
	}

	client, err := gomail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return "", fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("smtp send: %w", err)
	}

	return msg.GetMessageID(), nil
}
