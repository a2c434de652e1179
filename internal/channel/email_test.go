package channel

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"go.uber.org/zap"

	"github.com/fixzone/notifier/internal/apperr"
	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/settings"
)

type fakeTransport struct {
	got *Envelope
	err error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Deliver(_ context.Context, _ settings.Email, env *Envelope) (string, error) {
	f.got = env
	if f.err != nil {
		return "", f.err
	}
	return "<id@fixzone>", nil
}

func emailSettings() settings.Messaging {
	m := settings.Defaults()
	m.Email.Enabled = true
	m.Email.SMTPHost = "smtp.example.com"
	m.Email.FromEmail = "shop@example.com"
	return m
}

func TestEmailSender_WrapsPlainText(t *testing.T) {
	transport := &fakeTransport{}
	sender := NewEmailSender(transport, "Nasr City", zap.NewNop())

	res, err := sender.Send(context.Background(), &Message{
		Channel:   Email,
		Recipient: " sara@example.com ",
		Body:      "line one\nline <two>",
		Settings:  emailSettings(),
	})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	env := transport.got
	if env.To != "sara@example.com" {
		t.Errorf("To = %q", env.To)
	}
	if env.Subject != defaultSubject {
		t.Errorf("Subject = %q", env.Subject)
	}
	if !strings.Contains(env.HTML, `dir="rtl"`) || !strings.Contains(env.HTML, "line &lt;two&gt;") {
		t.Errorf("html body not wrapped/escaped: %s", env.HTML)
	}
	if !strings.Contains(env.Text, "line one") || strings.Contains(env.Text, "<p") {
		t.Errorf("text alternative = %q", env.Text)
	}
	if res.MessageID != "<id@fixzone>" || res.Method != "fake" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestEmailSender_UsesSuppliedHTMLAndAttachments(t *testing.T) {
	transport := &fakeTransport{}
	sender := NewEmailSender(transport, "", zap.NewNop())

	res, err := sender.Send(context.Background(), &Message{
		Recipient:   "a@b.co",
		Subject:     "Invoice #1",
		HTML:        "<p>custom</p>",
		Attachments: []Attachment{{Name: "invoice-1.pdf", Data: []byte("%PDF")}},
		Settings:    emailSettings(),
	})
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if transport.got.HTML != "<p>custom</p>" || transport.got.Text != "custom" {
		t.Errorf("unexpected envelope %+v", transport.got)
	}
	names, _ := res.Extra["attachments"].([]string)
	if len(names) != 1 || names[0] != "invoice-1.pdf" {
		t.Errorf("attachments metadata = %v", res.Extra)
	}
}

func TestEmailSender_Validation(t *testing.T) {
	disabled := emailSettings()
	disabled.Email.Enabled = false

	tests := []struct {
		name      string
		recipient string
		cfg       settings.Messaging
		check     func(error) bool
	}{
		{"disabled", "a@b.co", disabled, func(err error) bool {
			return errors.Is(err, ErrEmailDisabled) && apperr.Is(err, apperr.KindConfiguration)
		}},
		{"missing at", "not-an-email", emailSettings(), func(err error) bool { return apperr.Is(err, apperr.KindValidation) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{}
			sender := NewEmailSender(transport, "", zap.NewNop())
			_, err := sender.Send(context.Background(), &Message{Recipient: tt.recipient, Body: "x", Settings: tt.cfg})
			if err == nil || !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
			if transport.got != nil {
				t.Error("transport must not be called")
			}
		})
	}
}

func TestEmailSender_TransportErrorIsTransportKind(t *testing.T) {
	sender := NewEmailSender(&fakeTransport{err: errors.New("connection refused")}, "", zap.NewNop())
	_, err := sender.Send(context.Background(), &Message{Recipient: "a@b.co", Body: "x", Settings: emailSettings()})
	if !apperr.Is(err, apperr.KindTransport) {
		t.Errorf("err = %v, want transport kind", err)
	}
}

func TestSMTPTransport_RequiresHost(t *testing.T) {
	cfg := emailSettings().Email
	cfg.SMTPHost = ""
	_, err := NewSMTPTransport(time.Second).Deliver(context.Background(), cfg, &Envelope{To: "a@b.co"})
	if !errors.Is(err, ErrSMTPNotConfigured) {
		t.Errorf("err = %v", err)
	}
}

func TestEmailSender_KeepsConfigurationKind(t *testing.T) {
	cfg := emailSettings()
	cfg.Email.SMTPHost = ""
	sender := NewEmailSender(NewSMTPTransport(time.Second), "", zap.NewNop())
	_, err := sender.Send(context.Background(), &Message{Recipient: "a@b.co", Body: "x", Settings: cfg})
	if !apperr.Is(err, apperr.KindConfiguration) || !errors.Is(err, ErrSMTPNotConfigured) {
		t.Errorf("err = %v, want configuration kind", err)
	}
}

type fakeSES struct {
	input *ses.SendEmailInput
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.input = in
	return &ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSESTransport_Deliver(t *testing.T) {
	client := &fakeSES{}
	transport := &SESTransport{client: client, from: "noreply@fixzone.com", logger: zap.NewNop()}

	cfg := emailSettings().Email
	id, err := transport.Deliver(context.Background(), cfg, &Envelope{
		To:          "a@b.co",
		Subject:     "s",
		HTML:        "<p>h</p>",
		Text:        "h",
		Attachments: []Attachment{{Name: "x.pdf"}},
	})
	if err != nil {
		t.Fatalf("Deliver() failed: %v", err)
	}
	if id != "ses-1" {
		t.Errorf("id = %q", id)
	}
	if got := aws.ToString(client.input.Source); got != "Fix Zone <noreply@fixzone.com>" {
		t.Errorf("Source = %q", got)
	}
	if aws.ToString(client.input.Message.Body.Html.Data) != "<p>h</p>" {
		t.Error("html body not forwarded")
	}
}

func TestPlainText(t *testing.T) {
	in := "<html><head><style>p{color:red}</style></head><body><p>Hello &amp; welcome</p><br/><p>Bye</p></body></html>"
	got := PlainText(in)
	if got != "Hello & welcome\n\nBye" {
		t.Errorf("PlainText = %q", got)
	}
}

func TestRenderHTML_Items(t *testing.T) {
	inv := &db.InvoiceSnapshot{
		ID:       3,
		Currency: "EGP",
		Items:    []db.InvoiceItem{{Description: "Screen", Quantity: 2, UnitPrice: 100}},
	}
	out, err := RenderHTML(Layout{Subject: "s", Body: "text", Items: InvoiceRows(inv)})
	if err != nil {
		t.Fatalf("RenderHTML() failed: %v", err)
	}
	for _, want := range []string{"Screen", "200.00 EGP", DefaultBrand} {
		if !strings.Contains(out, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestInvoicePDF(t *testing.T) {
	inv := &db.InvoiceSnapshot{
		ID:       42,
		Customer: db.Customer{Name: "Sara"},
		Items:    []db.InvoiceItem{{Description: "Battery", Quantity: 1, UnitPrice: 350}},
	}
	att, err := InvoicePDF(inv, "", "Cairo")
	if err != nil {
		t.Fatalf("InvoicePDF() failed: %v", err)
	}
	if att.Name != "invoice-42.pdf" || att.ContentType != "application/pdf" {
		t.Errorf("unexpected attachment %+v", att)
	}
	if !strings.HasPrefix(string(att.Data), "%PDF") {
		t.Error("output is not a pdf")
	}
}
