// Package settings holds the typed messaging configuration document.
//
// The document is stored as JSON under the `messaging_settings` key. Decoding
// happens on top of Defaults(), so any field absent from the stored JSON keeps
// its default value.
package settings

import (
	"encoding/json"
	"strings"
)

// CurrentVersion is the newest document layout this build understands.
const CurrentVersion = 1

// Channel names as they appear in DefaultChannels.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
)

type Messaging struct {
	Version    int        `json:"version"`
	WhatsApp   WhatsApp   `json:"whatsapp"`
	Email      Email      `json:"email"`
	Automation Automation `json:"automation"`

	// Templates is the legacy layout: entity type -> template name -> text.
	Templates map[string]map[string]string `json:"templates,omitempty"`
}

type WhatsApp struct {
	Enabled     bool   `json:"enabled"`
	WebEnabled  bool   `json:"webEnabled"`
	APIEnabled  bool   `json:"apiEnabled"`
	APIURL      string `json:"apiUrl"`
	APIToken    string `json:"apiToken"`
	CountryCode string `json:"countryCode"`

	// Templates collects every message text stored next to the flags,
	// e.g. "defaultMessage" or "repairReceivedMessage".
	Templates map[string]string `json:"-"`
}

type whatsAppFields WhatsApp

// UnmarshalJSON decodes the flags and gathers the remaining string keys as templates.
func (w *WhatsApp) UnmarshalJSON(data []byte) error {
	fields := whatsAppFields(*w)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	templates := make(map[string]string, len(w.Templates))
	for k, v := range w.Templates {
		templates[k] = v
	}
	for key, value := range raw {
		if !isTemplateKey(key) {
			continue
		}
		var text string
		if err := json.Unmarshal(value, &text); err != nil {
			continue
		}
		templates[key] = text
	}

	*w = WhatsApp(fields)
	w.Templates = templates
	return nil
}

// MarshalJSON writes the templates back next to the flags.
func (w WhatsApp) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"enabled":     w.Enabled,
		"webEnabled":  w.WebEnabled,
		"apiEnabled":  w.APIEnabled,
		"apiUrl":      w.APIURL,
		"apiToken":    w.APIToken,
		"countryCode": w.CountryCode,
	}
	for k, v := range w.Templates {
		out[k] = v
	}
	return json.Marshal(out)
}

func isTemplateKey(key string) bool {
	return strings.HasSuffix(key, "Message") || strings.HasSuffix(key, "Reminder")
}

// APIConfigured reports whether the HTTP API method can be attempted.
func (w WhatsApp) APIConfigured() bool {
	return w.APIEnabled && w.APIURL != "" && w.APIToken != ""
}

type Email struct {
	Enabled        bool   `json:"enabled"`
	SMTPHost       string `json:"smtpHost"`
	SMTPPort       int    `json:"smtpPort"`
	SMTPUser       string `json:"smtpUser"`
	SMTPPassword   string `json:"smtpPassword"`
	FromEmail      string `json:"fromEmail"`
	FromName       string `json:"fromName"`
	DefaultSubject string `json:"defaultSubject"`
}

// Secure reports whether the port implies implicit TLS.
func (e Email) Secure() bool {
	return e.SMTPPort == 465
}

type Automation struct {
	Enabled         bool     `json:"enabled"`
	DefaultChannels []string `json:"defaultChannels"`

	Repair    RepairToggles    `json:"repair"`
	Invoice   InvoiceToggles   `json:"invoice"`
	Quotation QuotationToggles `json:"quotation"`
	Payment   PaymentToggles   `json:"payment"`
}

type RepairToggles struct {
	NotifyOnReceived         bool `json:"notifyOnReceived"`
	NotifyOnDiagnosed        bool `json:"notifyOnDiagnosed"`
	NotifyOnAwaitingApproval bool `json:"notifyOnAwaitingApproval"`
	NotifyOnUnderRepair      bool `json:"notifyOnUnderRepair"`
	NotifyOnWaitingParts     bool `json:"notifyOnWaitingParts"`
	NotifyOnReadyPickup      bool `json:"notifyOnReadyPickup"`
	NotifyOnCompleted        bool `json:"notifyOnCompleted"`
	NotifyOnRejected         bool `json:"notifyOnRejected"`
	NotifyOnOnHold           bool `json:"notifyOnOnHold"`
}

type InvoiceToggles struct {
	NotifyOnCreated bool `json:"notifyOnCreated"`
	AttachPDF       bool `json:"attachPDF"`
}

type QuotationToggles struct {
	NotifyOnCreated  bool `json:"notifyOnCreated"`
	NotifyOnApproved bool `json:"notifyOnApproved"`
}

type PaymentToggles struct {
	NotifyOnReceived   bool               `json:"notifyOnReceived"`
	OverdueReminders   OverdueReminders   `json:"overdueReminders"`
	BeforeDueReminders BeforeDueReminders `json:"beforeDueReminders"`
}

type OverdueReminders struct {
	Enabled                 bool `json:"enabled"`
	MinDaysBetweenReminders int  `json:"minDaysBetweenReminders"`
}

type BeforeDueReminders struct {
	Enabled                 bool `json:"enabled"`
	DaysBeforeDue           int  `json:"daysBeforeDue"`
	MinDaysBetweenReminders int  `json:"minDaysBetweenReminders"`
}

// Defaults returns the document used when nothing is stored.
// Automation is off until an operator enables it.
func Defaults() Messaging {
	return Messaging{
		Version: CurrentVersion,
		WhatsApp: WhatsApp{
			Enabled:     true,
			WebEnabled:  true,
			CountryCode: "20",
			Templates:   map[string]string{},
		},
		Email: Email{
			SMTPPort: 587,
			FromName: "Fix Zone",
		},
		Automation: Automation{
			Enabled:         false,
			DefaultChannels: []string{ChannelWhatsApp},
			Repair: RepairToggles{
				NotifyOnReceived:         true,
				NotifyOnDiagnosed:        true,
				NotifyOnAwaitingApproval: true,
				NotifyOnUnderRepair:      true,
				NotifyOnWaitingParts:     true,
				NotifyOnReadyPickup:      true,
				NotifyOnCompleted:        true,
			},
			Invoice: InvoiceToggles{
				NotifyOnCreated: true,
				AttachPDF:       true,
			},
			Quotation: QuotationToggles{
				NotifyOnCreated:  true,
				NotifyOnApproved: true,
			},
			Payment: PaymentToggles{
				OverdueReminders: OverdueReminders{
					MinDaysBetweenReminders: 1,
				},
				BeforeDueReminders: BeforeDueReminders{
					DaysBeforeDue:           3,
					MinDaysBetweenReminders: 1,
				},
			},
		},
	}
}

// Parse decodes a stored document on top of Defaults.
func Parse(data []byte) (Messaging, error) {
	m := Defaults()
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return Defaults(), err
	}
	m.normalize()
	return m, nil
}

func (m *Messaging) normalize() {
	if m.Version == 0 {
		m.Version = CurrentVersion
	}
	if len(m.Automation.DefaultChannels) == 0 {
		m.Automation.DefaultChannels = []string{ChannelWhatsApp}
	}
	if m.WhatsApp.CountryCode == "" {
		m.WhatsApp.CountryCode = "20"
	}
	if m.Email.SMTPPort == 0 {
		m.Email.SMTPPort = 587
	}
	p := &m.Automation.Payment
	if p.OverdueReminders.MinDaysBetweenReminders < 1 {
		p.OverdueReminders.MinDaysBetweenReminders = 1
	}
	if p.BeforeDueReminders.MinDaysBetweenReminders < 1 {
		p.BeforeDueReminders.MinDaysBetweenReminders = 1
	}
	if p.BeforeDueReminders.DaysBeforeDue < 1 {
		p.BeforeDueReminders.DaysBeforeDue = 3
	}
}
