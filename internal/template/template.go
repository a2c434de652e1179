// Package template loads message templates from the settings document and
// renders them by literal {token} substitution.
package template

import (
	"regexp"
	"strings"

	"github.com/fixzone/notifier/internal/settings"
)

// Fallback is used when neither settings nor the built-in set know a template.
const Fallback = "مرحباً {customerName}"

// A token is any run of characters between braces, so Arabic and dotted keys work.
var tokenPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// settingsKeys maps log-facing template names to the settings keys that hold their text.
var settingsKeys = map[string]string{
	"payment_overdue_reminder":    "paymentOverdueReminder",
	"payment_before_due_reminder": "paymentBeforeDueReminder",
	"payment_received":            "paymentReceivedMessage",
	"invoice_created":             "defaultMessage",
	"quotation_created":           "quotationDefaultMessage",
	"quotation_approved":          "quotationApprovedMessage",
}

// Load returns the template text for name. Lookup order: the whatsapp section of
// the settings document, the legacy per-entity templates map, the built-in set,
// then Fallback. It never fails.
func Load(m settings.Messaging, name, entityType string) string {
	keys := []string{name}
	if alias, ok := settingsKeys[name]; ok {
		keys = append(keys, alias)
	}

	for _, key := range keys {
		if text := strings.TrimSpace(m.WhatsApp.Templates[key]); text != "" {
			return m.WhatsApp.Templates[key]
		}
	}

	if byName, ok := m.Templates[entityType]; ok {
		for _, key := range keys {
			if text := strings.TrimSpace(byName[key]); text != "" {
				return byName[key]
			}
		}
	}

	for _, key := range keys {
		if text, ok := builtin[key]; ok {
			return text
		}
	}

	return Fallback
}

// Render replaces every {key} whose key is present in vars. Unknown tokens are
// kept verbatim. Substitution is a single pass, so values are never re-expanded.
func Render(tpl string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(tpl, "{") {
		return tpl
	}
	return tokenPattern.ReplaceAllStringFunc(tpl, func(token string) string {
		key := token[1 : len(token)-1]
		if v, ok := vars[key]; ok {
			return v
		}
		return token
	})
}

// Strip removes any {token} left after rendering.
func Strip(text string) string {
	return tokenPattern.ReplaceAllString(text, "")
}

// Unresolved lists the token names still present in text, in order of appearance.
func Unresolved(text string) []string {
	matches := tokenPattern.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
