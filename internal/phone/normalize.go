// Package phone normalizes customer phone numbers for WhatsApp delivery.
package phone

import (
	"strings"
	"unicode"

	"github.com/nyaruka/phonenumbers"
)

// DefaultCountryCode is the Egyptian dialing code.
const DefaultCountryCode = "20"

const trunkPrefix = "0"

// strip drops whitespace of any kind along with the usual separators.
func strip(r rune) rune {
	if unicode.IsSpace(r) {
		return -1
	}
	switch r {
	case '-', '(', ')', '+':
		return -1
	}
	return r
}

// Normalize converts a local or international number to the digits-only form
// WhatsApp expects: "0111 351-1940" and "+20 111 351 1940" both become "201113511940".
func Normalize(raw, countryCode string) string {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	cleaned := strings.Map(strip, raw)
	if cleaned == "" {
		return ""
	}

	switch {
	case strings.HasPrefix(cleaned, countryCode):
		return cleaned
	case strings.HasPrefix(cleaned, trunkPrefix):
		return countryCode + strings.TrimPrefix(cleaned, trunkPrefix)
	default:
		return countryCode + cleaned
	}
}

// Valid reports whether a normalized number is a dialable number according to libphonenumber.
// Callers use it as a diagnostic only; delivery is still attempted for invalid numbers.
func Valid(normalized string) bool {
	if normalized == "" {
		return false
	}
	number, err := phonenumbers.Parse("+"+normalized, "")
	if err != nil {
		return false
	}
	return phonenumbers.IsValidNumber(number)
}
