package resolver

import (
	"encoding/json"
	"strings"
)

// Source yields one candidate value for a variable. Empty means "try the next one".
type Source func() string

// FirstOf evaluates sources in order and returns the first meaningful value.
func FirstOf(sources ...Source) (string, bool) {
	for _, src := range sources {
		if v := strings.TrimSpace(src()); meaningful(v) {
			return v, true
		}
	}
	return "", false
}

// Or is FirstOf with a default for when nothing matches.
func Or(fallback string, sources ...Source) string {
	if v, ok := FirstOf(sources...); ok {
		return v
	}
	return fallback
}

// Field wraps a plain value.
func Field(v string) Source {
	return func() string { return v }
}

// CustomField reads the first meaningful string under keys from a JSON object blob.
// The blob may itself be a JSON-encoded string holding the object.
func CustomField(blob string, keys ...string) Source {
	return func() string {
		fields := decodeObject(blob)
		if fields == nil {
			return ""
		}
		for _, key := range keys {
			if s, ok := fields[key].(string); ok && meaningful(strings.TrimSpace(s)) {
				return s
			}
		}
		return ""
	}
}

func decodeObject(blob string) map[string]any {
	blob = strings.TrimSpace(blob)
	if blob == "" {
		return nil
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(blob), &fields); err == nil {
		return fields
	}

	var inner string
	if err := json.Unmarshal([]byte(blob), &inner); err != nil {
		return nil
	}
	if err := json.Unmarshal([]byte(inner), &fields); err != nil {
		return nil
	}
	return fields
}

// meaningful rejects empty strings and serialized nulls such as "null" or "Undefined".
func meaningful(v string) bool {
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "null", "undefined":
		return false
	}
	return true
}
