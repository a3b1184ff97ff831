package audit

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

// DefaultSensitiveKeys are redacted when no other set is given.
var DefaultSensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"authorization",
	"credential",
	"private_key",
	"access_key",
	"session",
	"cookie",
}

// Redactor replaces values under sensitive keys at any depth.
type Redactor struct {
	keys []string
}

// NewRedactor builds a redactor for keys, or DefaultSensitiveKeys when none are given.
// Keys match case-insensitively, treat '-' like '_' and also match inside compound names,
// so "token" covers "access_token" and "X-Auth-Token".
func NewRedactor(keys ...string) *Redactor {
	if len(keys) == 0 {
		keys = DefaultSensitiveKeys
	}

	r := &Redactor{keys: make([]string, 0, len(keys))}
	for _, key := range keys {
		if normalized := normalizeKey(key); normalized != "" {
			r.keys = append(r.keys, normalized)
		}
	}

	return r
}

// Sensitive reports whether values under key are redacted.
func (r *Redactor) Sensitive(key string) bool {
	normalized := normalizeKey(key)

	for _, k := range r.keys {
		if strings.Contains(normalized, k) {
			return true
		}
	}

	return false
}

// Redact returns a redacted copy of value. Structs and typed maps are normalized through
// JSON first, so the result only holds maps, slices and scalars.
func (r *Redactor) Redact(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return v
	case map[string]any:
		return r.RedactMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.Redact(item)
		}

		return out
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("unserializable %T", v)
		}

		var generic any

		err = json.Unmarshal(payload, &generic)
		if err != nil {
			return fmt.Sprintf("unserializable %T", v)
		}

		return r.Redact(generic)
	}
}

// RedactMap is Redact for the common map case.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	out := make(map[string]any, len(m))

	for key, value := range m {
		if r.Sensitive(key) {
			out[key] = Marker

			continue
		}

		out[key] = r.Redact(value)
	}

	return out
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}
