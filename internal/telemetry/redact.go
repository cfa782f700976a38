package telemetry

import "strings"

// sentinel replaces any value associated with a blacklisted key.
const sentinel = "***REDACTED***"

// blockedSubstrings are lowercased substrings of a log key that mark its
// value as secret. The match is a substring test, not an exact match, so
// "proxy_credential", "webhook signature", and "X-Api-Key" are all caught
// regardless of casing or separator style.
var blockedSubstrings = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api key",
	"apikey",
	"credential",
	"webhook signature",
}

func isSecretKey(key string) bool {
	// Dashes and underscores are read as spaces, so "X-Api-Key" and
	// "Webhook-Signature" match "api key" and "webhook signature".
	lower := strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToLower(key))
	for _, blocked := range blockedSubstrings {
		if strings.Contains(lower, blocked) {
			return true
		}
	}
	return false
}

// redactValue descends into maps and slices, replacing any value whose key
// is blacklisted. It never mutates the input; it returns a redacted copy.
func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if isSecretKey(k) {
				out[k] = sentinel
			} else {
				out[k] = redactValue(vv)
			}
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = redactValue(vv)
		}
		return out
	default:
		return v
	}
}

// redactMap applies isSecretKey/redactValue across a flat key/value map,
// the shape a caller passes when logging structured fields directly.
func redactMap(fields map[string]any) map[string]any {
	return redactValue(fields).(map[string]any)
}
