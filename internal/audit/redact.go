package audit

import "strings"

// sensitiveKeySubstrings is the redaction rule's key list: any map key
// whose lowercase form contains one of these has its value replaced.
var sensitiveKeySubstrings = []string{"password", "secret", "token", "apikey", "api_key"}

// RedactedValue is the literal replacement for a matched sensitive value.
const RedactedValue = "***REDACTED***"

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, substr := range sensitiveKeySubstrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// redactMap scans a parameter map and nested maps one level deep,
// replacing any sensitive value in place. It mutates and returns m.
func redactMap(m map[string]interface{}) map[string]interface{} {
	for k, v := range m {
		if isSensitiveKey(k) {
			m[k] = RedactedValue
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range nested {
				if isSensitiveKey(nk) {
					nested[nk] = RedactedValue
				} else {
					_ = nv
				}
			}
		}
	}
	return m
}

// redactEvent applies redaction to an event's Details map (top-level and
// one level nested) and to oldValue/newValue in configuration-change
// events.
func redactEvent(e *Event) {
	if e.Details == nil {
		return
	}
	redactMap(e.Details)
}
