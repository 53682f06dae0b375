package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core and masks secret values before they
// reach a sink. The pattern set covers the credential shapes this process
// actually handles: smcp_-prefixed API keys, the HMAC bearer JWTs the auth
// manager accepts, generic Bearer credentials, and high-entropy values that
// look like tokens. Backend env secrets resolved from ${VAR} expansion are
// masked through the process-wide registry (RegisterSecret) instead of a
// pattern, since their shape is whatever the operator's environment holds.
type SecretSanitizer struct {
	zapcore.Core
	patterns []*secretPattern
}

// secretPattern pairs a detector with its masking function.
type secretPattern struct {
	name     string
	regex    *regexp.Regexp
	maskFunc func(string) string
}

// registeredSecrets holds exact secret values registered at runtime, shared
// by every sanitizing core in the process so a value registered once (e.g.
// a backend env secret at spawn time) is masked everywhere.
var registeredSecrets sync.Map

// RegisterSecret records an exact value to mask in all future log output.
// Values shorter than 8 bytes are ignored: masking them would mostly hit
// innocent substrings.
func RegisterSecret(value string) {
	if len(value) < 8 {
		return
	}
	registeredSecrets.Store(value, true)
}

// UnregisterSecret removes a value from the mask registry.
func UnregisterSecret(value string) {
	registeredSecrets.Delete(value)
}

// NewSecretSanitizer creates a sanitizing core wrapping core.
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	s := &SecretSanitizer{Core: core}
	s.registerDefaultPatterns()
	return s
}

func (s *SecretSanitizer) registerDefaultPatterns() {
	// Opaque API keys issued by the auth manager: the smcp_ prefix plus a
	// base64url-encoded 32-byte secret.
	s.patterns = append(s.patterns, &secretPattern{
		name:  "api_key",
		regex: regexp.MustCompile(`\b(smcp_[A-Za-z0-9_-]{20,})\b`),
		maskFunc: func(key string) string {
			if len(key) <= 9 {
				return "smcp_****"
			}
			return key[:8] + "***" + key[len(key)-2:]
		},
	})

	// Compact JWTs, the alternate bearer credential the auth manager
	// validates. Header stays visible; payload and signature do not.
	s.patterns = append(s.patterns, &secretPattern{
		name:  "jwt",
		regex: regexp.MustCompile(`\b(eyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+)\b`),
		maskFunc: func(jwt string) string {
			parts := strings.Split(jwt, ".")
			if len(parts) != 3 || len(parts[2]) < 4 {
				return "****"
			}
			return parts[0] + ".***." + parts[2][len(parts[2])-4:]
		},
	})

	// Generic Bearer credentials, in case a backend's error output quotes
	// an Authorization header back at us.
	s.patterns = append(s.patterns, &secretPattern{
		name:  "bearer_token",
		regex: regexp.MustCompile(`\b(Bearer\s+[A-Za-z0-9\-\._~\+\/]+=*)\b`),
		maskFunc: func(token string) string {
			parts := strings.SplitN(token, " ", 2)
			if len(parts) != 2 || len(parts[1]) <= 4 {
				return "Bearer ****"
			}
			return "Bearer " + parts[1][:4] + "***" + parts[1][len(parts[1])-2:]
		},
	})

	// High-entropy strings in assignment or quoted positions: catches
	// backend env secrets that were configured literally rather than via
	// ${VAR} (which the registry handles exactly).
	s.patterns = append(s.patterns, &secretPattern{
		name:  "high_entropy",
		regex: regexp.MustCompile(`(["\']|[=:][\s]*)(["'])?([A-Za-z0-9+/]{32,}={0,2})(["'])?`),
		maskFunc: func(match string) string {
			re := regexp.MustCompile(`(["\']|[=:][\s]*)(["'])?([A-Za-z0-9+/]{32,}={0,2})(["'])?`)
			parts := re.FindStringSubmatch(match)
			if len(parts) < 4 {
				return match
			}
			prefix, openQuote, value, closeQuote := parts[1], parts[2], parts[3], parts[4]
			if hasHighEntropy(value) {
				return prefix + openQuote + maskValue(value) + closeQuote
			}
			return match
		},
	})
}

// sanitizeString masks registered exact values first, then applies the
// pattern set.
func (s *SecretSanitizer) sanitizeString(str string) string {
	result := str

	registeredSecrets.Range(func(key, _ interface{}) bool {
		secretValue, ok := key.(string)
		if !ok || secretValue == "" {
			return true
		}
		if strings.Contains(result, secretValue) {
			result = strings.ReplaceAll(result, secretValue, maskValue(secretValue))
		}
		return true
	})

	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllStringFunc(result, pattern.maskFunc)
	}
	return result
}

// Write sanitizes the entry before writing.
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitizeString(entry.Message)

	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}
	return s.Core.Write(entry, sanitizedFields)
}

func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.sanitizeString(field.String)
	case zapcore.ByteStringType:
		original := string(field.Interface.([]byte))
		field.Interface = []byte(s.sanitizeString(original))
	case zapcore.ReflectType:
		// Best effort for complex values: sanitize via their Stringer.
		if stringer, ok := field.Interface.(interface{ String() string }); ok {
			original := stringer.String()
			sanitized := s.sanitizeString(original)
			if original != sanitized {
				field = zapcore.Field{
					Key:    field.Key,
					Type:   zapcore.StringType,
					String: sanitized,
				}
			}
		}
	}
	return field
}

// With creates a sanitizing child core.
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitizedFields := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		sanitizedFields[i] = s.sanitizeField(field)
	}
	return &SecretSanitizer{
		Core:     s.Core.With(sanitizedFields),
		patterns: s.patterns,
	}
}

// Check delegates to the wrapped core.
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// maskValue shows the first 3 and last 2 characters of a secret.
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}

// hasHighEntropy reports whether a string looks like a random token:
// mostly unique characters drawn from at least 3 character classes.
func hasHighEntropy(s string) bool {
	if len(s) < 16 {
		return false
	}

	charCount := make(map[rune]int)
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, char := range s {
		charCount[char]++
		switch {
		case char >= 'A' && char <= 'Z':
			hasUpper = true
		case char >= 'a' && char <= 'z':
			hasLower = true
		case char >= '0' && char <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}

	varietyScore := 0
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSpecial} {
		if present {
			varietyScore++
		}
	}

	uniqueRatio := float64(len(charCount)) / float64(len(s))
	return uniqueRatio > 0.6 && varietyScore >= 3
}
