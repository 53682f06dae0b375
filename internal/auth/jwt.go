package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// looksLikeJWT reports whether a credential has the three-segment compact
// JWS shape. Opaque keys carry the smcp_ prefix and never contain dots.
func looksLikeJWT(credential string) bool {
	return strings.Count(credential, ".") == 2 && !strings.HasPrefix(credential, KeyPrefix)
}

// validateJWT accepts an HMAC-signed bearer token minted against a key
// record that carries a JWTSecret. The token's subject must be the key
// record's ID; the resulting context gets that record's permissions, and
// the record's enabled/expiry checks still apply.
func (m *Manager) validateJWT(token string) (*Context, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, &AuthenticationError{Reason: "unexpected signing method"}
		}
		sub, err := t.Claims.GetSubject()
		if err != nil || sub == "" {
			return nil, &AuthenticationError{Reason: "token has no subject"}
		}

		m.mu.RLock()
		key, ok := m.keys[sub]
		m.mu.RUnlock()
		if !ok || key.JWTSecret == "" {
			return nil, &AuthenticationError{Reason: "unknown token subject"}
		}
		return []byte(key.JWTSecret), nil
	})
	if err != nil || !parsed.Valid {
		return nil, &AuthenticationError{Reason: "invalid bearer token"}
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return nil, &AuthenticationError{Reason: "invalid bearer token"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[sub]
	if !ok {
		return nil, &AuthenticationError{Reason: "unknown token subject"}
	}
	return m.contextForLocked(key)
}
