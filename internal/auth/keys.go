// Package auth implements the API-key manager: opaque keys
// compared by SHA-256 hash, pattern-based permissions, and a JSON key
// store that never touches plaintext after generation.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// KeyPrefix is the fixed prefix of every generated plaintext key.
const KeyPrefix = "smcp_"

// secretBytes is the random secret length behind each key.
const secretBytes = 32

// APIKey is one persisted key record. The plaintext exists only at
// generation time; only the SHA-256 hex of the full rendered key is ever
// stored.
type APIKey struct {
	ID          string     `json:"id"`
	HashedKey   string     `json:"hashedKey"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty"`
	Enabled     bool       `json:"enabled"`

	// JWTSecret, when set, additionally accepts HMAC-signed bearer tokens
	// minted against this record (jwt.go). Optional; the opaque-key path
	// is always available.
	JWTSecret string `json:"jwtSecret,omitempty"`
}

// IsExpired reports whether the key has an expiry in the past.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// HashKey computes the stored form of a plaintext key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// generateKey renders a fresh plaintext key and its record. The plaintext
// is returned exactly once; the record carries only the hash.
func generateKey(name string, permissions []string, expiresIn time.Duration, now time.Time) (*APIKey, string, error) {
	secret := make([]byte, secretBytes)
	if _, err := rand.Read(secret); err != nil {
		return nil, "", fmt.Errorf("generate key secret: %w", err)
	}
	plaintext := KeyPrefix + base64.RawURLEncoding.EncodeToString(secret)

	key := &APIKey{
		ID:          uuid.New().String(),
		HashedKey:   HashKey(plaintext),
		Name:        name,
		Permissions: append([]string(nil), permissions...),
		CreatedAt:   now,
		Enabled:     true,
	}
	if expiresIn > 0 {
		expiry := now.Add(expiresIn)
		key.ExpiresAt = &expiry
	}
	return key, plaintext, nil
}
