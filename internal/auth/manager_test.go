package auth

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenerateReturnsPlaintextOnce(t *testing.T) {
	m := NewEnabledManager(zap.NewNop())

	key, plaintext, err := m.Generate("ci", []string{"tools:*"}, 0)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, KeyPrefix))
	assert.Equal(t, HashKey(plaintext), key.HashedKey)
	assert.NotContains(t, key.HashedKey, plaintext)
	assert.True(t, key.Enabled)
	assert.NotEmpty(t, key.ID)
}

func TestValidateAcceptsGeneratedKey(t *testing.T) {
	m := NewEnabledManager(zap.NewNop())
	key, plaintext, err := m.Generate("ci", []string{"tools:echo.*"}, 0)
	require.NoError(t, err)

	ctx, err := m.Validate(plaintext)
	require.NoError(t, err)
	assert.True(t, ctx.Authenticated)
	assert.Equal(t, key.ID, ctx.APIKeyID)
	assert.True(t, ctx.HasPermission("tools:echo.say"))
	assert.False(t, ctx.HasPermission("tools:other.say"))
}

func TestValidateRejectsUnknownDisabledExpired(t *testing.T) {
	m := NewEnabledManager(zap.NewNop())

	_, err := m.Validate("smcp_not-a-real-key")
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)

	_, err = m.Validate("")
	require.ErrorAs(t, err, &authErr)

	key, plaintext, err := m.Generate("ci", nil, 0)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(key.ID))
	_, err = m.Validate(plaintext)
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "disabled")

	_, plaintext, err = m.Generate("short", nil, time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = m.Validate(plaintext)
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, authErr.Reason, "expired")
}

func TestValidateDisabledReturnsAnonymousWildcard(t *testing.T) {
	m := NewDisabledManager(zap.NewNop())

	ctx, err := m.Validate("anything")
	require.NoError(t, err)
	assert.False(t, ctx.Authenticated)
	assert.True(t, ctx.HasPermission("tools:whatever"))
}

func TestValidateUpdatesLastUsedAt(t *testing.T) {
	m := NewEnabledManager(zap.NewNop())
	key, plaintext, err := m.Generate("ci", nil, 0)
	require.NoError(t, err)

	_, err = m.Validate(plaintext)
	require.NoError(t, err)

	for _, k := range m.Keys() {
		if k.ID == key.ID {
			require.NotNil(t, k.LastUsedAt)
		}
	}
}

func TestStoreRoundTripPreservesRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-keys.json")

	m1, err := NewManager(path, true, zap.NewNop())
	require.NoError(t, err)
	m1.enabled = true
	key, _, err := m1.Generate("ci", []string{"tools:*"}, time.Hour)
	require.NoError(t, err)

	m2, err := NewManager(path, true, zap.NewNop())
	require.NoError(t, err)

	keys := m2.Keys()
	require.Len(t, keys, 1)
	loaded := keys[0]
	assert.Equal(t, key.ID, loaded.ID)
	assert.Equal(t, key.HashedKey, loaded.HashedKey)
	assert.Equal(t, key.Name, loaded.Name)
	assert.Equal(t, key.Permissions, loaded.Permissions)
	assert.Equal(t, key.Enabled, loaded.Enabled)
	assert.WithinDuration(t, key.CreatedAt, loaded.CreatedAt, time.Second)
	require.NotNil(t, loaded.ExpiresAt)
	assert.WithinDuration(t, *key.ExpiresAt, *loaded.ExpiresAt, time.Second)
}

func TestMissingKeyFileDisablesAuth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")

	m, err := NewManager(path, true, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, m.Enabled())

	ctx, err := m.Validate("")
	require.NoError(t, err)
	assert.False(t, ctx.Authenticated)
}

func TestHasPermissionMatchingRules(t *testing.T) {
	tests := []struct {
		perms    []string
		required string
		want     bool
	}{
		{[]string{"*"}, "tools:anything", true},
		{[]string{"tools:search"}, "tools:search", true},
		{[]string{"tools:search"}, "tools:other", false},
		{[]string{"tools:*"}, "tools:search", true},
		{[]string{"tools:echo.*"}, "tools:echo.say", true},
		{[]string{"tools:echo.*"}, "tools:other.say", false},
		{[]string{}, "tools:search", false},
	}
	for _, tt := range tests {
		ctx := &Context{Permissions: tt.perms}
		assert.Equal(t, tt.want, ctx.HasPermission(tt.required),
			"perms=%v required=%s", tt.perms, tt.required)
	}
}

func TestValidateAcceptsHMACBearerToken(t *testing.T) {
	m := NewEnabledManager(zap.NewNop())
	key, _, err := m.Generate("svc", []string{"tools:echo.*"}, 0)
	require.NoError(t, err)

	// Attach an HMAC secret to the record, as an operator editing the key
	// file would.
	m.keys[key.ID].JWTSecret = "s3cret-hmac"

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": key.ID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("s3cret-hmac"))
	require.NoError(t, err)

	ctx, err := m.Validate(signed)
	require.NoError(t, err)
	assert.True(t, ctx.Authenticated)
	assert.Equal(t, key.ID, ctx.APIKeyID)

	// A token signed with the wrong secret is rejected.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": key.ID,
	}).SignedString([]byte("wrong"))
	require.NoError(t, err)
	_, err = m.Validate(forged)
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
}
