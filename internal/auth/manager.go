package auth

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuthenticationError is returned for a missing, unknown, disabled, or
// expired key. The dispatcher shapes it; the
// code string matches the taxonomy table.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// Manager is the process-wide key table: rare writes on
// generate/revoke, many reads on validate.
type Manager struct {
	mu      sync.RWMutex
	enabled bool
	keys    map[string]*APIKey // by ID
	byHash  map[string]*APIKey // by hashed key
	path    string

	logger *zap.Logger
	now    func() time.Time
}

// NewManager loads the key store at path. A missing file yields a manager
// with auth disabled regardless of requested.
func NewManager(path string, requested bool, logger *zap.Logger) (*Manager, error) {
	store, err := loadStore(path)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		enabled: requested && store.AuthEnabled,
		keys:    make(map[string]*APIKey, len(store.APIKeys)),
		byHash:  make(map[string]*APIKey, len(store.APIKeys)),
		path:    path,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, key := range store.APIKeys {
		m.keys[key.ID] = key
		m.byHash[key.HashedKey] = key
	}

	if requested && !store.AuthEnabled {
		logger.Warn("auth requested but key store disables it or is missing",
			zap.String("path", path))
	}
	return m, nil
}

// Enabled reports whether request authentication is active.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Generate creates a new key with the given name and permissions, stores
// its record, and returns the record together with the plaintext. The
// plaintext is not recoverable afterwards.
func (m *Manager) Generate(name string, permissions []string, expiresIn time.Duration) (*APIKey, string, error) {
	key, plaintext, err := generateKey(name, permissions, expiresIn, m.now())
	if err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	m.keys[key.ID] = key
	m.byHash[key.HashedKey] = key
	err = m.saveLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, "", err
	}

	m.logger.Info("api key generated",
		zap.String("id", key.ID), zap.String("name", name))
	return key, plaintext, nil
}

// Revoke disables a key by ID.
func (m *Manager) Revoke(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[id]
	if !ok {
		return fmt.Errorf("api key not found: %s", id)
	}
	key.Enabled = false
	return m.saveLocked()
}

// Validate resolves a plaintext credential into an auth context. With
// auth disabled it returns the anonymous wildcard context. Bearer JWTs
// (three dot-separated segments) take the HMAC path; everything else is
// compared by SHA-256 against the stored hashes.
func (m *Manager) Validate(plaintext string) (*Context, error) {
	if !m.Enabled() {
		return Anonymous(), nil
	}
	if plaintext == "" {
		return nil, &AuthenticationError{Reason: "missing api key"}
	}

	if looksLikeJWT(plaintext) {
		return m.validateJWT(plaintext)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.byHash[HashKey(plaintext)]
	if !ok {
		return nil, &AuthenticationError{Reason: "unknown api key"}
	}
	return m.contextForLocked(key)
}

// contextForLocked applies the shared record checks and stamps lastUsedAt.
// Callers hold m.mu.
func (m *Manager) contextForLocked(key *APIKey) (*Context, error) {
	if !key.Enabled {
		return nil, &AuthenticationError{Reason: "api key disabled"}
	}
	now := m.now()
	if key.IsExpired(now) {
		return nil, &AuthenticationError{Reason: "api key expired"}
	}

	key.LastUsedAt = &now
	if err := m.saveLocked(); err != nil {
		m.logger.Warn("failed to persist lastUsedAt", zap.Error(err))
	}

	return &Context{
		APIKeyID:      key.ID,
		Permissions:   append([]string(nil), key.Permissions...),
		Authenticated: true,
	}, nil
}

// Keys returns a snapshot of all records, for tests and tooling.
func (m *Manager) Keys() []*APIKey {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*APIKey, 0, len(m.keys))
	for _, key := range m.keys {
		clone := *key
		out = append(out, &clone)
	}
	return out
}

// saveLocked persists the current table. Callers hold m.mu. An empty
// path disables persistence (tests).
func (m *Manager) saveLocked() error {
	if m.path == "" {
		return nil
	}
	store := &storeSchema{AuthEnabled: m.enabled, APIKeys: make([]*APIKey, 0, len(m.keys))}
	for _, key := range m.keys {
		store.APIKeys = append(store.APIKeys, key)
	}
	return saveStore(m.path, store)
}

// NewDisabledManager returns a manager with auth off and no persistence,
// for wiring tests and the default unauthenticated deployment.
func NewDisabledManager(logger *zap.Logger) *Manager {
	return &Manager{
		keys:   make(map[string]*APIKey),
		byHash: make(map[string]*APIKey),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewEnabledManager returns an in-memory manager with auth on, for tests.
func NewEnabledManager(logger *zap.Logger) *Manager {
	m := NewDisabledManager(logger)
	m.enabled = true
	return m
}
