package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvAuthEnabled turns the auth layer on when set to "true".
	EnvAuthEnabled = "AUTH_ENABLED"
	// EnvKeysFile overrides the API-key store location.
	EnvKeysFile = "AUTH_KEYS_FILE"
	// DefaultKeysFile is used when EnvKeysFile is unset.
	DefaultKeysFile = "./config/api-keys.json"
)

// storeSchema is the on-disk key file shape: auth flag plus the
// key records, plaintext never present.
type storeSchema struct {
	AuthEnabled bool      `json:"authEnabled"`
	APIKeys     []*APIKey `json:"apiKeys"`
}

// ResolveKeysPath implements the location order for the key store.
func ResolveKeysPath() string {
	if p := os.Getenv(EnvKeysFile); p != "" {
		return p
	}
	return DefaultKeysFile
}

// AuthRequested reports whether the environment asked for auth. A missing
// key file still disables it, which NewManager handles.
func AuthRequested() bool {
	return os.Getenv(EnvAuthEnabled) == "true"
}

// loadStore reads the key file at path. A missing file is not an error:
// it returns an empty, disabled store.
func loadStore(path string) (*storeSchema, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &storeSchema{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key store %s: %w", path, err)
	}

	var store storeSchema
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("parse key store %s: %w", path, err)
	}
	return &store, nil
}

// saveStore writes the key file atomically: temp file in the same
// directory, then rename.
func saveStore(path string, store *storeSchema) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal key store: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create key store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".api-keys-*.json")
	if err != nil {
		return fmt.Errorf("create temp key store: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write key store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close key store: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return fmt.Errorf("chmod key store: %w", err)
	}
	return os.Rename(tmpPath, path)
}
