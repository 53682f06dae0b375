// Package config defines the aggregator's configuration types: the backend
// registry loaded from mcp-servers.json, and the logging knobs shared with
// the rest of the process.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Duration is a wrapper around time.Duration that marshals to/from JSON as a
// string (e.g. "30s"), the way the rest of the ambient config does.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration format: %w", err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// BackendConfig describes one backend MCP server launched as a child
// process. Immutable after LoadConfig returns.
type BackendConfig struct {
	Name    string            `json:"-"` // set from the mcpServers map key, not serialized back
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"` // nil defaults to true
}

// IsEnabled reports whether the backend should be started; the field
// defaults to true when the config omits it.
func (b *BackendConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// Validate checks the constraints the data model places on a BackendConfig:
// a non-empty, dot-free name, and a non-empty command.
func (b *BackendConfig) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("backend name must not be empty")
	}
	if strings.Contains(b.Name, ".") {
		return fmt.Errorf("backend name %q must not contain '.'", b.Name)
	}
	if b.Command == "" {
		return fmt.Errorf("backend %q: command must not be empty", b.Name)
	}
	return nil
}

// AggregatorConfig is the parsed form of mcp-servers.json: a mapping from
// backend name to BackendConfig, plus optional global defaults.
type AggregatorConfig struct {
	Backends map[string]*BackendConfig

	// BackendStartTimeout bounds how long Start() waits for a backend's
	// initialize handshake.
	BackendStartTimeout time.Duration
	// BackendRequestTimeout bounds a single tools/call or tools/list
	// round trip to a backend.
	BackendRequestTimeout time.Duration
}

// fileSchema mirrors the wire shape of mcp-servers.json. Unknown
// fields are ignored by encoding/json, keeping this format a safe superset
// of common MCP-client configs.
type fileSchema struct {
	MCPServers map[string]struct {
		Command string            `json:"command"`
		Args    []string          `json:"args,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
		Enabled *bool             `json:"enabled,omitempty"`
	} `json:"mcpServers"`
}

// ParseAggregatorConfig decodes the mcp-servers.json payload into an
// AggregatorConfig, applying the documented defaults.
func ParseAggregatorConfig(data []byte) (*AggregatorConfig, error) {
	var raw fileSchema
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse mcp-servers.json: %w", err)
	}

	cfg := &AggregatorConfig{
		Backends:              make(map[string]*BackendConfig, len(raw.MCPServers)),
		BackendStartTimeout:   30 * time.Second,
		BackendRequestTimeout: 30 * time.Second,
	}

	for name, entry := range raw.MCPServers {
		backend := &BackendConfig{
			Name:    name,
			Command: entry.Command,
			Args:    entry.Args,
			Env:     entry.Env,
			Enabled: entry.Enabled,
		}
		if err := backend.Validate(); err != nil {
			return nil, err
		}
		cfg.Backends[name] = backend
	}

	return cfg, nil
}

// EnabledBackends returns the subset of configured backends with
// IsEnabled() true.
func (c *AggregatorConfig) EnabledBackends() []*BackendConfig {
	out := make([]*BackendConfig, 0, len(c.Backends))
	for _, b := range c.Backends {
		if b.IsEnabled() {
			out = append(out, b)
		}
	}
	return out
}

// LogConfig controls the ambient zap logger (stderr only — stdout is
// reserved for the JSON-RPC wire).
type LogConfig struct {
	Level      string `json:"level"`
	EnableFile bool   `json:"enable_file"`
	Filename   string `json:"filename,omitempty"`
	MaxSize    int    `json:"max_size,omitempty"`    // MB
	MaxBackups int    `json:"max_backups,omitempty"` // rotated files retained
	MaxAge     int    `json:"max_age,omitempty"`     // days
	Compress   bool   `json:"compress,omitempty"`
	JSONFormat bool   `json:"json_format"`
}

// DefaultLogConfig returns the console-only, info-level logger configuration
// used when no overrides are present.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      "info",
		EnableFile: false,
		JSONFormat: true,
	}
}
