package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	// EnvConfigPath overrides the mcp-servers.json location.
	EnvConfigPath = "MCP_CONFIG_PATH"
	// DefaultConfigPath is used when EnvConfigPath is unset.
	DefaultConfigPath = "./config/mcp-servers.json"
)

// ResolveConfigPath implements the config location-resolution order:
// MCP_CONFIG_PATH, falling back to ./config/mcp-servers.json.
func ResolveConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return DefaultConfigPath
}

// LoadFromFile reads and parses the backend registry at path.
func LoadFromFile(path string) (*AggregatorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseAggregatorConfig(data)
}

// ExpandEnv expands a backend's env block: each value
// is scanned for ${NAME} tokens, each replaced with the aggregator process's
// environment value for NAME, or preserved literally if unset.
func ExpandEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	expanded := make(map[string]string, len(env))
	for k, v := range env {
		expanded[k] = expandTokens(v)
	}
	return expanded
}

// expandTokens replaces ${NAME} occurrences in s, leaving unset references
// untouched rather than failing fast, so partially configured
// environments still launch.
func expandTokens(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end >= 0 {
				name := s[i+2 : i+2+end]
				if value, ok := os.LookupEnv(name); ok {
					b.WriteString(value)
				} else {
					b.WriteString(s[i : i+2+end+1])
				}
				i += 2 + end + 1
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}
