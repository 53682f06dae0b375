package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAggregatorConfig(t *testing.T) {
	data := []byte(`{
		"mcpServers": {
			"echo": {
				"command": "echo-server",
				"args": ["--stdio"],
				"env": {"TOKEN": "${ECHO_TOKEN}"}
			},
			"disabled": {
				"command": "whatever",
				"enabled": false
			}
		}
	}`)

	cfg, err := ParseAggregatorConfig(data)
	require.NoError(t, err)
	require.Len(t, cfg.Backends, 2)

	echo := cfg.Backends["echo"]
	require.NotNil(t, echo)
	assert.Equal(t, "echo", echo.Name)
	assert.True(t, echo.IsEnabled())

	disabled := cfg.Backends["disabled"]
	require.NotNil(t, disabled)
	assert.False(t, disabled.IsEnabled())

	enabled := cfg.EnabledBackends()
	require.Len(t, enabled, 1)
	assert.Equal(t, "echo", enabled[0].Name)
}

func TestBackendConfigValidateRejectsDotInName(t *testing.T) {
	b := &BackendConfig{Name: "a.b", Command: "x"}
	err := b.Validate()
	require.Error(t, err)
}

func TestBackendConfigValidateRejectsEmptyCommand(t *testing.T) {
	b := &BackendConfig{Name: "echo"}
	err := b.Validate()
	require.Error(t, err)
}

func TestUnknownFieldsAreIgnored(t *testing.T) {
	data := []byte(`{
		"mcpServers": {
			"echo": {"command": "echo-server", "someClientSpecificField": "ignored"}
		}
	}`)
	cfg, err := ParseAggregatorConfig(data)
	require.NoError(t, err)
	require.Contains(t, cfg.Backends, "echo")
}
