package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/search-mcp/search-mcp/internal/apierrors"
	"github.com/search-mcp/search-mcp/internal/config"
	"github.com/search-mcp/search-mcp/internal/jsonrpc"
	"github.com/search-mcp/search-mcp/internal/mcp"
)

// TestMain reroutes the test binary into a tiny MCP backend when spawned
// by a client test, so the tests exercise a real child process without
// external fixtures.
func TestMain(m *testing.M) {
	if os.Getenv("GO_TEST_BACKEND") == "1" {
		runTestBackend()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// runTestBackend is a minimal line-delimited JSON-RPC MCP server: it
// answers initialize, tools/list with one "say" tool, and tools/call by
// echoing the arguments. BACKEND_MODE=silent swallows every request to
// trigger timeouts; BACKEND_MODE=garbage interleaves unparseable lines.
func runTestBackend() {
	mode := os.Getenv("BACKEND_MODE")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var req jsonrpc.Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		if mode == "silent" {
			continue
		}
		if mode == "garbage" {
			fmt.Println("this is not json")
		}

		var result interface{}
		switch req.Method {
		case mcp.MethodInitialize:
			result = mcp.InitializeResult{
				ProtocolVersion: mcp.ProtocolVersion,
				ServerInfo:      mcp.ServerInfo{Name: "test-backend", Version: "1"},
			}
		case mcp.MethodToolsList:
			result = mcp.ToolsListResult{Tools: []mcp.Tool{
				{Name: "say", Description: "echoes text"},
			}}
		case mcp.MethodToolsCall:
			var params mcp.CallToolParams
			_ = json.Unmarshal(req.Params, &params)
			result = map[string]interface{}{
				"echoed": params.Arguments,
				"tool":   params.Name,
			}
		default:
			resp := jsonrpc.Response{
				JSONRPC: jsonrpc.Version,
				ID:      req.ID,
				Error:   &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not found"},
			}
			_ = jsonrpc.WriteLine(os.Stdout, resp)
			continue
		}

		raw, _ := json.Marshal(result)
		_ = jsonrpc.WriteLine(os.Stdout, jsonrpc.Response{
			JSONRPC: jsonrpc.Version,
			ID:      req.ID,
			Result:  raw,
		})
	}
}

func testBackendConfig(t *testing.T, name string, extraEnv ...string) *config.BackendConfig {
	t.Helper()
	env := map[string]string{"GO_TEST_BACKEND": "1"}
	for i := 0; i+1 < len(extraEnv); i += 2 {
		env[extraEnv[i]] = extraEnv[i+1]
	}
	return &config.BackendConfig{
		Name:    name,
		Command: os.Args[0],
		Args:    []string{"-test.run=TestMain"},
		Env:     env,
	}
}

func startTestClient(t *testing.T, name string, extraEnv ...string) *Client {
	t.Helper()
	c := NewClient(testBackendConfig(t, name, extraEnv...), zap.NewNop())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c
}

func TestClientStartAndListTools(t *testing.T) {
	c := startTestClient(t, "echo")
	assert.True(t, c.IsRunning())
	assert.Equal(t, "echo", c.Name())

	resp, err := c.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Tools, 1)
	assert.Equal(t, "say", resp.Tools[0].Name)
}

func TestClientCallToolEchoesArguments(t *testing.T) {
	c := startTestClient(t, "echo")

	raw, err := c.CallTool(context.Background(), "say", map[string]interface{}{"text": "hi"})
	require.NoError(t, err)

	var result struct {
		Echoed map[string]interface{} `json:"echoed"`
		Tool   string                 `json:"tool"`
	}
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, "hi", result.Echoed["text"])
	assert.Equal(t, "say", result.Tool)
}

func TestClientToleratesGarbageLines(t *testing.T) {
	c := startTestClient(t, "noisy", "BACKEND_MODE", "garbage")

	raw, err := c.CallTool(context.Background(), "say", map[string]interface{}{"n": float64(1)})
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
}

func TestClientStartTimeoutOnSilentBackend(t *testing.T) {
	cfg := testBackendConfig(t, "slow")
	c := NewClient(cfg, zap.NewNop(), WithRequestTimeout(200*time.Millisecond))
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	// A backend cannot be made silent per request, so a second, silent
	// backend never answers initialize and its start times out.
	silent := NewClient(testBackendConfig(t, "mute", "BACKEND_MODE", "silent"), zap.NewNop(),
		WithStartTimeout(300*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond))
	err := silent.Start(context.Background())
	require.Error(t, err)

	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeBackendStartup, apiErr.Code)
	assert.False(t, silent.IsRunning())
}

func TestClientStopRejectsPendingAndIsIdempotent(t *testing.T) {
	c := startTestClient(t, "echo")

	c.Stop()
	c.Stop()
	assert.False(t, c.IsRunning())

	_, err := c.CallTool(context.Background(), "say", nil)
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeClientStopped, apiErr.Code)
	assert.Equal(t, 0, c.PendingCount())
}

func TestClientStartFailsOnMissingCommand(t *testing.T) {
	cfg := &config.BackendConfig{Name: "ghost", Command: "/nonexistent/definitely-missing"}
	c := NewClient(cfg, zap.NewNop())

	err := c.Start(context.Background())
	apiErr, ok := apierrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apierrors.CodeBackendStartup, apiErr.Code)
	assert.False(t, c.IsRunning())
}

func TestNumericID(t *testing.T) {
	id, ok := numericID(float64(7))
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	_, ok = numericID("not-a-number")
	assert.False(t, ok)

	_, ok = numericID(nil)
	assert.False(t, ok)
}

func TestPendingCountReturnsToZeroAfterCalls(t *testing.T) {
	c := startTestClient(t, "echo")
	for i := 0; i < 5; i++ {
		_, err := c.CallTool(context.Background(), "say", map[string]interface{}{"i": float64(i)})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, c.PendingCount())
}
