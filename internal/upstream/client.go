// Package upstream owns the backend side of the aggregator: one Client per
// child MCP server speaking line-delimited JSON-RPC over the child's stdio,
// and a Manager that fans out across all of them and serves the aggregated
// catalog.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/search-mcp/search-mcp/internal/apierrors"
	"github.com/search-mcp/search-mcp/internal/config"
	"github.com/search-mcp/search-mcp/internal/jsonrpc"
	"github.com/search-mcp/search-mcp/internal/logs"
	"github.com/search-mcp/search-mcp/internal/mcp"
)

const (
	// DefaultStartTimeout bounds spawn plus the initialize handshake.
	DefaultStartTimeout = 30 * time.Second
	// DefaultRequestTimeout bounds a single request round trip.
	DefaultRequestTimeout = 30 * time.Second
	// stopGracePeriod is how long Stop waits for the child to exit after
	// an interrupt before escalating to an OS kill.
	stopGracePeriod = 3 * time.Second
)

// Client is the sole speaker of the MCP wire protocol with one backend
// subprocess. It owns the child process handle and the pending-request
// table exclusively; the reader goroutine and writers never block each
// other (the write path holds writeMu only around one line write).
type Client struct {
	cfg            *config.BackendConfig
	logger         *zap.Logger
	startTimeout   time.Duration
	requestTimeout time.Duration

	cmd   *exec.Cmd
	stdin io.WriteCloser

	// writeMu serializes line writes to the child's stdin.
	writeMu sync.Mutex

	// nextID is the monotonic request-id counter, starting at 1.
	nextID atomic.Int64

	// pending maps request id to the single waiter expecting the response.
	pendingMu sync.Mutex
	pending   map[int64]chan *jsonrpc.Response

	state stateTracker

	// done is closed exactly once when the client terminates; every waiter
	// selects on it so Stop completes in bounded time.
	done     chan struct{}
	doneOnce sync.Once

	// exited is closed by the process reaper once cmd.Wait returns.
	exited chan struct{}

	toolCount atomic.Int64
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithStartTimeout overrides the default 30s startup bound.
func WithStartTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.startTimeout = d }
}

// WithRequestTimeout overrides the default 30s per-request bound.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.requestTimeout = d }
}

// NewClient builds an unstarted client for one backend config.
func NewClient(cfg *config.BackendConfig, logger *zap.Logger, opts ...ClientOption) *Client {
	c := &Client{
		cfg:            cfg,
		logger:         logger.With(zap.String("backend", cfg.Name)),
		startTimeout:   DefaultStartTimeout,
		requestTimeout: DefaultRequestTimeout,
		pending:        make(map[int64]chan *jsonrpc.Response),
		done:           make(chan struct{}),
		exited:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the backend's configured name, the catalog namespace prefix.
func (c *Client) Name() string { return c.cfg.Name }

// IsRunning reports whether the backend completed the initialize handshake
// and has not since exited or been stopped.
func (c *Client) IsRunning() bool {
	return c.state.get() == StateReady
}

// State returns the current lifecycle state and last error for stats and
// health reporting.
func (c *Client) State() (string, error) {
	return c.state.get().healthState(), c.state.getError()
}

// ToolCount returns the number of tools discovered at the last refresh.
func (c *Client) ToolCount() int { return int(c.toolCount.Load()) }

// SetToolCount records the tool count the manager observed; kept on the
// client so per-server stats survive catalog swaps.
func (c *Client) SetToolCount(n int) { c.toolCount.Store(int64(n)) }

// Start spawns the child process and performs the initialize handshake.
// It fails with BackendStartup if the spawn fails or initialize does not
// complete within the start timeout.
func (c *Client) Start(ctx context.Context) error {
	if !c.state.setIfNot(StateStarting, StateStarting, StateReady, StateStopping, StateTerminated) {
		return apierrors.BackendStartup(c.cfg.Name, fmt.Errorf("already started"))
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Env = mergedEnv(c.cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return c.failStartup(fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return c.failStartup(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return c.failStartup(fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return c.failStartup(fmt.Errorf("spawn %s: %w", c.cfg.Command, err))
	}

	c.cmd = cmd
	c.stdin = stdin

	go c.readLoop(stdout)
	go c.drainStderr(stderr)
	go c.waitExit()

	c.logger.Info("backend process spawned",
		zap.String("command", c.cfg.Command),
		zap.Int("pid", cmd.Process.Pid))

	initCtx, cancel := context.WithTimeout(ctx, c.startTimeout)
	defer cancel()

	params := mcp.InitializeParams{
		ProtocolVersion: mcp.ProtocolVersion,
		ClientInfo:      mcp.ClientInfo{Name: mcp.ServerName, Version: mcp.ServerVersion},
	}
	if _, err := c.call(initCtx, mcp.MethodInitialize, params, c.startTimeout); err != nil {
		c.Stop()
		return apierrors.BackendStartup(c.cfg.Name, err)
	}

	if !c.state.setIfNot(StateReady, StateStopping, StateTerminated) {
		return apierrors.BackendStartup(c.cfg.Name, fmt.Errorf("terminated during startup"))
	}
	c.logger.Info("backend initialized")
	return nil
}

func (c *Client) failStartup(err error) error {
	c.state.setError(err)
	c.state.set(StateTerminated)
	c.doneOnce.Do(func() { close(c.done) })
	return apierrors.BackendStartup(c.cfg.Name, err)
}

// Stop is idempotent: it kills the process, closes the streams, and
// rejects every outstanding waiter with ClientStopped.
func (c *Client) Stop() {
	if !c.state.setIfNot(StateStopping, StateStopping, StateTerminated) {
		return
	}

	c.doneOnce.Do(func() { close(c.done) })

	if c.stdin != nil {
		_ = c.stdin.Close()
	}

	if c.cmd != nil && c.cmd.Process != nil {
		// Interrupt first; escalate after the grace period. The
		// reaper goroutine closes c.exited when cmd.Wait returns.
		_ = c.cmd.Process.Signal(os.Interrupt)
		select {
		case <-c.exited:
		case <-time.After(stopGracePeriod):
			c.logger.Warn("backend did not exit after interrupt, killing")
			_ = c.cmd.Process.Kill()
			<-c.exited
		}
	}

	c.rejectAllPending()
	c.state.set(StateTerminated)
	c.logger.Info("backend stopped")
}

// ListTools sends tools/list and decodes the response.
func (c *Client) ListTools(ctx context.Context) (*mcp.ToolsListResult, error) {
	raw, err := c.call(ctx, mcp.MethodToolsList, struct{}{}, c.requestTimeout)
	if err != nil {
		return nil, err
	}
	var result mcp.ToolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apierrors.MCPServerError(c.cfg.Name, fmt.Sprintf("malformed tools/list response: %v", err))
	}
	return &result, nil
}

// CallTool sends tools/call with the original unqualified tool name and
// returns the backend's result verbatim.
func (c *Client) CallTool(ctx context.Context, rawName string, arguments map[string]interface{}) (json.RawMessage, error) {
	params := mcp.CallToolParams{Name: rawName, Arguments: arguments}
	return c.call(ctx, mcp.MethodToolsCall, params, c.requestTimeout)
}

// call performs one request/response round trip: register a waiter, write
// the line, then select over response, timeout, shutdown, and context
// cancellation.
func (c *Client) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	select {
	case <-c.done:
		return nil, apierrors.ClientStopped(c.cfg.Name)
	default:
	}

	id := c.nextID.Add(1)
	req, err := jsonrpc.NewRequest(id, method, params)
	if err != nil {
		return nil, apierrors.InternalError(err)
	}

	waiter := make(chan *jsonrpc.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = waiter
	c.pendingMu.Unlock()

	c.writeMu.Lock()
	err = jsonrpc.WriteLine(c.stdin, req)
	c.writeMu.Unlock()
	if err != nil {
		c.removePending(id)
		return nil, apierrors.MCPServerError(c.cfg.Name, fmt.Sprintf("write request: %v", err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		if resp.Error != nil {
			return nil, apierrors.MCPServerError(c.cfg.Name, resp.Error.Message)
		}
		return resp.Result, nil
	case <-timer.C:
		// A later-arriving response for this id is silently discarded
		// because the waiter is gone from the table.
		c.removePending(id)
		return nil, apierrors.BackendTimeout(c.cfg.Name)
	case <-c.done:
		c.removePending(id)
		return nil, apierrors.ClientStopped(c.cfg.Name)
	case <-ctx.Done():
		c.removePending(id)
		return nil, apierrors.ClientStopped(c.cfg.Name)
	}
}

// readLoop drains the child's stdout line by line, correlating responses
// to waiters. Parse failures and unmatched ids are logged and skipped;
// they never cascade.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := jsonrpc.NewLineReader(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp jsonrpc.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("discarding unparseable line from backend", zap.Error(err))
			continue
		}

		id, ok := numericID(resp.ID)
		if !ok {
			// Notification or a request from the backend; neither is
			// supported.
			c.logger.Debug("discarding non-response message from backend")
			continue
		}

		c.pendingMu.Lock()
		waiter, found := c.pending[id]
		if found {
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		if !found {
			c.logger.Debug("discarding response with no waiter", zap.Int64("id", id))
			continue
		}
		waiter <- &resp
	}

	// stdout closed: the process exited or is exiting.
	c.onExit()
}

// drainStderr re-emits the child's stderr on the aggregator's stderr,
// prefixed with the backend name. It never affects request processing.
func (c *Client) drainStderr(stderr io.Reader) {
	scanner := jsonrpc.NewLineReader(stderr)
	for scanner.Scan() {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", c.cfg.Name, scanner.Text())
	}
}

// waitExit reaps the child and records an unexpected exit.
func (c *Client) waitExit() {
	err := c.cmd.Wait()
	close(c.exited)
	if c.state.get() != StateStopping && c.state.get() != StateTerminated {
		if err != nil {
			c.state.setError(err)
			c.logger.Warn("backend exited unexpectedly", zap.Error(err))
		} else {
			c.logger.Warn("backend exited unexpectedly")
		}
	}
	c.onExit()
}

// onExit transitions to Terminated and rejects all waiters. Safe to call
// from both the read loop and the process reaper.
func (c *Client) onExit() {
	c.doneOnce.Do(func() { close(c.done) })
	c.state.set(StateTerminated)
	c.rejectAllPending()
}

// rejectAllPending completes every live waiter with a cancellation error
// by removing it from the table; the waiters themselves observe c.done.
func (c *Client) rejectAllPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id := range c.pending {
		delete(c.pending, id)
	}
}

func (c *Client) removePending(id int64) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	delete(c.pending, id)
}

// PendingCount reports the live waiter count, used by tests to pin the
// invariant that it never exceeds in-flight calls.
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// numericID normalizes a decoded JSON-RPC id to int64. encoding/json
// decodes numbers into float64 when the target is interface{}.
func numericID(v interface{}) (int64, bool) {
	switch id := v.(type) {
	case float64:
		return int64(id), true
	case int64:
		return id, true
	case json.Number:
		n, err := id.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// mergedEnv combines the aggregator's environment with the backend's env
// block, ${VAR} references expanded, backend values winning. Values that
// changed under expansion were pulled from the operator's environment;
// those are registered with the log sanitizer so they never surface in
// log output verbatim.
func mergedEnv(env map[string]string) []string {
	merged := os.Environ()
	expanded := config.ExpandEnv(env)
	for k, v := range expanded {
		if v != env[k] {
			logs.RegisterSecret(v)
		}
		merged = append(merged, k+"="+v)
	}
	return merged
}
