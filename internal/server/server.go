// Package server implements the frontend MCP dispatcher: a
// compliant MCP server over stdin/stdout that translates client JSON-RPC
// into backend-manager calls, runs every tools/call through the
// cross-cutting pipeline, and shapes every failure uniformly.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/search-mcp/search-mcp/internal/apierrors"
	"github.com/search-mcp/search-mcp/internal/audit"
	"github.com/search-mcp/search-mcp/internal/auth"
	"github.com/search-mcp/search-mcp/internal/jsonrpc"
	"github.com/search-mcp/search-mcp/internal/mcp"
	"github.com/search-mcp/search-mcp/internal/metrics"
	"github.com/search-mcp/search-mcp/internal/ratelimit"
	"github.com/search-mcp/search-mcp/internal/reqcontext"
	"github.com/search-mcp/search-mcp/internal/toolcache"
	"github.com/search-mcp/search-mcp/internal/tools"
	"github.com/search-mcp/search-mcp/internal/upstream"
)

// codeNotInitialized is the JSON-RPC error for requests before initialize.
const codeNotInitialized = -32002

// Server is the frontend dispatcher. It owns no state beyond the
// initialization flag; every cross-cutting collaborator is injected
// so tests stay parallelizable.
type Server struct {
	logger   *zap.Logger
	manager  *upstream.Manager
	registry *tools.Registry
	limiter  *ratelimit.Limiter
	authMgr  *auth.Manager
	auditor  *audit.Logger
	cache    *toolcache.Manager
	metrics  *metrics.Metrics

	configPath  string
	initialized bool

	in  io.Reader
	out io.Writer
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithCache enables the tool-result cache for external dispatches.
func WithCache(c *toolcache.Manager) Option {
	return func(s *Server) { s.cache = c }
}

// WithMetrics attaches the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New wires a dispatcher over the given stdio streams.
func New(
	in io.Reader,
	out io.Writer,
	configPath string,
	manager *upstream.Manager,
	registry *tools.Registry,
	limiter *ratelimit.Limiter,
	authMgr *auth.Manager,
	auditor *audit.Logger,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		logger:     logger,
		manager:    manager,
		registry:   registry,
		limiter:    limiter,
		authMgr:    authMgr,
		auditor:    auditor,
		configPath: configPath,
		in:         in,
		out:        out,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve reads client requests line by line in arrival order until EOF or
// context cancellation. EOF is a graceful shutdown; only an
// unrecoverable stdout write error is fatal and returned.
func (s *Server) Serve(ctx context.Context) error {
	scanner := jsonrpc.NewLineReader(s.in)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonrpc.Request
		var resp *jsonrpc.Response
		if err := json.Unmarshal(line, &req); err != nil {
			// Parse errors answer with id 0 and -32700.
			resp = &jsonrpc.Response{
				JSONRPC: jsonrpc.Version,
				ID:      0,
				Error:   &jsonrpc.Error{Code: jsonrpc.CodeParseError, Message: "Parse error"},
			}
		} else {
			resp = s.handle(ctx, &req)
		}

		if resp == nil {
			continue // notification: no response
		}
		if err := jsonrpc.WriteLine(s.out, resp); err != nil {
			s.auditShutdown("stdout write failure")
			return fmt.Errorf("write response: %w", err)
		}
	}

	s.auditShutdown("client closed stdin")
	return nil
}

func (s *Server) auditShutdown(reason string) {
	s.auditor.Record(audit.Event{
		Type:   audit.TypeSystem,
		Actor:  audit.Actor{ID: "aggregator", Type: "internal"},
		Action: "shutdown",
		Result: audit.ResultSuccess,
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// handle routes one request by method name. A nil return means no
// response is written (request was a notification).
func (s *Server) handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var result interface{}
	var err error

	switch req.Method {
	case mcp.MethodInitialize:
		result, err = s.handleInitialize(ctx)
	case mcp.MethodToolsList:
		result, err = s.handleToolsList()
	case mcp.MethodToolsCall:
		result, err = s.handleToolsCall(ctx, req.Params)
	case mcp.MethodPing:
		result = map[string]string{"status": "ok"}
	default:
		if req.ID == nil {
			s.logger.Debug("ignoring notification", zap.String("method", req.Method))
			return nil
		}
		return &jsonrpc.Response{
			JSONRPC: jsonrpc.Version,
			ID:      req.ID,
			Error:   &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "Method not found"},
		}
	}

	if req.ID == nil {
		return nil
	}
	if err != nil {
		return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Error: s.shapeError(err)}
	}

	raw, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return &jsonrpc.Response{
			JSONRPC: jsonrpc.Version,
			ID:      req.ID,
			Error:   s.shapeError(apierrors.InternalError(marshalErr)),
		}
	}
	return &jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: req.ID, Result: raw}
}

// handleInitialize performs the one-shot startup: load config, start all
// backends, mark initialized. Failures map to ConfigurationError.
func (s *Server) handleInitialize(ctx context.Context) (interface{}, error) {
	if !s.initialized {
		if err := s.manager.LoadConfig(s.configPath); err != nil {
			return nil, err
		}
		if err := s.manager.StartAll(ctx); err != nil {
			return nil, apierrors.ConfigurationError(err.Error())
		}
		s.initialized = true
	}

	return mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		ServerInfo:      mcp.ServerInfo{Name: mcp.ServerName, Version: mcp.ServerVersion},
	}, nil
}

func (s *Server) requireInitialized() *jsonrpc.Error {
	if s.initialized {
		return nil
	}
	return &jsonrpc.Error{Code: codeNotInitialized, Message: "Server not initialized"}
}

// handleToolsList combines the internal tool set with the aggregated
// catalog; both carry name and description only.
func (s *Server) handleToolsList() (interface{}, error) {
	if e := s.requireInitialized(); e != nil {
		return nil, e
	}

	internal := s.registry.List()
	backend := s.manager.ListTools()

	combined := make([]upstream.LightTool, 0, len(internal)+len(backend))
	combined = append(combined, internal...)
	combined = append(combined, backend...)
	return map[string]interface{}{"tools": combined}, nil
}

// callParams is the tools/call payload. APIKey is the aggregator-specific
// credential field; it never reaches a backend.
type callParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	APIKey    string                 `json:"apiKey,omitempty"`
}

// handleToolsCall runs the request pipeline in order, short-circuiting on
// the first failure: name check, rate limit, authorization, then internal
// or external dispatch, auditing every outcome.
func (s *Server) handleToolsCall(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if e := s.requireInitialized(); e != nil {
		return nil, e
	}

	var call callParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &call); err != nil {
			return nil, apierrors.ValidationError(fmt.Sprintf("malformed tools/call params: %v", err))
		}
	}

	// 1. Name check.
	if call.Name == "" {
		return nil, apierrors.ValidationError("Tool name is required")
	}

	ctx = reqcontext.WithMetadata(ctx, reqcontext.SourceMCP)

	// Resolve the caller's identity before the rate check so the tier and
	// identifier reflect authentication.
	authCtx, err := s.authMgr.Validate(call.APIKey)
	if err != nil {
		var authErr *auth.AuthenticationError
		if errors.As(err, &authErr) {
			s.auditAuth(call.Name, "", audit.ResultFailure, authErr.Reason)
			return nil, apierrors.AuthenticationError(authErr.Error(), err)
		}
		return nil, apierrors.InternalError(err)
	}

	ctx = reqcontext.WithPrincipalID(ctx, authCtx.APIKeyID)

	identifier := authCtx.APIKeyID
	tier := ratelimit.TierDefault
	if authCtx.Authenticated {
		tier = ratelimit.TierAuthenticated
	}
	if identifier == "" {
		identifier = "anonymous"
	}

	// 2. Rate limit.
	decision := s.limiter.CheckLimit(identifier, tier, 1)
	if !decision.Allowed {
		s.auditor.Record(audit.Event{
			Type:   audit.TypeRateLimit,
			Level:  audit.LevelWarn,
			Actor:  s.actor(authCtx),
			Action: call.Name,
			Result: audit.ResultFailure,
			Details: map[string]interface{}{
				"tier":       tier,
				"retryAfter": decision.RetryAfter,
			},
		})
		return nil, apierrors.RateLimitExceeded(decision.RetryAfter)
	}

	// 3. Authorization, only when auth is enabled.
	if s.authMgr.Enabled() {
		required := auth.ToolPermission(call.Name)
		if !authCtx.HasPermission(required) {
			s.auditAuth(call.Name, authCtx.APIKeyID, audit.ResultFailure, "missing permission "+required)
			return nil, apierrors.AuthorizationError(required)
		}
	}

	// 4-5. Dispatch, internal first.
	start := time.Now()
	var result interface{}
	if s.registry.Has(call.Name) {
		result, err = s.invokeInternal(ctx, call.Name, call.Arguments)
	} else {
		result, err = s.dispatchExternal(ctx, call.Name, call.Arguments)
	}
	duration := time.Since(start)

	// 6. Audit the outcome; arguments are redacted by the audit logger.
	s.auditExecution(ctx, authCtx, call.Name, call.Arguments, duration, err)
	if s.metrics != nil {
		backend := "internal"
		if b, _, ok := upstream.SplitQualifiedName(call.Name); ok && !s.registry.Has(call.Name) {
			backend = b
		}
		s.metrics.ToolCallDuration.WithLabelValues(backend).Observe(duration.Seconds())
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

// invokeInternal runs an internal adapter and wraps its payload in the
// single-text content envelope.
func (s *Server) invokeInternal(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	out, err := s.registry.Invoke(ctx, name, args)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, apierrors.InternalError(err)
	}
	return mcp.TextResult(string(payload)), nil
}

// dispatchExternal routes through the backend manager, consulting the
// optional result cache first. Backend results pass through verbatim.
func (s *Server) dispatchExternal(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	var cacheKey string
	if s.cache != nil {
		cacheKey = toolcache.Key(name, args)
		if record, err := s.cache.Get(cacheKey); err == nil {
			return json.RawMessage(record.Result), nil
		}
	}

	raw, err := s.manager.ExecuteTool(ctx, name, args)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Store(cacheKey, name, raw); err != nil {
			s.logger.Warn("tool cache store failed", zap.Error(err))
		}
	}
	return json.RawMessage(raw), nil
}

func (s *Server) actor(authCtx *auth.Context) audit.Actor {
	if authCtx != nil && authCtx.Authenticated {
		return audit.Actor{ID: authCtx.APIKeyID, Type: "apikey"}
	}
	return audit.Actor{ID: "anonymous", Type: "anonymous"}
}

func (s *Server) auditAuth(toolName, actorID string, result audit.Result, reason string) {
	if actorID == "" {
		actorID = "anonymous"
	}
	s.auditor.Record(audit.Event{
		Type:   audit.TypeAuthorization,
		Level:  audit.LevelWarn,
		Actor:  audit.Actor{ID: actorID, Type: "apikey"},
		Action: toolName,
		Result: result,
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

func (s *Server) auditExecution(ctx context.Context, authCtx *auth.Context, toolName string, args map[string]interface{}, duration time.Duration, callErr error) {
	ms := duration.Milliseconds()
	event := audit.Event{
		Type:     audit.TypeToolExecution,
		Actor:    s.actor(authCtx),
		Action:   toolName,
		Duration: &ms,
		Details: map[string]interface{}{
			"parameters": args,
		},
	}
	if correlationID := reqcontext.GetCorrelationID(ctx); correlationID != "" {
		event.Metadata = map[string]interface{}{"correlationId": correlationID}
	}
	if callErr != nil {
		event.Level = audit.LevelError
		event.Result = audit.ResultFailure
		event.Error = &audit.ErrorInfo{Message: callErr.Error()}
		if apiErr, ok := apierrors.As(callErr); ok {
			event.Error.Code = string(apiErr.Code)
		}
	} else {
		event.Result = audit.ResultSuccess
	}
	s.auditor.Record(event)

	if s.metrics != nil {
		s.metrics.AuditEvents.WithLabelValues(string(event.Type), string(event.Result)).Inc()
	}
}

// shapeError maps any error onto the uniform JSON-RPC error surface:
// the code family from the HTTP-equivalent status, and a
// data object carrying the typed code and structured details. Stack
// traces never leak.
func (s *Server) shapeError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}

	apiErr, ok := apierrors.As(err)
	if !ok {
		apiErr = apierrors.InternalError(err)
	}

	data := map[string]interface{}{"code": string(apiErr.Code)}
	if apiErr.Details != nil {
		data["details"] = apiErr.Details
	}
	raw, marshalErr := json.Marshal(data)
	if marshalErr != nil {
		raw = nil
	}
	return &jsonrpc.Error{
		Code:    apiErr.JSONRPCCode(),
		Message: apiErr.Message,
		Data:    raw,
	}
}
