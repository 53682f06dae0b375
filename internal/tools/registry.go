// Package tools implements the internal tool adapters: glue
// between the backend manager's state and the in-process tools exposed
// through the same tools/list and tools/call surface as backend tools.
// Adapters read aggregator state but never mutate backend processes.
package tools

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/search-mcp/search-mcp/internal/apierrors"
	"github.com/search-mcp/search-mcp/internal/audit"
	"github.com/search-mcp/search-mcp/internal/health"
	"github.com/search-mcp/search-mcp/internal/ratelimit"
	"github.com/search-mcp/search-mcp/internal/search"
	"github.com/search-mcp/search-mcp/internal/toolcache"
	"github.com/search-mcp/search-mcp/internal/upstream"
	"github.com/search-mcp/search-mcp/internal/validate"
)

// BackendDirectory is the slice of the backend manager the adapters read.
type BackendDirectory interface {
	ListTools() []upstream.LightTool
	SearchDocuments() []search.Document
	GetStats() upstream.Stats
	BackendStatuses() []health.BackendStatus
	ExecuteTool(ctx context.Context, qualifiedName string, arguments map[string]interface{}) (json.RawMessage, error)
}

// Deps carries the process-wide collaborators the adapters expose. Cache
// and Index are optional; their absence just removes the corresponding
// health sub-checks and stats.
type Deps struct {
	Backends    BackendDirectory
	Audit       *audit.Logger
	RateLimiter *ratelimit.Limiter
	Cache       *toolcache.Manager
	Index       *search.Index
	Logger      *zap.Logger
}

// Handler executes one internal tool call with validated arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Tool is one registered internal tool: its listing surface plus handler.
type Tool struct {
	Name        string
	Description string
	Parameters  []validate.Parameter
	Handler     Handler
}

// Registry holds the internal tool set. Built once at startup; read-only
// afterwards.
type Registry struct {
	deps  Deps
	tools map[string]*Tool
}

// NewRegistry builds the full adapter set.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{deps: deps, tools: make(map[string]*Tool)}

	r.register(r.searchTools())
	r.register(r.advancedSearch())
	r.register(r.listServers())
	r.register(r.healthCheck())
	r.register(r.queryAuditLogs())
	r.register(r.getAuditStats())
	r.register(r.getRateLimitStats())
	r.register(r.executeParallel())

	return r
}

func (r *Registry) register(t *Tool) {
	r.tools[t.Name] = t
}

// Has reports whether name is an internal tool, the dispatcher's routing
// check.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// List returns the internal tools' lightweight descriptors, sorted by
// name, in the same shape as the aggregated catalog listing.
func (r *Registry) List() []upstream.LightTool {
	out := make([]upstream.LightTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, upstream.LightTool{Name: t.Name, Description: t.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke validates args against the tool's schema, applies defaults, and
// runs the handler. Unknown names return ToolNotFound, though the
// dispatcher normally checks Has first.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, apierrors.ToolNotFound(name)
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := validate.ValidateOrThrow(args, t.Parameters); err != nil {
		return nil, err
	}
	return t.Handler(ctx, validate.ApplyDefaults(args, t.Parameters))
}
