package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/search-mcp/search-mcp/internal/apierrors"
	"github.com/search-mcp/search-mcp/internal/audit"
	"github.com/search-mcp/search-mcp/internal/config"
	"github.com/search-mcp/search-mcp/internal/health"
	"github.com/search-mcp/search-mcp/internal/metrics"
	"github.com/search-mcp/search-mcp/internal/search"
)

// startConcurrency bounds how many backends spawn at once during StartAll.
const startConcurrency = 8

// Manager owns the set of backend clients and the aggregated catalog.
// The clients map is written only during LoadConfig and read
// afterwards; the catalog is an atomic pointer swapped on every refresh.
type Manager struct {
	logger  *zap.Logger
	auditor *audit.Logger
	metrics *metrics.Metrics
	index   *search.Index

	cfg     *config.AggregatorConfig
	clients map[string]*Client

	catalog atomic.Pointer[catalog]
}

// ManagerOption configures a Manager at construction time.
type ManagerOption func(*Manager)

// WithSearchIndex attaches the bleve catalog index, kept in sync on every
// catalog refresh so search_tools can report a persistent document count.
func WithSearchIndex(idx *search.Index) ManagerOption {
	return func(m *Manager) { m.index = idx }
}

// WithMetrics attaches the Prometheus collectors.
func WithMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mx }
}

// NewManager builds a Manager with no backends registered yet.
func NewManager(logger *zap.Logger, auditor *audit.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger:  logger,
		auditor: auditor,
		clients: make(map[string]*Client),
	}
	m.catalog.Store(emptyCatalog())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadConfig reads and parses the backend registry at path and registers
// a client for each enabled backend.
func (m *Manager) LoadConfig(path string) error {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return apierrors.ConfigurationError(err.Error())
	}
	m.cfg = cfg

	for _, backend := range cfg.EnabledBackends() {
		m.clients[backend.Name] = NewClient(backend, m.logger,
			WithStartTimeout(cfg.BackendStartTimeout),
			WithRequestTimeout(cfg.BackendRequestTimeout))
	}

	m.logger.Info("config loaded",
		zap.String("path", path),
		zap.Int("backends", len(m.clients)))
	return nil
}

// StartAll starts every registered backend in parallel. A failing backend
// does not abort the others: its failure is logged and audited, its tools
// are simply absent from the catalog. After all startup
// attempts settle, the catalog is refreshed from the live backends.
func (m *Manager) StartAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(startConcurrency)

	for name, client := range m.clients {
		name, client := name, client
		g.Go(func() error {
			if err := client.Start(gctx); err != nil {
				m.logger.Error("backend failed to start",
					zap.String("backend", name), zap.Error(err))
				m.auditor.Record(audit.Event{
					Type:   audit.TypeSystem,
					Level:  audit.LevelError,
					Actor:  audit.Actor{ID: "aggregator", Type: "internal"},
					Action: "backend_start",
					Resource: &audit.Resource{
						Type: "backend", ID: name, Name: name,
					},
					Result: audit.ResultFailure,
					Error:  &audit.ErrorInfo{Message: err.Error()},
				})
			}
			// Individual failures are contained, never propagated.
			return nil
		})
	}
	_ = g.Wait()

	return m.RefreshTools(ctx)
}

// StopAll stops every backend in parallel and clears the catalog.
func (m *Manager) StopAll() {
	g := new(errgroup.Group)
	for _, client := range m.clients {
		client := client
		g.Go(func() error {
			client.Stop()
			return nil
		})
	}
	_ = g.Wait()

	m.catalog.Store(emptyCatalog())
	if m.metrics != nil {
		m.metrics.BackendsRunning.Set(0)
		m.metrics.CatalogTools.Set(0)
	}
	m.logger.Info("all backends stopped")
}

// RefreshTools re-queries every live backend's tool list and swaps in a
// freshly built catalog. The swap is atomic from the reader's perspective.
func (m *Manager) RefreshTools(ctx context.Context) error {
	next := emptyCatalog()

	type listing struct {
		backend string
		tools   []*AggregatedTool
	}
	results := make(chan listing, len(m.clients))

	g := new(errgroup.Group)
	for name, client := range m.clients {
		if !client.IsRunning() {
			client.SetToolCount(0)
			continue
		}
		name, client := name, client
		g.Go(func() error {
			resp, err := client.ListTools(ctx)
			if err != nil {
				m.logger.Error("tools/list failed",
					zap.String("backend", name), zap.Error(err))
				client.SetToolCount(0)
				return nil
			}
			tools := make([]*AggregatedTool, 0, len(resp.Tools))
			for _, t := range resp.Tools {
				tools = append(tools, &AggregatedTool{
					QualifiedName: QualifyName(name, t.Name),
					Description:   t.Description,
					Backend:       name,
					RawName:       t.Name,
					InputSchema:   t.InputSchema,
				})
			}
			client.SetToolCount(len(tools))
			results <- listing{backend: name, tools: tools}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	for l := range results {
		for _, t := range l.tools {
			next.tools[t.QualifiedName] = t
		}
	}

	m.catalog.Store(next)
	m.updateSearchIndex(next)

	if m.metrics != nil {
		m.metrics.CatalogTools.Set(float64(len(next.tools)))
		running := 0
		for _, c := range m.clients {
			if c.IsRunning() {
				running++
			}
		}
		m.metrics.BackendsRunning.Set(float64(running))
	}

	m.logger.Info("catalog refreshed", zap.Int("tools", len(next.tools)))
	return nil
}

func (m *Manager) updateSearchIndex(c *catalog) {
	if m.index == nil {
		return
	}
	docs := make([]search.Document, 0, len(c.tools))
	for _, t := range c.tools {
		docs = append(docs, search.Document{
			QualifiedName: t.QualifiedName,
			Name:          t.RawName,
			Backend:       t.Backend,
			Description:   t.Description,
		})
	}
	if err := m.index.PutBatch(docs); err != nil {
		m.logger.Warn("search index update failed", zap.Error(err))
	}
}

// ListTools returns the lightweight catalog: qualified name and
// description only, for context economy.
func (m *Manager) ListTools() []LightTool {
	tools := m.catalog.Load().sorted()
	out := make([]LightTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, LightTool{Name: t.QualifiedName, Description: t.Description})
	}
	return out
}

// ListToolsFull returns the full aggregated descriptors including backend,
// raw name, and input schema.
func (m *Manager) ListToolsFull() []*AggregatedTool {
	return m.catalog.Load().sorted()
}

// SearchDocuments returns the catalog as scorer documents for the search
// internal tools.
func (m *Manager) SearchDocuments() []search.Document {
	tools := m.catalog.Load().sorted()
	docs := make([]search.Document, 0, len(tools))
	for _, t := range tools {
		docs = append(docs, search.Document{
			QualifiedName: t.QualifiedName,
			Name:          t.RawName,
			Backend:       t.Backend,
			Description:   t.Description,
		})
	}
	return docs
}

// GetTool looks up one catalog entry by qualified name.
func (m *Manager) GetTool(qualifiedName string) (*AggregatedTool, bool) {
	return m.catalog.Load().get(qualifiedName)
}

// ExecuteTool routes a qualified tool call to its backend:
// the prefix before the first "." picks exactly one backend, the suffix
// is the backend's tool name verbatim.
func (m *Manager) ExecuteTool(ctx context.Context, qualifiedName string, arguments map[string]interface{}) (json.RawMessage, error) {
	backend, rawName, ok := SplitQualifiedName(qualifiedName)
	if !ok {
		return nil, apierrors.ValidationError(
			fmt.Sprintf("invalid tool name %q: expected <server>.<tool>", qualifiedName))
	}

	client, exists := m.clients[backend]
	if !exists {
		return nil, apierrors.ServerNotFound(backend)
	}
	if !client.IsRunning() {
		return nil, apierrors.MCPServerError(backend, "backend is not running")
	}

	result, err := client.CallTool(ctx, rawName, arguments)
	if m.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		m.metrics.ToolCalls.WithLabelValues(backend, outcome).Inc()
	}
	return result, err
}

// ServerStats is one backend's entry in GetStats.
type ServerStats struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	State     string `json:"state"`
	ToolCount int    `json:"toolCount"`
	LastError string `json:"lastError,omitempty"`
}

// Stats is the GetStats response shape.
type Stats struct {
	TotalServers   int           `json:"totalServers"`
	RunningServers int           `json:"runningServers"`
	TotalTools     int           `json:"totalTools"`
	Servers        []ServerStats `json:"servers"`
}

// GetStats summarizes the backend fleet and catalog size.
func (m *Manager) GetStats() Stats {
	stats := Stats{
		TotalServers: len(m.clients),
		TotalTools:   len(m.catalog.Load().tools),
	}
	for name, client := range m.clients {
		state, lastErr := client.State()
		entry := ServerStats{
			Name:      name,
			Running:   client.IsRunning(),
			State:     state,
			ToolCount: client.ToolCount(),
		}
		if lastErr != nil {
			entry.LastError = lastErr.Error()
		}
		if entry.Running {
			stats.RunningServers++
		}
		stats.Servers = append(stats.Servers, entry)
	}
	sort.Slice(stats.Servers, func(i, j int) bool {
		return stats.Servers[i].Name < stats.Servers[j].Name
	})
	return stats
}

// BackendStatuses derives the health view of every backend for the
// health_check internal tool.
func (m *Manager) BackendStatuses() []health.BackendStatus {
	out := make([]health.BackendStatus, 0, len(m.clients))
	for name, client := range m.clients {
		state, lastErr := client.State()
		in := health.BackendInput{
			Name:      name,
			State:     state,
			ToolCount: client.ToolCount(),
		}
		if lastErr != nil {
			in.LastError = lastErr.Error()
		}
		out = append(out, health.CalculateBackendStatus(in))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
