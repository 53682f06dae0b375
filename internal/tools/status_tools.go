package tools

import (
	"context"
	"fmt"
	"runtime"

	"github.com/search-mcp/search-mcp/internal/health"
	"github.com/search-mcp/search-mcp/internal/validate"
)

func (r *Registry) listServers() *Tool {
	return &Tool{
		Name:        "list_servers",
		Description: "List configured backend servers with run state and tool counts.",
		Parameters:  nil,
		Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return r.deps.Backends.GetStats(), nil
		},
	}
}

// HealthReport is the health_check payload: the aggregate verdict, plus
// per-backend detail when requested.
type HealthReport struct {
	Status   string                 `json:"status"`
	Checks   []health.SubCheck      `json:"checks"`
	Backends []health.BackendStatus `json:"backends,omitempty"`
}

func (r *Registry) healthCheck() *Tool {
	return &Tool{
		Name:        "health_check",
		Description: "Aggregate health: memory, backends, cache, search index, audit log.",
		Parameters: []validate.Parameter{
			{Name: "detailed", Type: validate.TypeBoolean, Default: false},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			checks := r.collectHealthChecks()
			agg := health.AggregateChecks(checks)

			report := HealthReport{Status: agg.Level, Checks: agg.Checks}
			if detailed, _ := args["detailed"].(bool); detailed {
				report.Backends = r.deps.Backends.BackendStatuses()
			}
			return report, nil
		},
	}
}

func (r *Registry) collectHealthChecks() []health.SubCheck {
	var checks []health.SubCheck

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	checks = append(checks, health.SubCheck{
		Name:    "memory",
		Level:   health.LevelHealthy,
		Summary: fmt.Sprintf("%d MB in use", mem.Alloc/1024/1024),
	})

	stats := r.deps.Backends.GetStats()
	backendLevel := health.LevelHealthy
	switch {
	case stats.TotalServers > 0 && stats.RunningServers == 0:
		backendLevel = health.LevelUnhealthy
	case stats.RunningServers < stats.TotalServers:
		backendLevel = health.LevelDegraded
	}
	checks = append(checks, health.SubCheck{
		Name:    "backends",
		Level:   backendLevel,
		Summary: fmt.Sprintf("%d/%d running, %d tools", stats.RunningServers, stats.TotalServers, stats.TotalTools),
	})

	if r.deps.Cache != nil {
		cacheStats := r.deps.Cache.GetStats()
		checks = append(checks, health.SubCheck{
			Name:  "cache",
			Level: health.LevelHealthy,
			Summary: fmt.Sprintf("%d entries, %d hits, %d misses",
				cacheStats.TotalEntries, cacheStats.HitCount, cacheStats.MissCount),
		})
	}

	if r.deps.Index != nil {
		count, err := r.deps.Index.DocCount()
		if err != nil {
			checks = append(checks, health.SubCheck{
				Name:    "search_index",
				Level:   health.LevelDegraded,
				Summary: "doc count unavailable",
				Detail:  err.Error(),
			})
		} else {
			checks = append(checks, health.SubCheck{
				Name:    "search_index",
				Level:   health.LevelHealthy,
				Summary: fmt.Sprintf("%d documents", count),
			})
		}
	}

	auditStats := r.deps.Audit.GetStats(0)
	checks = append(checks, health.SubCheck{
		Name:    "audit",
		Level:   health.LevelHealthy,
		Summary: fmt.Sprintf("%d events buffered", r.deps.Audit.Len()),
		Detail:  fmt.Sprintf("total recorded: %d", auditStats.Total),
	})

	return checks
}

func (r *Registry) getRateLimitStats() *Tool {
	return &Tool{
		Name:        "get_rate_limit_stats",
		Description: "Report live token buckets and tier configuration.",
		Parameters:  nil,
		Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
			return r.deps.RateLimiter.GetStats(), nil
		},
	}
}
