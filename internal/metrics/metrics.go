// Package metrics exposes the aggregator's operational counters through a
// Prometheus registry. The registry is pull-based and entirely optional:
// nothing in the request path depends on a scrape ever happening, and the
// figures double as the payload behind the stats internal tools.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the aggregator registers. Construct one
// per process with New and inject it where needed; tests build their own
// so parallel tests never share a registry.
type Metrics struct {
	Registry *prometheus.Registry

	// ToolCalls counts tools/call dispatches by backend and outcome.
	ToolCalls *prometheus.CounterVec
	// ToolCallDuration observes tools/call latency by backend.
	ToolCallDuration *prometheus.HistogramVec
	// RateLimitDenials counts CheckLimit denials by tier.
	RateLimitDenials *prometheus.CounterVec
	// BucketTokens gauges current token-bucket fill by tier and identifier.
	BucketTokens *prometheus.GaugeVec
	// BackendsRunning gauges how many backends are currently serving.
	BackendsRunning prometheus.Gauge
	// CatalogTools gauges the aggregated catalog size.
	CatalogTools prometheus.Gauge
	// AuditEvents counts accepted audit events by type and result.
	AuditEvents *prometheus.CounterVec
}

// New builds and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchmcp",
			Name:      "tool_calls_total",
			Help:      "Tool call dispatches by backend and outcome.",
		}, []string{"backend", "outcome"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "searchmcp",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call round-trip latency by backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		RateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchmcp",
			Name:      "rate_limit_denials_total",
			Help:      "Rate limit denials by tier.",
		}, []string{"tier"}),
		BucketTokens: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "searchmcp",
			Name:      "rate_limit_bucket_tokens",
			Help:      "Current token-bucket fill by tier and identifier.",
		}, []string{"tier", "identifier"}),
		BackendsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "searchmcp",
			Name:      "backends_running",
			Help:      "Backends currently in the Ready state.",
		}),
		CatalogTools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "searchmcp",
			Name:      "catalog_tools",
			Help:      "Aggregated catalog size in tools.",
		}),
		AuditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "searchmcp",
			Name:      "audit_events_total",
			Help:      "Accepted audit events by type and result.",
		}, []string{"type", "result"}),
	}

	m.Registry.MustRegister(
		m.ToolCalls,
		m.ToolCallDuration,
		m.RateLimitDenials,
		m.BucketTokens,
		m.BackendsRunning,
		m.CatalogTools,
		m.AuditEvents,
	)
	return m
}
