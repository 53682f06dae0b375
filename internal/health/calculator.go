package health

import (
	"fmt"
	"strings"
)

// BackendStatus is the unified health view of a single backend, derived
// from its Backend Client connection state.
type BackendStatus struct {
	Name      string `json:"name"`
	Level     string `json:"level"`
	Summary   string `json:"summary"`
	Detail    string `json:"detail,omitempty"`
	ToolCount int    `json:"toolCount"`
}

// BackendInput carries the fields CalculateBackendStatus needs, decoupled
// from whatever struct the backend manager uses internally.
type BackendInput struct {
	Name      string
	State     string // one of the State* constants
	LastError string
	ToolCount int
}

// CalculateBackendStatus derives a BackendStatus from a backend's current
// connection state. Connected backends are healthy, a backend still
// starting is degraded, and a backend in error or disconnected is
// unhealthy.
func CalculateBackendStatus(in BackendInput) BackendStatus {
	state := strings.ToLower(in.State)
	switch state {
	case StateConnected:
		return BackendStatus{
			Name:      in.Name,
			Level:     LevelHealthy,
			Summary:   formatConnectedSummary(in.ToolCount),
			ToolCount: in.ToolCount,
		}
	case StateConnecting:
		return BackendStatus{
			Name:    in.Name,
			Level:   LevelDegraded,
			Summary: "starting",
		}
	case StateError:
		return BackendStatus{
			Name:    in.Name,
			Level:   LevelUnhealthy,
			Summary: formatErrorSummary(in.LastError),
			Detail:  in.LastError,
		}
	case StateDisconnected, StateStopped:
		summary := "disconnected"
		if in.LastError != "" {
			summary = formatErrorSummary(in.LastError)
		}
		return BackendStatus{
			Name:    in.Name,
			Level:   LevelUnhealthy,
			Summary: summary,
			Detail:  in.LastError,
		}
	default:
		return BackendStatus{
			Name:    in.Name,
			Level:   LevelUnhealthy,
			Summary: "unknown state: " + in.State,
		}
	}
}

// SubCheck is one component of the health_check tool's aggregate report:
// memory usage, backend counts, cache stats, audit stats.
type SubCheck struct {
	Name    string `json:"name"`
	Level   string `json:"level"`
	Summary string `json:"summary"`
	Detail  string `json:"detail,omitempty"`
}

// Aggregate folds a set of sub-checks into one overall report:
// healthy iff every sub-check is healthy, degraded if any warns,
// unhealthy if any fails.
type Aggregate struct {
	Level  string     `json:"level"`
	Checks []SubCheck `json:"checks"`
}

// AggregateChecks computes the overall level across a set of sub-checks.
func AggregateChecks(checks []SubCheck) Aggregate {
	overall := LevelHealthy
	for _, c := range checks {
		overall = Worst(overall, c.Level)
	}
	return Aggregate{Level: overall, Checks: checks}
}

func formatConnectedSummary(toolCount int) string {
	if toolCount == 0 {
		return "connected"
	}
	if toolCount == 1 {
		return "connected (1 tool)"
	}
	return fmt.Sprintf("connected (%d tools)", toolCount)
}

// formatErrorSummary maps common low-level connection errors onto a short,
// user-facing phrase. Order matters: more specific patterns must be
// checked before generic ones, since e.g. DNS failures often present as
// "dial tcp: no such host".
func formatErrorSummary(lastError string) string {
	if lastError == "" {
		return "connection error"
	}

	mappings := []struct {
		pattern  string
		friendly string
	}{
		{"no such host", "host not found"},
		{"connection refused", "connection refused"},
		{"connection reset", "connection reset"},
		{"timeout", "connection timeout"},
		{"eof", "connection closed"},
		{"exit status", "process exited"},
		{"dial tcp", "cannot connect"},
	}

	lowered := strings.ToLower(lastError)
	for _, m := range mappings {
		if strings.Contains(lowered, m.pattern) {
			return m.friendly
		}
	}

	if len(lastError) > 50 {
		return lastError[:47] + "..."
	}
	return lastError
}
