package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/search-mcp/search-mcp/internal/apierrors"
	"github.com/search-mcp/search-mcp/internal/audit"
	"github.com/search-mcp/search-mcp/internal/validate"
)

func invalidDate(name, value string) error {
	return apierrors.ValidationError(fmt.Sprintf("Parameter %s is not a valid RFC-3339 timestamp: %s", name, value))
}

// AuditQueryResponse pages matching audit events in insertion order.
type AuditQueryResponse struct {
	Total  int            `json:"total"`
	Events []*audit.Event `json:"events"`
}

func (r *Registry) queryAuditLogs() *Tool {
	return &Tool{
		Name:        "query_audit_logs",
		Description: "Query the in-memory audit ring buffer with filters and pagination.",
		Parameters: []validate.Parameter{
			{Name: "startDate", Type: validate.TypeString, Description: "RFC-3339 lower bound."},
			{Name: "endDate", Type: validate.TypeString, Description: "RFC-3339 upper bound."},
			{Name: "type", Type: validate.TypeString,
				Enum: []interface{}{"tool_execution", "rate_limit", "authorization", "system", "config_change"}},
			{Name: "level", Type: validate.TypeString,
				Enum: []interface{}{"info", "warn", "error", "critical"}},
			{Name: "actorId", Type: validate.TypeString},
			{Name: "action", Type: validate.TypeString},
			{Name: "result", Type: validate.TypeString, Enum: []interface{}{"success", "failure"}},
			{Name: "limit", Type: validate.TypeNumber, Default: 100.0, Minimum: floatPtr(1), Maximum: floatPtr(1000)},
			{Name: "offset", Type: validate.TypeNumber, Default: 0.0, Minimum: floatPtr(0)},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			filter := audit.Filter{
				Limit:  intArg(args, "limit", 100),
				Offset: intArg(args, "offset", 0),
			}
			if s, ok := args["startDate"].(string); ok {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return nil, invalidDate("startDate", s)
				}
				filter.StartDate = &t
			}
			if s, ok := args["endDate"].(string); ok {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return nil, invalidDate("endDate", s)
				}
				filter.EndDate = &t
			}
			if s, ok := args["type"].(string); ok {
				filter.Type = audit.Type(s)
			}
			if s, ok := args["level"].(string); ok {
				filter.Level = audit.Level(s)
			}
			if s, ok := args["actorId"].(string); ok {
				filter.ActorID = s
			}
			if s, ok := args["action"].(string); ok {
				filter.Action = s
			}
			if s, ok := args["result"].(string); ok {
				filter.Result = audit.Result(s)
			}

			events, total := r.deps.Audit.Query(filter)
			return AuditQueryResponse{Total: total, Events: events}, nil
		},
	}
}

func (r *Registry) getAuditStats() *Tool {
	return &Tool{
		Name:        "get_audit_stats",
		Description: "Aggregate audit events by type, level, and result.",
		Parameters: []validate.Parameter{
			{Name: "timeWindowMs", Type: validate.TypeNumber, Minimum: floatPtr(0)},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			var window time.Duration
			if ms, ok := args["timeWindowMs"].(float64); ok {
				window = time.Duration(ms) * time.Millisecond
			}
			return r.deps.Audit.GetStats(window), nil
		},
	}
}
