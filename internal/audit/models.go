// Package audit implements the audit logger: every
// tool_execution, rate_limit, authorization, and system event is scored
// through a fixed-size ring buffer and an append-only JSON-lines file,
// both fed from the same redacted event.
package audit

import (
	"encoding/json"
	"time"
)

// Level is the audit severity vocabulary; ordering matters for the
// configured minimum-level filter (info < warn < error < critical).
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

var levelRank = map[Level]int{
	LevelInfo:     0,
	LevelWarn:     1,
	LevelError:    2,
	LevelCritical: 3,
}

// Type enumerates the event categories the dispatcher and backend manager
// emit.
type Type string

const (
	TypeToolExecution Type = "tool_execution"
	TypeRateLimit     Type = "rate_limit"
	TypeAuthorization Type = "authorization"
	TypeSystem        Type = "system"
	TypeConfigChange  Type = "config_change"
)

// Result is the outcome of the audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Actor identifies who performed the audited action.
type Actor struct {
	ID   string `json:"id"`
	Type string `json:"type"` // "apikey", "anonymous", "internal"
	Name string `json:"name,omitempty"`
}

// Resource identifies what the action acted on, e.g. a specific tool.
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// ErrorInfo captures a failed action's error without leaking a stack trace
// past the optional field.
type ErrorInfo struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// Event is one audit record. Details is redacted in place before the event reaches a sink.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      Type                   `json:"type"`
	Level     Level                  `json:"level"`
	Actor     Actor                  `json:"actor"`
	Action    string                 `json:"action"`
	Resource  *Resource              `json:"resource,omitempty"`
	Result    Result                 `json:"result"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Duration  *int64                 `json:"duration,omitempty"` // milliseconds
	Error     *ErrorInfo             `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// MarshalBinary implements bbolt-compatible serialization as JSON.
func (e *Event) MarshalBinary() ([]byte, error) { return json.Marshal(e) }

// UnmarshalBinary implements bbolt-compatible deserialization.
func (e *Event) UnmarshalBinary(data []byte) error { return json.Unmarshal(data, e) }

// Filter describes a Query's selection criteria.
type Filter struct {
	StartDate *time.Time
	EndDate   *time.Time
	Type      Type
	Level     Level
	ActorID   string
	Action    string
	Result    Result
	Limit     int
	Offset    int
}

// Validate applies the default limit/offset the way ActivityFilter does.
func (f *Filter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches reports whether event satisfies every set filter criterion.
func (f *Filter) Matches(e *Event) bool {
	if f.StartDate != nil && e.Timestamp.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && e.Timestamp.After(*f.EndDate) {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Result != "" && e.Result != f.Result {
		return false
	}
	return true
}

// Stats is the GetStats response shape.
type Stats struct {
	Total           int            `json:"total"`
	ByType          map[Type]int   `json:"byType"`
	ByLevel         map[Level]int  `json:"byLevel"`
	ByResult        map[Result]int `json:"byResult"`
	AvgDurationMs   float64        `json:"avgDurationMs"`
	WithDurationCnt int            `json:"-"`
}
