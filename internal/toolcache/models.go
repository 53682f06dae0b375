// Package toolcache provides a bbolt-backed cache of tool call results,
// keyed by the qualified tool name and its arguments.
package toolcache

import (
	"encoding/json"
	"time"
)

// Record is a single cached tool-call result.
type Record struct {
	Key          string          `json:"key"`
	QualifiedName string         `json:"qualified_name"`
	ArgsHash     string          `json:"args_hash"`
	Result       json.RawMessage `json:"result"`
	CreatedAt    time.Time       `json:"created_at"`
	ExpiresAt    time.Time       `json:"expires_at"`
	AccessCount  int             `json:"access_count"`
	LastAccessed time.Time       `json:"last_accessed"`
}

// Stats summarizes cache activity for the health_check internal tool.
type Stats struct {
	TotalEntries int `json:"total_entries"`
	HitCount     int `json:"hit_count"`
	MissCount    int `json:"miss_count"`
	EvictedCount int `json:"evicted_count"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Record) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Stats) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Stats) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// IsExpired reports whether the record has passed its TTL.
func (r *Record) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}
