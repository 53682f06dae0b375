package upstream

import (
	"sync"

	"github.com/search-mcp/search-mcp/internal/health"
)

// ConnectionState tracks where a backend client sits in its lifecycle.
// Terminated is absorbing: a client that has
// terminated is never restarted.
type ConnectionState int

const (
	// StateUnstarted is the initial state before Start is called.
	StateUnstarted ConnectionState = iota
	// StateStarting covers spawn plus the initialize handshake.
	StateStarting
	// StateReady means the backend accepted initialize and serves requests.
	StateReady
	// StateStopping means Stop was called and teardown is in progress.
	StateStopping
	// StateTerminated is terminal: process exited or was stopped.
	StateTerminated
)

// String returns the state name used in logs and stats.
func (s ConnectionState) String() string {
	switch s {
	case StateUnstarted:
		return "Unstarted"
	case StateStarting:
		return "Starting"
	case StateReady:
		return "Ready"
	case StateStopping:
		return "Stopping"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// healthState maps a ConnectionState onto the vocabulary the health
// package's backend-status calculator consumes.
func (s ConnectionState) healthState() string {
	switch s {
	case StateStarting:
		return health.StateConnecting
	case StateReady:
		return health.StateConnected
	case StateStopping, StateTerminated:
		return health.StateStopped
	default:
		return health.StateDisconnected
	}
}

// stateTracker holds a client's current state and last error behind one
// mutex so readers always see a consistent pair.
type stateTracker struct {
	mu        sync.RWMutex
	state     ConnectionState
	lastError error
}

func (t *stateTracker) get() ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *stateTracker) set(s ConnectionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// setIfNot transitions to s unless the current state is already one of
// excluded, and reports whether the transition happened. Terminated stays
// absorbing because every caller excludes it.
func (t *stateTracker) setIfNot(s ConnectionState, excluded ...ConnectionState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ex := range excluded {
		if t.state == ex {
			return false
		}
	}
	t.state = s
	return true
}

func (t *stateTracker) setError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastError = err
}

func (t *stateTracker) getError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastError
}
