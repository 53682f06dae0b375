package audit

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// MaxRingSize is the ring buffer's retention cap: at most this
// many most-recent events are kept in memory for Query.
const MaxRingSize = 10_000

// DefaultRetention is Cleanup's default ring-buffer age cutoff.
const DefaultRetention = 90 * 24 * time.Hour

// Logger is the process-wide audit sink: every accepted event is appended
// to an in-memory ring buffer and to a line-delimited JSON file. Both
// sinks receive the same redacted event; a file I/O failure degrades to a
// stderr log line rather than failing the caller.
type Logger struct {
	mu       sync.Mutex
	ring     []*Event
	file     *os.File
	minLevel Level
	logger   *zap.Logger
	idSource func() string
	now      func() time.Time
}

// Option configures a Logger at construction time.
type Option func(*Logger)

// WithMinLevel overrides the default info minimum level.
func WithMinLevel(level Level) Option {
	return func(l *Logger) { l.minLevel = level }
}

// NewLogger opens (creating if necessary) the append-only audit log file
// at path and returns a ready Logger. Pass "" to disable the file sink
// (ring buffer only), useful for tests.
func NewLogger(path string, logger *zap.Logger, opts ...Option) (*Logger, error) {
	l := &Logger{
		minLevel: LevelInfo,
		logger:   logger,
		idSource: func() string { return ulid.Make().String() },
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}

	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, err
		}
		l.file = f
	}

	return l, nil
}

// Close closes the file sink, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Record redacts and files one event. It assigns ID/Timestamp when unset,
// filters events below minLevel, and never returns an error to spare
// callers from audit plumbing on their request's hot path.
func (l *Logger) Record(e Event) {
	if e.ID == "" {
		e.ID = l.idSource()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	if e.Level == "" {
		e.Level = LevelInfo
	}
	if levelRank[e.Level] < levelRank[l.minLevel] {
		return
	}

	redactEvent(&e)
	event := e

	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring = append(l.ring, &event)
	if len(l.ring) > MaxRingSize {
		l.ring = l.ring[len(l.ring)-MaxRingSize:]
	}

	if l.file != nil {
		data, err := json.Marshal(&event)
		if err != nil {
			l.logger.Error("audit: marshal event failed", zap.Error(err))
			return
		}
		data = append(data, '\n')
		if _, err := l.file.Write(data); err != nil {
			l.logger.Error("audit: write event failed", zap.Error(err))
		}
	}
}

// Query returns events matching filter in insertion order, after
// offset/limit.
func (l *Logger) Query(filter Filter) ([]*Event, int) {
	filter.Validate()

	l.mu.Lock()
	defer l.mu.Unlock()

	var matched []*Event
	for _, e := range l.ring {
		if filter.Matches(e) {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}

	out := make([]*Event, end-start)
	copy(out, matched[start:end])
	return out, total
}

// GetStats aggregates ring-buffer events, optionally restricted to the
// last timeWindow (0 means no restriction).
func (l *Logger) GetStats(timeWindow time.Duration) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		ByType:   make(map[Type]int),
		ByLevel:  make(map[Level]int),
		ByResult: make(map[Result]int),
	}

	var cutoff time.Time
	if timeWindow > 0 {
		cutoff = l.now().Add(-timeWindow)
	}

	var durationSum int64
	for _, e := range l.ring {
		if timeWindow > 0 && e.Timestamp.Before(cutoff) {
			continue
		}
		stats.Total++
		stats.ByType[e.Type]++
		stats.ByLevel[e.Level]++
		stats.ByResult[e.Result]++
		if e.Duration != nil {
			durationSum += *e.Duration
			stats.WithDurationCnt++
		}
	}

	if stats.WithDurationCnt > 0 {
		stats.AvgDurationMs = float64(durationSum) / float64(stats.WithDurationCnt)
	}

	return stats
}

// Cleanup discards ring-buffer events older than retention (default
// DefaultRetention). It never touches the file sink; file rotation is out
// of scope.
func (l *Logger) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := l.now().Add(-retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.ring[:0]
	removed := 0
	for _, e := range l.ring {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.ring = kept
	return removed
}

// Len reports the current ring buffer size, used by health_check's audit
// sub-check.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ring)
}
