package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAssignsIDAndTimestamp(t *testing.T) {
	l := newTestLogger(t)
	l.Record(Event{Type: TypeToolExecution, Action: "echo.say", Result: ResultSuccess})

	events, total := l.Query(Filter{})
	require.Equal(t, 1, total)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestRecordRedactsSensitiveKeys(t *testing.T) {
	l := newTestLogger(t)
	l.Record(Event{
		Type:   TypeToolExecution,
		Action: "echo.say",
		Result: ResultSuccess,
		Details: map[string]interface{}{
			"apiKey": "SECRET",
			"q":      "ok",
		},
	})

	events, _ := l.Query(Filter{})
	require.Len(t, events, 1)
	assert.Equal(t, RedactedValue, events[0].Details["apiKey"])
	assert.Equal(t, "ok", events[0].Details["q"])
}

func TestRecordRedactsNestedOneLevel(t *testing.T) {
	l := newTestLogger(t)
	l.Record(Event{
		Type:   TypeConfigChange,
		Action: "update",
		Result: ResultSuccess,
		Details: map[string]interface{}{
			"oldValue": map[string]interface{}{"token": "abc", "name": "x"},
		},
	})

	events, _ := l.Query(Filter{})
	nested := events[0].Details["oldValue"].(map[string]interface{})
	assert.Equal(t, RedactedValue, nested["token"])
	assert.Equal(t, "x", nested["name"])
}

func TestRecordFiltersBelowMinLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewLogger(path, zap.NewNop(), WithMinLevel(LevelWarn))
	require.NoError(t, err)
	defer l.Close()

	l.Record(Event{Type: TypeSystem, Level: LevelInfo, Action: "noop", Result: ResultSuccess})
	_, total := l.Query(Filter{})
	assert.Equal(t, 0, total)

	l.Record(Event{Type: TypeSystem, Level: LevelError, Action: "boom", Result: ResultFailure})
	_, total = l.Query(Filter{})
	assert.Equal(t, 1, total)
}

func TestQueryAppliesOffsetAndLimitInInsertionOrder(t *testing.T) {
	l := newTestLogger(t)
	for i := 0; i < 5; i++ {
		l.Record(Event{Type: TypeSystem, Action: "a", Result: ResultSuccess})
	}
	events, total := l.Query(Filter{Limit: 2, Offset: 1})
	assert.Equal(t, 5, total)
	assert.Len(t, events, 2)
}

func TestGetStatsAggregatesByTypeLevelResult(t *testing.T) {
	l := newTestLogger(t)
	dur := int64(10)
	l.Record(Event{Type: TypeToolExecution, Level: LevelInfo, Result: ResultSuccess, Duration: &dur})
	l.Record(Event{Type: TypeToolExecution, Level: LevelError, Result: ResultFailure})

	stats := l.GetStats(0)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByType[TypeToolExecution])
	assert.Equal(t, 1, stats.ByResult[ResultSuccess])
	assert.Equal(t, 1, stats.ByResult[ResultFailure])
	assert.Equal(t, float64(10), stats.AvgDurationMs)
}

func TestCleanupRemovesOldEvents(t *testing.T) {
	l := newTestLogger(t)
	l.now = func() time.Time { return time.Now().UTC().Add(-200 * 24 * time.Hour) }
	l.Record(Event{Type: TypeSystem, Action: "old", Result: ResultSuccess})
	l.now = func() time.Time { return time.Now().UTC() }
	l.Record(Event{Type: TypeSystem, Action: "new", Result: ResultSuccess})

	removed := l.Cleanup(DefaultRetention)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, l.Len())
}

func TestRingBufferCapsAtMaxSize(t *testing.T) {
	l := newTestLogger(t)
	for i := 0; i < MaxRingSize+10; i++ {
		l.Record(Event{Type: TypeSystem, Action: "x", Result: ResultSuccess})
	}
	assert.Equal(t, MaxRingSize, l.Len())
}
