package toolcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	bucketRecords   = "toolcache_records"
	bucketStats     = "toolcache_stats"
	statsKey        = "stats"
	// DefaultTTL is how long a tool call result stays fresh before eviction.
	DefaultTTL      = 2 * time.Hour
	cleanupInterval = 10 * time.Minute
)

// Manager caches tool call results so repeated identical calls within the
// TTL window avoid re-dispatching to the backend.
type Manager struct {
	db     *bbolt.DB
	logger *zap.Logger
	stats  *Stats
	stopCh chan struct{}
}

// NewManager opens (and lazily creates) the cache buckets on db.
func NewManager(db *bbolt.DB, logger *zap.Logger) (*Manager, error) {
	m := &Manager{db: db, logger: logger, stats: &Stats{}, stopCh: make(chan struct{})}

	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketRecords)); err != nil {
			return fmt.Errorf("create toolcache records bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketStats)); err != nil {
			return fmt.Errorf("create toolcache stats bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.loadStats(); err != nil {
		logger.Warn("failed to load toolcache stats", zap.Error(err))
	}

	go m.startCleanup()
	return m, nil
}

// Key derives the cache key for a qualified tool name and its arguments.
func Key(qualifiedName string, args map[string]interface{}) string {
	argsJSON, _ := json.Marshal(args)
	sum := sha256.Sum256([]byte(qualifiedName + ":" + string(argsJSON)))
	return hex.EncodeToString(sum[:])
}

// Store saves a tool result under key, valid for DefaultTTL.
func (m *Manager) Store(key, qualifiedName string, result json.RawMessage) error {
	record := &Record{
		Key:           key,
		QualifiedName: qualifiedName,
		ArgsHash:      key,
		Result:        result,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(DefaultTTL),
		LastAccessed:  time.Now(),
	}

	return m.db.Update(func(tx *bbolt.Tx) error {
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal cache record: %w", err)
		}
		if err := tx.Bucket([]byte(bucketRecords)).Put([]byte(key), data); err != nil {
			return fmt.Errorf("store cache record: %w", err)
		}
		m.stats.TotalEntries++
		return m.saveStats(tx)
	})
}

// Get returns the cached result for key, or an error if absent or expired.
func (m *Manager) Get(key string) (*Record, error) {
	var record *Record

	err := m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketRecords))
		data := bucket.Get([]byte(key))
		if data == nil {
			m.stats.MissCount++
			return m.saveStats(tx)
		}

		record = &Record{}
		if err := record.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("unmarshal cache record: %w", err)
		}

		if record.IsExpired() {
			record = nil
			_ = bucket.Delete([]byte(key))
			m.stats.EvictedCount++
			m.stats.TotalEntries--
			m.stats.MissCount++
			return m.saveStats(tx)
		}

		record.AccessCount++
		record.LastAccessed = time.Now()
		data, err := record.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal updated record: %w", err)
		}
		if err := bucket.Put([]byte(key), data); err != nil {
			return fmt.Errorf("update access stats: %w", err)
		}
		m.stats.HitCount++
		return m.saveStats(tx)
	})
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("cache key not found or expired")
	}
	return record, nil
}

// GetStats returns a snapshot of cache statistics for the health_check tool.
func (m *Manager) GetStats() Stats {
	return *m.stats
}

// Close stops the background cleanup goroutine.
func (m *Manager) Close() {
	close(m.stopCh)
}

func (m *Manager) startCleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.cleanup(); err != nil {
				m.logger.Error("toolcache cleanup failed", zap.Error(err))
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) cleanup() error {
	now := time.Now()
	evicted := 0

	return m.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketRecords))
		cursor := bucket.Cursor()

		var expiredKeys [][]byte
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			var record Record
			if err := record.UnmarshalBinary(value); err != nil {
				expiredKeys = append(expiredKeys, append([]byte{}, key...))
				continue
			}
			if now.After(record.ExpiresAt) {
				expiredKeys = append(expiredKeys, append([]byte{}, key...))
			}
		}

		for _, key := range expiredKeys {
			if err := bucket.Delete(key); err != nil {
				return fmt.Errorf("delete expired cache key: %w", err)
			}
			evicted++
		}

		m.stats.EvictedCount += evicted
		m.stats.TotalEntries -= evicted
		if m.stats.TotalEntries < 0 {
			m.stats.TotalEntries = 0
		}
		return m.saveStats(tx)
	})
}

func (m *Manager) saveStats(tx *bbolt.Tx) error {
	data, err := m.stats.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal cache stats: %w", err)
	}
	return tx.Bucket([]byte(bucketStats)).Put([]byte(statsKey), data)
}

func (m *Manager) loadStats() error {
	return m.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketStats))
		data := bucket.Get([]byte(statsKey))
		if data == nil {
			return nil
		}
		return m.stats.UnmarshalBinary(data)
	})
}
