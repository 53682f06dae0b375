// Package ratelimit implements the token-bucket rate limiter:
// one bucket per (tier, identifier), refilled lazily on read, with a
// periodic eviction task that drops idle full buckets.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/search-mcp/search-mcp/internal/metrics"
)

// Tier names the built-in bucket classes.
const (
	TierDefault       = "default"
	TierAuthenticated = "authenticated"
	TierPremium       = "premium"
)

// TierConfig is one tier's bucket sizing.
type TierConfig struct {
	MaxTokens  float64 `json:"maxTokens"`
	RefillRate float64 `json:"refillRate"` // tokens per second
}

// DefaultTiers returns the built-in tier table.
func DefaultTiers() map[string]TierConfig {
	return map[string]TierConfig{
		TierDefault:       {MaxTokens: 100, RefillRate: 10},
		TierAuthenticated: {MaxTokens: 1000, RefillRate: 50},
		TierPremium:       {MaxTokens: 5000, RefillRate: 200},
	}
}

const (
	// evictionInterval is how often the background sweep runs.
	evictionInterval = time.Minute
	// idleEvictionAge is how long a bucket must sit untouched and full
	// before eviction removes it.
	idleEvictionAge = time.Hour
)

// Decision is the outcome of one CheckLimit call.
type Decision struct {
	Allowed    bool      `json:"allowed"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"resetAt"`
	RetryAfter int64     `json:"retryAfter,omitempty"` // seconds, set only on deny
}

// bucket is one (tier, identifier)'s token state. Invariant: 0 <= tokens
// <= maxTokens, preserved by refill clamping.
type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastUsed   time.Time
	cfg        TierConfig
}

// Limiter is the process-wide rate limiter. A single mutex guards the
// bucket map; refill is atomic with the read under that lock.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	tiers   map[string]TierConfig

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithTiers replaces the default tier table.
func WithTiers(tiers map[string]TierConfig) Option {
	return func(l *Limiter) { l.tiers = tiers }
}

// WithMetrics attaches the Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// NewLimiter builds a Limiter and starts its eviction task.
func NewLimiter(logger *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		tiers:   DefaultTiers(),
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.evictionLoop()
	return l
}

// Close stops the eviction task. Idempotent.
func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stopCh) })
}

func bucketKey(tier, identifier string) string {
	return tier + "\x00" + identifier
}

// CheckLimit refills and charges the (tier, identifier) bucket, creating
// it full on first sight.
func (l *Limiter) CheckLimit(identifier, tier string, cost float64) Decision {
	tierCfg, ok := l.tiers[tier]
	if !ok {
		tierCfg = l.tiers[TierDefault]
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := bucketKey(tier, identifier)
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: tierCfg.MaxTokens, lastRefill: now, cfg: tierCfg}
		l.buckets[key] = b
	}

	// Refill, clamped to max.
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens = math.Min(b.cfg.MaxTokens, b.tokens+elapsed*b.cfg.RefillRate)
	b.lastRefill = now
	b.lastUsed = now

	resetAt := now
	if b.cfg.RefillRate > 0 {
		resetAt = now.Add(time.Duration((b.cfg.MaxTokens - b.tokens) / b.cfg.RefillRate * float64(time.Second)))
	}

	if b.tokens >= cost {
		b.tokens -= cost
		if l.metrics != nil {
			l.metrics.BucketTokens.WithLabelValues(tier, identifier).Set(b.tokens)
		}
		return Decision{
			Allowed:   true,
			Remaining: int(math.Floor(b.tokens)),
			ResetAt:   resetAt,
		}
	}

	retryAfter := int64(math.MaxInt64)
	if b.cfg.RefillRate > 0 {
		retryAfter = int64(math.Ceil((cost - b.tokens) / b.cfg.RefillRate))
	}
	if l.metrics != nil {
		l.metrics.RateLimitDenials.WithLabelValues(tier).Inc()
	}
	return Decision{
		Allowed:    false,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retryAfter,
	}
}

// BucketStats is one bucket's snapshot for the get_rate_limit_stats tool.
type BucketStats struct {
	Tier       string    `json:"tier"`
	Identifier string    `json:"identifier"`
	Tokens     float64   `json:"tokens"`
	MaxTokens  float64   `json:"maxTokens"`
	RefillRate float64   `json:"refillRate"`
	LastUsed   time.Time `json:"lastUsed"`
}

// Stats is the get_rate_limit_stats response shape.
type Stats struct {
	TotalBuckets int                   `json:"totalBuckets"`
	Tiers        map[string]TierConfig `json:"tiers"`
	Buckets      []BucketStats         `json:"buckets"`
}

// GetStats snapshots every live bucket.
func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		TotalBuckets: len(l.buckets),
		Tiers:        make(map[string]TierConfig, len(l.tiers)),
	}
	for name, cfg := range l.tiers {
		stats.Tiers[name] = cfg
	}
	for key, b := range l.buckets {
		tier, identifier := splitBucketKey(key)
		stats.Buckets = append(stats.Buckets, BucketStats{
			Tier:       tier,
			Identifier: identifier,
			Tokens:     b.tokens,
			MaxTokens:  b.cfg.MaxTokens,
			RefillRate: b.cfg.RefillRate,
			LastUsed:   b.lastUsed,
		})
	}
	return stats
}

func splitBucketKey(key string) (tier, identifier string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '\x00' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// evictionLoop periodically drops buckets that are simultaneously idle
// for the eviction age and full. Best-effort: it runs under the same
// mutex as CheckLimit, so it can never change an in-flight result.
func (l *Limiter) evictionLoop() {
	ticker := time.NewTicker(evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := l.evictIdle()
			if removed > 0 {
				l.logger.Debug("evicted idle rate-limit buckets", zap.Int("count", removed))
			}
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) evictIdle() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, b := range l.buckets {
		idle := now.Sub(b.lastUsed) >= idleEvictionAge
		// A bucket idle that long has refilled; treat it as full once the
		// projected refill reaches max, without mutating the live bucket.
		projected := math.Min(b.cfg.MaxTokens, b.tokens+now.Sub(b.lastRefill).Seconds()*b.cfg.RefillRate)
		if idle && projected >= b.cfg.MaxTokens {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}
