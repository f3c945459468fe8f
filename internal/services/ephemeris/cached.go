package ephemeris

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"TransitWatch/internal/domain/models"
	"TransitWatch/internal/domain/repository"
	"TransitWatch/internal/domain/service"
	"TransitWatch/pkg/cache"
	applogger "TransitWatch/pkg/logger"
)

const snapshotVersion = 1

// CachedProvider memoizes another provider in a bounded LRU keyed by the
// julian day rounded to a fixed number of decimal places.
type CachedProvider struct {
	inner     service.EphemerisProvider
	cache     *cache.LRU[int64, models.Ephemeris]
	precision float64
	metrics   repository.Metrics
	l         *applogger.Logger
}

// Option configures CachedProvider.
type Option func(*cachedConfig)

type cachedConfig struct {
	capacity  int
	ttl       time.Duration
	sweep     time.Duration
	precision int
	now       func() time.Time
	metrics   repository.Metrics
	logger    *applogger.Logger
}

// WithCapacity bounds the number of cached entries.
func WithCapacity(n int) Option { return func(c *cachedConfig) { c.capacity = n } }

// WithTTL expires entries older than ttl. Zero keeps entries until evicted.
func WithTTL(ttl time.Duration) Option { return func(c *cachedConfig) { c.ttl = ttl } }

// WithSweepInterval sets how often expired entries are purged.
func WithSweepInterval(d time.Duration) Option { return func(c *cachedConfig) { c.sweep = d } }

// WithPrecision sets the number of julian-day decimal places kept in the key.
func WithPrecision(digits int) Option { return func(c *cachedConfig) { c.precision = digits } }

// WithClock overrides the cache time source.
func WithClock(now func() time.Time) Option { return func(c *cachedConfig) { c.now = now } }

// WithMetrics records cache hits and misses.
func WithMetrics(m repository.Metrics) Option { return func(c *cachedConfig) { c.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *applogger.Logger) Option { return func(c *cachedConfig) { c.logger = l } }

// NewCachedProvider wraps inner with an LRU cache.
func NewCachedProvider(inner service.EphemerisProvider, opts ...Option) *CachedProvider {
	cfg := &cachedConfig{
		capacity:  1000,
		sweep:     5 * time.Minute,
		precision: 4,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.precision < 0 {
		cfg.precision = 0
	}
	if cfg.precision > 8 {
		cfg.precision = 8
	}

	return &CachedProvider{
		inner: inner,
		cache: cache.NewLRU[int64, models.Ephemeris](
			cache.WithMemoryMaxSize(cfg.capacity),
			cache.WithMemoryTTL(cfg.ttl),
			cache.WithMemoryCleanup(cfg.sweep),
			cache.WithMemoryClock(cfg.now),
		),
		precision: math.Pow(10, float64(cfg.precision)),
		metrics:   cfg.metrics,
		l:         cfg.logger,
	}
}

// At returns the cached ephemeris for jd, computing it on a miss.
// The returned positions are a copy and safe to modify.
func (p *CachedProvider) At(jd float64) (models.Ephemeris, error) {
	if err := ValidateJulianDay(jd); err != nil {
		return models.Ephemeris{}, err
	}

	key := p.key(jd)
	if e, ok := p.cache.Get(key); ok {
		p.recordCache(true)
		return copyEphemeris(e), nil
	}
	p.recordCache(false)

	e, err := p.inner.At(jd)
	if err != nil {
		return models.Ephemeris{}, fmt.Errorf("ephemeris at %f: %w", jd, err)
	}
	p.cache.Set(key, copyEphemeris(e))
	return e, nil
}

// Stats exposes the underlying cache counters.
func (p *CachedProvider) Stats() cache.Stats { return p.cache.Stats() }

// Close stops the cache sweeper.
func (p *CachedProvider) Close() error { return p.cache.Close() }

type cacheSnapshot struct {
	Version   int                                   `json:"version"`
	Precision float64                               `json:"precision"`
	Entries   []cache.Entry[int64, models.Ephemeris] `json:"entries"`
}

// SnapshotCache serializes live entries, least recently used first.
func (p *CachedProvider) SnapshotCache() ([]byte, error) {
	blob, err := json.Marshal(cacheSnapshot{
		Version:   snapshotVersion,
		Precision: p.precision,
		Entries:   p.cache.Entries(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal cache snapshot: %w", err)
	}
	return blob, nil
}

// RestoreCache loads a blob produced by SnapshotCache. Snapshots taken with a
// different key precision are ignored.
func (p *CachedProvider) RestoreCache(blob []byte) error {
	var snap cacheSnapshot
	if err := json.Unmarshal(blob, &snap); err != nil {
		return fmt.Errorf("unmarshal cache snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("cache snapshot version %d not supported", snap.Version)
	}
	if snap.Precision != p.precision {
		if p.l != nil {
			p.l.Warn("Cache snapshot precision mismatch, starting cold",
				applogger.Float64("snapshot", snap.Precision),
				applogger.Float64("current", p.precision))
		}
		return nil
	}
	p.cache.Load(snap.Entries)
	if p.l != nil {
		p.l.Info("Ephemeris cache restored", applogger.Int("entries", len(snap.Entries)))
	}
	return nil
}

func (p *CachedProvider) key(jd float64) int64 {
	return int64(math.Round(jd * p.precision))
}

func (p *CachedProvider) recordCache(hit bool) {
	if p.metrics != nil {
		p.metrics.RecordCacheResult(hit)
	}
}

func copyEphemeris(e models.Ephemeris) models.Ephemeris {
	return models.Ephemeris{JulianDay: e.JulianDay, Tropical: e.Tropical.Clone()}
}
