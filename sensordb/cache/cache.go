package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensordb",
		Name:      "cache_hits_total",
		Help:      "Total result cache hits.",
	})
	metricMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensordb",
		Name:      "cache_misses_total",
		Help:      "Total result cache misses.",
	})
	metricEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensordb",
		Name:      "cache_evictions_total",
		Help:      "Total result cache evictions.",
	})
	metricEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensordb",
		Name:      "cache_entries",
		Help:      "Current number of result cache entries.",
	})
	metricBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensordb",
		Name:      "cache_bytes",
		Help:      "Current result cache payload bytes.",
	})
)

// Admission policy constants. Oversized results would wipe out the working
// set, near-real-time queries go stale before they are reused, and
// multi-sensor queries are expensive enough to always keep.
const (
	admissionMaxShare      = 0.5
	admissionMinDuration   = 6 * time.Minute
	admissionSensorsAlways = 5
)

// Adaptive TTL: fingerprints seen often are retained longer.
const (
	hotAccessCount  = 10
	hotTTLFactor    = 3
	warmAccessCount = 5
	warmTTLFactor   = 2
)

type Config struct {
	SizeMaxBytes    int64         `yaml:"size_max_bytes"`
	MaxEntries      int           `yaml:"max_entries"`
	TTL             time.Duration `yaml:"ttl"`
	FrequencyMaxAge time.Duration `yaml:"frequency_max_age"`
}

func (cfg *Config) applyDefaults() {
	if cfg.SizeMaxBytes <= 0 {
		cfg.SizeMaxBytes = 100 * 1024 * 1024
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 300 * time.Second
	}
	if cfg.FrequencyMaxAge <= 0 {
		cfg.FrequencyMaxAge = 24 * time.Hour
	}
}

type entry struct {
	fp         uint64
	data       []byte
	rows       int
	insertedAt time.Time
}

// Stats is a point-in-time snapshot of cache state and counters.
type Stats struct {
	Entries   int     `json:"entries"`
	Bytes     int64   `json:"bytes"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Cache is the fingerprint-keyed result cache: LRU bounded by payload bytes
// and entry count, with TTL expiry stretched for hot fingerprints.
type Cache struct {
	cfg *Config

	mtx      sync.Mutex
	lru      *list.List
	elements map[uint64]*list.Element
	curBytes int64

	hits      uint64
	misses    uint64
	evictions uint64

	freq *frequencyTracker
	now  func() time.Time
}

func New(cfg *Config) *Cache {
	cfg.applyDefaults()
	return &Cache{
		cfg:      cfg,
		lru:      list.New(),
		elements: make(map[uint64]*list.Element),
		freq:     newFrequencyTracker(cfg.FrequencyMaxAge),
		now:      time.Now,
	}
}

// Get returns the cached payload for fp and moves it to MRU. Expired entries
// are dropped and reported as misses. Every attempt, hit or miss, feeds the
// frequency tracker.
func (c *Cache) Get(fp uint64) ([]byte, bool) {
	count := c.freq.Track(fp)

	c.mtx.Lock()
	defer c.mtx.Unlock()

	el, ok := c.elements[fp]
	if !ok {
		c.misses++
		metricMisses.Inc()
		return nil, false
	}

	e := el.Value.(*entry)
	if c.now().Sub(e.insertedAt) > c.effectiveTTL(count) {
		c.remove(el)
		c.misses++
		metricMisses.Inc()
		return nil, false
	}

	c.lru.MoveToFront(el)
	c.hits++
	metricHits.Inc()
	return e.data, true
}

// Admit decides whether a result is worth caching at all. The short-window
// reject applies regardless of sensor count; the multi-sensor accept only
// bypasses checks ordered after it.
func (c *Cache) Admit(size int64, duration time.Duration, sensors int) bool {
	if size > int64(float64(c.cfg.SizeMaxBytes)*admissionMaxShare) {
		return false
	}
	if duration < admissionMinDuration {
		return false
	}
	if sensors > admissionSensorsAlways {
		return true
	}
	return true
}

// Put stores the payload under fp after consulting the admission policy.
// LRU entries are evicted until both the byte and entry caps hold.
func (c *Cache) Put(fp uint64, data []byte, rows int, duration time.Duration, sensors int) bool {
	size := int64(len(data))
	if !c.Admit(size, duration, sensors) {
		return false
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()

	if el, ok := c.elements[fp]; ok {
		c.remove(el)
	}

	el := c.lru.PushFront(&entry{
		fp:         fp,
		data:       data,
		rows:       rows,
		insertedAt: c.now(),
	})
	c.elements[fp] = el
	c.curBytes += size

	for (c.curBytes > c.cfg.SizeMaxBytes || c.lru.Len() > c.cfg.MaxEntries) && c.lru.Len() > 1 {
		c.evict()
	}

	metricEntries.Set(float64(c.lru.Len()))
	metricBytes.Set(float64(c.curBytes))
	return true
}

// CleanupExpired drops every entry past its effective TTL and returns the
// number removed.
func (c *Cache) CleanupExpired() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		e := el.Value.(*entry)
		if c.now().Sub(e.insertedAt) > c.effectiveTTL(c.freq.Count(e.fp)) {
			c.remove(el)
			removed++
		}
		el = prev
	}
	metricEntries.Set(float64(c.lru.Len()))
	metricBytes.Set(float64(c.curBytes))
	return removed
}

// CleanupFrequency drops stale frequency trackers.
func (c *Cache) CleanupFrequency() int {
	return c.freq.Cleanup()
}

func (c *Cache) Clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.lru.Init()
	c.elements = make(map[uint64]*list.Element)
	c.curBytes = 0
	c.freq.Clear()

	metricEntries.Set(0)
	metricBytes.Set(0)
}

func (c *Cache) Stats() Stats {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	s := Stats{
		Entries:   c.lru.Len(),
		Bytes:     c.curBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache) effectiveTTL(accessCount int) time.Duration {
	switch {
	case accessCount > hotAccessCount:
		return c.cfg.TTL * hotTTLFactor
	case accessCount > warmAccessCount:
		return c.cfg.TTL * warmTTLFactor
	}
	return c.cfg.TTL
}

// remove unlinks an element. Caller holds the lock.
func (c *Cache) remove(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.elements, e.fp)
	c.curBytes -= int64(len(e.data))
}

// evict drops the LRU entry. Caller holds the lock.
func (c *Cache) evict() {
	el := c.lru.Back()
	if el == nil {
		return
	}
	c.remove(el)
	c.evictions++
	metricEvictions.Inc()
}
