package sensordb

import (
	"context"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/sensordb/sensordb/sensordb/aggregate"
	"github.com/sensordb/sensordb/sensordb/backend"
	"github.com/sensordb/sensordb/sensordb/backend/azure"
	"github.com/sensordb/sensordb/sensordb/backend/local"
	"github.com/sensordb/sensordb/sensordb/cache"
	"github.com/sensordb/sensordb/sensordb/encoding"
	"github.com/sensordb/sensordb/sensordb/partition"
	"github.com/sensordb/sensordb/sensordb/pool"
)

type backendRef struct {
	name    string
	backend backend.Backend
	index   *partition.Index
}

// Engine owns the tiered query pipeline: tier selection, partition fan-out,
// smart aggregation, the result cache and statistics.
type Engine struct {
	cfg    *Config
	logger log.Logger

	// hybrid mode lists remote before local; overlap resolution depends on
	// that order.
	backends []*backendRef

	pool  *pool.Pool
	cache *cache.Cache
	stats *Stats
}

func New(cfg *Config, logger log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	e := &Engine{
		cfg:    cfg,
		logger: logger,
		pool:   pool.NewPool(cfg.Pool),
		stats:  newStats(),
	}

	if cfg.StorageMode == StorageModeRemote || cfg.StorageMode == StorageModeHybrid {
		b, err := azure.New(cfg.Azure, log.With(logger, "backend", "remote"))
		if err != nil {
			return nil, errors.Wrap(err, "creating remote backend")
		}
		// remote emission is speculative, absent blobs are tolerated at read time
		e.backends = append(e.backends, &backendRef{
			name:    "remote",
			backend: b,
			index:   partition.NewIndex(b, false, logger),
		})
	}
	if cfg.StorageMode == StorageModeLocal || cfg.StorageMode == StorageModeHybrid {
		b, err := local.New(cfg.Local, log.With(logger, "backend", "local"))
		if err != nil {
			return nil, errors.Wrap(err, "creating local backend")
		}
		e.backends = append(e.backends, &backendRef{
			name:    "local",
			backend: b,
			index:   partition.NewIndex(b, true, logger),
		})
	}

	if cfg.CacheEnabled {
		e.cache = cache.New(&cache.Config{
			SizeMaxBytes:    int64(cfg.CacheSizeMB) * 1024 * 1024,
			MaxEntries:      cfg.CacheMaxEntries,
			TTL:             cfg.cacheTTL(),
			FrequencyMaxAge: cfg.frequencyMaxAge(),
		})
	}

	level.Info(logger).Log("msg", "engine started", "storage_mode", cfg.StorageMode, "cache_enabled", cfg.CacheEnabled)
	return e, nil
}

// Query executes q through the full pipeline. Validation failures return an
// ErrInvalidQuery-wrapped error; every other fault degrades to an empty
// result with tier "error".
func (e *Engine) Query(ctx context.Context, q Query) (*Result, error) {
	return e.query(ctx, q, "")
}

func (e *Engine) query(ctx context.Context, q Query, forceTier partition.Tier) (*Result, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "sensordb.Query")
	defer span.Finish()

	started := time.Now()

	if err := q.normalize(e.cfg); err != nil {
		return nil, err
	}

	fp := cache.Fingerprint(q.Sensors, q.Start, q.End, q.Assets, q.IntervalMS, q.Aggregation, q.MaxDatapoints)

	if e.cache != nil {
		if res, ok := e.cacheLookup(fp); ok {
			res.ExecutionTimeMS = time.Since(started).Milliseconds()
			e.stats.record(tierUsedCache, res.ExecutionTimeMS)
			return res, nil
		}
	}

	res, err := e.execute(ctx, &q, forceTier)
	if err != nil {
		level.Error(e.logger).Log("msg", "query failed", "err", err)
		res = &Result{
			Data:     encoding.NewBatch(),
			TierUsed: tierUsedError,
			Error:    err.Error(),
		}
	}
	res.ExecutionTimeMS = time.Since(started).Milliseconds()
	e.stats.record(res.TierUsed, res.ExecutionTimeMS)

	if e.cache != nil && res.TierUsed != tierUsedError {
		e.cacheInsert(fp, &q, res)
	}
	return res, nil
}

// execute runs the tier state machine and post-processing for a normalized
// query.
func (e *Engine) execute(ctx context.Context, q *Query, forceTier partition.Tier) (*Result, error) {
	order := tierOrder(e.selectTier(q.duration()))
	if forceTier != "" {
		order = []partition.Tier{forceTier}
	}

	var (
		batch    *encoding.Batch
		tierUsed partition.Tier
	)
	for _, tier := range order {
		b, err := e.queryTier(ctx, tier, q)
		if err != nil {
			// backend fault: log and keep falling back
			level.Warn(e.logger).Log("msg", "tier read failed", "tier", tier, "err", err)
			continue
		}
		if !b.IsEmpty() {
			batch, tierUsed = b, tier
			break
		}
	}
	if batch == nil {
		return &Result{Data: encoding.NewBatch(), TierUsed: string(order[0])}, nil
	}
	level.Debug(e.logger).Log("msg", "tier served query", "tier", tierUsed, "rows", batch.Len())

	if e.cfg.EnableSmartAggregation && !batch.IsEmpty() {
		method := aggregate.SmartMethod(aggregate.NormalizeMethod(q.Aggregation), q.Sensors, batch, q.duration())
		interval := aggregate.ChooseInterval(q.duration(), q.MaxDatapoints, q.interval())

		b, err := aggregate.ByInterval(batch, interval, method)
		if err != nil {
			return nil, errors.Wrap(err, "smart aggregation")
		}
		batch = b
	}

	batch.FilterTimeRange(q.Start, q.End)
	batch.FilterStringIn(encoding.ColumnSensor, stringSet(q.Sensors))
	if q.Assets != nil {
		batch.FilterStringIn(encoding.ColumnAsset, stringSet(q.Assets))
	}

	res := &Result{
		Data:               batch,
		TierUsed:           string(tierUsed),
		OriginalDatapoints: batch.Len(),
	}

	if batch.Len() > q.MaxDatapoints {
		res.Data = aggregate.DownsampleToMaxPoints(batch, q.MaxDatapoints, aggregate.NormalizeMethod(q.Aggregation))
		res.Truncated = true
		if _, max, ok := res.Data.TimeBounds(); ok {
			res.ActualEndTime = max
		}
	}
	return res, nil
}

// queryTier reads one tier across the configured backends. Hybrid mode
// unions remote and local, remote first, keeping the last row on overlap.
func (e *Engine) queryTier(ctx context.Context, tier partition.Tier, q *Query) (*encoding.Batch, error) {
	batches := make([]*encoding.Batch, 0, len(e.backends))
	var lastErr error

	for _, ref := range e.backends {
		paths, err := ref.index.CandidatePaths(ctx, tier, q.Sensors, q.Assets, q.Start, q.End)
		if err != nil {
			lastErr = errors.Wrapf(err, "enumerating %s partitions on %s", tier, ref.name)
			continue
		}
		b, err := e.readPaths(ctx, ref, paths)
		if err != nil {
			lastErr = errors.Wrapf(err, "reading %s partitions on %s", tier, ref.name)
			continue
		}
		batches = append(batches, b)
	}
	if len(batches) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return encoding.NewBatch(), nil
	}

	out := encoding.Concat(batches...)
	out.SortByTimestamp()
	out.Dedup()
	return out, nil
}

func (e *Engine) cacheLookup(fp uint64) (*Result, bool) {
	data, ok := e.cache.Get(fp)
	if !ok {
		return nil, false
	}
	b, err := encoding.Unmarshal(data)
	if err != nil {
		// corrupt payload: treat as a miss
		level.Warn(e.logger).Log("msg", "dropping corrupt cache payload", "err", err)
		return nil, false
	}
	return &Result{
		Data:     b,
		TierUsed: tierUsedCache,
		CacheHit: true,
	}, true
}

func (e *Engine) cacheInsert(fp uint64, q *Query, res *Result) {
	data, err := encoding.Marshal(res.Data)
	if err != nil {
		level.Warn(e.logger).Log("msg", "result not cacheable", "err", err)
		return
	}
	e.cache.Put(fp, data, res.Data.Len(), q.duration(), len(q.Sensors))
}

// SensorNames returns the union of sensor names across tiers and backends,
// optionally restricted to one asset.
func (e *Engine) SensorNames(ctx context.Context, asset string) ([]string, error) {
	set := make(map[string]struct{})
	for _, ref := range e.backends {
		for _, tier := range partition.Tiers {
			names, err := ref.index.DiscoverSensors(ctx, tier, asset)
			if err != nil {
				level.Warn(e.logger).Log("msg", "sensor discovery failed", "backend", ref.name, "tier", tier, "err", err)
				continue
			}
			for _, n := range names {
				set[n] = struct{}{}
			}
		}
	}
	return sortedKeys(set), nil
}

// AssetIDs returns the union of asset ids across backends.
func (e *Engine) AssetIDs(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{})
	for _, ref := range e.backends {
		for _, tier := range partition.Tiers {
			assets, err := ref.index.DiscoverAssets(ctx, tier)
			if err != nil {
				level.Warn(e.logger).Log("msg", "asset discovery failed", "backend", ref.name, "tier", tier, "err", err)
				continue
			}
			for _, a := range assets {
				set[a] = struct{}{}
			}
		}
	}
	return sortedKeys(set), nil
}

// TimeRange reports the (min, max) partition hour covering the sensors
// across all backends.
func (e *Engine) TimeRange(ctx context.Context, sensors []string) (time.Time, time.Time, bool, error) {
	var (
		min, max time.Time
		found    bool
		lastErr  error
	)
	for _, ref := range e.backends {
		lo, hi, ok, err := ref.index.TimeRange(ctx, sensors)
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			continue
		}
		if !found {
			min, max, found = lo, hi, true
			continue
		}
		if lo.Before(min) {
			min = lo
		}
		if hi.After(max) {
			max = hi
		}
	}
	if !found && lastErr != nil {
		return time.Time{}, time.Time{}, false, lastErr
	}
	return min, max, found, nil
}

// QueryStats returns a snapshot of the engine counters.
func (e *Engine) QueryStats() StatsSnapshot {
	return e.stats.Snapshot()
}

// CacheStats returns cache counters, or nil when caching is disabled.
func (e *Engine) CacheStats() *cache.Stats {
	if e.cache == nil {
		return nil
	}
	s := e.cache.Stats()
	return &s
}

// ClearCache drops the result cache and every backend listing cache.
func (e *Engine) ClearCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
	for _, ref := range e.backends {
		ref.backend.ClearListingCache()
	}
}

// HealthReport aggregates backend probes; unhealthy iff any active backend is.
type HealthReport struct {
	Healthy  bool                             `json:"healthy"`
	Backends map[string]*backend.HealthReport `json:"backends"`
	Cache    *cache.Stats                     `json:"cache,omitempty"`
}

func (e *Engine) HealthCheck(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Healthy:  true,
		Backends: make(map[string]*backend.HealthReport, len(e.backends)),
		Cache:    e.CacheStats(),
	}
	for _, ref := range e.backends {
		hr := ref.backend.Health(ctx)
		report.Backends[ref.name] = hr
		if !hr.Healthy {
			report.Healthy = false
		}
	}
	return report
}

// CleanupCaches runs cache housekeeping: TTL expiry plus the frequency
// tracker age-out. Intended to be called periodically by the service wrapper.
func (e *Engine) CleanupCaches() {
	if e.cache == nil {
		return
	}
	expired := e.cache.CleanupExpired()
	stale := e.cache.CleanupFrequency()
	if expired > 0 || stale > 0 {
		level.Debug(e.logger).Log("msg", "cache housekeeping", "expired", expired, "stale_trackers", stale)
	}
}

func (e *Engine) Shutdown() {
	e.pool.Shutdown()
	for _, ref := range e.backends {
		ref.backend.Shutdown()
	}
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
