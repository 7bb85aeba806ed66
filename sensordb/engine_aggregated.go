package sensordb

import (
	"context"
	"time"

	"github.com/go-kit/log/level"

	"github.com/sensordb/sensordb/sensordb/aggregate"
	"github.com/sensordb/sensordb/sensordb/encoding"
	"github.com/sensordb/sensordb/sensordb/partition"
)

// AggregatedQuery is the facade for dashboard-style reads. A missing interval
// is derived from the per-sensor point budget on the extended ladder. The
// pre-computed aggregate families are tried first; when none yields rows the
// query falls back to the general executor.
func (e *Engine) AggregatedQuery(ctx context.Context, sensors, assets []string, start, end time.Time, intervalMS int64, maxPoints int, method string) (*Result, error) {
	started := time.Now()

	if maxPoints <= 0 {
		maxPoints = e.cfg.DefaultMaxDatapoints
	}
	if maxPoints > e.cfg.MaxAbsoluteDatapoints {
		maxPoints = e.cfg.MaxAbsoluteDatapoints
	}

	duration := end.Sub(start)
	if intervalMS <= 0 && len(sensors) > 0 {
		perSensor := maxPoints / len(sensors)
		intervalMS = aggregate.OptimalIntervalExtended(duration, perSensor).Milliseconds()
	}

	m := aggregate.NormalizeMethod(method)
	interval := time.Duration(intervalMS) * time.Millisecond

	res, err := e.preAggregatedRead(ctx, choosePreTier(interval, duration), sensors, assets, start, end, interval, m, maxPoints)
	if err != nil {
		level.Warn(e.logger).Log("msg", "pre-aggregated read failed, using executor", "err", err)
	}
	if err == nil && res != nil {
		res.ExecutionTimeMS = time.Since(started).Milliseconds()
		e.stats.record(res.TierUsed, res.ExecutionTimeMS)
		return res, nil
	}

	return e.Query(ctx, Query{
		Sensors:       sensors,
		Assets:        assets,
		Start:         start,
		End:           end,
		IntervalMS:    intervalMS,
		MaxDatapoints: maxPoints,
		Aggregation:   string(m),
	})
}

// choosePreTier maps the requested resolution onto a pre-computed family.
// The conditions are a strict total order: daily wins for coarse intervals or
// multi-week windows, then hourly, then minute.
func choosePreTier(interval, duration time.Duration) partition.PreTier {
	switch {
	case interval >= time.Hour || duration > 168*time.Hour:
		return partition.PreDay
	case interval >= time.Minute || duration > 24*time.Hour:
		return partition.PreHour
	default:
		return partition.PreMinute
	}
}

// preAggregatedRead reads one pre-computed family across the backends and
// rewrites it into the plain measurement shape. A nil result with nil error
// means the family holds nothing for this window and the caller should fall
// back.
func (e *Engine) preAggregatedRead(ctx context.Context, pre partition.PreTier, sensors, assets []string, start, end time.Time, interval time.Duration, m aggregate.Method, maxPoints int) (*Result, error) {
	batches := make([]*encoding.Batch, 0, len(e.backends))
	for _, ref := range e.backends {
		paths, err := ref.index.PreCandidatePaths(ctx, pre, sensors, assets, start, end)
		if err != nil {
			return nil, err
		}
		b, err := e.readPaths(ctx, ref, paths)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}

	batch := encoding.Concat(batches...)
	if batch.IsEmpty() {
		return nil, nil
	}

	batch = aggregate.ExtractPreAggregated(batch, m, pre.BucketColumn())
	batch.SortByTimestamp()
	batch.Dedup()
	batch.FilterTimeRange(start, end)
	batch.FilterStringIn(encoding.ColumnSensor, stringSet(sensors))
	if assets != nil {
		batch.FilterStringIn(encoding.ColumnAsset, stringSet(assets))
	}
	if batch.IsEmpty() {
		return nil, nil
	}

	// the family granularity may be finer than the requested interval
	if rebucketed, err := aggregate.ByInterval(batch, interval, m); err == nil {
		batch = rebucketed
	}

	res := &Result{
		Data:               batch,
		TierUsed:           preTierUsed(pre),
		OriginalDatapoints: batch.Len(),
	}
	if batch.Len() > maxPoints {
		res.Data = aggregate.DownsampleToMaxPoints(batch, maxPoints, m)
		res.Truncated = true
		if _, max, ok := res.Data.TimeBounds(); ok {
			res.ActualEndTime = max
		}
	}
	return res, nil
}

func preTierUsed(pre partition.PreTier) string {
	if pre == partition.PreDay {
		return string(partition.TierDaily)
	}
	return string(partition.TierAggregated)
}
