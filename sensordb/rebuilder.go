package sensordb

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/sensordb/sensordb/sensordb/aggregate"
	"github.com/sensordb/sensordb/sensordb/encoding"
	"github.com/sensordb/sensordb/sensordb/partition"
)

const (
	minuteChunk = 24 * time.Hour
	hourChunk   = 7 * 24 * time.Hour

	// a tier rebuild counts as successful when this share of chunks lands
	chunkSuccessThreshold = 0.8

	rawCoverageThreshold        = 0.9
	aggregatedCoverageThreshold = 0.8
)

// Rebuilder recomputes the aggregated and daily tiers from raw partitions.
// It borrows the engine for reads and writes through the engine's primary
// backend. Chunk failures are logged and skipped; the report says whether
// enough of them landed.
type Rebuilder struct {
	engine *Engine
	logger log.Logger
}

func NewRebuilder(e *Engine, logger log.Logger) *Rebuilder {
	return &Rebuilder{engine: e, logger: logger}
}

// RebuildReport summarizes one rebuild run.
type RebuildReport struct {
	Sensors []string  `json:"sensors"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`

	MinuteChunks int `json:"minute_chunks"`
	MinuteOK     int `json:"minute_chunks_ok"`
	HourChunks   int `json:"hour_chunks"`
	HourOK       int `json:"hour_chunks_ok"`

	Success bool `json:"success"`
}

// Rebuild recomputes both tiers for the sensors over [start, end). Empty
// sensors are resolved by discovery, a zero range via the stored time range.
// Writes overwrite, so rerunning with identical inputs is idempotent.
func (r *Rebuilder) Rebuild(ctx context.Context, sensors []string, start, end time.Time) (*RebuildReport, error) {
	var err error
	if len(sensors) == 0 {
		sensors, err = r.engine.SensorNames(ctx, "")
		if err != nil {
			return nil, errors.Wrap(err, "resolving sensors")
		}
		if len(sensors) == 0 {
			return nil, errors.New("no sensors to rebuild")
		}
	}
	if start.IsZero() || end.IsZero() {
		lo, hi, ok, err := r.engine.TimeRange(ctx, sensors)
		if err != nil {
			return nil, errors.Wrap(err, "resolving time range")
		}
		if !ok {
			return nil, errors.New("no partitions cover the requested sensors")
		}
		start, end = lo, hi.Add(time.Hour)
	}

	report := &RebuildReport{Sensors: sensors, Start: start, End: end}

	for cs := start; cs.Before(end); cs = cs.Add(minuteChunk) {
		ce := cs.Add(minuteChunk)
		if ce.After(end) {
			ce = end
		}
		report.MinuteChunks++
		if err := r.rebuildMinuteChunk(ctx, sensors, cs, ce); err != nil {
			level.Warn(r.logger).Log("msg", "minute chunk failed", "start", cs, "err", err)
			continue
		}
		report.MinuteOK++
	}

	for cs := start; cs.Before(end); cs = cs.Add(hourChunk) {
		ce := cs.Add(hourChunk)
		if ce.After(end) {
			ce = end
		}
		report.HourChunks++
		if err := r.rebuildHourChunk(ctx, sensors, cs, ce); err != nil {
			level.Warn(r.logger).Log("msg", "hour chunk failed", "start", cs, "err", err)
			continue
		}
		report.HourOK++
	}

	report.Success = chunksOK(report.MinuteOK, report.MinuteChunks) &&
		chunksOK(report.HourOK, report.HourChunks)

	level.Info(r.logger).Log("msg", "rebuild finished",
		"minute_ok", report.MinuteOK, "minute_total", report.MinuteChunks,
		"hour_ok", report.HourOK, "hour_total", report.HourChunks,
		"success", report.Success)
	return report, nil
}

func chunksOK(ok, total int) bool {
	if total == 0 {
		return true
	}
	return float64(ok)/float64(total) >= chunkSuccessThreshold
}

// rebuildMinuteChunk reads raw rows for one 24h chunk, reduces them to one
// minute buckets with mean/min/max companions and writes both the per-hour
// minute files and the plain aggregated tier partitions.
func (r *Rebuilder) rebuildMinuteChunk(ctx context.Context, sensors []string, start, end time.Time) error {
	q := &Query{Sensors: sensors, Start: start, End: end, IntervalMS: 1000}
	raw, err := r.engine.queryTier(ctx, partition.TierRaw, q)
	if err != nil {
		return errors.Wrap(err, "reading raw tier")
	}
	if raw.IsEmpty() {
		return nil
	}

	pre, err := aggregate.CreatePreAggregated(raw, time.Minute)
	if err != nil {
		return errors.Wrap(err, "pre-aggregating chunk")
	}

	if err := r.writeFamily(ctx, pre, partition.PreMinute); err != nil {
		return err
	}
	return r.writeTier(ctx, pre, partition.TierAggregated)
}

// rebuildHourChunk reads the minute tier (pre-computed files first, plain
// partitions as fallback) for one 7d chunk, buckets at one hour with avg and
// writes the daily tier plus the per-day hour files.
func (r *Rebuilder) rebuildHourChunk(ctx context.Context, sensors []string, start, end time.Time) error {
	q := &Query{Sensors: sensors, Start: start, End: end, IntervalMS: 60000}

	minute := r.readPreFamily(ctx, partition.PreMinute, sensors, start, end)
	if minute.IsEmpty() {
		var err error
		minute, err = r.engine.queryTier(ctx, partition.TierAggregated, q)
		if err != nil {
			return errors.Wrap(err, "reading aggregated tier")
		}
	}
	if minute.IsEmpty() {
		return nil
	}

	hourly, err := aggregate.ByInterval(minute, time.Hour, aggregate.MethodAvg)
	if err != nil {
		return errors.Wrap(err, "bucketing to hours")
	}

	if err := r.writeFamily(ctx, hourly, partition.PreHour); err != nil {
		return err
	}
	return r.writeTier(ctx, hourly, partition.TierDaily)
}

func (r *Rebuilder) readPreFamily(ctx context.Context, pre partition.PreTier, sensors []string, start, end time.Time) *encoding.Batch {
	batches := make([]*encoding.Batch, 0, len(r.engine.backends))
	for _, ref := range r.engine.backends {
		paths, err := ref.index.PreCandidatePaths(ctx, pre, sensors, nil, start, end)
		if err != nil {
			continue
		}
		b, err := r.engine.readPaths(ctx, ref, paths)
		if err != nil {
			continue
		}
		batches = append(batches, b)
	}
	out := encoding.Concat(batches...)
	out.SortByTimestamp()
	out.Dedup()
	out = aggregate.ExtractPreAggregated(out, aggregate.MethodAvg, pre.BucketColumn())
	out.FilterTimeRange(start, end)
	return out
}

// writeFamily writes b split per (asset, sensor, step) as pre-computed files,
// with the timestamp renamed to the family's bucket column.
func (r *Rebuilder) writeFamily(ctx context.Context, b *encoding.Batch, pre partition.PreTier) error {
	return r.writeGrouped(ctx, b, func(ts time.Time) time.Time { return pre.Floor(ts) },
		func(asset, sensor string, step time.Time, part *encoding.Batch) error {
			part.RenameColumn(encoding.ColumnTimestamp, pre.BucketColumn())
			data, err := encoding.Marshal(part)
			if err != nil {
				return err
			}
			return r.writeBackend().backend.Write(ctx, partition.PrePath(pre, asset, sensor, step), data)
		})
}

// writeTier writes b split per (asset, sensor, step) as plain partitions.
func (r *Rebuilder) writeTier(ctx context.Context, b *encoding.Batch, tier partition.Tier) error {
	return r.writeGrouped(ctx, b, tier.Floor,
		func(asset, sensor string, step time.Time, part *encoding.Batch) error {
			data, err := encoding.Marshal(part)
			if err != nil {
				return err
			}
			return r.writeBackend().backend.Write(ctx, partition.Path(tier, asset, sensor, step), data)
		})
}

func (r *Rebuilder) writeGrouped(ctx context.Context, b *encoding.Batch, floor func(time.Time) time.Time, write func(asset, sensor string, step time.Time, part *encoding.Batch) error) error {
	ts := b.Timestamps()
	if ts == nil {
		return errors.New("batch has no timestamp column")
	}
	sensorCol, _ := b.Column(encoding.ColumnSensor)
	assetCol, _ := b.Column(encoding.ColumnAsset)

	type key struct {
		asset  string
		sensor string
		step   int64
	}
	groups := make(map[key][]int)
	steps := make(map[key]time.Time)
	for i := 0; i < b.Len(); i++ {
		if ts[i].IsZero() {
			continue
		}
		k := key{step: floor(ts[i]).UnixMilli()}
		if sensorCol != nil {
			k.sensor = sensorCol.Strings[i]
		}
		if assetCol != nil {
			k.asset = assetCol.Strings[i]
		}
		groups[k] = append(groups[k], i)
		steps[k] = floor(ts[i])
	}

	var lastErr error
	for k, idx := range groups {
		asset, sensor := k.asset, k.sensor
		if asset == "" {
			asset = "unknown"
		}
		if sensor == "" {
			sensor = "unknown"
		}
		if err := write(asset, sensor, steps[k], b.Take(idx)); err != nil {
			level.Warn(r.logger).Log("msg", "partition write failed", "asset", asset, "sensor", sensor, "err", err)
			lastErr = err
		}
	}
	return lastErr
}

// writeBackend is where rebuilt partitions land: the remote backend when one
// is configured, the local one otherwise.
func (r *Rebuilder) writeBackend() *backendRef {
	return r.engine.backends[0]
}

// CoverageReport compares how much of a sensor's window each tier actually
// covers. Low coverage is reported, never repaired automatically.
type CoverageReport struct {
	Sensor             string  `json:"sensor"`
	RawCoverage        float64 `json:"raw_coverage"`
	AggregatedCoverage float64 `json:"aggregated_coverage"`
	Healthy            bool    `json:"healthy"`
}

// Validate samples the sensors and reports per-tier coverage fractions over
// [start, end).
func (r *Rebuilder) Validate(ctx context.Context, sensors []string, start, end time.Time) ([]CoverageReport, error) {
	if len(sensors) == 0 {
		var err error
		sensors, err = r.engine.SensorNames(ctx, "")
		if err != nil {
			return nil, errors.Wrap(err, "resolving sensors")
		}
	}

	reports := make([]CoverageReport, 0, len(sensors))
	for _, sensor := range sensors {
		raw, err := r.coverage(ctx, partition.TierRaw, sensor, start, end)
		if err != nil {
			return nil, err
		}
		agg, err := r.coverage(ctx, partition.TierAggregated, sensor, start, end)
		if err != nil {
			return nil, err
		}
		reports = append(reports, CoverageReport{
			Sensor:             sensor,
			RawCoverage:        raw,
			AggregatedCoverage: agg,
			Healthy:            raw >= rawCoverageThreshold && agg >= aggregatedCoverageThreshold,
		})
	}
	return reports, nil
}

// coverage is the fraction of expected partition steps for which at least one
// asset has a file, unioned across backends.
func (r *Rebuilder) coverage(ctx context.Context, tier partition.Tier, sensor string, start, end time.Time) (float64, error) {
	expected := tier.Walk(start, end)
	if len(expected) == 0 {
		return 1, nil
	}

	have := make(map[int64]struct{})
	for _, ref := range r.engine.backends {
		paths, err := ref.backend.List(ctx, tier.Prefix())
		if err != nil {
			return 0, errors.Wrapf(err, "listing %s tier on %s", tier, ref.name)
		}
		for _, p := range paths {
			info, ok := partition.Parse(p)
			if !ok || info.Pre != "" || info.Tier != tier || info.Sensor != sensor {
				continue
			}
			have[info.Time.UnixMilli()] = struct{}{}
		}
	}

	covered := 0
	for _, step := range expected {
		if _, ok := have[step.UnixMilli()]; ok {
			covered++
		}
	}
	return float64(covered) / float64(len(expected)), nil
}
