package sensordb

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensordb/sensordb/sensordb/encoding"
	"github.com/sensordb/sensordb/sensordb/partition"
)

func TestRawQueryPreservesValues(t *testing.T) {
	e := newLocalEngine(t, nil)
	ctx := context.Background()

	writeRaw(t, e, "press-01", "temperature", testStart, 600, func(i int) float64 { return float64(i) * 0.5 })

	res, err := e.RawQuery(ctx, []string{"temperature"}, nil, testStart, testStart.Add(10*time.Minute))
	require.NoError(t, err)

	assert.Equal(t, string(partition.TierRaw), res.TierUsed)
	require.Equal(t, 600, res.Count())

	// last at 1s buckets returns stored values untouched
	temp, _ := res.Data.Column("temperature")
	assert.Equal(t, 0.0, temp.Numbers[0])
	assert.Equal(t, 0.5, temp.Numbers[1])
}

func TestRawQueryPreTruncatesWindow(t *testing.T) {
	e := newLocalEngine(t, func(cfg *Config) {
		cfg.DefaultMaxDatapoints = 600
		cfg.MaxAbsoluteDatapoints = 600
	})
	ctx := context.Background()

	writeRaw(t, e, "press-01", "temperature", testStart, 3600, func(i int) float64 { return float64(i) })

	res, err := e.RawQuery(ctx, []string{"temperature"}, nil, testStart, testStart.Add(time.Hour))
	require.NoError(t, err)

	assert.True(t, res.Truncated)
	assert.LessOrEqual(t, res.Count(), 600)
	assert.False(t, res.ActualEndTime.IsZero())
	assert.True(t, !res.ActualEndTime.After(testStart.Add(10*time.Minute)))
}

func TestAggregatedQueryExtractsCompanions(t *testing.T) {
	e := newLocalEngine(t, nil)
	ctx := context.Background()

	// hand-written minute file in the original companion layout
	b := encoding.NewBatch()
	for i := 0; i < 30; i++ {
		b.AppendRow(map[string]interface{}{
			"minute_bucket":       testStart.Add(time.Duration(i) * time.Minute),
			encoding.ColumnSensor: "temperature",
			encoding.ColumnAsset:  "press-01",
			"temperature_mean":    20.0 + float64(i),
			"temperature_min":     10.0,
			"temperature_max":     30.0,
		})
	}
	data, err := encoding.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, e.testBackend().Write(ctx, partition.PrePath(partition.PreMinute, "press-01", "temperature", testStart), data))
	e.ClearCache()

	// one second interval within a short window dispatches to the minute family
	res, err := e.AggregatedQuery(ctx, []string{"temperature"}, nil, testStart, testStart.Add(30*time.Minute), 1000, 1000, "mean")
	require.NoError(t, err)

	assert.Equal(t, string(partition.TierAggregated), res.TierUsed)
	require.Equal(t, 30, res.Count())

	temp, ok := res.Data.Column("temperature")
	require.True(t, ok)
	assert.Equal(t, 20.0, temp.Numbers[0])
	assert.False(t, res.Data.HasColumn("temperature_mean"))
	assert.False(t, res.Data.HasColumn("temperature_min"))
	assert.True(t, res.Data.Timestamps()[0].Equal(testStart))
}

func TestAggregatedQueryFallsBackToExecutor(t *testing.T) {
	e := newLocalEngine(t, nil)
	ctx := context.Background()

	// only raw data, no pre-computed files anywhere
	writeRaw(t, e, "press-01", "temperature", testStart, 3600, func(i int) float64 { return float64(i) })

	res, err := e.AggregatedQuery(ctx, []string{"temperature"}, nil, testStart, testStart.Add(time.Hour), 60000, 1000, "mean")
	require.NoError(t, err)

	assert.Equal(t, string(partition.TierRaw), res.TierUsed)
	assert.Greater(t, res.Count(), 0)
}

func TestChoosePreTierDispatch(t *testing.T) {
	tests := []struct {
		interval time.Duration
		duration time.Duration
		want     partition.PreTier
	}{
		{time.Hour, time.Hour, partition.PreDay},
		{time.Minute, 200 * time.Hour, partition.PreDay},
		{time.Minute, time.Hour, partition.PreHour},
		{30 * time.Second, 48 * time.Hour, partition.PreHour},
		{time.Second, time.Hour, partition.PreMinute},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, choosePreTier(tc.interval, tc.duration), "interval %s duration %s", tc.interval, tc.duration)
	}
}

func TestAggregatedQueryDerivesInterval(t *testing.T) {
	e := newLocalEngine(t, nil)
	ctx := context.Background()

	writeRaw(t, e, "press-01", "temperature", testStart, 3600, func(i int) float64 { return float64(i) })

	// no interval given: derived on the extended ladder, floor one minute
	res, err := e.AggregatedQuery(ctx, []string{"temperature"}, nil, testStart, testStart.Add(time.Hour), 0, 1000, "mean")
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Count(), 60)
	assert.Greater(t, res.Count(), 0)
}

func TestRebuiltFilesServeAggregatedQueries(t *testing.T) {
	e := newLocalEngine(t, nil)
	ctx := context.Background()

	writeRaw(t, e, "press-01", "temperature", testStart, 7200, func(i int) float64 { return float64(i) * 0.01 })

	r := NewRebuilder(e, log.NewNopLogger())
	_, err := r.Rebuild(ctx, []string{"temperature"}, testStart, testStart.Add(2*time.Hour))
	require.NoError(t, err)
	e.ClearCache()

	res, err := e.AggregatedQuery(ctx, []string{"temperature"}, nil, testStart, testStart.Add(2*time.Hour), 1000, 1000, "mean")
	require.NoError(t, err)

	assert.Equal(t, string(partition.TierAggregated), res.TierUsed)
	require.Equal(t, 120, res.Count())

	// minute means match the mean of the corresponding raw second
	temp, _ := res.Data.Column("temperature")
	assert.InDelta(t, 29.5*0.01, temp.Numbers[0], 1e-9)
}
