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

func TestRebuildRoundTrip(t *testing.T) {
	e := newLocalEngine(t, nil)
	ctx := context.Background()

	// two hours of 1 Hz raw data
	writeRaw(t, e, "press-01", "temperature", testStart, 7200, func(i int) float64 { return float64(i) * 0.01 })

	r := NewRebuilder(e, log.NewNopLogger())
	report, err := r.Rebuild(ctx, []string{"temperature"}, testStart, testStart.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, report.MinuteChunks, report.MinuteOK)
	assert.Equal(t, report.HourChunks, report.HourOK)

	// minute files landed under the aggregated tier hour directories
	ok, err := e.testBackend().Exists(ctx, partition.PrePath(partition.PreMinute, "press-01", "temperature", testStart))
	require.NoError(t, err)
	assert.True(t, ok)

	// plain aggregated partition landed too
	data, err := e.testBackend().Read(ctx, partition.Path(partition.TierAggregated, "press-01", "temperature", testStart))
	require.NoError(t, err)

	got, err := encoding.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, 120, got.Len())

	// the plain column holds the per-minute mean of the raw rows
	mean, okCol := got.Column("temperature")
	require.True(t, okCol)
	got.SortByTimestamp()
	assert.InDelta(t, 29.5*0.01, mean.Numbers[0], 1e-9)

	lo, okCol := got.Column("temperature_min")
	require.True(t, okCol)
	hi, okCol := got.Column("temperature_max")
	require.True(t, okCol)
	assert.InDelta(t, 0.0, lo.Numbers[0], 1e-9)
	assert.InDelta(t, 59*0.01, hi.Numbers[0], 1e-9)

	// daily tier got the 1h averages
	data, err = e.testBackend().Read(ctx, partition.Path(partition.TierDaily, "press-01", "temperature", testStart))
	require.NoError(t, err)
	daily, err := encoding.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 2, daily.Len())
}

func TestRebuildResolvesScope(t *testing.T) {
	e := newLocalEngine(t, nil)
	ctx := context.Background()

	writeRaw(t, e, "press-01", "temperature", testStart, 3600, func(i int) float64 { return float64(i) })

	r := NewRebuilder(e, log.NewNopLogger())
	report, err := r.Rebuild(ctx, nil, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []string{"temperature"}, report.Sensors)
	assert.True(t, report.Success)
	assert.Equal(t, testStart, report.Start)
}

func TestRebuildNothingToDo(t *testing.T) {
	e := newLocalEngine(t, nil)

	r := NewRebuilder(e, log.NewNopLogger())
	_, err := r.Rebuild(context.Background(), nil, time.Time{}, time.Time{})
	assert.Error(t, err)
}

func TestValidateCoverage(t *testing.T) {
	e := newLocalEngine(t, nil)
	ctx := context.Background()

	writeRaw(t, e, "press-01", "temperature", testStart, 2*3600, func(i int) float64 { return float64(i) })

	r := NewRebuilder(e, log.NewNopLogger())

	// before the rebuild the aggregated tier is empty
	reports, err := r.Validate(ctx, []string{"temperature"}, testStart, testStart.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1.0, reports[0].RawCoverage)
	assert.Equal(t, 0.0, reports[0].AggregatedCoverage)
	assert.False(t, reports[0].Healthy)

	_, err = r.Rebuild(ctx, []string{"temperature"}, testStart, testStart.Add(2*time.Hour))
	require.NoError(t, err)
	e.ClearCache()

	reports, err = r.Validate(ctx, []string{"temperature"}, testStart, testStart.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Healthy)
}
