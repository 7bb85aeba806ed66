package partition

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sensordb/sensordb/sensordb/backend"
	"github.com/sensordb/sensordb/sensordb/backend/local"
)

func TestPath(t *testing.T) {
	ts := time.Date(2024, 3, 7, 5, 0, 0, 0, time.UTC)

	assert.Equal(t, "press-01/2024/03/07/05/temperature.parquet", Path(TierRaw, "press-01", "temperature", ts))
	assert.Equal(t, "aggregated/press-01/2024/03/07/temperature.parquet", Path(TierAggregated, "press-01", "temperature", ts))
	assert.Equal(t, "daily/press-01/2024/03/temperature.parquet", Path(TierDaily, "press-01", "temperature", ts))

	assert.Equal(t, "aggregated/press-01/2024/03/07/05/temperature_minute.parquet", PrePath(PreMinute, "press-01", "temperature", ts))
	assert.Equal(t, "aggregated/press-01/2024/03/07/temperature_hour.parquet", PrePath(PreHour, "press-01", "temperature", ts))
	assert.Equal(t, "daily/press-01/2024/03/temperature_day.parquet", PrePath(PreDay, "press-01", "temperature", ts))
}

func TestParseRoundTrip(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC)

	for _, tier := range Tiers {
		info, ok := Parse(Path(tier, "press-01", "temperature", ts))
		require.True(t, ok, "tier %s", tier)
		assert.Equal(t, tier, info.Tier)
		assert.Equal(t, "press-01", info.Asset)
		assert.Equal(t, "temperature", info.Sensor)
		assert.Equal(t, tier.Floor(ts), info.Time)
		assert.Empty(t, info.Pre)
	}

	for _, pre := range []PreTier{PreMinute, PreHour, PreDay} {
		info, ok := Parse(PrePath(pre, "press-01", "temperature", ts))
		require.True(t, ok, "pre %s", pre)
		assert.Equal(t, pre, info.Pre)
		assert.Equal(t, "temperature", info.Sensor)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, p := range []string{
		"",
		"readme.md",
		"press-01/2024/03/07/05/temperature.csv",
		"press-01/2024/xx/07/05/temperature.parquet",
		"aggregated/press-01/2024/03/07/05/temperature.parquet", // hour dir without _minute suffix
		"press-01/2024/03/temperature.parquet",                  // raw missing day/hour
	} {
		_, ok := Parse(p)
		assert.False(t, ok, "path %q", p)
	}
}

func TestWalkCalendarRollover(t *testing.T) {
	// leap day and year boundary in one pass
	steps := TierRaw.Walk(
		time.Date(2024, 2, 28, 22, 30, 0, 0, time.UTC),
		time.Date(2024, 2, 29, 2, 0, 0, 0, time.UTC),
	)
	require.Len(t, steps, 4)
	assert.Equal(t, time.Date(2024, 2, 28, 22, 0, 0, 0, time.UTC), steps[0])
	assert.Equal(t, time.Date(2024, 2, 29, 1, 0, 0, 0, time.UTC), steps[3])

	days := TierAggregated.Walk(
		time.Date(2023, 12, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	)
	require.Len(t, days, 3)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), days[2])

	months := TierDaily.Walk(
		time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	)
	require.Len(t, months, 3)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), months[2])
}

func TestMining(t *testing.T) {
	paths := []string{
		"press-01/2024/03/07/05/temperature.parquet",
		"press-01/2024/03/07/06/pressure.parquet",
		"press-02/2024/03/07/05/temperature.parquet",
		// pre files are mined too, minus the family suffix
		"aggregated/press-03/2024/03/07/05/vibration_minute.parquet",
		"not-a-partition.txt",
	}

	assert.Equal(t, []string{"pressure", "temperature", "vibration"}, MineSensors(paths))
	assert.Equal(t, []string{"press-01", "press-02", "press-03"}, MineAssets(paths))

	min, max, ok := TimeRange(paths, map[string]struct{}{"temperature": {}})
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 7, 5, 0, 0, 0, time.UTC), min)
	assert.Equal(t, time.Date(2024, 3, 7, 5, 0, 0, 0, time.UTC), max)
}

func testIndex(t *testing.T) (*Index, backend.Backend) {
	t.Helper()

	b, err := local.New(&local.Config{Path: t.TempDir()}, log.NewNopLogger())
	require.NoError(t, err)
	return NewIndex(b, true, log.NewNopLogger()), b
}

func TestCandidatePathsVerifiesExistence(t *testing.T) {
	idx, b := testIndex(t)
	ctx := context.Background()

	ts := time.Date(2024, 3, 7, 5, 0, 0, 0, time.UTC)
	require.NoError(t, b.Write(ctx, Path(TierRaw, "press-01", "temperature", ts), []byte("x")))

	paths, err := idx.CandidatePaths(ctx, TierRaw, []string{"temperature"}, []string{"press-01"}, ts, ts.Add(3*time.Hour))
	require.NoError(t, err)
	// three candidate hours, only one exists
	assert.Equal(t, []string{"press-01/2024/03/07/05/temperature.parquet"}, paths)
}

func TestCandidatePathsDiscoversAssets(t *testing.T) {
	idx, b := testIndex(t)
	ctx := context.Background()

	ts := time.Date(2024, 3, 7, 5, 0, 0, 0, time.UTC)
	require.NoError(t, b.Write(ctx, Path(TierRaw, "press-01", "temperature", ts), []byte("x")))
	require.NoError(t, b.Write(ctx, Path(TierRaw, "press-02", "temperature", ts), []byte("x")))

	paths, err := idx.CandidatePaths(ctx, TierRaw, []string{"temperature"}, nil, ts, ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, paths, 2)

	// empty non-nil asset set means nothing to read
	paths, err = idx.CandidatePaths(ctx, TierRaw, []string{"temperature"}, []string{}, ts, ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestPreCandidatePathsDiscoversPreOnlyAssets(t *testing.T) {
	idx, b := testIndex(t)
	ctx := context.Background()

	// the asset exists only as a minute pre-aggregate, no raw tier at all
	ts := time.Date(2024, 3, 7, 5, 0, 0, 0, time.UTC)
	require.NoError(t, b.Write(ctx, PrePath(PreMinute, "press-01", "temperature", ts), []byte("x")))

	paths, err := idx.PreCandidatePaths(ctx, PreMinute, []string{"temperature"}, nil, ts, ts.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"aggregated/press-01/2024/03/07/05/temperature_minute.parquet"}, paths)

	assets, err := idx.DiscoverPreAssets(ctx, PreMinute)
	require.NoError(t, err)
	assert.Equal(t, []string{"press-01"}, assets)
}

func TestIndexTimeRange(t *testing.T) {
	idx, b := testIndex(t)
	ctx := context.Background()

	require.NoError(t, b.Write(ctx, Path(TierRaw, "press-01", "temperature", time.Date(2024, 3, 7, 5, 0, 0, 0, time.UTC)), []byte("x")))
	require.NoError(t, b.Write(ctx, Path(TierRaw, "press-01", "temperature", time.Date(2024, 3, 9, 17, 0, 0, 0, time.UTC)), []byte("x")))

	min, max, ok, err := idx.TimeRange(ctx, []string{"temperature"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 7, 5, 0, 0, 0, time.UTC), min)
	assert.Equal(t, time.Date(2024, 3, 9, 17, 0, 0, 0, time.UTC), max)
}
