package encoding

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTime(sec int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func buildBatch(t *testing.T, n int) *Batch {
	t.Helper()
	b := NewBatch()
	for i := 0; i < n; i++ {
		b.AppendRow(map[string]interface{}{
			ColumnTimestamp: testTime(i),
			ColumnSensor:    "temperature",
			ColumnAsset:     "press-01",
			"value":         float64(i),
		})
	}
	return b
}

func TestAppendRowOpenSchema(t *testing.T) {
	b := NewBatch()
	b.AppendRow(map[string]interface{}{
		ColumnTimestamp: testTime(0),
		"temperature":   1.5,
	})
	// second row introduces a new column, first row must read as null
	b.AppendRow(map[string]interface{}{
		ColumnTimestamp: testTime(1),
		"temperature":   2.5,
		"pressure":      100.0,
	})

	require.Equal(t, 2, b.Len())
	c, ok := b.Column("pressure")
	require.True(t, ok)
	assert.True(t, math.IsNaN(c.Numbers[0]))
	assert.Equal(t, 100.0, c.Numbers[1])
}

func TestSortByTimestampStable(t *testing.T) {
	b := NewBatch()
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(5), ColumnSensor: "a"})
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(1), ColumnSensor: "b"})
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(1), ColumnSensor: "c"})

	b.SortByTimestamp()

	sensors, _ := b.Column(ColumnSensor)
	assert.Equal(t, []string{"b", "c", "a"}, sensors.Strings)
}

func TestDedupKeepsLast(t *testing.T) {
	b := NewBatch()
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(0), ColumnSensor: "t", ColumnAsset: "a", "value": 1.0})
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(0), ColumnSensor: "t", ColumnAsset: "a", "value": 2.0})
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(1), ColumnSensor: "t", ColumnAsset: "a", "value": 3.0})

	b.Dedup()

	require.Equal(t, 2, b.Len())
	value, _ := b.Column("value")
	assert.Equal(t, []float64{2.0, 3.0}, value.Numbers)
}

func TestFilterTimeRangeHalfOpen(t *testing.T) {
	b := buildBatch(t, 10)
	b.FilterTimeRange(testTime(2), testTime(5))
	require.Equal(t, 3, b.Len())
	assert.Equal(t, testTime(2), b.Timestamps()[0])
	assert.Equal(t, testTime(4), b.Timestamps()[2])
}

func TestNormalizeAssetAlias(t *testing.T) {
	b := NewBatch()
	b.AppendRow(map[string]interface{}{
		ColumnTimestamp:  testTime(0),
		ColumnAssetAlias: "press-07",
		"value":          1.0,
	})

	b.NormalizeAssetAlias()

	require.True(t, b.HasColumn(ColumnAsset))
	assert.False(t, b.HasColumn(ColumnAssetAlias))
	assets, _ := b.Column(ColumnAsset)
	assert.Equal(t, "press-07", assets.Strings[0])
}

func TestNormalizeAssetAliasPrefersExisting(t *testing.T) {
	b := NewBatch()
	b.AppendRow(map[string]interface{}{
		ColumnTimestamp:  testTime(0),
		ColumnAsset:      "real",
		ColumnAssetAlias: "legacy",
	})

	b.NormalizeAssetAlias()

	assets, _ := b.Column(ColumnAsset)
	assert.Equal(t, "real", assets.Strings[0])
	assert.False(t, b.HasColumn(ColumnAssetAlias))
}

func TestConcatAlignsSchemas(t *testing.T) {
	a := NewBatch()
	a.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(0), "x": 1.0})
	b := NewBatch()
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(1), "y": 2.0})

	out := Concat(a, b)

	require.Equal(t, 2, out.Len())
	x, _ := out.Column("x")
	y, _ := out.Column("y")
	assert.True(t, math.IsNaN(x.Numbers[1]))
	assert.True(t, math.IsNaN(y.Numbers[0]))
	assert.Equal(t, 1.0, x.Numbers[0])
	assert.Equal(t, 2.0, y.Numbers[1])
}

func TestTake(t *testing.T) {
	b := buildBatch(t, 10)
	out := b.Take([]int{0, 5, 9})
	require.Equal(t, 3, out.Len())
	value, _ := out.Column("value")
	assert.Equal(t, []float64{0, 5, 9}, value.Numbers)
}

func TestParquetRoundTrip(t *testing.T) {
	b := buildBatch(t, 100)

	data, err := Marshal(b)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, b.Len(), got.Len())

	wantValue, _ := b.Column("value")
	gotValue, ok := got.Column("value")
	require.True(t, ok)
	assert.Equal(t, TypeNumber, gotValue.Type)
	assert.Equal(t, wantValue.Numbers, gotValue.Numbers)

	gotTs, ok := got.Column(ColumnTimestamp)
	require.True(t, ok)
	assert.Equal(t, TypeTime, gotTs.Type)
	assert.Equal(t, testTime(0), gotTs.Times[0])
	assert.Equal(t, testTime(99), gotTs.Times[99])
}

func TestParquetRoundTripNulls(t *testing.T) {
	b := NewBatch()
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(0), "value": 1.0})
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(1)})

	data, err := Marshal(b)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	value, _ := got.Column("value")
	assert.Equal(t, 1.0, value.Numbers[0])
	assert.True(t, math.IsNaN(value.Numbers[1]))
}

func TestParquetZeroValuesSurvive(t *testing.T) {
	// a stored 0.0 must come back as 0.0, not as null
	b := NewBatch()
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(0), "temperature": 0.0})
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(1), "temperature": 0.5})
	b.AppendRow(map[string]interface{}{ColumnTimestamp: testTime(2)})

	data, err := Marshal(b)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, 3, got.Len())

	temp, ok := got.Column("temperature")
	require.True(t, ok)
	assert.Equal(t, 0.0, temp.Numbers[0])
	assert.Equal(t, 0.5, temp.Numbers[1])
	assert.True(t, math.IsNaN(temp.Numbers[2]))
}

func TestMarshalEmpty(t *testing.T) {
	data, err := Marshal(NewBatch())
	require.NoError(t, err)
	assert.Empty(t, data)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}
