package aggregate

import (
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/sensordb/sensordb/sensordb/encoding"
)

// colAgg accumulates one numeric column within one bucket. NaN values are
// excluded from everything except the row count.
type colAgg struct {
	sum      float64
	n        int
	min, max float64
	first    float64
	last     float64
	seen     bool
}

func (a *colAgg) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	if !a.seen {
		a.min, a.max, a.first = v, v, v
		a.seen = true
	} else {
		if v < a.min {
			a.min = v
		}
		if v > a.max {
			a.max = v
		}
	}
	a.last = v
	a.sum += v
	a.n++
}

func (a *colAgg) value(method Method, rows int) float64 {
	if method == MethodCount {
		return float64(rows)
	}
	if !a.seen {
		return math.NaN()
	}
	switch method {
	case MethodMin:
		return a.min
	case MethodMax:
		return a.max
	case MethodFirst:
		return a.first
	case MethodLast:
		return a.last
	case MethodSum:
		return a.sum
	default:
		return a.sum / float64(a.n)
	}
}

type group struct {
	bucket time.Time
	sensor string
	asset  string
	rows   int
	cols   []colAgg
}

// ByInterval floors timestamps to interval buckets, groups by the bucket plus
// whichever of sensor_name/asset_id the batch carries, and reduces every
// numeric column with method. Output rows are sorted by timestamp ascending,
// stable by group key, and the timestamp column holds the bucket floor.
func ByInterval(b *encoding.Batch, interval time.Duration, method Method) (*encoding.Batch, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if b == nil || b.IsEmpty() {
		return encoding.NewBatch(), nil
	}
	if b.Timestamps() == nil {
		return nil, errors.New("batch has no timestamp column")
	}

	// first/last depend on row order inside the bucket
	b.SortByTimestamp()
	ts := b.Timestamps()

	var sensorVals, assetVals []string
	if c, ok := b.Column(encoding.ColumnSensor); ok && c.Type == encoding.TypeString {
		sensorVals = c.Strings
	}
	if c, ok := b.Column(encoding.ColumnAsset); ok && c.Type == encoding.TypeString {
		assetVals = c.Strings
	}

	numeric := b.NumericColumnNames()
	numericCols := make([]*encoding.Column, len(numeric))
	for i, name := range numeric {
		numericCols[i], _ = b.Column(name)
	}

	type key struct {
		bucket int64
		sensor string
		asset  string
	}
	groups := make(map[key]*group)
	var order []*group

	for i := 0; i < b.Len(); i++ {
		if ts[i].IsZero() {
			continue
		}
		bucket := ts[i].Truncate(interval)

		k := key{bucket: bucket.UnixMilli()}
		if sensorVals != nil {
			k.sensor = sensorVals[i]
		}
		if assetVals != nil {
			k.asset = assetVals[i]
		}

		g, ok := groups[k]
		if !ok {
			g = &group{
				bucket: bucket,
				sensor: k.sensor,
				asset:  k.asset,
				cols:   make([]colAgg, len(numeric)),
			}
			groups[k] = g
			order = append(order, g)
		}
		g.rows++
		for ci, col := range numericCols {
			g.cols[ci].add(col.Numbers[i])
		}
	}

	out := encoding.NewBatch()
	out.AddColumn(encoding.ColumnTimestamp, encoding.TypeTime)
	if sensorVals != nil {
		out.AddColumn(encoding.ColumnSensor, encoding.TypeString)
	}
	if assetVals != nil {
		out.AddColumn(encoding.ColumnAsset, encoding.TypeString)
	}
	for _, name := range numeric {
		out.AddColumn(name, encoding.TypeNumber)
	}

	for _, g := range order {
		row := map[string]interface{}{
			encoding.ColumnTimestamp: g.bucket,
		}
		if sensorVals != nil {
			row[encoding.ColumnSensor] = g.sensor
		}
		if assetVals != nil {
			row[encoding.ColumnAsset] = g.asset
		}
		for ci, name := range numeric {
			if v := g.cols[ci].value(method, g.rows); !math.IsNaN(v) {
				row[name] = v
			}
		}
		out.AppendRow(row)
	}
	return out, nil
}
