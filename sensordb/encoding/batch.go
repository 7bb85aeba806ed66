package encoding

import (
	"math"
	"sort"
	"time"
)

// Well-known column names shared across tiers.
const (
	ColumnTimestamp = "timestamp"
	ColumnSensor    = "sensor_name"
	ColumnAsset     = "asset_id"

	// daqid is a legacy alias for asset_id still present in older partitions.
	ColumnAssetAlias = "daqid"
)

type ColumnType int

const (
	TypeTime ColumnType = iota
	TypeNumber
	TypeString
)

// Column holds one named series of values. Exactly one of the value slices is
// populated, selected by Type. Missing numbers are NaN, missing strings are
// empty and missing times are the zero time.
type Column struct {
	Type    ColumnType
	Times   []time.Time
	Numbers []float64
	Strings []string
}

func (c *Column) appendNull() {
	switch c.Type {
	case TypeTime:
		c.Times = append(c.Times, time.Time{})
	case TypeNumber:
		c.Numbers = append(c.Numbers, math.NaN())
	case TypeString:
		c.Strings = append(c.Strings, "")
	}
}

func (c *Column) appendFrom(src *Column, i int) {
	switch c.Type {
	case TypeTime:
		c.Times = append(c.Times, src.Times[i])
	case TypeNumber:
		c.Numbers = append(c.Numbers, src.Numbers[i])
	case TypeString:
		c.Strings = append(c.Strings, src.Strings[i])
	}
}

func (c *Column) len() int {
	switch c.Type {
	case TypeTime:
		return len(c.Times)
	case TypeNumber:
		return len(c.Numbers)
	default:
		return len(c.Strings)
	}
}

// Batch is an open-schema column store. Partition files with arbitrary metric
// columns all funnel through this one representation.
type Batch struct {
	names []string
	cols  map[string]*Column
	rows  int
}

func NewBatch() *Batch {
	return &Batch{cols: make(map[string]*Column)}
}

func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return b.rows
}

func (b *Batch) IsEmpty() bool { return b.Len() == 0 }

// ColumnNames returns names in insertion order.
func (b *Batch) ColumnNames() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

func (b *Batch) Column(name string) (*Column, bool) {
	c, ok := b.cols[name]
	return c, ok
}

func (b *Batch) HasColumn(name string) bool {
	_, ok := b.cols[name]
	return ok
}

// AddColumn creates an empty column of the given type, padded with nulls to
// the current row count. Adding an existing name is a no-op.
func (b *Batch) AddColumn(name string, typ ColumnType) *Column {
	if c, ok := b.cols[name]; ok {
		return c
	}
	c := &Column{Type: typ}
	for i := 0; i < b.rows; i++ {
		c.appendNull()
	}
	b.cols[name] = c
	b.names = append(b.names, name)
	return c
}

// AppendRow appends one row. Values may be time.Time, float64 (any numeric is
// normalized by the caller) or string; columns absent from the row get nulls,
// unknown columns are created lazily.
func (b *Batch) AppendRow(row map[string]interface{}) {
	for name, v := range row {
		if _, ok := b.cols[name]; ok {
			continue
		}
		switch v.(type) {
		case time.Time:
			b.AddColumn(name, TypeTime)
		case string:
			b.AddColumn(name, TypeString)
		default:
			b.AddColumn(name, TypeNumber)
		}
	}
	for _, name := range b.names {
		c := b.cols[name]
		v, ok := row[name]
		if !ok || v == nil {
			c.appendNull()
			continue
		}
		switch c.Type {
		case TypeTime:
			if t, ok := v.(time.Time); ok {
				c.Times = append(c.Times, t.UTC())
			} else {
				c.appendNull()
			}
		case TypeNumber:
			if f, ok := toFloat(v); ok {
				c.Numbers = append(c.Numbers, f)
			} else {
				c.appendNull()
			}
		case TypeString:
			if s, ok := v.(string); ok {
				c.Strings = append(c.Strings, s)
			} else {
				c.appendNull()
			}
		}
	}
	b.rows++
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Row materializes row i as a map. Null values are omitted.
func (b *Batch) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(b.names))
	for _, name := range b.names {
		c := b.cols[name]
		switch c.Type {
		case TypeTime:
			if !c.Times[i].IsZero() {
				row[name] = c.Times[i]
			}
		case TypeNumber:
			if !math.IsNaN(c.Numbers[i]) {
				row[name] = c.Numbers[i]
			}
		case TypeString:
			if c.Strings[i] != "" {
				row[name] = c.Strings[i]
			}
		}
	}
	return row
}

// Take builds a new batch from the given row indices, preserving schema.
func (b *Batch) Take(idx []int) *Batch {
	out := NewBatch()
	for _, name := range b.names {
		out.AddColumn(name, b.cols[name].Type)
	}
	for _, i := range idx {
		for _, name := range b.names {
			out.cols[name].appendFrom(b.cols[name], i)
		}
		out.rows++
	}
	return out
}

// Append copies all rows of other into b, aligning schemas and padding
// mismatched columns with nulls.
func (b *Batch) Append(other *Batch) {
	if other == nil || other.rows == 0 {
		return
	}
	for _, name := range other.names {
		b.AddColumn(name, other.cols[name].Type)
	}
	for i := 0; i < other.rows; i++ {
		for _, name := range b.names {
			dst := b.cols[name]
			src, ok := other.cols[name]
			if !ok || src.Type != dst.Type {
				dst.appendNull()
				continue
			}
			dst.appendFrom(src, i)
		}
		b.rows++
	}
}

// Concat combines batches in order into a single batch.
func Concat(batches ...*Batch) *Batch {
	out := NewBatch()
	for _, b := range batches {
		out.Append(b)
	}
	return out
}

// Timestamps returns the timestamp column, or nil if absent.
func (b *Batch) Timestamps() []time.Time {
	if c, ok := b.cols[ColumnTimestamp]; ok && c.Type == TypeTime {
		return c.Times
	}
	return nil
}

// TimeBounds reports the min and max timestamp. ok is false when the batch
// has no usable timestamps.
func (b *Batch) TimeBounds() (min, max time.Time, ok bool) {
	ts := b.Timestamps()
	for _, t := range ts {
		if t.IsZero() {
			continue
		}
		if !ok {
			min, max, ok = t, t, true
			continue
		}
		if t.Before(min) {
			min = t
		}
		if t.After(max) {
			max = t
		}
	}
	return min, max, ok
}

// SortByTimestamp stable-sorts rows by the timestamp column ascending.
// Batches without a timestamp column are left untouched.
func (b *Batch) SortByTimestamp() {
	ts := b.Timestamps()
	if ts == nil {
		return
	}
	idx := make([]int, b.rows)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return ts[idx[i]].Before(ts[idx[j]])
	})
	b.reorder(idx)
}

func (b *Batch) reorder(idx []int) {
	for _, c := range b.cols {
		switch c.Type {
		case TypeTime:
			next := make([]time.Time, len(idx))
			for i, j := range idx {
				next[i] = c.Times[j]
			}
			c.Times = next
		case TypeNumber:
			next := make([]float64, len(idx))
			for i, j := range idx {
				next[i] = c.Numbers[j]
			}
			c.Numbers = next
		case TypeString:
			next := make([]string, len(idx))
			for i, j := range idx {
				next[i] = c.Strings[j]
			}
			c.Strings = next
		}
	}
	b.rows = len(idx)
}

// Dedup removes rows sharing a (timestamp, sensor_name, asset_id) key,
// keeping the last occurrence. Concatenation order therefore decides which
// backend wins on overlap.
func (b *Batch) Dedup() {
	ts := b.Timestamps()
	if ts == nil {
		return
	}
	type key struct {
		t      int64
		sensor string
		asset  string
	}
	sensors, _ := b.Column(ColumnSensor)
	assets, _ := b.Column(ColumnAsset)

	last := make(map[key]int, b.rows)
	for i := 0; i < b.rows; i++ {
		k := key{t: ts[i].UnixMilli()}
		if sensors != nil && sensors.Type == TypeString {
			k.sensor = sensors.Strings[i]
		}
		if assets != nil && assets.Type == TypeString {
			k.asset = assets.Strings[i]
		}
		last[k] = i
	}
	if len(last) == b.rows {
		return
	}
	keep := make([]int, 0, len(last))
	for i := 0; i < b.rows; i++ {
		k := key{t: ts[i].UnixMilli()}
		if sensors != nil && sensors.Type == TypeString {
			k.sensor = sensors.Strings[i]
		}
		if assets != nil && assets.Type == TypeString {
			k.asset = assets.Strings[i]
		}
		if last[k] == i {
			keep = append(keep, i)
		}
	}
	b.reorder(keep)
}

// FilterTimeRange keeps rows with start <= timestamp < end.
func (b *Batch) FilterTimeRange(start, end time.Time) {
	ts := b.Timestamps()
	if ts == nil {
		return
	}
	keep := make([]int, 0, b.rows)
	for i, t := range ts {
		if !t.Before(start) && t.Before(end) {
			keep = append(keep, i)
		}
	}
	if len(keep) == b.rows {
		return
	}
	b.reorder(keep)
}

// FilterStringIn keeps rows whose value in col is in the allowed set. Batches
// without the column pass through unchanged.
func (b *Batch) FilterStringIn(col string, allowed map[string]struct{}) {
	c, ok := b.cols[col]
	if !ok || c.Type != TypeString || len(allowed) == 0 {
		return
	}
	keep := make([]int, 0, b.rows)
	for i, s := range c.Strings {
		if _, ok := allowed[s]; ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == b.rows {
		return
	}
	b.reorder(keep)
}

// RenameColumn renames a column in place. Renaming onto an existing name
// drops the old target.
func (b *Batch) RenameColumn(from, to string) {
	c, ok := b.cols[from]
	if !ok || from == to {
		return
	}
	if _, exists := b.cols[to]; exists {
		delete(b.cols, to)
		names := b.names[:0]
		for _, n := range b.names {
			if n != to {
				names = append(names, n)
			}
		}
		b.names = names
	}
	delete(b.cols, from)
	b.cols[to] = c
	for i, n := range b.names {
		if n == from {
			b.names[i] = to
		}
	}
}

// DropColumn removes a column entirely.
func (b *Batch) DropColumn(name string) {
	if _, ok := b.cols[name]; !ok {
		return
	}
	delete(b.cols, name)
	names := b.names[:0]
	for _, n := range b.names {
		if n != name {
			names = append(names, n)
		}
	}
	b.names = names
}

// NormalizeAssetAlias maps the legacy daqid column to asset_id when asset_id
// is absent, and drops the alias otherwise.
func (b *Batch) NormalizeAssetAlias() {
	if !b.HasColumn(ColumnAssetAlias) {
		return
	}
	if b.HasColumn(ColumnAsset) {
		b.DropColumn(ColumnAssetAlias)
		return
	}
	b.RenameColumn(ColumnAssetAlias, ColumnAsset)
}

// NumericColumnNames returns the names of number-typed columns in order.
func (b *Batch) NumericColumnNames() []string {
	var out []string
	for _, name := range b.names {
		if b.cols[name].Type == TypeNumber {
			out = append(out, name)
		}
	}
	return out
}
