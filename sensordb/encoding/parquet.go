package encoding

import (
	"bytes"
	"io"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// Marshal serializes a batch to parquet. The same bytes are used for cache
// payloads and for partitions written by the rebuilder, so the mapping must
// round-trip types exactly: time columns become millisecond timestamps,
// number columns doubles, string columns UTF8 byte arrays. Nulls are encoded
// as parquet nulls.
func Marshal(b *Batch) ([]byte, error) {
	names := b.ColumnNames()
	if len(names) == 0 {
		return nil, nil
	}

	group := parquet.Group{}
	for _, name := range names {
		c, _ := b.Column(name)
		switch c.Type {
		case TypeTime:
			group[name] = parquet.Optional(parquet.Timestamp(parquet.Millisecond))
		case TypeNumber:
			group[name] = parquet.Optional(parquet.Leaf(parquet.DoubleType))
		case TypeString:
			group[name] = parquet.Optional(parquet.String())
		}
	}
	schema := parquet.NewSchema("batch", group)

	// Rows are assembled value by value with explicit definition levels: a
	// stored zero carries definition level 1 and stays distinguishable from
	// null. Field order follows the schema, which sorts group members.
	fields := schema.Fields()
	rows := make([]parquet.Row, 0, b.Len())
	for i := 0; i < b.Len(); i++ {
		row := make(parquet.Row, 0, len(fields))
		for col, field := range fields {
			c, _ := b.Column(field.Name())
			v := parquet.NullValue()
			switch c.Type {
			case TypeTime:
				if t := c.Times[i]; !t.IsZero() {
					v = parquet.Int64Value(t.UnixMilli())
				}
			case TypeNumber:
				if x := c.Numbers[i]; !math.IsNaN(x) {
					v = parquet.DoubleValue(x)
				}
			case TypeString:
				if s := c.Strings[i]; s != "" {
					v = parquet.ByteArrayValue([]byte(s))
				}
			}
			def := 1
			if v.IsNull() {
				def = 0
			}
			row = append(row, v.Level(0, def, col))
		}
		rows = append(rows, row)
	}

	buf := &bytes.Buffer{}
	w := parquet.NewGenericWriter[map[string]interface{}](buf, schema)

	if len(rows) > 0 {
		if _, err := w.WriteRows(rows); err != nil {
			return nil, errors.Wrap(err, "writing parquet rows")
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "closing parquet writer")
	}
	return buf.Bytes(), nil
}

// Unmarshal reads a parquet payload into a batch. Column types are derived
// from the file schema: timestamp logical types map to time columns, byte
// arrays to strings, every other physical type to numbers.
func Unmarshal(data []byte) (*Batch, error) {
	if len(data) == 0 {
		return NewBatch(), nil
	}

	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "opening parquet payload")
	}

	fields := f.Schema().Fields()
	b := NewBatch()
	units := make([]int64, len(fields))
	for i, field := range fields {
		typ, unit := columnTypeFor(field)
		units[i] = unit
		b.AddColumn(field.Name(), typ)
	}

	for _, rg := range f.RowGroups() {
		rows := rg.Rows()
		rbuf := make([]parquet.Row, 64)
		for {
			n, err := rows.ReadRows(rbuf)
			for _, row := range rbuf[:n] {
				appendParquetRow(b, fields, units, row)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, errors.Wrap(err, "reading parquet rows")
			}
		}
		if err := rows.Close(); err != nil {
			return nil, errors.Wrap(err, "closing parquet row reader")
		}
	}
	return b, nil
}

func columnTypeFor(field parquet.Field) (ColumnType, int64) {
	if lt := field.Type().LogicalType(); lt != nil && lt.Timestamp != nil {
		unit := int64(1)
		switch {
		case lt.Timestamp.Unit.Micros != nil:
			unit = int64(time.Microsecond)
		case lt.Timestamp.Unit.Nanos != nil:
			unit = int64(time.Nanosecond)
		default:
			unit = int64(time.Millisecond)
		}
		return TypeTime, unit
	}
	switch field.Type().Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return TypeString, 0
	default:
		return TypeNumber, 0
	}
}

func appendParquetRow(b *Batch, fields []parquet.Field, units []int64, row parquet.Row) {
	values := make(map[string]interface{}, len(fields))
	for _, v := range row {
		i := v.Column()
		if i < 0 || i >= len(fields) || v.IsNull() {
			continue
		}
		name := fields[i].Name()
		col, _ := b.Column(name)
		switch col.Type {
		case TypeTime:
			values[name] = time.Unix(0, v.Int64()*units[i]).UTC()
		case TypeString:
			values[name] = v.String()
		case TypeNumber:
			switch v.Kind() {
			case parquet.Double:
				values[name] = v.Double()
			case parquet.Float:
				values[name] = float64(v.Float())
			case parquet.Int32:
				values[name] = float64(v.Int32())
			case parquet.Int64:
				values[name] = float64(v.Int64())
			case parquet.Boolean:
				if v.Boolean() {
					values[name] = float64(1)
				} else {
					values[name] = float64(0)
				}
			}
		}
	}
	b.AppendRow(values)
}
