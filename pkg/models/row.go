package models

import "fmt"

// Tag is a single low-cardinality string dimension on a row.
type Tag struct {
	Key   string
	Value string
}

// Field is a single measured value on a row. Value must be one of
// int64, float64, bool or string.
type Field struct {
	Key   string
	Value interface{}
}

// Row represents a single time-series observation.
// Tags and Fields are ordered slices rather than maps so that a row
// always serializes to the same bytes, which the benchmark depends on
// for run-to-run comparability.
type Row struct {
	Measurement string
	Tags        []Tag
	Fields      []Field
	Timestamp   int64 // Nanoseconds since epoch
}

// Batch is an ordered sequence of rows plus their encoded wire form.
// A batch is immutable once handed to a transport.
type Batch struct {
	Rows    []Row
	Encoded []byte // Concatenated newline-terminated ILP lines, same order as Rows
	Bytes   int    // len(Encoded); tracked separately while the batch is still filling
}

// RowCount returns the number of rows in the batch.
func (b *Batch) RowCount() int {
	return len(b.Rows)
}

// Column value type markers for ColumnBatch fields.
const (
	ColInt = iota
	ColFloat
	ColBool
	ColString
)

// TagColumn holds one tag key and its values for every row in a batch.
type TagColumn struct {
	Key    string
	Values []string
}

// FieldColumn holds one field key and its typed values for every row in
// a batch. Exactly one of the value slices is populated, per Type.
type FieldColumn struct {
	Key     string
	Type    int
	Ints    []int64
	Floats  []float64
	Bools   []bool
	Strings []string
}

// Len returns the number of values in the column.
func (c *FieldColumn) Len() int {
	switch c.Type {
	case ColInt:
		return len(c.Ints)
	case ColFloat:
		return len(c.Floats)
	case ColBool:
		return len(c.Bools)
	default:
		return len(c.Strings)
	}
}

// ColumnBatch is the columnar form of a batch: parallel arrays of equal
// length, one per tag/field, plus the timestamp column. Used by the
// columnar ingestion strategy for bulk encode+send.
type ColumnBatch struct {
	Measurement string
	Times       []int64 // Nanoseconds since epoch
	Tags        []TagColumn
	Fields      []FieldColumn
}

// RowCount returns the number of rows represented by the batch.
func (c *ColumnBatch) RowCount() int {
	return len(c.Times)
}

// Columnar pivots a row batch into parallel column arrays. Every row
// must match the first row's measurement and schema (same tag/field
// keys in the same order, with consistent field value types); a
// mismatched row returns an error instead of producing ragged columns.
func Columnar(b *Batch) (*ColumnBatch, error) {
	if len(b.Rows) == 0 {
		return &ColumnBatch{}, nil
	}

	first := b.Rows[0]
	cb := &ColumnBatch{
		Measurement: first.Measurement,
		Times:       make([]int64, 0, len(b.Rows)),
		Tags:        make([]TagColumn, len(first.Tags)),
		Fields:      make([]FieldColumn, len(first.Fields)),
	}

	for i, t := range first.Tags {
		cb.Tags[i] = TagColumn{Key: t.Key, Values: make([]string, 0, len(b.Rows))}
	}
	for i, f := range first.Fields {
		col := FieldColumn{Key: f.Key}
		switch f.Value.(type) {
		case int64:
			col.Type = ColInt
			col.Ints = make([]int64, 0, len(b.Rows))
		case float64:
			col.Type = ColFloat
			col.Floats = make([]float64, 0, len(b.Rows))
		case bool:
			col.Type = ColBool
			col.Bools = make([]bool, 0, len(b.Rows))
		default:
			col.Type = ColString
			col.Strings = make([]string, 0, len(b.Rows))
		}
		cb.Fields[i] = col
	}

	for ri := range b.Rows {
		row := &b.Rows[ri]
		if row.Measurement != cb.Measurement {
			return nil, fmt.Errorf("models: row %d measurement %q differs from %q", ri, row.Measurement, cb.Measurement)
		}
		if len(row.Tags) != len(cb.Tags) {
			return nil, fmt.Errorf("models: row %d has %d tags, want %d", ri, len(row.Tags), len(cb.Tags))
		}
		if len(row.Fields) != len(cb.Fields) {
			return nil, fmt.Errorf("models: row %d has %d fields, want %d", ri, len(row.Fields), len(cb.Fields))
		}

		cb.Times = append(cb.Times, row.Timestamp)
		for i, t := range row.Tags {
			if t.Key != cb.Tags[i].Key {
				return nil, fmt.Errorf("models: row %d tag key %q, want %q", ri, t.Key, cb.Tags[i].Key)
			}
			cb.Tags[i].Values = append(cb.Tags[i].Values, t.Value)
		}
		for i, f := range row.Fields {
			col := &cb.Fields[i]
			if f.Key != col.Key {
				return nil, fmt.Errorf("models: row %d field key %q, want %q", ri, f.Key, col.Key)
			}
			switch v := f.Value.(type) {
			case int64:
				if col.Type != ColInt {
					return nil, typeMismatch(ri, col, f.Value)
				}
				col.Ints = append(col.Ints, v)
			case float64:
				if col.Type != ColFloat {
					return nil, typeMismatch(ri, col, f.Value)
				}
				col.Floats = append(col.Floats, v)
			case bool:
				if col.Type != ColBool {
					return nil, typeMismatch(ri, col, f.Value)
				}
				col.Bools = append(col.Bools, v)
			case string:
				if col.Type != ColString {
					return nil, typeMismatch(ri, col, f.Value)
				}
				col.Strings = append(col.Strings, v)
			default:
				return nil, fmt.Errorf("models: row %d field %q has unsupported type %T", ri, f.Key, f.Value)
			}
		}
	}

	return cb, nil
}

func typeMismatch(row int, col *FieldColumn, v interface{}) error {
	return fmt.Errorf("models: row %d field %q is %T, want %s", row, col.Key, v, colTypeName(col.Type))
}

func colTypeName(t int) string {
	switch t {
	case ColInt:
		return "integer"
	case ColFloat:
		return "float"
	case ColBool:
		return "boolean"
	default:
		return "string"
	}
}
