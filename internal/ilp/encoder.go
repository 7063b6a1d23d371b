// Package ilp implements the InfluxDB/QuestDB line protocol wire format
// used by the benchmark: one row per newline-terminated UTF-8 line,
//
//	measurement[,tag_key=tag_value...] field_key=field_value[,...] timestamp
//
// with nanosecond timestamps. The encoder is a pure function over a row;
// it performs no I/O and keeps no state, so the round-trip law against
// the parser in this package can be tested exhaustively.
package ilp

import (
	"fmt"
	"math"
	"strconv"

	"github.com/basekick-labs/ilpbench/pkg/models"
)

// EncodeError reports a row that cannot be represented in the wire
// grammar. The row is rejected as a whole; the harness decides whether
// to skip-and-count or abort.
type EncodeError struct {
	Reason string
	Key    string // Offending tag/field key, when one is identifiable
}

func (e *EncodeError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("ilp: cannot encode row: %s (key %q)", e.Reason, e.Key)
	}
	return "ilp: cannot encode row: " + e.Reason
}

// AppendRow appends the encoded line for row (including the trailing
// newline) to dst and returns the extended slice. The input row is not
// modified. Returns an EncodeError for rows violating the row
// invariants: empty measurement, zero fields, duplicate keys, a key used
// as both tag and field, non-finite floats, or embedded newlines.
func AppendRow(dst []byte, row *models.Row) ([]byte, error) {
	if err := Validate(row); err != nil {
		return dst, err
	}
	return appendRowUnchecked(dst, row), nil
}

// RowSize returns the exact encoded length of row, including the
// trailing newline, without building the line. The row must already be
// valid; RowSize on an invalid row returns 0.
func RowSize(row *models.Row) int {
	if err := Validate(row); err != nil {
		return 0
	}

	n := measurementLen(row.Measurement)
	for _, t := range row.Tags {
		n += 1 + escapedLen(t.Key) + 1 + escapedLen(t.Value) // ,key=value
	}
	n++ // space before fields
	for i, f := range row.Fields {
		if i > 0 {
			n++ // comma
		}
		n += escapedLen(f.Key) + 1 + valueLen(f.Value)
	}
	n += 1 + intLen(row.Timestamp) + 1 // space, timestamp, newline
	return n
}

// Validate checks the row invariants shared by the row-wise and columnar
// encode paths without producing any output.
func Validate(row *models.Row) error {
	if row.Measurement == "" {
		return &EncodeError{Reason: "empty measurement"}
	}
	if hasNewline(row.Measurement) {
		return &EncodeError{Reason: "newline in measurement"}
	}
	if row.Measurement[0] == '#' {
		// A leading '#' marks a comment line in the protocol; no
		// escape exists for it, so such a row is unrepresentable.
		return &EncodeError{Reason: "measurement starts with comment marker"}
	}
	if len(row.Fields) == 0 {
		return &EncodeError{Reason: "row has no fields"}
	}

	seen := make(map[string]bool, len(row.Tags)+len(row.Fields))
	for _, t := range row.Tags {
		if t.Key == "" {
			return &EncodeError{Reason: "empty tag key"}
		}
		if hasNewline(t.Key) || hasNewline(t.Value) {
			return &EncodeError{Reason: "newline in tag", Key: t.Key}
		}
		if seen[t.Key] {
			return &EncodeError{Reason: "duplicate tag key", Key: t.Key}
		}
		seen[t.Key] = true
	}
	for _, f := range row.Fields {
		if f.Key == "" {
			return &EncodeError{Reason: "empty field key"}
		}
		if hasNewline(f.Key) {
			return &EncodeError{Reason: "newline in field key", Key: f.Key}
		}
		if seen[f.Key] {
			// Covers both a duplicate field key and a key already used
			// as a tag; either way the row is ambiguous on the wire.
			return &EncodeError{Reason: "key used more than once", Key: f.Key}
		}
		seen[f.Key] = true

		switch v := f.Value.(type) {
		case int64, bool:
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &EncodeError{Reason: "non-finite float value", Key: f.Key}
			}
		case string:
			if hasNewline(v) {
				return &EncodeError{Reason: "newline in string value", Key: f.Key}
			}
		default:
			return &EncodeError{Reason: fmt.Sprintf("unsupported field type %T", f.Value), Key: f.Key}
		}
	}
	return nil
}

// appendRowUnchecked writes a row the caller has already validated.
func appendRowUnchecked(dst []byte, row *models.Row) []byte {
	dst = appendMeasurement(dst, row.Measurement)
	for _, t := range row.Tags {
		dst = append(dst, ',')
		dst = appendEscaped(dst, t.Key)
		dst = append(dst, '=')
		dst = appendEscaped(dst, t.Value)
	}
	dst = append(dst, ' ')
	for i, f := range row.Fields {
		if i > 0 {
			dst = append(dst, ',')
		}
		dst = appendEscaped(dst, f.Key)
		dst = append(dst, '=')
		dst = appendValue(dst, f.Value)
	}
	dst = append(dst, ' ')
	dst = strconv.AppendInt(dst, row.Timestamp, 10)
	return append(dst, '\n')
}

// appendValue writes a field value with its wire type marker:
// integers get an 'i' suffix, floats the shortest round-trip decimal,
// booleans the single-character t/f tokens, strings double quotes with
// backslash escapes.
func appendValue(dst []byte, v interface{}) []byte {
	switch val := v.(type) {
	case int64:
		dst = strconv.AppendInt(dst, val, 10)
		return append(dst, 'i')
	case float64:
		return strconv.AppendFloat(dst, val, 'g', -1, 64)
	case bool:
		if val {
			return append(dst, 't')
		}
		return append(dst, 'f')
	case string:
		dst = append(dst, '"')
		for i := 0; i < len(val); i++ {
			if val[i] == '"' || val[i] == '\\' {
				dst = append(dst, '\\')
			}
			dst = append(dst, val[i])
		}
		return append(dst, '"')
	}
	return dst // Unreachable after Validate
}

// appendMeasurement writes the measurement name; the grammar only
// requires comma and space escaped there, unlike keys and tag values.
func appendMeasurement(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ',', ' ':
			dst = append(dst, '\\')
		}
		dst = append(dst, s[i])
	}
	return dst
}

func measurementLen(s string) int {
	n := len(s)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ',', ' ':
			n++
		}
	}
	return n
}

// appendEscaped writes a key or tag value, escaping the line protocol
// separators (comma, space, equals) and the escape character itself.
func appendEscaped(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ',', ' ', '=', '\\':
			dst = append(dst, '\\')
		}
		dst = append(dst, s[i])
	}
	return dst
}

func escapedLen(s string) int {
	n := len(s)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ',', ' ', '=', '\\':
			n++
		}
	}
	return n
}

func valueLen(v interface{}) int {
	switch val := v.(type) {
	case int64:
		return intLen(val) + 1 // trailing 'i'
	case float64:
		var buf [32]byte
		return len(strconv.AppendFloat(buf[:0], val, 'g', -1, 64))
	case bool:
		return 1
	case string:
		n := len(val) + 2
		for i := 0; i < len(val); i++ {
			if val[i] == '"' || val[i] == '\\' {
				n++
			}
		}
		return n
	}
	return 0
}

func intLen(v int64) int {
	var buf [20]byte
	return len(strconv.AppendInt(buf[:0], v, 10))
}

func hasNewline(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			return true
		}
	}
	return false
}
