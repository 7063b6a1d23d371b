package ilp

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/basekick-labs/ilpbench/pkg/models"
)

// Parser decodes line protocol back into rows. It is the other half of
// the compatibility contract: parse(encode(row)) must equal row for any
// valid row. The benchmark uses it to validate what the mock server
// receives; it is deliberately strict and rejects lines a lenient
// server-side parser might repair.
type Parser struct{}

// NewParser creates a line protocol parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseBatch parses newline-separated lines, preserving line order.
// Blank lines and '#' comments are skipped.
func (p *Parser) ParseBatch(data []byte) ([]models.Row, error) {
	lines := bytes.Split(data, []byte{'\n'})
	rows := make([]models.Row, 0, len(lines))

	for i, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		row, err := p.ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		rows = append(rows, *row)
	}

	return rows, nil
}

// ParseLine parses a single line (without the trailing newline).
func (p *Parser) ParseLine(line []byte) (*models.Row, error) {
	parts := splitOnDelimiter(line, ' ')
	if len(parts) != 3 {
		return nil, fmt.Errorf("ilp: expected measurement, fields and timestamp, got %d segments", len(parts))
	}

	measurement, tags, err := p.parseMeasurementTags(parts[0])
	if err != nil {
		return nil, err
	}

	fields, err := p.parseFields(parts[1])
	if err != nil {
		return nil, err
	}

	timestamp, err := strconv.ParseInt(string(parts[2]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("ilp: invalid timestamp %q: %w", parts[2], err)
	}

	return &models.Row{
		Measurement: measurement,
		Tags:        tags,
		Fields:      fields,
		Timestamp:   timestamp,
	}, nil
}

// splitOnDelimiter splits on an unescaped delimiter, respecting escaped
// characters and double-quoted strings.
func splitOnDelimiter(data []byte, delim byte) [][]byte {
	var parts [][]byte
	var current []byte
	inQuotes := false

	for i := 0; i < len(data); i++ {
		switch {
		case data[i] == '\\' && i+1 < len(data):
			current = append(current, data[i], data[i+1])
			i++
		case data[i] == '"':
			inQuotes = !inQuotes
			current = append(current, data[i])
		case data[i] == delim && !inQuotes:
			if len(current) > 0 {
				parts = append(parts, current)
				current = nil
			}
		default:
			current = append(current, data[i])
		}
	}

	if len(current) > 0 {
		parts = append(parts, current)
	}

	return parts
}

// parseMeasurementTags parses "measurement[,tag=value,...]", keeping tag
// order as written.
func (p *Parser) parseMeasurementTags(part []byte) (string, []models.Tag, error) {
	components := splitOnDelimiter(part, ',')
	if len(components) == 0 {
		return "", nil, fmt.Errorf("ilp: empty measurement segment")
	}

	measurement := unescape(components[0])
	if measurement == "" {
		return "", nil, fmt.Errorf("ilp: empty measurement")
	}

	var tags []models.Tag
	for _, component := range components[1:] {
		idx := indexUnescaped(component, '=')
		if idx <= 0 {
			return "", nil, fmt.Errorf("ilp: malformed tag %q", component)
		}
		tags = append(tags, models.Tag{
			Key:   unescape(component[:idx]),
			Value: unescape(component[idx+1:]),
		})
	}

	return measurement, tags, nil
}

// parseFields parses "key=value[,key=value...]", keeping field order.
func (p *Parser) parseFields(part []byte) ([]models.Field, error) {
	fieldParts := splitOnDelimiter(part, ',')
	if len(fieldParts) == 0 {
		return nil, fmt.Errorf("ilp: empty field set")
	}

	fields := make([]models.Field, 0, len(fieldParts))
	for _, fp := range fieldParts {
		idx := indexUnescaped(fp, '=')
		if idx <= 0 {
			return nil, fmt.Errorf("ilp: malformed field %q", fp)
		}
		value, err := parseFieldValue(fp[idx+1:])
		if err != nil {
			return nil, err
		}
		fields = append(fields, models.Field{Key: unescape(fp[:idx]), Value: value})
	}

	return fields, nil
}

// parseFieldValue decodes a field value from its wire type marker:
// 'i' suffix for integers, quotes for strings, t/true/f/false for
// booleans, anything else must parse as a float.
func parseFieldValue(value []byte) (interface{}, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("ilp: empty field value")
	}

	if value[0] == '"' {
		if len(value) < 2 || value[len(value)-1] != '"' {
			return nil, fmt.Errorf("ilp: unterminated string %q", value)
		}
		return unescapeString(value[1 : len(value)-1]), nil
	}

	switch string(value) {
	case "t", "T", "true", "True", "TRUE":
		return true, nil
	case "f", "F", "false", "False", "FALSE":
		return false, nil
	}

	if value[len(value)-1] == 'i' {
		intVal, err := strconv.ParseInt(string(value[:len(value)-1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("ilp: invalid integer %q: %w", value, err)
		}
		return intVal, nil
	}

	floatVal, err := strconv.ParseFloat(string(value), 64)
	if err != nil {
		return nil, fmt.Errorf("ilp: invalid field value %q", value)
	}
	return floatVal, nil
}

// indexUnescaped returns the index of the first unescaped occurrence of
// c, or -1.
func indexUnescaped(data []byte, c byte) int {
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' {
			i++
			continue
		}
		if data[i] == c {
			return i
		}
	}
	return -1
}

// unescape reverses the separator escaping applied to measurements,
// keys and tag values (\, \  \= \\). A backslash before any other
// character is kept literally, so both escaping conventions found in
// the wild parse identically.
func unescape(data []byte) string {
	if !bytes.ContainsRune(data, '\\') {
		return string(data)
	}

	buf := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+1 < len(data) {
			switch data[i+1] {
			case ',', ' ', '=', '\\':
				buf = append(buf, data[i+1])
				i++
				continue
			}
		}
		buf = append(buf, data[i])
	}
	return string(buf)
}

// unescapeString reverses string-value escaping (\" and \\).
func unescapeString(data []byte) string {
	if !bytes.ContainsRune(data, '\\') {
		return string(data)
	}

	buf := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+1 < len(data) && (data[i+1] == '"' || data[i+1] == '\\') {
			buf = append(buf, data[i+1])
			i++
			continue
		}
		buf = append(buf, data[i])
	}
	return string(buf)
}
