package ilp

import (
	"testing"

	"github.com/basekick-labs/ilpbench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_RoundTrip(t *testing.T) {
	rows := []models.Row{
		{
			Measurement: "cpu",
			Tags: []models.Tag{
				{Key: "hostname", Value: "host_12"},
				{Key: "region", Value: "us-east-1"},
			},
			Fields: []models.Field{
				{Key: "usage_user", Value: 58.1317132304976},
				{Key: "usage_system", Value: 0.0},
			},
			Timestamp: 1451606400000000000,
		},
		{
			Measurement: "all types",
			Tags:        []models.Tag{{Key: "k=1", Value: `v,2 \3`}},
			Fields: []models.Field{
				{Key: "i", Value: int64(-9223372036854775808)},
				{Key: "f", Value: 1e-9},
				{Key: "bt", Value: true},
				{Key: "bf", Value: false},
				{Key: "s", Value: `with "quotes" and \slashes\`},
			},
			Timestamp: -1,
		},
		{
			Measurement: "no_tags",
			Fields:      []models.Field{{Key: "v", Value: int64(0)}},
			Timestamp:   9223372036854775807,
		},
		{
			// Measurement names carry '=' unescaped on the wire.
			Measurement: "disk=c usage",
			Tags:        []models.Tag{{Key: "mount", Value: "/"}},
			Fields:      []models.Field{{Key: "free", Value: int64(512)}},
			Timestamp:   7,
		},
	}

	parser := NewParser()
	for _, row := range rows {
		encoded, err := AppendRow(nil, &row)
		require.NoError(t, err)

		parsed, err := parser.ParseLine(encoded[:len(encoded)-1])
		require.NoError(t, err, "line: %s", encoded)

		assert.Equal(t, row.Measurement, parsed.Measurement)
		assert.Equal(t, row.Tags, parsed.Tags)
		assert.Equal(t, row.Fields, parsed.Fields)
		assert.Equal(t, row.Timestamp, parsed.Timestamp)
	}
}

func TestParser_ParseBatch(t *testing.T) {
	data := []byte(
		"# comment line\n" +
			"cpu,hostname=host_0 usage_user=1.5 100\n" +
			"\n" +
			"cpu,hostname=host_1 usage_user=2.5 110\n")

	parser := NewParser()
	rows, err := parser.ParseBatch(data)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "host_0", rows[0].Tags[0].Value)
	assert.Equal(t, "host_1", rows[1].Tags[0].Value)
	assert.Equal(t, int64(110), rows[1].Timestamp)
}

func TestParser_ParseBatch_ReportsLineNumber(t *testing.T) {
	data := []byte(
		"cpu usage=1.5 100\n" +
			"cpu usage=notanumber 110\n")

	parser := NewParser()
	_, err := parser.ParseBatch(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestParser_ParseLine_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing timestamp", "cpu usage=1.5"},
		{"missing fields", "cpu 100"},
		{"too many segments", "cpu usage=1.5 100 extra"},
		{"malformed tag", "cpu,hostonly usage=1.5 100"},
		{"malformed field", "cpu usage 100"},
		{"empty field value", "cpu usage= 100"},
		{"bad timestamp", "cpu usage=1.5 notatime"},
		{"unterminated string", `cpu msg="open 100`},
		{"bad integer", "cpu v=12x3i 100"},
	}

	parser := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.ParseLine([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParser_FieldValueTypes(t *testing.T) {
	parser := NewParser()
	row, err := parser.ParseLine([]byte(`m i=42i,f=4.5,t1=true,t2=T,f1=false,s="x" 9`))
	require.NoError(t, err)

	want := []models.Field{
		{Key: "i", Value: int64(42)},
		{Key: "f", Value: 4.5},
		{Key: "t1", Value: true},
		{Key: "t2", Value: true},
		{Key: "f1", Value: false},
		{Key: "s", Value: "x"},
	}
	assert.Equal(t, want, row.Fields)
}
