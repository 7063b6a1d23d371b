package batch

import (
	"fmt"
	"testing"

	"github.com/basekick-labs/ilpbench/internal/ilp"
	"github.com/basekick-labs/ilpbench/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRow(i int) *models.Row {
	return &models.Row{
		Measurement: "cpu",
		Tags:        []models.Tag{{Key: "hostname", Value: fmt.Sprintf("host_%d", i)}},
		Fields:      []models.Field{{Key: "usage_user", Value: float64(i)}},
		Timestamp:   int64(i) * 10_000_000_000,
	}
}

func TestBatcher_New_Validation(t *testing.T) {
	_, err := New(0, 1024)
	assert.Error(t, err)
	_, err = New(10, 0)
	assert.Error(t, err)
	_, err = New(10, 1024)
	assert.NoError(t, err)
}

func TestBatcher_RowCountThreshold(t *testing.T) {
	b, err := New(3, 1<<20)
	require.NoError(t, err)

	var batches []*models.Batch
	for i := 0; i < 10; i++ {
		out, err := b.Push(testRow(i))
		require.NoError(t, err)
		if out != nil {
			batches = append(batches, out)
		}
	}
	if out := b.Flush(); out != nil {
		batches = append(batches, out)
	}

	require.Len(t, batches, 4)
	assert.Equal(t, 3, batches[0].RowCount())
	assert.Equal(t, 3, batches[1].RowCount())
	assert.Equal(t, 3, batches[2].RowCount())
	assert.Equal(t, 1, batches[3].RowCount())
}

func TestBatcher_ByteThreshold(t *testing.T) {
	row := testRow(1)
	size := ilp.RowSize(row)
	require.Positive(t, size)

	// Room for exactly two rows, not three.
	b, err := New(1000, size*2+size/2)
	require.NoError(t, err)

	var batches []*models.Batch
	for i := 0; i < 5; i++ {
		out, err := b.Push(testRow(1))
		require.NoError(t, err)
		if out != nil {
			batches = append(batches, out)
		}
	}
	if out := b.Flush(); out != nil {
		batches = append(batches, out)
	}

	require.Len(t, batches, 3)
	for i, batch := range batches[:2] {
		assert.Equal(t, 2, batch.RowCount(), "batch %d", i)
		assert.LessOrEqual(t, batch.Bytes, size*2+size/2)
	}
	assert.Equal(t, 1, batches[2].RowCount())
}

func TestBatcher_OversizedSingleRowStillEmits(t *testing.T) {
	row := testRow(1)
	size := ilp.RowSize(row)

	b, err := New(1000, size-1)
	require.NoError(t, err)

	out, err := b.Push(row)
	require.NoError(t, err)
	assert.Nil(t, out, "first oversized row buffers until the next push")

	out, err = b.Push(testRow(2))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 1, out.RowCount())

	out = b.Flush()
	require.NotNil(t, out)
	assert.Equal(t, 1, out.RowCount())
}

func TestBatcher_LosslessOrderedConcatenation(t *testing.T) {
	b, err := New(4, 1<<20)
	require.NoError(t, err)

	var want []byte
	var got []byte
	for i := 0; i < 11; i++ {
		row := testRow(i)
		var err error
		want, err = ilp.AppendRow(want, row)
		require.NoError(t, err)

		out, err := b.Push(row)
		require.NoError(t, err)
		if out != nil {
			got = append(got, out.Encoded...)
		}
	}
	if out := b.Flush(); out != nil {
		got = append(got, out.Encoded...)
	}

	// Concatenating all emitted batches reproduces the input stream
	// byte for byte.
	assert.Equal(t, string(want), string(got))
}

func TestBatcher_InvalidRowLeavesBatchUntouched(t *testing.T) {
	b, err := New(10, 1<<20)
	require.NoError(t, err)

	_, err = b.Push(testRow(1))
	require.NoError(t, err)
	require.Equal(t, 1, b.Pending())

	bad := &models.Row{Measurement: "m"} // no fields
	out, err := b.Push(bad)
	require.Error(t, err)
	var encErr *ilp.EncodeError
	assert.ErrorAs(t, err, &encErr)
	assert.Nil(t, out)
	assert.Equal(t, 1, b.Pending())

	out = b.Flush()
	require.NotNil(t, out)
	assert.Equal(t, 1, out.RowCount())
}

func TestBatcher_FlushEmpty(t *testing.T) {
	b, err := New(10, 1024)
	require.NoError(t, err)
	assert.Nil(t, b.Flush())
	assert.Zero(t, b.Pending())
}
