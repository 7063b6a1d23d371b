// Package batch groups rows into transmission units by row-count and
// byte-size thresholds, preserving row order within and across batches.
package batch

import (
	"fmt"

	"github.com/basekick-labs/ilpbench/internal/ilp"
	"github.com/basekick-labs/ilpbench/pkg/models"
)

// Batcher accumulates rows and emits a batch when either the row-count
// or the cumulative encoded-byte threshold is reached, whichever first.
// Not safe for concurrent use; the harness's producer loop owns it.
type Batcher struct {
	maxRows  int
	maxBytes int

	current *models.Batch
}

// New creates a batcher. Both thresholds must be positive.
func New(maxRows, maxBytes int) (*Batcher, error) {
	if maxRows <= 0 {
		return nil, fmt.Errorf("batch: max rows must be positive, got %d", maxRows)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("batch: max bytes must be positive, got %d", maxBytes)
	}
	return &Batcher{maxRows: maxRows, maxBytes: maxBytes, current: &models.Batch{}}, nil
}

// Push appends row to the batch under construction and returns a
// finished batch once a threshold trips, or nil while the batch is
// still filling. The row is validated and encoded here (this package
// and ilp are the only ones that know the wire grammar); an invalid
// row leaves the batch untouched and returns an error.
//
// The byte threshold is enforced by emitting the in-progress batch
// *before* adding a row that would push it over, so emitted batches
// never exceed max bytes. The one exception is a single row that is
// by itself larger than the threshold: it still goes out, alone, on
// the following push or flush.
func (b *Batcher) Push(row *models.Row) (*models.Batch, error) {
	size := ilp.RowSize(row)
	if size == 0 {
		// Invalid row; re-run encoding for the precise error.
		if _, err := ilp.AppendRow(nil, row); err != nil {
			return nil, err
		}
	}

	var out *models.Batch
	if len(b.current.Rows) >= b.maxRows ||
		(len(b.current.Rows) > 0 && b.current.Bytes+size > b.maxBytes) {
		out = b.take()
	}

	encoded, err := ilp.AppendRow(b.current.Encoded, row)
	if err != nil {
		return out, err
	}
	b.current.Rows = append(b.current.Rows, *row)
	b.current.Encoded = encoded
	b.current.Bytes = len(encoded)

	// A row-count-triggered batch goes out immediately; if a
	// byte-triggered batch is already going out this call, the full
	// one follows on the next push or flush.
	if len(b.current.Rows) >= b.maxRows && out == nil {
		out = b.take()
	}
	return out, nil
}

// Pending returns the number of rows in the batch under construction.
func (b *Batcher) Pending() int {
	return len(b.current.Rows)
}

// Flush returns the partially filled batch at stream end, or nil if
// nothing is pending. An empty flush yields no batch.
func (b *Batcher) Flush() *models.Batch {
	if len(b.current.Rows) == 0 {
		return nil
	}
	return b.take()
}

func (b *Batcher) take() *models.Batch {
	out := b.current
	b.current = &models.Batch{}
	return out
}
