package bench

import (
	"context"

	"github.com/basekick-labs/ilpbench/internal/transport"
	"github.com/basekick-labs/ilpbench/pkg/models"
)

// Strategy is the encode-and-send capability that distinguishes the two
// ingestion paths. A strategy is selected once at harness construction;
// everything below it (dataset, batcher, transport, stats) is shared.
type Strategy interface {
	Name() string
	Send(ctx context.Context, tr transport.Transport, b *models.Batch) transport.SendResult
}

// RowStrategy transmits the pre-encoded protocol lines accumulated by
// the batcher, one batch of lines at a time.
type RowStrategy struct{}

func (RowStrategy) Name() string { return "rows" }

func (RowStrategy) Send(ctx context.Context, tr transport.Transport, b *models.Batch) transport.SendResult {
	return tr.SendLines(ctx, b)
}

// ColumnarStrategy pivots each batch into parallel column arrays and
// hands them to the transport's bulk codepath, which encodes inside the
// send call. A batch whose rows do not share one schema cannot be
// pivoted; that surfaces as a rejected send, never as a panic.
type ColumnarStrategy struct{}

func (ColumnarStrategy) Name() string { return "columnar" }

func (ColumnarStrategy) Send(ctx context.Context, tr transport.Transport, b *models.Batch) transport.SendResult {
	cb, err := models.Columnar(b)
	if err != nil {
		return transport.SendResult{Err: &transport.Error{Kind: transport.ErrRejected, Op: "pivot", Err: err}}
	}
	return tr.SendColumns(ctx, cb)
}

// NewStrategy maps the config selector to a strategy.
func NewStrategy(name string) (Strategy, bool) {
	switch name {
	case "rows", "row", "lines":
		return RowStrategy{}, true
	case "columnar", "dataframe":
		return ColumnarStrategy{}, true
	}
	return nil, false
}
