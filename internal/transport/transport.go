// Package transport owns the connection(s) to the target server and
// flushes batches over them. Transports are exclusively owned by one
// harness for the lifetime of a run; reconnecting mid-run is
// deliberately not attempted, because silent retries would fold
// reconnect time into send latency and corrupt the measurement. A
// failed send surfaces a classified error and the run is aborted.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/basekick-labs/ilpbench/pkg/models"
)

// Error kinds, preserved through SendResult up to the harness.
type ErrKind int

const (
	ErrConnection ErrKind = iota // Dial failure, reset, broken pipe
	ErrTimeout                   // Write or response deadline exceeded
	ErrRejected                  // Server accepted the connection but refused the data
)

func (k ErrKind) String() string {
	switch k {
	case ErrConnection:
		return "connection"
	case ErrTimeout:
		return "timeout"
	default:
		return "rejected"
	}
}

// Error is a classified transport failure.
type Error struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SendResult is the outcome of transmitting one batch. Created by the
// transport, consumed by the harness, never retained past aggregation.
type SendResult struct {
	Rows    int
	Bytes   int // Wire bytes written (post-compression where applicable)
	Elapsed time.Duration
	Err     error // nil on success; *Error on failure
}

// Transport flushes batches to the target. SendLines writes pre-encoded
// protocol lines; SendColumns accepts parallel column arrays and runs
// the bulk encode inside the call. Both block until the batch is
// accepted or the configured timeout elapses, so server backpressure
// propagates to the caller instead of dropping data.
type Transport interface {
	SendLines(ctx context.Context, b *models.Batch) SendResult
	SendColumns(ctx context.Context, cb *models.ColumnBatch) SendResult
	Close() error
}

// classify wraps err as a transport Error, timing out as ErrTimeout
// when the error carries a timeout signal.
func classify(op string, err error) *Error {
	kind := ErrConnection
	if temp, ok := err.(interface{ Timeout() bool }); ok && temp.Timeout() {
		kind = ErrTimeout
	}
	if err == context.DeadlineExceeded {
		kind = ErrTimeout
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
