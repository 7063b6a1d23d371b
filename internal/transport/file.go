package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/basekick-labs/ilpbench/internal/ilp"
	"github.com/basekick-labs/ilpbench/pkg/models"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
)

// FileConfig configures the serialize-only sink.
type FileConfig struct {
	Path        string // Output path; empty discards (pure encode benchmark)
	Compression string // "none", "gzip" or "zstd"
}

// FileTransport writes the encoded line protocol to a local file (or
// discards it) instead of a server. It measures serialization and
// batching throughput with the network removed, and doubles as the
// way to dump a run's exact wire payload for replay or inspection.
type FileTransport struct {
	out       io.WriteCloser
	logger    zerolog.Logger
	encodeBuf []byte
}

// NewFile opens the sink. Unknown compression is a startup error.
func NewFile(cfg FileConfig, logger zerolog.Logger) (*FileTransport, error) {
	var w io.WriteCloser
	if cfg.Path == "" {
		w = nopCloser{io.Discard}
	} else {
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, classify("open", err)
		}
		w = f
	}

	switch cfg.Compression {
	case "", "none":
	case "gzip":
		gz, _ := gzip.NewWriterLevel(w, gzip.BestSpeed)
		w = &stacked{Writer: gz, under: w}
	case "zstd":
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			w.Close()
			return nil, classify("open", err)
		}
		w = &stacked{Writer: zw, under: w}
	default:
		w.Close()
		return nil, &Error{Kind: ErrRejected, Op: "open", Err: fmt.Errorf("unknown compression %q", cfg.Compression)}
	}

	return &FileTransport{
		out:    w,
		logger: logger.With().Str("component", "file-transport").Logger(),
	}, nil
}

// SendLines writes the batch's encoded lines to the sink.
func (t *FileTransport) SendLines(_ context.Context, b *models.Batch) SendResult {
	start := time.Now()
	n, err := t.out.Write(b.Encoded)
	if err != nil {
		return SendResult{Rows: b.RowCount(), Bytes: n, Elapsed: time.Since(start), Err: classify("write", err)}
	}
	return SendResult{Rows: b.RowCount(), Bytes: n, Elapsed: time.Since(start)}
}

// SendColumns bulk-encodes the columns and writes the lines.
func (t *FileTransport) SendColumns(_ context.Context, cb *models.ColumnBatch) SendResult {
	start := time.Now()
	buf, err := ilp.AppendColumns(t.encodeBuf[:0], cb)
	if err != nil {
		return SendResult{Err: &Error{Kind: ErrRejected, Op: "encode-columns", Err: err}}
	}
	t.encodeBuf = buf

	n, err := t.out.Write(buf)
	if err != nil {
		return SendResult{Rows: cb.RowCount(), Bytes: n, Elapsed: time.Since(start), Err: classify("write", err)}
	}
	return SendResult{Rows: cb.RowCount(), Bytes: n, Elapsed: time.Since(start)}
}

// Close flushes compression frames and closes the file.
func (t *FileTransport) Close() error {
	return t.out.Close()
}

// stacked closes a compressing writer, then the file underneath it.
type stacked struct {
	io.Writer
	under io.WriteCloser
}

func (s *stacked) Close() error {
	if c, ok := s.Writer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.under.Close()
			return err
		}
	}
	return s.under.Close()
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
