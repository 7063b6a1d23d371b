package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/basekick-labs/ilpbench/internal/ilp"
	"github.com/basekick-labs/ilpbench/pkg/models"
	"github.com/rs/zerolog"
)

// TCPConfig configures the raw ILP-over-TCP sender.
type TCPConfig struct {
	Addr        string // host:port
	TLS         bool
	TLSInsecure bool // Skip certificate verification (test targets)
	Timeout     time.Duration
	ChunkSize   int // Max bytes per write syscall; 0 means 64 KiB
}

// TCPTransport writes line protocol to a single persistent TCP (or
// TCP+TLS) connection, the way QuestDB-style ILP endpoints ingest.
// The connection is opened once at construction and reused across
// batches; any send error leaves the transport unusable by design.
type TCPTransport struct {
	conn      net.Conn
	timeout   time.Duration
	chunkSize int
	logger    zerolog.Logger

	// Scratch buffer for the columnar bulk encode, reused per batch.
	encodeBuf []byte
}

// DialTCP connects to the target. A dial failure means the run cannot
// start; it is returned as a classified connection error.
func DialTCP(cfg TCPConfig, logger zerolog.Logger) (*TCPTransport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64 * 1024
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	var conn net.Conn
	var err error
	if cfg.TLS {
		conn, err = tls.DialWithDialer(&d, "tcp", cfg.Addr, &tls.Config{
			InsecureSkipVerify: cfg.TLSInsecure,
		})
	} else {
		conn, err = d.Dial("tcp", cfg.Addr)
	}
	if err != nil {
		return nil, classify("dial", err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		// Latency measurements need writes on the wire immediately,
		// not coalesced by Nagle.
		if err := tc.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, classify("dial", err)
		}
	}

	logger.Info().Str("addr", cfg.Addr).Bool("tls", cfg.TLS).Msg("Connected to ILP endpoint")

	return &TCPTransport{
		conn:      conn,
		timeout:   cfg.Timeout,
		chunkSize: cfg.ChunkSize,
		logger:    logger.With().Str("component", "tcp-transport").Logger(),
	}, nil
}

// SendLines writes the batch's pre-encoded lines to the socket.
func (t *TCPTransport) SendLines(ctx context.Context, b *models.Batch) SendResult {
	return t.write(ctx, b.Encoded, b.RowCount())
}

// SendColumns bulk-encodes the column arrays into line protocol and
// writes the result. Encoding happens inside the send, mirroring how a
// tabular client library serializes a dataframe on submission; it is
// still included in the measured send latency on purpose, since that is
// the cost the columnar strategy pays per batch.
func (t *TCPTransport) SendColumns(ctx context.Context, cb *models.ColumnBatch) SendResult {
	start := time.Now()
	buf, err := ilp.AppendColumns(t.encodeBuf[:0], cb)
	if err != nil {
		return SendResult{Err: &Error{Kind: ErrRejected, Op: "encode-columns", Err: err}}
	}
	t.encodeBuf = buf

	res := t.write(ctx, buf, cb.RowCount())
	if res.Err == nil {
		res.Elapsed = time.Since(start)
	}
	return res
}

func (t *TCPTransport) write(ctx context.Context, data []byte, rows int) SendResult {
	start := time.Now()

	deadline := start.Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return SendResult{Err: classify("send", err)}
	}

	sent := 0
	for sent < len(data) {
		end := sent + t.chunkSize
		if end > len(data) {
			end = len(data)
		}
		n, err := t.conn.Write(data[sent:end])
		sent += n
		if err != nil {
			t.logger.Error().Err(err).Int("bytes_sent", sent).Msg("Send failed")
			return SendResult{Rows: rows, Bytes: sent, Elapsed: time.Since(start), Err: classify("send", err)}
		}
	}

	return SendResult{Rows: rows, Bytes: sent, Elapsed: time.Since(start)}
}

// Close lingers briefly so the server drains buffered lines before the
// socket goes away, then closes it.
func (t *TCPTransport) Close() error {
	if tc, ok := t.conn.(*net.TCPConn); ok {
		if err := tc.SetLinger(120); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to set linger on close")
		}
	}
	return t.conn.Close()
}

// Addr formats a host/port pair for transport configs.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}
