package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/basekick-labs/ilpbench/pkg/models"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// HTTPConfig configures the Arc-native HTTP transport.
type HTTPConfig struct {
	BaseURL  string // e.g. "http://localhost:8000"
	Database string // Target database, sent as x-arc-database
	Token    string // Bearer token; empty disables auth
	Gzip     bool   // Compress request payloads
	Timeout  time.Duration
}

// HTTPTransport submits batches to an Arc server: pre-encoded line
// protocol to the line-protocol endpoint, columnar batches as msgpack
// columnar payloads to the msgpack endpoint. Connections are pooled and
// reused across batches by the underlying http.Transport.
type HTTPTransport struct {
	client  *http.Client
	cfg     HTTPConfig
	logger  zerolog.Logger
	gzipBuf bytes.Buffer
	gzipW   *gzip.Writer
	lineURL string
	colURL  string
}

// NewHTTP builds the transport and verifies the endpoint is reachable
// with a HEAD request, so an unreachable target fails the run before
// any send.
func NewHTTP(cfg HTTPConfig, logger zerolog.Logger) (*HTTPTransport, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	t := &HTTPTransport{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        8,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     30 * time.Second,
			},
			Timeout: cfg.Timeout,
		},
		cfg:     cfg,
		logger:  logger.With().Str("component", "http-transport").Logger(),
		lineURL: cfg.BaseURL + "/api/v1/write/line-protocol",
		colURL:  cfg.BaseURL + "/api/v1/write/msgpack",
	}
	if cfg.Gzip {
		t.gzipW, _ = gzip.NewWriterLevel(&t.gzipBuf, gzip.BestSpeed)
	}

	req, err := http.NewRequest(http.MethodHead, cfg.BaseURL+"/health", nil)
	if err != nil {
		return nil, classify("dial", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classify("dial", err)
	}
	resp.Body.Close()

	t.logger.Info().Str("url", cfg.BaseURL).Str("database", cfg.Database).Msg("Connected to Arc endpoint")
	return t, nil
}

// SendLines posts the batch's encoded lines as text/plain.
func (t *HTTPTransport) SendLines(ctx context.Context, b *models.Batch) SendResult {
	return t.post(ctx, t.lineURL, "text/plain", b.Encoded, b.RowCount())
}

// SendColumns marshals the batch into Arc's msgpack columnar payload
// ({"m": measurement, "columns": {name: values}}) and posts it. The
// serialization happens inside the send, same as the TCP bulk path.
func (t *HTTPTransport) SendColumns(ctx context.Context, cb *models.ColumnBatch) SendResult {
	start := time.Now()

	columns := make(map[string]interface{}, len(cb.Tags)+len(cb.Fields)+1)
	columns["time"] = cb.Times
	for _, tc := range cb.Tags {
		columns[tc.Key] = tc.Values
	}
	for i := range cb.Fields {
		fc := &cb.Fields[i]
		switch fc.Type {
		case models.ColInt:
			columns[fc.Key] = fc.Ints
		case models.ColFloat:
			columns[fc.Key] = fc.Floats
		case models.ColBool:
			columns[fc.Key] = fc.Bools
		case models.ColString:
			columns[fc.Key] = fc.Strings
		}
	}

	payload, err := msgpack.Marshal(map[string]interface{}{
		"m":       cb.Measurement,
		"columns": columns,
	})
	if err != nil {
		return SendResult{Err: &Error{Kind: ErrRejected, Op: "encode-msgpack", Err: err}}
	}

	res := t.post(ctx, t.colURL, "application/msgpack", payload, cb.RowCount())
	if res.Err == nil {
		res.Elapsed = time.Since(start)
	}
	return res
}

func (t *HTTPTransport) post(ctx context.Context, url, contentType string, body []byte, rows int) SendResult {
	start := time.Now()

	encoding := ""
	if t.cfg.Gzip {
		t.gzipBuf.Reset()
		t.gzipW.Reset(&t.gzipBuf)
		if _, err := t.gzipW.Write(body); err != nil {
			return SendResult{Err: &Error{Kind: ErrRejected, Op: "compress", Err: err}}
		}
		if err := t.gzipW.Close(); err != nil {
			return SendResult{Err: &Error{Kind: ErrRejected, Op: "compress", Err: err}}
		}
		body = t.gzipBuf.Bytes()
		encoding = "gzip"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Err: classify("send", err)}
	}
	req.Header.Set("Content-Type", contentType)
	if t.cfg.Database != "" {
		req.Header.Set("x-arc-database", t.cfg.Database)
	}
	if t.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return SendResult{Rows: rows, Elapsed: time.Since(start), Err: classify("send", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SendResult{
			Rows:    rows,
			Bytes:   len(body),
			Elapsed: time.Since(start),
			Err: &Error{
				Kind: ErrRejected,
				Op:   "send",
				Err:  fmt.Errorf("server returned %d: %s", resp.StatusCode, msg),
			},
		}
	}
	io.Copy(io.Discard, resp.Body)

	return SendResult{Rows: rows, Bytes: len(body), Elapsed: time.Since(start)}
}

// Close shuts down pooled connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
