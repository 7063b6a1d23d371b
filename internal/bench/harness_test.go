package bench

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/basekick-labs/ilpbench/internal/batch"
	"github.com/basekick-labs/ilpbench/internal/dataset"
	"github.com/basekick-labs/ilpbench/internal/transport"
	"github.com/basekick-labs/ilpbench/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every batch it is handed and optionally fails
// a scripted send.
type fakeTransport struct {
	mu        sync.Mutex
	sends     []int // rows per send, in order
	failAt    int   // 1-based send index to fail at; 0 never fails
	failErr   error
	linesSent int
	colsSent  int
	closed    bool
}

func (f *fakeTransport) record(rows int, cols bool) transport.SendResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sends = append(f.sends, rows)
	if cols {
		f.colsSent++
	} else {
		f.linesSent++
	}
	if f.failAt > 0 && len(f.sends) == f.failAt {
		err := f.failErr
		if err == nil {
			err = &transport.Error{Kind: transport.ErrConnection, Op: "send", Err: errors.New("broken pipe")}
		}
		return transport.SendResult{Rows: rows, Err: err}
	}
	return transport.SendResult{Rows: rows, Bytes: rows * 100, Elapsed: time.Millisecond}
}

func (f *fakeTransport) SendLines(_ context.Context, b *models.Batch) transport.SendResult {
	return f.record(b.RowCount(), false)
}

func (f *fakeTransport) SendColumns(_ context.Context, cb *models.ColumnBatch) transport.SendResult {
	return f.record(cb.RowCount(), true)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sendRows() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.sends))
	copy(out, f.sends)
	return out
}

// faultySource wraps a dataset source and replaces scripted rows with
// unencodable ones.
type faultySource struct {
	inner  Source
	badAt  map[int]bool // 0-based row index
	served int
}

func (s *faultySource) Next() (*models.Row, error) {
	row, err := s.inner.Next()
	if err != nil {
		return nil, err
	}
	if s.badAt[s.served] {
		row.Fields = nil // fails validation
	}
	s.served++
	return row, nil
}

func (s *faultySource) Reset() {
	s.inner.Reset()
	s.served = 0
}

func newTestSource(t *testing.T, rows int) *dataset.Source {
	t.Helper()
	src, err := dataset.New(dataset.Config{
		Scale:      3,
		Rows:       rows,
		FieldCount: 2,
		Seed:       7,
		Step:       10 * time.Second,
		Interleave: true,
	})
	require.NoError(t, err)
	return src
}

func newTestHarness(t *testing.T, opts Options, src Source, strat Strategy, tr transport.Transport) *Harness {
	t.Helper()
	b, err := batch.New(10, 1<<20)
	require.NoError(t, err)
	return New(opts, src, b, strat, tr, zerolog.Nop())
}

func TestHarness_CompletedRun(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHarness(t, Options{Target: "fake"}, newTestSource(t, 100), RowStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", report.Status)
	assert.False(t, report.Failed())
	assert.Equal(t, StateReported, h.State())
	assert.Equal(t, int64(100), report.Summary.Rows)
	assert.Equal(t, int64(10), report.Summary.Batches)
	assert.Zero(t, report.Summary.Failures)
	assert.Zero(t, report.Summary.SkippedRows)
	assert.Nil(t, report.Failure)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, "rows", report.Strategy)

	for _, rows := range tr.sendRows() {
		assert.Equal(t, 10, rows)
	}
	assert.Equal(t, 10, tr.linesSent)
	assert.Zero(t, tr.colsSent)
}

func TestHarness_ColumnarStrategyUsesBulkPath(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHarness(t, Options{}, newTestSource(t, 25), ColumnarStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(25), report.Summary.Rows)
	assert.Equal(t, "columnar", report.Strategy)
	assert.Zero(t, tr.linesSent)
	assert.Equal(t, 3, tr.colsSent) // 10+10+5
	assert.Equal(t, []int{10, 10, 5}, tr.sendRows())
}

func TestColumnarStrategy_MixedSchemaBatchRejected(t *testing.T) {
	rows := []models.Row{
		{
			Measurement: "cpu",
			Tags:        []models.Tag{{Key: "hostname", Value: "host_0"}},
			Fields:      []models.Field{{Key: "usage_user", Value: 1.5}},
			Timestamp:   100,
		},
		{
			Measurement: "cpu",
			Tags: []models.Tag{
				{Key: "hostname", Value: "host_1"},
				{Key: "region", Value: "us-east-1"},
			},
			Fields:    []models.Field{{Key: "usage_user", Value: 2.5}},
			Timestamp: 110,
		},
	}

	tr := &fakeTransport{}
	res := ColumnarStrategy{}.Send(context.Background(), tr, &models.Batch{Rows: rows})
	require.Error(t, res.Err)

	var terr *transport.Error
	require.ErrorAs(t, res.Err, &terr)
	assert.Equal(t, transport.ErrRejected, terr.Kind)
	assert.Empty(t, tr.sendRows(), "nothing reaches the transport")
}

func TestHarness_FinalPartialBatchIsSent(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHarness(t, Options{}, newTestSource(t, 34), RowStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(34), report.Summary.Rows)
	assert.Equal(t, []int{10, 10, 10, 4}, tr.sendRows())
}

func TestHarness_SendFailureAbortsRun(t *testing.T) {
	tr := &fakeTransport{failAt: 5}
	h := newTestHarness(t, Options{}, newTestSource(t, 100), RowStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.NoError(t, err, "a failed run still reports")

	assert.Equal(t, "failed", report.Status)
	assert.True(t, report.Failed())
	assert.Equal(t, StateReported, h.State())

	// Four batches landed before the failing fifth; nothing after it
	// was attempted.
	assert.Equal(t, int64(40), report.Summary.Rows)
	assert.Equal(t, int64(1), report.Summary.Failures)
	assert.Len(t, tr.sendRows(), 5)

	require.NotNil(t, report.Failure)
	assert.Equal(t, "connection", report.Failure.Kind)
	assert.Equal(t, int64(5), report.Failure.BatchIndex)
	assert.Equal(t, int64(40), report.Failure.RowOffset)
}

func TestHarness_TimeoutFailureKind(t *testing.T) {
	tr := &fakeTransport{
		failAt:  1,
		failErr: &transport.Error{Kind: transport.ErrTimeout, Op: "send", Err: errors.New("deadline")},
	}
	h := newTestHarness(t, Options{}, newTestSource(t, 20), RowStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Failure)
	assert.Equal(t, "timeout", report.Failure.Kind)
}

func TestHarness_SkipAndCountEncodeErrors(t *testing.T) {
	src := &faultySource{
		inner: newTestSource(t, 30),
		badAt: map[int]bool{7: true, 19: true},
	}
	tr := &fakeTransport{}
	h := newTestHarness(t, Options{}, src, RowStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", report.Status)
	assert.Equal(t, int64(28), report.Summary.Rows)
	assert.Equal(t, int64(2), report.Summary.SkippedRows)
	assert.Zero(t, report.Summary.Failures)
}

func TestHarness_AbortOnEncodeError(t *testing.T) {
	src := &faultySource{
		inner: newTestSource(t, 30),
		badAt: map[int]bool{12: true},
	}
	tr := &fakeTransport{}
	h := newTestHarness(t, Options{AbortOnEncodeError: true}, src, RowStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "failed", report.Status)
	require.NotNil(t, report.Failure)
	assert.Equal(t, "encode", report.Failure.Kind)
}

func TestHarness_WarmupReplaysFromStart(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHarness(t, Options{WarmupRows: 20}, newTestSource(t, 50), RowStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	// Warmup sends are not measured; the measured phase still covers
	// the full dataset because the source is rewound.
	assert.Equal(t, int64(50), report.Summary.Rows)
	assert.Equal(t, int64(5), report.Summary.Batches)
	assert.Equal(t, 7, len(tr.sendRows())) // 2 warmup + 5 measured
}

func TestHarness_WarmupSmallerThanOneBatch(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHarness(t, Options{WarmupRows: 5}, newTestSource(t, 50), RowStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.NoError(t, err)

	// Exactly five warmup rows go out as one partial batch; the full
	// batch threshold never decides the warmup size.
	sends := tr.sendRows()
	require.Len(t, sends, 6)
	assert.Equal(t, 5, sends[0])
	assert.Equal(t, int64(50), report.Summary.Rows)
	assert.Equal(t, int64(5), report.Summary.Batches)
}

func TestHarness_WarmupFailureMeansRunNeverStarts(t *testing.T) {
	tr := &fakeTransport{failAt: 1}
	h := newTestHarness(t, Options{WarmupRows: 20}, newTestSource(t, 50), RowStrategy{}, tr)

	report, err := h.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.Contains(t, err.Error(), "warmup failed")
}

func TestHarness_SingleUse(t *testing.T) {
	tr := &fakeTransport{}
	h := newTestHarness(t, Options{}, newTestSource(t, 10), RowStrategy{}, tr)

	_, err := h.Run(context.Background())
	require.NoError(t, err)

	_, err = h.Run(context.Background())
	assert.Error(t, err)
}

func TestHarness_ContextCancelStopsRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := &fakeTransport{}
	h := newTestHarness(t, Options{}, newTestSource(t, 100_000), RowStrategy{}, tr)

	report, err := h.Run(ctx)
	require.NoError(t, err)
	assert.Less(t, report.Summary.Rows, int64(100_000))
	assert.Equal(t, StateReported, h.State())
}

// slowSource paces row production so duration budgets can expire
// mid-stream in tests.
type slowSource struct {
	inner Source
	delay time.Duration
}

func (s *slowSource) Next() (*models.Row, error) {
	time.Sleep(s.delay)
	return s.inner.Next()
}

func (s *slowSource) Reset() { s.inner.Reset() }

func TestHarness_DurationBudget(t *testing.T) {
	src := &slowSource{inner: newTestSource(t, 1_000_000), delay: 100 * time.Microsecond}
	tr := &fakeTransport{}
	h := newTestHarness(t, Options{Duration: 50 * time.Millisecond}, src, RowStrategy{}, tr)

	start := time.Now()
	report, err := h.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "completed", report.Status)
	assert.Less(t, report.Summary.Rows, int64(1_000_000))
	assert.Less(t, time.Since(start), 5*time.Second)
}
