// Package bench drives the dataset → encode → batch → transport
// pipeline, times it, and aggregates the run statistics.
package bench

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basekick-labs/ilpbench/internal/transport"
)

// Interval is one throughput-over-time sample.
type Interval struct {
	Offset  time.Duration `json:"offset"`
	Rows    int64         `json:"rows"`
	Bytes   int64         `json:"bytes"`
	RowRate float64       `json:"rows_per_sec"` // Rate within this interval
}

// Failure records where a run stopped.
type Failure struct {
	Kind       string `json:"kind"` // connection, timeout, rejected
	BatchIndex int64  `json:"batch_index"`
	RowOffset  int64  `json:"row_offset"` // Rows successfully sent before the failure
	Message    string `json:"message"`
}

// RunStats accumulates per-batch send results for one benchmark
// invocation. Latency recording is single-writer (the harness send
// loop); the cumulative counters are atomics so the progress reporter
// can read them concurrently. Created at harness start, finalized once
// at harness end, immutable afterwards.
type RunStats struct {
	start time.Time

	rows    atomic.Int64
	bytes   atomic.Int64
	batches atomic.Int64

	latencies []float64 // Milliseconds, appended only by the send loop
	failures  int64
	skipped   int64
	failure   *Failure

	mu        sync.Mutex
	intervals []Interval

	finalized bool
	summary   Summary
	elapsed   time.Duration
}

// Summary holds the aggregate numbers computed at finalization.
type Summary struct {
	Rows        int64   `json:"rows"`
	Bytes       int64   `json:"bytes"`
	Batches     int64   `json:"batches"`
	ElapsedSec  float64 `json:"elapsed_sec"`
	RowsPerSec  float64 `json:"rows_per_sec"`
	BytesPerSec float64 `json:"bytes_per_sec"`
	MeanMs      float64 `json:"latency_mean_ms"`
	P50Ms       float64 `json:"latency_p50_ms"`
	P90Ms       float64 `json:"latency_p90_ms"`
	P95Ms       float64 `json:"latency_p95_ms"`
	P99Ms       float64 `json:"latency_p99_ms"`
	P999Ms      float64 `json:"latency_p999_ms"`
	Failures    int64   `json:"failures"`
	SkippedRows int64   `json:"skipped_rows"`
}

// NewRunStats starts the measurement clock.
func NewRunStats() *RunStats {
	return &RunStats{start: time.Now(), latencies: make([]float64, 0, 4096)}
}

// Record aggregates one send result. Failed sends count as failures;
// their rows are not counted as sent.
func (s *RunStats) Record(res transport.SendResult) {
	s.batches.Add(1)
	if res.Err != nil {
		s.failures++
		return
	}
	s.rows.Add(int64(res.Rows))
	s.bytes.Add(int64(res.Bytes))
	s.latencies = append(s.latencies, float64(res.Elapsed.Microseconds())/1000.0)
}

// AddSkipped counts rows rejected at encode time under the
// skip-and-count policy.
func (s *RunStats) AddSkipped(n int64) {
	s.skipped += n
}

// SetFailure records the point of failure; the first one wins.
func (s *RunStats) SetFailure(f *Failure) {
	if s.failure == nil {
		s.failure = f
	}
}

// Rows returns the cumulative rows sent so far. Safe to call
// concurrently with Record.
func (s *RunStats) Rows() int64 {
	return s.rows.Load()
}

// Snapshot appends a throughput-over-time sample. Called by the
// progress reporter.
func (s *RunStats) Snapshot() Interval {
	rows := s.rows.Load()
	bytes := s.bytes.Load()
	offset := time.Since(s.start)

	s.mu.Lock()
	defer s.mu.Unlock()

	var prevRows int64
	var prevOffset time.Duration
	if n := len(s.intervals); n > 0 {
		prevRows = s.intervals[n-1].Rows
		prevOffset = s.intervals[n-1].Offset
	}
	iv := Interval{Offset: offset, Rows: rows, Bytes: bytes}
	if d := (offset - prevOffset).Seconds(); d > 0 {
		iv.RowRate = float64(rows-prevRows) / d
	}
	s.intervals = append(s.intervals, iv)
	return iv
}

// Intervals returns the collected throughput samples.
func (s *RunStats) Intervals() []Interval {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Interval, len(s.intervals))
	copy(out, s.intervals)
	return out
}

// Failure returns the recorded point of failure, or nil.
func (s *RunStats) Failure() *Failure {
	return s.failure
}

// Finalize sorts the latency samples and computes the aggregates.
// Idempotent: the first call freezes the numbers, later calls return
// the same summary.
func (s *RunStats) Finalize() Summary {
	if s.finalized {
		return s.summary
	}
	s.finalized = true
	s.elapsed = time.Since(s.start)

	sort.Float64s(s.latencies)

	sum := Summary{
		Rows:        s.rows.Load(),
		Bytes:       s.bytes.Load(),
		Batches:     s.batches.Load(),
		ElapsedSec:  s.elapsed.Seconds(),
		Failures:    s.failures,
		SkippedRows: s.skipped,
	}
	if sum.ElapsedSec > 0 {
		sum.RowsPerSec = float64(sum.Rows) / sum.ElapsedSec
		sum.BytesPerSec = float64(sum.Bytes) / sum.ElapsedSec
	}
	if n := len(s.latencies); n > 0 {
		var total float64
		for _, l := range s.latencies {
			total += l
		}
		sum.MeanMs = total / float64(n)
		sum.P50Ms = s.percentile(0.50)
		sum.P90Ms = s.percentile(0.90)
		sum.P95Ms = s.percentile(0.95)
		sum.P99Ms = s.percentile(0.99)
		sum.P999Ms = s.percentile(0.999)
	}

	s.summary = sum
	return sum
}

// percentile indexes into the sorted latency slice; Finalize must have
// sorted it first.
func (s *RunStats) percentile(p float64) float64 {
	idx := int(float64(len(s.latencies)) * p)
	if idx >= len(s.latencies) {
		idx = len(s.latencies) - 1
	}
	return s.latencies[idx]
}
