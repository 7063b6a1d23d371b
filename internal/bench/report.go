package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Report is the final output of one run: identity, aggregates, the
// throughput-over-time samples, and the failure point if the run
// aborted.
type Report struct {
	RunID     string     `json:"run_id"`
	Strategy  string     `json:"strategy"`
	Target    string     `json:"target"`
	StartedAt time.Time  `json:"started_at"`
	Status    string     `json:"status"` // completed or failed
	Summary   Summary    `json:"summary"`
	Intervals []Interval `json:"intervals,omitempty"`
	Failure   *Failure   `json:"failure,omitempty"`
}

func newReport(strategy, target, status string, stats *RunStats) *Report {
	return &Report{
		RunID:     uuid.NewString(),
		Strategy:  strategy,
		Target:    target,
		StartedAt: stats.start,
		Status:    status,
		Summary:   stats.Finalize(),
		Intervals: stats.Intervals(),
		Failure:   stats.Failure(),
	}
}

// Failed reports whether the run aborted before completing its budget.
func (r *Report) Failed() bool {
	return r.Status != "completed"
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders the human-readable summary block.
func (r *Report) WriteText(w io.Writer) error {
	s := r.Summary
	line := "================================================================================"

	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "RESULTS (%s strategy, target %s)\n", r.Strategy, r.Target)
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "Run ID:          %s\n", r.RunID)
	fmt.Fprintf(w, "Status:          %s\n", r.Status)
	fmt.Fprintf(w, "Duration:        %.2fs\n", s.ElapsedSec)
	fmt.Fprintf(w, "Rows sent:       %d\n", s.Rows)
	fmt.Fprintf(w, "Bytes sent:      %d (%.2f MiB)\n", s.Bytes, float64(s.Bytes)/1024/1024)
	fmt.Fprintf(w, "Batches:         %d\n", s.Batches)
	fmt.Fprintf(w, "Failures:        %d\n", s.Failures)
	fmt.Fprintf(w, "Skipped rows:    %d\n", s.SkippedRows)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Throughput:      %.0f rows/sec, %.2f MiB/sec\n",
		s.RowsPerSec, s.BytesPerSec/1024/1024)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Latency percentiles (per batch send):")
	fmt.Fprintf(w, "  mean: %.2f ms\n", s.MeanMs)
	fmt.Fprintf(w, "  p50:  %.2f ms\n", s.P50Ms)
	fmt.Fprintf(w, "  p90:  %.2f ms\n", s.P90Ms)
	fmt.Fprintf(w, "  p95:  %.2f ms\n", s.P95Ms)
	fmt.Fprintf(w, "  p99:  %.2f ms\n", s.P99Ms)
	fmt.Fprintf(w, "  p999: %.2f ms\n", s.P999Ms)
	if r.Failure != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Failed at:       batch %d, after %d rows (%s)\n",
			r.Failure.BatchIndex, r.Failure.RowOffset, r.Failure.Kind)
		fmt.Fprintf(w, "  %s\n", r.Failure.Message)
	}
	fmt.Fprintln(w, line)
	return nil
}
