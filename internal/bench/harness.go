package bench

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/basekick-labs/ilpbench/internal/batch"
	"github.com/basekick-labs/ilpbench/internal/ilp"
	"github.com/basekick-labs/ilpbench/internal/transport"
	"github.com/basekick-labs/ilpbench/pkg/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// State of the harness lifecycle.
type State int32

const (
	StateIdle State = iota
	StateWarmup
	StateMeasuring
	StateDraining
	StateReported
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWarmup:
		return "warmup"
	case StateMeasuring:
		return "measuring"
	case StateDraining:
		return "draining"
	default:
		return "reported"
	}
}

// Options tune one benchmark invocation.
type Options struct {
	WarmupRows         int           // Rows replayed and discarded before measuring
	Duration           time.Duration // Measuring budget; 0 runs the dataset to completion
	QueueDepth         int           // Bounded batch queue capacity; default 4
	AbortOnEncodeError bool          // Default is skip-and-count
	ProgressInterval   time.Duration // Throughput snapshot period; 0 disables
	Target             string        // For the report header only
}

// Source feeds rows into the pipeline. Next returns io.EOF at stream
// end; Reset rewinds to the start of the identical sequence.
type Source interface {
	Next() (*models.Row, error)
	Reset()
}

// Harness owns the pipeline for exactly one run. Re-running requires a
// fresh instance; after Run returns the harness is inert.
type Harness struct {
	opts     Options
	source   Source
	batcher  *batch.Batcher
	strategy Strategy
	tr       transport.Transport
	stats    *RunStats
	logger   zerolog.Logger

	state atomic.Int32
	ran   bool
}

// New assembles a harness. The transport must already be connected.
func New(opts Options, source Source, batcher *batch.Batcher, strategy Strategy, tr transport.Transport, logger zerolog.Logger) *Harness {
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 4
	}
	return &Harness{
		opts:     opts,
		source:   source,
		batcher:  batcher,
		strategy: strategy,
		tr:       tr,
		logger:   logger.With().Str("component", "harness").Logger(),
	}
}

// State returns the current lifecycle state.
func (h *Harness) State() State {
	return State(h.state.Load())
}

func (h *Harness) setState(s State) {
	h.state.Store(int32(s))
}

// Run executes warmup, the measured phase, the drain of the final
// partial batch, and finalization. It returns an error only when the
// run could not start (second Run on the same harness, or a transport
// failure during warmup); once measuring has begun, failures are
// reported in the returned report with partial statistics retained.
//
// ctx is the global deadline: on expiry the in-flight send completes
// naturally but no further batch is started.
func (h *Harness) Run(ctx context.Context) (*Report, error) {
	if h.ran {
		return nil, errors.New("bench: harness already ran; create a fresh instance")
	}
	h.ran = true

	if h.opts.WarmupRows > 0 {
		h.setState(StateWarmup)
		if err := h.warmup(ctx); err != nil {
			return nil, fmt.Errorf("bench: warmup failed: %w", err)
		}
		// Measuring replays the full sequence from the top so both
		// strategies measure identical data regardless of warmup size.
		h.source.Reset()
	}

	h.stats = NewRunStats()
	report := h.measure(ctx)

	h.setState(StateReported)
	return report, nil
}

// warmup pushes the first rows through the full pipeline without
// recording, to absorb connection setup and allocator/cache effects.
func (h *Harness) warmup(ctx context.Context) error {
	// Capped on rows pushed, not rows batched, so a warmup smaller
	// than one batch still sends exactly the configured count (as a
	// partial batch via the flush below).
	pushed := 0
	for pushed < h.opts.WarmupRows {
		row, err := h.source.Next()
		if err == io.EOF {
			break
		}
		b, err := h.batcher.Push(row)
		if b != nil {
			if res := h.strategy.Send(ctx, h.tr, b); res.Err != nil {
				return res.Err
			}
		}
		if err != nil {
			continue // Warmup ignores unencodable rows; measuring counts them
		}
		pushed++
	}
	if b := h.batcher.Flush(); b != nil {
		if res := h.strategy.Send(ctx, h.tr, b); res.Err != nil {
			return res.Err
		}
	}
	h.logger.Debug().Int("rows", pushed).Msg("Warmup complete")
	return nil
}

func (h *Harness) measure(ctx context.Context) *Report {
	h.setState(StateMeasuring)

	// runCtx carries the duration budget; it gates starting new work
	// but is deliberately not passed to sends, so an in-flight write
	// finishes naturally when the budget expires.
	runCtx := ctx
	if h.opts.Duration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.opts.Duration)
		defer cancel()
	}
	prodCtx, stopProducer := context.WithCancel(runCtx)
	defer stopProducer()

	batches := make(chan *models.Batch, h.opts.QueueDepth)

	var skipped int64
	var g errgroup.Group
	g.Go(func() error {
		defer close(batches)
		for {
			select {
			case <-prodCtx.Done():
				return nil
			default:
			}

			row, err := h.source.Next()
			if err == io.EOF {
				if b := h.batcher.Flush(); b != nil {
					select {
					case batches <- b:
					case <-prodCtx.Done():
					}
				}
				return nil
			}

			b, err := h.batcher.Push(row)
			if b != nil {
				select {
				case batches <- b:
				case <-prodCtx.Done():
					return nil
				}
			}
			if err != nil {
				var encErr *ilp.EncodeError
				if errors.As(err, &encErr) && !h.opts.AbortOnEncodeError {
					skipped++
					continue
				}
				return err
			}
		}
	})

	stopProgress := h.startProgress()

	var batchIdx int64
	failed := false
	for b := range batches {
		if runCtx.Err() != nil {
			// Budget exhausted: drop queued batches, let the producer exit.
			stopProducer()
			for range batches {
			}
			break
		}

		batchIdx++
		res := h.strategy.Send(ctx, h.tr, b)
		h.stats.Record(res)

		if res.Err != nil {
			kind := "connection"
			var terr *transport.Error
			if errors.As(res.Err, &terr) {
				kind = terr.Kind.String()
			}
			h.stats.SetFailure(&Failure{
				Kind:       kind,
				BatchIndex: batchIdx,
				RowOffset:  h.stats.Rows(),
				Message:    res.Err.Error(),
			})
			h.logger.Error().Err(res.Err).Int64("batch", batchIdx).Msg("Send failed, aborting run")
			failed = true
			stopProducer()
			for range batches {
			}
			break
		}
	}

	// The final partial batch travels the same queue as every other,
	// so by the time the range ends it has already been sent (or
	// dropped on abort) and the drain phase collapses to waiting out
	// the producer. The state is still reported for observers polling
	// State() between the last send and finalization.
	h.setState(StateDraining)
	prodErr := g.Wait()
	stopProgress()

	h.stats.AddSkipped(skipped)
	if prodErr != nil {
		// Abort-on-first encode policy tripped.
		failed = true
		h.stats.SetFailure(&Failure{
			Kind:      "encode",
			RowOffset: h.stats.Rows(),
			Message:   prodErr.Error(),
		})
		h.logger.Error().Err(prodErr).Msg("Run aborted on encode error")
	}

	status := "completed"
	if failed {
		status = "failed"
	}
	return newReport(h.strategy.Name(), h.opts.Target, status, h.stats)
}

// startProgress launches the periodic throughput snapshot, returning a
// stop function that is safe to call once.
func (h *Harness) startProgress() func() {
	if h.opts.ProgressInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				iv := h.stats.Snapshot()
				h.logger.Info().
					Dur("elapsed", iv.Offset).
					Int64("rows", iv.Rows).
					Int64("bytes", iv.Bytes).
					Float64("rows_per_sec", iv.RowRate).
					Msg("Progress")
			}
		}
	}()
	return func() { close(done) }
}
