package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basekick-labs/ilpbench/internal/batch"
	"github.com/basekick-labs/ilpbench/internal/bench"
	"github.com/basekick-labs/ilpbench/internal/config"
	"github.com/basekick-labs/ilpbench/internal/dataset"
	"github.com/basekick-labs/ilpbench/internal/logger"
	"github.com/basekick-labs/ilpbench/internal/shutdown"
	"github.com/basekick-labs/ilpbench/internal/transport"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

func main() {
	os.Exit(run())
}

// run returns the process exit code. A run that reported, even with
// failed sends, exits 0; a run that could not start exits 1.
func run() int {
	var (
		configPath = flag.String("config", "", "Config file path (default: search ilpbench.toml)")
		target     = flag.String("target", "", "Target kind: tcp, http, file or null")
		host       = flag.String("host", "", "Target host")
		port       = flag.Int("port", 0, "Target port")
		strategy   = flag.String("strategy", "", "Send strategy: columnar or rows")
		rows       = flag.Int("rows", 0, "Total rows to generate")
		scale      = flag.Int("scale", 0, "Simulated host count")
		fields     = flag.Int("fields", 0, "Usage columns per row (1..10)")
		seed       = flag.Int64("seed", 0, "Dataset seed (0 picks a time-based seed)")
		duration   = flag.Int("duration", 0, "Measuring budget in seconds (0: run to completion)")
		warmup     = flag.Int("warmup-rows", 0, "Rows replayed and discarded before measuring")
		batchRows  = flag.Int("batch-rows", 0, "Max rows per batch")
		batchBytes = flag.Int("batch-bytes", 0, "Max encoded bytes per batch")
		writeILP   = flag.String("write-ilp", "", "Dump the wire payload to this file (sets target=file)")
		jsonOut    = flag.Bool("json", false, "Emit the report as JSON instead of text")
		version    = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println("ilpbench", Version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Flags set on the command line win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "target":
			cfg.Target.Kind = *target
		case "host":
			cfg.Target.Host = *host
		case "port":
			cfg.Target.Port = *port
		case "strategy":
			cfg.Bench.Strategy = *strategy
		case "rows":
			cfg.Dataset.Rows = *rows
		case "scale":
			cfg.Dataset.Scale = *scale
		case "fields":
			cfg.Dataset.FieldCount = *fields
		case "seed":
			cfg.Dataset.Seed = *seed
		case "duration":
			cfg.Bench.DurationSeconds = *duration
		case "warmup-rows":
			cfg.Bench.WarmupRows = *warmup
		case "batch-rows":
			cfg.Batch.MaxRows = *batchRows
		case "batch-bytes":
			cfg.Batch.MaxBytes = *batchBytes
		case "write-ilp":
			cfg.Target.Kind = "file"
			cfg.Target.Path = *writeILP
		case "json":
			cfg.Bench.JSONReport = *jsonOut
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return 1
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting ilpbench")

	dsSeed := cfg.Dataset.Seed
	if dsSeed == 0 {
		dsSeed = time.Now().UnixNano()
		log.Info().Int64("seed", dsSeed).Msg("No seed configured, using time-based seed")
	}

	source, err := dataset.New(dataset.Config{
		Measurement: cfg.Dataset.Measurement,
		Scale:       cfg.Dataset.Scale,
		Rows:        cfg.Dataset.Rows,
		FieldCount:  cfg.Dataset.FieldCount,
		Seed:        dsSeed,
		Start:       cfg.StartTime(),
		Step:        time.Duration(cfg.Dataset.StepSeconds) * time.Second,
		Interleave:  cfg.Dataset.Interleave,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to build dataset")
		return 1
	}

	batcher, err := batch.New(cfg.Batch.MaxRows, cfg.Batch.MaxBytes)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build batcher")
		return 1
	}

	strat, ok := bench.NewStrategy(cfg.Bench.Strategy)
	if !ok {
		log.Error().Str("strategy", cfg.Bench.Strategy).Msg("Unknown strategy")
		return 1
	}

	coordinator := shutdown.New(30*time.Second, log.Logger)

	tr, targetDesc, err := buildTransport(cfg)
	if err != nil {
		log.Error().Err(err).Str("target", targetDesc).Msg("Failed to reach target")
		return 1
	}
	coordinator.Register("transport", tr, shutdown.PriorityTransport)
	defer coordinator.Close()

	h := bench.New(bench.Options{
		WarmupRows:         cfg.Bench.WarmupRows,
		Duration:           time.Duration(cfg.Bench.DurationSeconds) * time.Second,
		QueueDepth:         cfg.Batch.QueueDepth,
		AbortOnEncodeError: cfg.Bench.OnEncodeError == "abort",
		ProgressInterval:   time.Duration(cfg.Bench.ProgressSeconds) * time.Second,
		Target:             targetDesc,
	}, source, batcher, strat, tr, log.Logger)

	ctx, cancel := coordinator.Context(context.Background())
	defer cancel()

	log.Info().
		Str("target", targetDesc).
		Str("strategy", strat.Name()).
		Int("rows", cfg.Dataset.Rows).
		Int("scale", cfg.Dataset.Scale).
		Int64("seed", dsSeed).
		Msg("Run starting")

	report, err := h.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Run could not start")
		return 1
	}

	// The transport must flush (compression frames in particular)
	// before the report claims the run is done.
	if err := coordinator.Close(); err != nil {
		log.Warn().Err(err).Msg("Shutdown reported errors")
	}

	if cfg.Bench.JSONReport {
		if err := report.WriteJSON(os.Stdout); err != nil {
			log.Error().Err(err).Msg("Failed to write report")
			return 1
		}
	} else {
		if err := report.WriteText(os.Stdout); err != nil {
			log.Error().Err(err).Msg("Failed to write report")
			return 1
		}
	}

	if report.Failed() {
		log.Warn().Msg("Run finished with failures; see report")
	}
	return 0
}

// buildTransport constructs the configured target transport and a
// short human-readable description for logs and the report header.
func buildTransport(cfg *config.Config) (transport.Transport, string, error) {
	switch cfg.Target.Kind {
	case "tcp":
		addr := transport.Addr(cfg.Target.Host, cfg.Target.Port)
		tr, err := transport.DialTCP(transport.TCPConfig{
			Addr:        addr,
			TLS:         cfg.Target.TLS,
			TLSInsecure: cfg.Target.TLSInsecure,
			Timeout:     time.Duration(cfg.Target.Timeout) * time.Second,
		}, log.Logger)
		return tr, "tcp://" + addr, err

	case "http":
		scheme := "http"
		if cfg.Target.TLS {
			scheme = "https"
		}
		base := fmt.Sprintf("%s://%s", scheme, transport.Addr(cfg.Target.Host, cfg.Target.Port))
		tr, err := transport.NewHTTP(transport.HTTPConfig{
			BaseURL:  base,
			Database: cfg.Target.Database,
			Token:    cfg.Target.Token,
			Gzip:     cfg.Target.Gzip,
			Timeout:  time.Duration(cfg.Target.Timeout) * time.Second,
		}, log.Logger)
		return tr, base, err

	case "file":
		tr, err := transport.NewFile(transport.FileConfig{
			Path:        cfg.Target.Path,
			Compression: cfg.Target.Compression,
		}, log.Logger)
		desc := "file://" + cfg.Target.Path
		if cfg.Target.Path == "" {
			desc = "file://(discard)"
		}
		return tr, desc, err

	default: // null: encode and throw the bytes away
		tr, err := transport.NewFile(transport.FileConfig{}, log.Logger)
		return tr, "null", err
	}
}
