// Package dataset generates the synthetic TSBS-style cpu corpus used by
// the benchmark: a fleet of simulated hosts emitting periodic multi-field
// readings. Generation is fully deterministic for a given configuration,
// so the columnar and row-wise strategies replay byte-identical data.
package dataset

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/basekick-labs/ilpbench/pkg/models"
)

var regions = map[string][]string{
	"us-east-1":      {"us-east-1a", "us-east-1b", "us-east-1c", "us-east-1e"},
	"us-west-1":      {"us-west-1a", "us-west-1b"},
	"us-west-2":      {"us-west-2a", "us-west-2b", "us-west-2c"},
	"eu-west-1":      {"eu-west-1a", "eu-west-1b", "eu-west-1c"},
	"eu-central-1":   {"eu-central-1a", "eu-central-1b"},
	"ap-southeast-1": {"ap-southeast-1a", "ap-southeast-1b"},
	"ap-southeast-2": {"ap-southeast-2a", "ap-southeast-2b"},
	"ap-northeast-1": {"ap-northeast-1a", "ap-northeast-1c"},
	"sa-east-1":      {"sa-east-1a", "sa-east-1b", "sa-east-1c"},
}

// regionKeys in fixed order: map iteration order would break determinism.
var regionKeys = []string{
	"us-east-1", "us-west-1", "us-west-2", "eu-west-1", "eu-central-1",
	"ap-southeast-1", "ap-southeast-2", "ap-northeast-1", "sa-east-1",
}

var (
	osChoices   = []string{"Ubuntu16.10", "Ubuntu16.04LTS", "Ubuntu15.10"}
	archChoices = []string{"x64", "x86"}
	teamChoices = []string{"SF", "NYC", "LON", "CHI"}
	envChoices  = []string{"production", "staging", "test"}
)

// usageFields are the 10 cpu usage columns of the TSBS cpu schema, in
// canonical order. Config.FieldCount selects a prefix of this list.
var usageFields = [...]string{
	"usage_user", "usage_system", "usage_idle", "usage_nice",
	"usage_iowait", "usage_irq", "usage_softirq", "usage_steal",
	"usage_guest", "usage_guest_nice",
}

// MaxFieldCount is the number of usage columns in the full cpu schema.
const MaxFieldCount = len(usageFields)

// Config describes the shape of the generated corpus.
type Config struct {
	Measurement string    // Defaults to "cpu"
	Scale       int       // Number of simulated hosts
	Rows        int       // Total rows to produce
	FieldCount  int       // Usage columns per row, 1..MaxFieldCount
	Seed        int64     // Seed for all random choices
	Start       time.Time // First timestamp; defaults to 2016-01-01 UTC
	Step        time.Duration
	Interleave  bool // Round-robin hosts per tick instead of one host at a time
}

func (c *Config) validate() error {
	if c.Scale <= 0 {
		return fmt.Errorf("dataset: scale must be positive, got %d", c.Scale)
	}
	if c.Rows <= 0 {
		return fmt.Errorf("dataset: rows must be positive, got %d", c.Rows)
	}
	if c.FieldCount <= 0 || c.FieldCount > MaxFieldCount {
		return fmt.Errorf("dataset: field count must be in 1..%d, got %d", MaxFieldCount, c.FieldCount)
	}
	if c.Step <= 0 {
		return fmt.Errorf("dataset: step must be positive, got %s", c.Step)
	}
	return nil
}

// Source produces the row sequence lazily. Not safe for concurrent use;
// the harness owns one source per run.
type Source struct {
	cfg     Config
	rng     *rand.Rand
	walks   []float64 // Per-field random walk state, clipped to [0,100]
	emitted int
	startNs int64
	stepNs  int64

	// Scratch reused across Next calls to build host tag values.
	hostnames []string
}

// New creates a source. Returns a configuration error for empty or
// non-positive cardinality/schema parameters.
func New(cfg Config) (*Source, error) {
	if cfg.Measurement == "" {
		cfg.Measurement = "cpu"
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	hostnames := make([]string, cfg.Scale)
	for i := range hostnames {
		hostnames[i] = fmt.Sprintf("host_%d", i)
	}

	s := &Source{
		cfg:       cfg,
		startNs:   cfg.Start.UnixNano(),
		stepNs:    int64(cfg.Step),
		hostnames: hostnames,
	}
	s.Reset()
	return s, nil
}

// Reset rewinds the source to the start of the identical sequence.
func (s *Source) Reset() {
	s.rng = rand.New(rand.NewSource(s.cfg.Seed))
	s.walks = make([]float64, s.cfg.FieldCount)
	s.emitted = 0
}

// Rows returns the total number of rows the source will produce.
func (s *Source) Rows() int {
	return s.cfg.Rows
}

// Next returns the next row, or io.EOF once the configured row count is
// exhausted. The returned row is freshly allocated and owned by the
// caller.
func (s *Source) Next() (*models.Row, error) {
	if s.emitted >= s.cfg.Rows {
		return nil, io.EOF
	}

	var host string
	var tick int64
	if s.cfg.Interleave {
		// host_0..host_N emit within one tick, then time advances.
		host = s.hostnames[s.emitted%s.cfg.Scale]
		tick = int64(s.emitted / s.cfg.Scale)
	} else {
		// All readings for one host before moving to the next.
		perHost := (s.cfg.Rows + s.cfg.Scale - 1) / s.cfg.Scale
		host = s.hostnames[s.emitted/perHost]
		tick = int64(s.emitted % perHost)
	}

	region := regionKeys[s.rng.Intn(len(regionKeys))]
	datacenter := regions[region][s.rng.Intn(len(regions[region]))]

	row := &models.Row{
		Measurement: s.cfg.Measurement,
		Tags: []models.Tag{
			{Key: "hostname", Value: host},
			{Key: "region", Value: region},
			{Key: "datacenter", Value: datacenter},
			{Key: "rack", Value: fmt.Sprintf("%d", s.rng.Intn(100))},
			{Key: "os", Value: osChoices[s.rng.Intn(len(osChoices))]},
			{Key: "arch", Value: archChoices[s.rng.Intn(len(archChoices))]},
			{Key: "team", Value: teamChoices[s.rng.Intn(len(teamChoices))]},
			{Key: "service", Value: fmt.Sprintf("%d", s.rng.Intn(20))},
			{Key: "service_version", Value: fmt.Sprintf("%d", s.rng.Intn(2))},
			{Key: "service_environment", Value: envChoices[s.rng.Intn(len(envChoices))]},
		},
		Fields:    make([]models.Field, s.cfg.FieldCount),
		Timestamp: s.startNs + tick*s.stepNs,
	}

	for i := 0; i < s.cfg.FieldCount; i++ {
		s.walks[i] = clip(s.walks[i] + s.rng.NormFloat64())
		row.Fields[i] = models.Field{Key: usageFields[i], Value: s.walks[i]}
	}

	s.emitted++
	return row, nil
}

// clip bounds a usage value to the valid 0..100 percent range, matching
// the TSBS random-walk behavior.
func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
