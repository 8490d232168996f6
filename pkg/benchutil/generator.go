// Package benchutil provides synthetic data generation for benchmarks and testing.
package benchutil

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/eunmann/chunkagg/pkg/value"
)

// Column names produced by the Generator.
const (
	ColRegion   = "region"
	ColCategory = "category"
	ColCustomer = "customer"
	ColAmount   = "amount"
	ColUnits    = "units"
	ColPromo    = "promo"
	ColOrdered  = "ordered_at"
)

var categories = []string{"hardware", "software", "services", "support", "training", "licensing"}

// GeneratorConfig configures synthetic data generation.
type GeneratorConfig struct {
	// NumRows is the total number of rows to generate.
	NumRows int
	// Regions is the number of distinct region values.
	Regions int
	// Customers is the number of distinct customer ids.
	Customers int
	// Skew > 1 draws regions from a Zipf distribution; otherwise uniform.
	Skew float64
	// NullRate is the probability (0.0-1.0) that an optional cell is empty.
	NullRate float64
	// Start is the earliest order timestamp.
	Start time.Time
	// Seed for reproducible generation. 0 = use default seed.
	Seed int64
}

// DefaultConfig returns a reasonable default configuration.
func DefaultConfig(numRows int) GeneratorConfig {
	return GeneratorConfig{
		NumRows:   numRows,
		Regions:   8,
		Customers: 1000,
		Start:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Seed:      BenchmarkSeed,
	}
}

// Generator generates synthetic sales rows.
type Generator struct {
	cfg  GeneratorConfig
	rng  *rand.Rand
	zipf *rand.Zipf
}

// NewGenerator creates a new data generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = BenchmarkSeed
	}
	if cfg.Regions <= 0 {
		cfg.Regions = 1
	}
	if cfg.Customers <= 0 {
		cfg.Customers = 1
	}
	if cfg.Start.IsZero() {
		cfg.Start = DefaultConfig(0).Start
	}
	g := &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
	if cfg.Skew > 1 {
		g.zipf = rand.NewZipf(g.rng, cfg.Skew, 1, uint64(cfg.Regions-1))
	}
	return g
}

// Generate returns all rows.
func (g *Generator) Generate() []value.Row {
	rows := make([]value.Row, g.cfg.NumRows)
	for i := range rows {
		rows[i] = g.Row()
	}
	return rows
}

// GenerateChannel returns rows via a channel for streaming processing.
func (g *Generator) GenerateChannel() <-chan value.Row {
	ch := make(chan value.Row, 1000)
	go func() {
		defer close(ch)
		for i := 0; i < g.cfg.NumRows; i++ {
			ch <- g.Row()
		}
	}()
	return ch
}

// Row generates one row.
func (g *Generator) Row() value.Row {
	row := value.Row{
		ColRegion:   value.Text(g.region()),
		ColCustomer: value.Text(fmt.Sprintf("cust_%06d", g.rng.Intn(g.cfg.Customers))),
		ColAmount:   value.Number(g.amount()),
		ColUnits:    value.Number(float64(1 + g.rng.Intn(20))),
		ColPromo:    value.Bool(g.rng.Intn(4) == 0),
		ColOrdered:  value.Date(g.cfg.Start.Add(time.Duration(g.rng.Int63n(int64(365 * 24 * time.Hour))))),
	}
	if g.rng.Float64() >= g.cfg.NullRate {
		row[ColCategory] = value.Text(categories[g.rng.Intn(len(categories))])
	} else {
		row[ColCategory] = value.Null()
	}
	return row
}

func (g *Generator) region() string {
	var n int
	if g.zipf != nil {
		n = int(g.zipf.Uint64())
	} else {
		n = g.rng.Intn(g.cfg.Regions)
	}
	return fmt.Sprintf("region_%02d", n)
}

func (g *Generator) amount() float64 {
	// Mostly small orders, some large, rounded to cents
	var v float64
	switch g.rng.Intn(10) {
	case 0, 1, 2, 3, 4:
		v = 1 + g.rng.Float64()*99
	case 5, 6, 7, 8:
		v = 100 + g.rng.Float64()*900
	default:
		v = 1000 + g.rng.Float64()*49000
	}
	return float64(int64(v*100)) / 100
}
