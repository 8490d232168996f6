package benchutil

import (
	"os"
	"testing"
)

// SkipIfNoLongBench skips the benchmark if CHUNKAGG_LONG_BENCH is not set.
// Use this to gate long-running benchmarks that shouldn't run by default.
func SkipIfNoLongBench(b *testing.B) {
	if os.Getenv("CHUNKAGG_LONG_BENCH") == "" {
		b.Skip("set CHUNKAGG_LONG_BENCH=1 to run scaling benchmark")
	}
}

// ConfigForShape returns the generator config for one of Shapes. Unknown
// shapes fall back to uniform.
func ConfigForShape(shape string, numRows int) GeneratorConfig {
	cfg := DefaultConfig(numRows)
	switch shape {
	case "skewed":
		cfg.Regions = 40
		cfg.Skew = 1.3
	case "high_cardinality":
		cfg.Customers = max(numRows/2, 1)
	case "sparse":
		cfg.NullRate = 0.33
	}
	return cfg
}
