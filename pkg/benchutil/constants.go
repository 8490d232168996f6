package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// Standard benchmark sizes for quick runs.
var BenchmarkSizes = []int{1000, 10000, 100000}

// ScalingSizes are larger sizes for comprehensive scaling tests.
// Used with CHUNKAGG_LONG_BENCH=1 environment variable.
var ScalingSizes = []int{10000, 50000, 100000, 250000, 500000}

// Shapes are the standard dataset shapes for benchmarking:
//   - uniform: a handful of regions, evenly distributed
//   - skewed: few dominant regions and a long tail
//   - high_cardinality: one distinct customer per ~2 rows
//   - sparse: a third of the cells are empty
var Shapes = []string{
	"uniform",
	"skewed",
	"high_cardinality",
	"sparse",
}
