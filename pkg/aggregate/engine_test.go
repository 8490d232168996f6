package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"testing"

	"github.com/eunmann/chunkagg/pkg/chunkstore"
	"github.com/eunmann/chunkagg/pkg/metrics"
	"github.com/eunmann/chunkagg/pkg/substrate/badgerkv"
	"github.com/eunmann/chunkagg/pkg/value"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t testing.TB, chunkSize int) (*Engine, *chunkstore.Store, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	cfg := chunkstore.DefaultConfig()
	cfg.ChunkSize = chunkSize
	s, err := chunkstore.New(cfg, chunkstore.Badger(badgerkv.InMemoryConfig()), chunkstore.WithMetrics(m))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s, m
}

// regionRows cycles region A, B, C with amount = i % 10.
func regionRows(n int) []value.Row {
	regions := []string{"A", "B", "C"}
	rows := make([]value.Row, n)
	for i := range rows {
		rows[i] = value.Row{
			"region": value.Text(regions[i%3]),
			"kind":   value.Text([]string{"x", "y"}[i%2]),
			"amount": value.Number(float64(i % 10)),
		}
	}
	return rows
}

func entryValues(r *Result) map[string]float64 {
	out := make(map[string]float64, len(r.Entries))
	for _, e := range r.Entries {
		out[e.Key] = e.Value
	}
	return out
}

func TestCountSumsToRowCount(t *testing.T) {
	e, s, _ := newTestEngine(t, 100)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(1234)))

	res, err := e.Aggregate(ctx, "ds", Config{Dimension: "region"})
	require.NoError(t, err)
	assert.Len(t, res.Entries, 3)
	assert.Equal(t, 1234.0, res.Total())

	filtered, err := e.Aggregate(ctx, "ds", Config{
		Dimension: "region",
		Filters:   []Filter{{Column: "kind", Value: "X"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 617.0, filtered.Total(), "filtered count equals matching rows")
}

func TestAvgOfConstantGroup(t *testing.T) {
	e, s, _ := newTestEngine(t, 7)
	ctx := context.Background()

	var rows []value.Row
	for i := 0; i < 50; i++ {
		rows = append(rows,
			value.Row{"g": value.Text("X"), "v": value.Number(2.25)},
			value.Row{"g": value.Text("Y"), "v": value.Number(float64(i))},
		)
	}
	require.NoError(t, s.BatchInsert(ctx, "ds", rows))

	res, err := e.Aggregate(ctx, "ds", Config{Dimension: "g", Measure: Avg, MeasureColumn: "v"})
	require.NoError(t, err)
	x, ok := res.Lookup("X")
	require.True(t, ok)
	assert.Equal(t, 2.25, x.Value)
	y, ok := res.Lookup("Y")
	require.True(t, ok)
	assert.InDelta(t, 24.5, y.Value, 1e-9)
}

func TestAggregateIsCached(t *testing.T) {
	e, s, m := newTestEngine(t, 100)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(1000)))

	cfg := Config{Dimension: "region", Measure: Sum, MeasureColumn: "amount", Stack: "kind"}
	first, err := e.Aggregate(ctx, "ds", cfg)
	require.NoError(t, err)
	reads := testutil.ToFloat64(m.ChunkReads)
	assert.Equal(t, 10.0, reads)

	second, err := e.Aggregate(ctx, "ds", cfg)
	require.NoError(t, err)
	assert.Equal(t, reads, testutil.ToFloat64(m.ChunkReads), "cache hit must not read chunks")

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
}

func TestWritesInvalidateAggregates(t *testing.T) {
	e, s, m := newTestEngine(t, 100)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(300)))
	cfg := Config{Dimension: "region"}

	res, err := e.Aggregate(ctx, "ds", cfg)
	require.NoError(t, err)
	assert.Equal(t, 300.0, res.Total())

	_, err = s.Append(ctx, "ds", regionRows(30))
	require.NoError(t, err)
	reads := testutil.ToFloat64(m.ChunkReads)
	res, err = e.Aggregate(ctx, "ds", cfg)
	require.NoError(t, err)
	assert.Equal(t, 330.0, res.Total())
	assert.Greater(t, testutil.ToFloat64(m.ChunkReads), reads, "append forces a rescan")

	_, err = s.DeleteAll(ctx, "ds", "")
	require.NoError(t, err)
	res, err = e.Aggregate(ctx, "ds", cfg)
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
}

func TestUniqueValuesFewDistinct(t *testing.T) {
	e, s, _ := newTestEngine(t, 100)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(2000)))

	got, err := e.UniqueValues(ctx, "ds", "region", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, got)

	got, err = e.UniqueValues(ctx, "ds", "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUniqueValuesStopsAtSamplingCutoff(t *testing.T) {
	e, s, m := newTestEngine(t, 10)
	ctx := context.Background()
	rows := make([]value.Row, 200)
	for i := range rows {
		rows[i] = value.Row{"id": value.Text(fmt.Sprintf("v%03d", i))}
	}
	require.NoError(t, s.BatchInsert(ctx, "ds", rows))

	got, err := e.UniqueValues(ctx, "ds", "id", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"v000", "v001", "v002", "v003", "v004"}, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunkReads), "first chunk already holds 2*limit values")

	again, err := e.UniqueValues(ctx, "ds", "id", 5)
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunkReads), "second call served from cache")
}

func TestSumByRegionScenario(t *testing.T) {
	e, s, _ := newTestEngine(t, 1000)
	ctx := context.Background()

	rows := make([]value.Row, 2500)
	var want float64
	for i := range rows {
		region := []string{"A", "B", "C"}[i%3]
		amount := float64(i%13) * 1.5
		if region == "A" {
			amount *= 2
		}
		want += amount
		rows[i] = value.Row{"region": value.Text(region), "amount": value.Number(amount)}
	}
	require.NoError(t, s.BatchInsert(ctx, "ds", rows))

	res, err := e.Aggregate(ctx, "ds", Config{Dimension: "region", Measure: Sum, MeasureColumn: "amount"})
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, "A", res.Entries[0].Key)
	for i := 1; i < len(res.Entries); i++ {
		assert.GreaterOrEqual(t, res.Entries[i-1].Value, res.Entries[i].Value)
	}
	assert.InDelta(t, want, res.Total(), 1e-6)

	_, err = s.Append(ctx, "ds", rows[:500])
	require.NoError(t, err)
	md, err := s.GetProjectMetadata(ctx, "ds")
	require.NoError(t, err)
	assert.Equal(t, 3000, md.RowCount)
	assert.Equal(t, 3, md.ChunkCount)
}

func TestStackedAggregation(t *testing.T) {
	e, s, _ := newTestEngine(t, 4)
	ctx := context.Background()
	rows := []value.Row{
		{"os": value.Text("linux"), "arch": value.Text("amd64")},
		{"os": value.Text("linux"), "arch": value.Text("arm64")},
		{"os": value.Text("mac"), "arch": value.Text("arm64")},
		{"os": value.Text("linux"), "arch": value.Text("amd64")},
		{"os": value.Text(""), "arch": value.Null()},
		{"os": value.Text("mac"), "arch": value.Text("arm64")},
		{"os": value.Text("linux")},
	}
	require.NoError(t, s.BatchInsert(ctx, "ds", rows))

	res, err := e.Aggregate(ctx, "ds", Config{Dimension: "os", Stack: "arch"})
	require.NoError(t, err)
	assert.True(t, res.Stacked)
	require.Len(t, res.Entries, 3)

	assert.Equal(t, Entry{Key: "linux", Value: 4, Stacks: []StackValue{
		{Key: "amd64", Value: 2}, {Key: "arm64", Value: 1}, {Key: NotApplicable, Value: 1},
	}}, res.Entries[0])
	assert.Equal(t, Entry{Key: "mac", Value: 2, Stacks: []StackValue{{Key: "arm64", Value: 2}}}, res.Entries[1])
	assert.Equal(t, Entry{Key: NotApplicable, Value: 1, Stacks: []StackValue{{Key: NotApplicable, Value: 1}}}, res.Entries[2])
}

func TestLimitTruncatesAfterSort(t *testing.T) {
	e, s, _ := newTestEngine(t, 10)
	ctx := context.Background()
	var rows []value.Row
	for g, n := range map[string]int{"a": 1, "b": 5, "c": 3, "d": 4} {
		for i := 0; i < n; i++ {
			rows = append(rows, value.Row{"g": value.Text(g)})
		}
	}
	require.NoError(t, s.BatchInsert(ctx, "ds", rows))

	res, err := e.Aggregate(ctx, "ds", Config{Dimension: "g", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Key: "b", Value: 5}, {Key: "d", Value: 4}}, res.Entries)
}

func TestSumCoercesNonNumericToZero(t *testing.T) {
	e, s, _ := newTestEngine(t, 10)
	ctx := context.Background()
	rows := []value.Row{
		{"g": value.Text("a"), "v": value.Text("12.5")},
		{"g": value.Text("a"), "v": value.Text("n/a")},
		{"g": value.Text("a")},
		{"g": value.Text("a"), "v": value.Bool(true)},
	}
	require.NoError(t, s.BatchInsert(ctx, "ds", rows))

	res, err := e.Aggregate(ctx, "ds", Config{Dimension: "g", Measure: Sum, MeasureColumn: "v"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 13.5}, entryValues(res))
}

func TestNonFiniteMeasuresStayCacheable(t *testing.T) {
	for name, bad := range map[string]value.Value{
		"infinity text": value.Text("Infinity"),
		"nan number":    value.Number(math.NaN()),
		"inf number":    value.Number(math.Inf(-1)),
	} {
		t.Run(name, func(t *testing.T) {
			e, s, m := newTestEngine(t, 10)
			ctx := context.Background()
			rows := regionRows(30)
			rows[0]["amount"] = bad
			require.NoError(t, s.BatchInsert(ctx, "ds", rows))

			cfg := Config{Dimension: "region", Measure: Sum, MeasureColumn: "amount"}
			res, err := e.Aggregate(ctx, "ds", cfg)
			require.NoError(t, err)
			for _, en := range res.Entries {
				assert.False(t, math.IsNaN(en.Value) || math.IsInf(en.Value, 0), "entry %s = %v", en.Key, en.Value)
			}
			// Row 0 is region A with amount 0, so replacing it changes nothing.
			assert.InDelta(t, 135, res.Total(), 1e-9)

			reads := testutil.ToFloat64(m.ChunkReads)
			_, err = e.Aggregate(ctx, "ds", cfg)
			require.NoError(t, err)
			assert.Equal(t, reads, testutil.ToFloat64(m.ChunkReads), "second call must be a cache hit")
			assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits))
		})
	}
}

func TestFilterCaseVariantsAreCachedApart(t *testing.T) {
	e, s, _ := newTestEngine(t, 10)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", []value.Row{{"c": value.Text("i")}}))

	dotted, err := e.Aggregate(ctx, "ds", Config{Dimension: "c", Filters: []Filter{{Column: "c", Value: "\u0130"}}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, dotted.Total())

	plain, err := e.Aggregate(ctx, "ds", Config{Dimension: "c", Filters: []Filter{{Column: "c", Value: "i"}}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, plain.Total())

	upper, err := e.Aggregate(ctx, "ds", Config{Dimension: "c", Filters: []Filter{{Column: "c", Value: "I"}}})
	require.NoError(t, err)
	assert.Equal(t, 1.0, upper.Total())
}

func TestAggregateErrors(t *testing.T) {
	e, _, _ := newTestEngine(t, 10)
	ctx := context.Background()

	_, err := e.Aggregate(ctx, "nope", Config{Dimension: "g"})
	assert.ErrorIs(t, err, chunkstore.ErrDatasetNotFound)

	_, err = e.Aggregate(ctx, "nope", Config{Dimension: "g", Measure: Sum})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = e.UniqueValues(ctx, "nope", "g", 0)
	assert.ErrorIs(t, err, chunkstore.ErrDatasetNotFound)

	_, err = e.FilteredData(ctx, "nope", []Filter{{Value: "x"}}, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConcurrentWriteRetries(t *testing.T) {
	e, s, m := newTestEngine(t, 10)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(30)))

	e.afterScan = func(ctx context.Context, attempt int) {
		if attempt == 0 {
			_, err := s.Append(ctx, "ds", regionRows(6))
			require.NoError(t, err)
		}
	}
	res, err := e.Aggregate(ctx, "ds", Config{Dimension: "region"})
	require.NoError(t, err)
	assert.Equal(t, 36.0, res.Total(), "retry sees the appended rows")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))

	// The cached entry reflects the retried scan.
	e.afterScan = nil
	res, err = e.Aggregate(ctx, "ds", Config{Dimension: "region"})
	require.NoError(t, err)
	assert.Equal(t, 36.0, res.Total())
}

func TestConcurrentWriteGivesUp(t *testing.T) {
	e, s, m := newTestEngine(t, 10)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(30)))

	e.afterScan = func(ctx context.Context, _ int) {
		_, err := s.Append(ctx, "ds", regionRows(1))
		require.NoError(t, err)
	}
	_, err := e.Aggregate(ctx, "ds", Config{Dimension: "region"})
	assert.ErrorIs(t, err, ErrConcurrentWrite)
	assert.Equal(t, float64(DefaultMaxRetries), testutil.ToFloat64(m.Retries))

	e.afterScan = nil
	_, ok, err := s.Cache().Get(ctx, "ds", Config{Dimension: "region"}.CanonicalKey())
	require.NoError(t, err)
	assert.False(t, ok, "failed aggregation is not cached")
}

func TestFilteredDataStopsAcrossChunks(t *testing.T) {
	e, s, m := newTestEngine(t, 10)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(100)))

	// Region A appears at i%3 == 0: 4 per chunk in the first chunk.
	rows, err := e.FilteredData(ctx, "ds", []Filter{{Column: "region", Value: "a"}}, 6)
	require.NoError(t, err)
	require.Len(t, rows, 6)
	for _, r := range rows {
		assert.Equal(t, "A", r["region"].String())
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ChunkReads), "stops after the chunk that reaches the limit")

	all, err := e.FilteredData(ctx, "ds", []Filter{{Column: "region", Value: "B"}, {Column: "kind", Value: "y"}}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 17)

	none, err := e.FilteredData(ctx, "ds", []Filter{{Column: "missing", Value: "x"}}, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAggregateSubSource(t *testing.T) {
	e, s, _ := newTestEngine(t, 10)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(30)))
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(12), chunkstore.WithSource("s1", "first")))

	res, err := e.Aggregate(ctx, "ds", Config{Dimension: "region", SourceID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, 12.0, res.Total())

	vals, err := e.UniqueValues(ctx, "ds", "kind", 10, InSource("s1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, vals)

	rows, err := e.FilteredData(ctx, "ds", []Filter{{Column: "region", Value: "C"}}, 0, InSource("s1"))
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	_, err = e.Aggregate(ctx, "ds", Config{Dimension: "region", SourceID: "nope"})
	assert.ErrorIs(t, err, chunkstore.ErrDatasetNotFound)
}

func TestResultsAreCallerOwned(t *testing.T) {
	e, s, _ := newTestEngine(t, 10)
	ctx := context.Background()
	require.NoError(t, s.BatchInsert(ctx, "ds", regionRows(30)))

	res, err := e.Aggregate(ctx, "ds", Config{Dimension: "region"})
	require.NoError(t, err)
	res.Entries[0].Value = -1

	again, err := e.Aggregate(ctx, "ds", Config{Dimension: "region"})
	require.NoError(t, err)
	assert.Equal(t, 10.0, again.Entries[0].Value)
}
