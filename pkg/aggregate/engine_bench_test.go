package aggregate

import (
	"context"
	"fmt"
	"testing"

	"github.com/eunmann/chunkagg/pkg/benchutil"
)

func BenchmarkAggregate(b *testing.B) {
	for _, shape := range benchutil.Shapes {
		for _, n := range benchutil.BenchmarkSizes {
			b.Run(fmt.Sprintf("%s/%d", shape, n), func(b *testing.B) {
				e, s, _ := newTestEngine(b, 1000)
				ctx := context.Background()
				rows := benchutil.NewGenerator(benchutil.ConfigForShape(shape, n)).Generate()
				if err := s.BatchInsert(ctx, "bench", rows); err != nil {
					b.Fatalf("BatchInsert failed: %v", err)
				}
				cfg := Config{
					Dimension:     benchutil.ColRegion,
					Measure:       Sum,
					MeasureColumn: benchutil.ColAmount,
					Stack:         benchutil.ColCategory,
				}

				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := s.Cache().Clear(ctx, "bench"); err != nil {
						b.Fatal(err)
					}
					if _, err := e.Aggregate(ctx, "bench", cfg); err != nil {
						b.Fatalf("Aggregate failed: %v", err)
					}
				}
				b.ReportMetric(float64(n), "rows/op")
			})
		}
	}
}
