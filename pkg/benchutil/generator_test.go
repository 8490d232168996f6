package benchutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorIsDeterministic(t *testing.T) {
	a := NewGenerator(DefaultConfig(50)).Generate()
	b := NewGenerator(DefaultConfig(50)).Generate()
	require.Len(t, a, 50)
	for i := range a {
		assert.Equal(t, a[i][ColCustomer].String(), b[i][ColCustomer].String())
		assert.Equal(t, a[i][ColAmount].Float(), b[i][ColAmount].Float())
	}
}

func TestGeneratorShapes(t *testing.T) {
	for _, shape := range Shapes {
		t.Run(shape, func(t *testing.T) {
			cfg := ConfigForShape(shape, 500)
			regions := map[string]bool{}
			var nulls int
			for row := range NewGenerator(cfg).GenerateChannel() {
				regions[row[ColRegion].String()] = true
				if row[ColCategory].IsNull() {
					nulls++
				}
				assert.Greater(t, row[ColAmount].Float(), 0.0)
			}
			assert.LessOrEqual(t, len(regions), cfg.Regions)
			if cfg.NullRate == 0 {
				assert.Zero(t, nulls)
			} else {
				assert.NotZero(t, nulls)
			}
		})
	}
}
