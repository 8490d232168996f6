package aggregate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"count default", Config{Dimension: "region"}, false},
		{"sum", Config{Dimension: "region", Measure: Sum, MeasureColumn: "amount"}, false},
		{"missing dimension", Config{Measure: Count}, true},
		{"blank dimension", Config{Dimension: "  "}, true},
		{"sum without column", Config{Dimension: "region", Measure: Sum}, true},
		{"avg without column", Config{Dimension: "region", Measure: Avg}, true},
		{"unknown measure", Config{Dimension: "region", Measure: "median", MeasureColumn: "x"}, true},
		{"negative limit", Config{Dimension: "region", Limit: -1}, true},
		{"filter without column", Config{Dimension: "region", Filters: []Filter{{Value: "a"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanonicalKeyEquivalentConfigs(t *testing.T) {
	base := Config{
		Dimension: "region",
		Filters:   []Filter{{Column: "kind", Value: "X"}, {Column: "os", Value: "Linux"}},
	}
	equivalent := []Config{
		{Dimension: "region", Measure: Count, Filters: []Filter{{Column: "os", Value: "Linux"}, {Column: "kind", Value: "X"}}},
		{Dimension: "region", MeasureColumn: "ignored", Filters: base.Filters},
	}
	for i, cfg := range equivalent {
		assert.Equal(t, base.CanonicalKey(), cfg.CanonicalKey(), "config %d", i)
	}
}

func TestCanonicalKeyDistinctConfigs(t *testing.T) {
	configs := []Config{
		{Dimension: "region"},
		{Dimension: "regio", Stack: "n"},
		{Dimension: "region", Limit: 5},
		{Dimension: "region", Stack: "kind"},
		{Dimension: "region", SourceID: "s1"},
		{Dimension: "region", Measure: Sum, MeasureColumn: "amount"},
		{Dimension: "region", Measure: Avg, MeasureColumn: "amount"},
		{Dimension: "region", Filters: []Filter{{Column: "a", Value: "b|fc=1:c"}}},
		{Dimension: "region", Filters: []Filter{{Column: "a", Value: "b"}, {Column: "c", Value: ""}}},
		{Dimension: "region", Filters: []Filter{{Column: "a|", Value: "b"}}},
		{Dimension: "region", Filters: []Filter{{Column: "c", Value: "i"}}},
		{Dimension: "region", Filters: []Filter{{Column: "c", Value: "\u0130"}}},
		{Dimension: "region", Filters: []Filter{{Column: "c", Value: "I"}}},
	}
	seen := make(map[string]int)
	for i, cfg := range configs {
		key := cfg.CanonicalKey()
		if j, dup := seen[key]; dup {
			t.Errorf("configs %d and %d share key %q", j, i, key)
		}
		seen[key] = i
	}
	assert.NotEqual(t, uniqueKey("region", 5, ""), Config{Dimension: "region", Limit: 5}.CanonicalKey())
}

func TestCanonicalKeyDoesNotMutateFilters(t *testing.T) {
	cfg := Config{Dimension: "g", Filters: []Filter{{Column: "b", Value: "Y"}, {Column: "a", Value: "X"}}}
	_ = cfg.CanonicalKey()
	assert.Equal(t, []Filter{{Column: "b", Value: "Y"}, {Column: "a", Value: "X"}}, cfg.Filters)
}
