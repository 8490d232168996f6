package aggregate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Measure is the statistic computed per group.
type Measure string

const (
	Count Measure = "count"
	Sum   Measure = "sum"
	Avg   Measure = "avg"
)

// ErrInvalidConfig is returned for configurations that cannot be run.
var ErrInvalidConfig = errors.New("invalid aggregation config")

// Filter keeps rows whose Column equals Value, ignoring case.
type Filter struct {
	Column string `json:"column" yaml:"column"`
	Value  string `json:"value" yaml:"value"`
}

// Config describes one aggregation.
type Config struct {
	// Dimension is the column rows are grouped by. Required.
	Dimension string `json:"dimension" yaml:"dimension"`
	// Measure defaults to Count.
	Measure Measure `json:"measure,omitempty" yaml:"measure"`
	// MeasureColumn is required for Sum and Avg and ignored for Count.
	MeasureColumn string `json:"measure_column,omitempty" yaml:"measure_column"`
	// Stack optionally splits every group by a second column.
	Stack string `json:"stack,omitempty" yaml:"stack"`
	// Limit keeps the first Limit entries after sorting. 0 keeps all.
	Limit int `json:"limit,omitempty" yaml:"limit"`
	// Filters must all match for a row to be counted.
	Filters []Filter `json:"filters,omitempty" yaml:"filters"`
	// SourceID aggregates a sub-source instead of the primary rows.
	SourceID string `json:"source_id,omitempty" yaml:"source_id"`
}

func (c Config) measure() Measure {
	if c.Measure == "" {
		return Count
	}
	return c.Measure
}

// Validate reports configuration errors wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Dimension) == "" {
		return fmt.Errorf("%w: dimension is required", ErrInvalidConfig)
	}
	switch c.measure() {
	case Count:
	case Sum, Avg:
		if strings.TrimSpace(c.MeasureColumn) == "" {
			return fmt.Errorf("%w: measure %q requires a measure column", ErrInvalidConfig, c.Measure)
		}
	default:
		return fmt.Errorf("%w: unknown measure %q", ErrInvalidConfig, c.Measure)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%w: limit must be non-negative, got %d", ErrInvalidConfig, c.Limit)
	}
	for i, f := range c.Filters {
		if f.Column == "" {
			return fmt.Errorf("%w: filter %d has no column", ErrInvalidConfig, i)
		}
	}
	return nil
}

// keyWriter builds canonical keys from length-prefixed components, so no
// choice of values can make two different field lists encode the same.
type keyWriter struct{ b strings.Builder }

func (w *keyWriter) field(name, v string) {
	w.b.WriteString(name)
	w.b.WriteByte('=')
	w.b.WriteString(strconv.Itoa(len(v)))
	w.b.WriteByte(':')
	w.b.WriteString(v)
	w.b.WriteByte('|')
}

func sortedFilters(fs []Filter) []Filter {
	out := make([]Filter, len(fs))
	for i, f := range fs {
		out[i] = f
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Column != out[j].Column {
			return out[i].Column < out[j].Column
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// CanonicalKey returns the cache key of c. Configs that aggregate the same
// rows the same way share a key: filter order does not matter, an empty
// measure equals Count, and Count ignores MeasureColumn. Filter values are
// keyed as given; case variants match the same rows but are cached apart.
func (c Config) CanonicalKey() string {
	var w keyWriter
	w.b.WriteString("agg|v1|")
	m := c.measure()
	w.field("dim", c.Dimension)
	w.field("measure", string(m))
	if m != Count {
		w.field("col", c.MeasureColumn)
	} else {
		w.field("col", "")
	}
	w.field("stack", c.Stack)
	w.field("limit", strconv.Itoa(c.Limit))
	w.field("src", c.SourceID)
	filters := sortedFilters(c.Filters)
	w.field("filters", strconv.Itoa(len(filters)))
	for _, f := range filters {
		w.field("fc", f.Column)
		w.field("fv", f.Value)
	}
	return w.b.String()
}

func uniqueKey(column string, limit int, sourceID string) string {
	var w keyWriter
	w.b.WriteString("uniq|v1|")
	w.field("col", column)
	w.field("limit", strconv.Itoa(limit))
	w.field("src", sourceID)
	return w.b.String()
}
