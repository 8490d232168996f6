package aggregate

import (
	"sort"

	"github.com/eunmann/chunkagg/pkg/value"
)

type bucket struct {
	sum   float64
	count int
}

type group struct {
	key    string
	bucket bucket
	stacks []stackBucket
	pos    map[string]int
}

type stackBucket struct {
	key    string
	bucket bucket
}

// accumulator folds rows into per-group buckets, remembering the order in
// which groups and stack keys were first seen.
type accumulator struct {
	cfg    Config
	m      Measure
	groups []*group
	pos    map[string]int
	rows   int
}

func newAccumulator(cfg Config) *accumulator {
	return &accumulator{cfg: cfg, m: cfg.measure(), pos: make(map[string]int)}
}

func (a *accumulator) contribution(row value.Row) float64 {
	if a.m == Count {
		return 1
	}
	return row[a.cfg.MeasureColumn].Float()
}

func (b *bucket) add(v float64) {
	b.sum += v
	b.count++
}

func (a *accumulator) add(row value.Row) {
	if !Matches(row, a.cfg.Filters) {
		return
	}
	a.rows++

	key := groupKey(row[a.cfg.Dimension])
	i, ok := a.pos[key]
	if !ok {
		i = len(a.groups)
		a.pos[key] = i
		a.groups = append(a.groups, &group{key: key})
	}
	g := a.groups[i]
	v := a.contribution(row)

	if a.cfg.Stack == "" {
		g.bucket.add(v)
		return
	}
	if g.pos == nil {
		g.pos = make(map[string]int)
	}
	sk := groupKey(row[a.cfg.Stack])
	j, ok := g.pos[sk]
	if !ok {
		j = len(g.stacks)
		g.pos[sk] = j
		g.stacks = append(g.stacks, stackBucket{key: sk})
	}
	g.stacks[j].bucket.add(v)
}

// value finalizes a bucket. ok is false for an average with no rows.
func (a *accumulator) value(b bucket) (float64, bool) {
	if a.m != Avg {
		return b.sum, true
	}
	if b.count == 0 {
		return 0, false
	}
	return b.sum / float64(b.count), true
}

// result finalizes, sorts total-descending and applies the limit.
// Ties keep first-seen order.
func (a *accumulator) result() *Result {
	stacked := a.cfg.Stack != ""
	res := &Result{Stacked: stacked, Entries: make([]Entry, 0, len(a.groups))}

	for _, g := range a.groups {
		if !stacked {
			v, ok := a.value(g.bucket)
			if !ok {
				continue
			}
			res.Entries = append(res.Entries, Entry{Key: g.key, Value: v})
			continue
		}

		e := Entry{Key: g.key, Stacks: make([]StackValue, 0, len(g.stacks))}
		for _, s := range g.stacks {
			v, ok := a.value(s.bucket)
			if !ok {
				continue
			}
			e.Stacks = append(e.Stacks, StackValue{Key: s.key, Value: v})
			e.Value += v
		}
		if len(e.Stacks) == 0 {
			continue
		}
		res.Entries = append(res.Entries, e)
	}

	sort.SliceStable(res.Entries, func(i, j int) bool {
		return res.Entries[i].Value > res.Entries[j].Value
	})
	if a.cfg.Limit > 0 && len(res.Entries) > a.cfg.Limit {
		res.Entries = res.Entries[:a.cfg.Limit]
	}
	return res
}
