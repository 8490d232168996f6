package aggregate

// Others is the key of the entry CollapseOthers folds the tail into.
const Others = "Others"

// StackValue is one stack bucket of a group.
type StackValue struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// Entry is one group of a Result. For stacked results Value is the sum of
// the Stacks values.
type Entry struct {
	Key    string       `json:"key"`
	Value  float64      `json:"value"`
	Stacks []StackValue `json:"stacks,omitempty"`
}

// Result is an aggregation ordered by Value, largest first.
type Result struct {
	Entries []Entry `json:"entries"`
	Stacked bool    `json:"stacked"`
}

// Total returns the sum of all entry values.
func (r *Result) Total() float64 {
	var t float64
	for _, e := range r.Entries {
		t += e.Value
	}
	return t
}

// Lookup returns the entry with key.
func (r *Result) Lookup(key string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Key == key {
			return e, true
		}
	}
	return Entry{}, false
}

func cloneEntry(e Entry) Entry {
	if e.Stacks != nil {
		e.Stacks = append([]StackValue(nil), e.Stacks...)
	}
	return e
}

// CollapseOthers keeps the first n entries of r and sums the rest into one
// entry keyed Others, so Total is unchanged. Stacked results are summed per
// stack key, in first-seen order. r is not modified.
func CollapseOthers(r *Result, n int) *Result {
	out := &Result{Stacked: r.Stacked}
	if n <= 0 || len(r.Entries) <= n {
		for _, e := range r.Entries {
			out.Entries = append(out.Entries, cloneEntry(e))
		}
		return out
	}

	for _, e := range r.Entries[:n] {
		out.Entries = append(out.Entries, cloneEntry(e))
	}
	others := Entry{Key: Others}
	pos := map[string]int{}
	for _, e := range r.Entries[n:] {
		others.Value += e.Value
		for _, sv := range e.Stacks {
			i, ok := pos[sv.Key]
			if !ok {
				i = len(others.Stacks)
				pos[sv.Key] = i
				others.Stacks = append(others.Stacks, StackValue{Key: sv.Key})
			}
			others.Stacks[i].Value += sv.Value
		}
	}
	out.Entries = append(out.Entries, others)
	return out
}

// NormalizePercent rescales values to percentages. Stack values are
// expressed as a share of their own group's total, so every stacked group
// sums to 100; unstacked values as a share of the result total. Zero totals
// stay zero. r is not modified.
func NormalizePercent(r *Result) *Result {
	out := &Result{Stacked: r.Stacked, Entries: make([]Entry, len(r.Entries))}
	total := r.Total()
	for i, e := range r.Entries {
		e = cloneEntry(e)
		if r.Stacked {
			for j := range e.Stacks {
				e.Stacks[j].Value = percent(e.Stacks[j].Value, e.Value)
			}
			if e.Value != 0 {
				e.Value = 100
			}
		} else {
			e.Value = percent(e.Value, total)
		}
		out.Entries[i] = e
	}
	return out
}

func percent(v, total float64) float64 {
	if total == 0 {
		return 0
	}
	return v / total * 100
}
