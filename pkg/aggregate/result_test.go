package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapseOthers(t *testing.T) {
	r := &Result{Entries: []Entry{
		{Key: "a", Value: 10}, {Key: "b", Value: 5}, {Key: "c", Value: 3}, {Key: "d", Value: 2},
	}}

	got := CollapseOthers(r, 2)
	assert.Equal(t, []Entry{{Key: "a", Value: 10}, {Key: "b", Value: 5}, {Key: Others, Value: 5}}, got.Entries)
	assert.Equal(t, r.Total(), got.Total())
	assert.Len(t, r.Entries, 4, "input untouched")

	assert.Equal(t, r.Entries, CollapseOthers(r, 4).Entries)
	assert.Equal(t, r.Entries, CollapseOthers(r, 0).Entries)
}

func TestCollapseOthersStacked(t *testing.T) {
	r := &Result{Stacked: true, Entries: []Entry{
		{Key: "a", Value: 6, Stacks: []StackValue{{Key: "x", Value: 4}, {Key: "y", Value: 2}}},
		{Key: "b", Value: 3, Stacks: []StackValue{{Key: "y", Value: 1}, {Key: "z", Value: 2}}},
		{Key: "c", Value: 2, Stacks: []StackValue{{Key: "x", Value: 2}}},
	}}

	got := CollapseOthers(r, 1)
	assert.True(t, got.Stacked)
	assert.Equal(t, Entry{Key: Others, Value: 5, Stacks: []StackValue{
		{Key: "y", Value: 1}, {Key: "z", Value: 2}, {Key: "x", Value: 2},
	}}, got.Entries[1])

	got.Entries[0].Stacks[0].Value = 99
	assert.Equal(t, 4.0, r.Entries[0].Stacks[0].Value, "stacks are copied")
}

func TestNormalizePercent(t *testing.T) {
	flat := &Result{Entries: []Entry{{Key: "a", Value: 3}, {Key: "b", Value: 1}}}
	got := NormalizePercent(flat)
	assert.Equal(t, []Entry{{Key: "a", Value: 75}, {Key: "b", Value: 25}}, got.Entries)

	stacked := &Result{Stacked: true, Entries: []Entry{
		{Key: "a", Value: 4, Stacks: []StackValue{{Key: "x", Value: 1}, {Key: "y", Value: 3}}},
		{Key: "b", Value: 0, Stacks: []StackValue{{Key: "x", Value: 0}}},
	}}
	got = NormalizePercent(stacked)
	assert.Equal(t, Entry{Key: "a", Value: 100, Stacks: []StackValue{{Key: "x", Value: 25}, {Key: "y", Value: 75}}}, got.Entries[0])
	assert.Equal(t, Entry{Key: "b", Value: 0, Stacks: []StackValue{{Key: "x", Value: 0}}}, got.Entries[1])
	assert.Equal(t, 1.0, stacked.Entries[0].Stacks[0].Value, "input untouched")

	empty := NormalizePercent(&Result{Entries: []Entry{{Key: "a", Value: 0}}})
	assert.Equal(t, 0.0, empty.Entries[0].Value)
}
