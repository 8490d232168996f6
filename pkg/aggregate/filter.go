package aggregate

import (
	"strings"

	"github.com/eunmann/chunkagg/pkg/value"
)

// NotApplicable is the group key of rows with an empty grouping value.
const NotApplicable = "N/A"

// Matches reports whether row passes every filter. Values are compared as
// strings without regard to case; a missing column compares as "".
func Matches(row value.Row, filters []Filter) bool {
	for _, f := range filters {
		if !strings.EqualFold(row[f.Column].String(), f.Value) {
			return false
		}
	}
	return true
}

func groupKey(v value.Value) string {
	if v.IsEmpty() {
		return NotApplicable
	}
	return v.String()
}
