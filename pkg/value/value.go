// Package value provides the tagged scalar stored in dataset rows.
//
// Rows arrive from heterogeneous sources (CSV text, Parquet columns, user
// edits), so every cell is one of a small set of kinds with total coercion
// rules: converting any Value to a string or a float never fails.
package value

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindText
	KindDate
	KindBool
)

// String returns the kind name used in column schemas and JSON tags.
func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindDate:
		return "date"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a loosely-typed row cell. The zero Value is Null.
type Value struct {
	kind Kind
	num  float64
	str  string
	t    time.Time
	b    bool
}

// Row maps column keys to cells.
type Row map[string]Value

// Null returns the empty value.
func Null() Value { return Value{} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Text returns a string value.
func Text(s string) Value { return Value{kind: KindText, str: s} }

// Date returns a date-like value. The time is normalized to UTC.
func Date(t time.Time) Value { return Value{kind: KindDate, t: t.UTC()} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds no value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsEmpty reports whether v is Null or whitespace-only text. Empty values
// group under the "N/A" bucket and are skipped by unique-value sampling.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindText:
		return strings.TrimSpace(v.str) == ""
	default:
		return false
	}
}

// String renders v for grouping keys, filters and display.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindText:
		return v.str
	case KindDate:
		return v.t.Format(time.RFC3339)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// Float coerces v to a number for sum and avg measures.
//
// Coercion never fails: text that does not parse as a number, dates and
// nulls all become 0, and booleans become 1 or 0. NaN and infinities of
// any kind also become 0 so sums stay finite. Sums over heterogeneous
// columns can therefore be silently understated.
func (v Value) Float() float64 {
	var f float64
	switch v.kind {
	case KindNumber:
		f = v.num
	case KindText:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		if err != nil {
			return 0
		}
		f = n
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Time returns the date held by v and whether v is a date.
func (v Value) Time() (time.Time, bool) {
	return v.t, v.kind == KindDate
}

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindText:
		return v.str == o.str
	case KindDate:
		return v.t.Equal(o.t)
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// Parse infers a Value from raw text, as read from CSV cells or CLI flags.
// Empty input is Null; numbers, booleans and ISO-8601 dates are recognized;
// anything else is Text.
func Parse(s string) Value {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Null()
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Number(f)
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return Date(t)
		}
	}
	return Text(s)
}

// FromAny converts a Go scalar into a Value. Unknown types fall back to Text
// of their fmt representation via the Stringer interface when available.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case string:
		return Text(t)
	case []byte:
		return Text(string(t))
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case time.Time:
		return Date(t)
	case interface{ String() string }:
		return Text(t.String())
	default:
		return Null()
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindNull.
func ParseKind(s string) Kind {
	switch s {
	case "number":
		return KindNumber
	case "text":
		return KindText
	case "date":
		return KindDate
	case "bool":
		return KindBool
	default:
		return KindNull
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}
