package value

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestFloatCoercion(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want float64
	}{
		{"number", Number(12.5), 12.5},
		{"numeric text", Text(" 42 "), 42},
		{"non-numeric text", Text("abc"), 0},
		{"empty text", Text(""), 0},
		{"nan text", Text("NaN"), 0},
		{"infinity text", Text("Infinity"), 0},
		{"negative inf text", Text("-Inf"), 0},
		{"nan number", Number(math.NaN()), 0},
		{"inf number", Number(math.Inf(1)), 0},
		{"negative inf number", Number(math.Inf(-1)), 0},
		{"true", Bool(true), 1},
		{"false", Bool(false), 0},
		{"date", Date(time.Unix(100, 0)), 0},
		{"null", Null(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Float(); got != tt.want {
				t.Errorf("Float() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStringAndEmpty(t *testing.T) {
	d := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		v         Value
		want      string
		wantEmpty bool
	}{
		{Null(), "", true},
		{Text("   "), "   ", true},
		{Text("West"), "West", false},
		{Number(3), "3", false},
		{Number(0.25), "0.25", false},
		{Bool(true), "true", false},
		{Date(d), "2024-03-01T12:00:00Z", false},
	}

	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%v.String() = %q, want %q", tt.v.Kind(), got, tt.want)
		}
		if got := tt.v.IsEmpty(); got != tt.wantEmpty {
			t.Errorf("%v(%q).IsEmpty() = %v, want %v", tt.v.Kind(), tt.want, got, tt.wantEmpty)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
	}{
		{"", KindNull},
		{"  ", KindNull},
		{"1.5", KindNumber},
		{"-7", KindNumber},
		{"TRUE", KindBool},
		{"false", KindBool},
		{"2024-01-02", KindDate},
		{"2024-01-02T03:04:05Z", KindDate},
		{"North", KindText},
		{"12abc", KindText},
	}

	for _, tt := range tests {
		if got := Parse(tt.in).Kind(); got != tt.kind {
			t.Errorf("Parse(%q).Kind() = %v, want %v", tt.in, got, tt.kind)
		}
	}
}

func TestJSONPreservesKinds(t *testing.T) {
	row := Row{
		"null":   Null(),
		"num":    Number(1.25),
		"text":   Text("42"),
		"bool":   Bool(true),
		"date":   Date(time.Date(2023, 5, 6, 7, 8, 9, 10, time.UTC)),
		"nan":    Number(math.NaN()),
		"posinf": Number(math.Inf(1)),
	}

	data, err := json.Marshal(row)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got Row
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	for k, want := range row {
		g, ok := got[k]
		if !ok {
			t.Errorf("missing column %q", k)
			continue
		}
		if g.Kind() != want.Kind() {
			t.Errorf("column %q kind = %v, want %v", k, g.Kind(), want.Kind())
		}
		if k == "nan" {
			if !math.IsNaN(g.num) {
				t.Errorf("column nan = %v, want NaN", g.num)
			}
			continue
		}
		if !g.Equal(want) {
			t.Errorf("column %q = %v, want %v", k, g, want)
		}
	}

	// Numeric-looking text must stay text.
	if got["text"].Kind() != KindText {
		t.Errorf("text column decoded as %v", got["text"].Kind())
	}
}

func TestFromAny(t *testing.T) {
	if v := FromAny(int64(5)); v.Kind() != KindNumber || v.Float() != 5 {
		t.Errorf("FromAny(int64) = %v", v)
	}
	if v := FromAny([]byte("x")); v.Kind() != KindText || v.String() != "x" {
		t.Errorf("FromAny([]byte) = %v", v)
	}
	if v := FromAny(nil); !v.IsNull() {
		t.Errorf("FromAny(nil) = %v", v)
	}
	if v := FromAny(struct{}{}); !v.IsNull() {
		t.Errorf("FromAny(struct) = %v", v)
	}
}
