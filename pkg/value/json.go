package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// JSON layout keeps the common kinds native so chunk payloads stay small:
//
//	Null   -> null
//	Number -> 1.5            (non-finite: {"f":"NaN"})
//	Text   -> "abc"
//	Bool   -> true
//	Date   -> {"d":"2024-01-02T03:04:05Z"}
type taggedJSON struct {
	D *string `json:"d,omitempty"`
	F *string `json:"f,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			s := strconv.FormatFloat(v.num, 'g', -1, 64)
			return json.Marshal(taggedJSON{F: &s})
		}
		return strconv.AppendFloat(nil, v.num, 'g', -1, 64), nil
	case KindText:
		return json.Marshal(v.str)
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindDate:
		s := v.t.Format(time.RFC3339Nano)
		return json.Marshal(taggedJSON{D: &s})
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("unmarshal value: empty input")
	}

	switch data[0] {
	case 'n':
		*v = Null()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("unmarshal bool value: %w", err)
		}
		*v = Bool(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("unmarshal text value: %w", err)
		}
		*v = Text(s)
		return nil
	case '{':
		var tagged taggedJSON
		if err := json.Unmarshal(data, &tagged); err != nil {
			return fmt.Errorf("unmarshal tagged value: %w", err)
		}
		switch {
		case tagged.D != nil:
			t, err := time.Parse(time.RFC3339Nano, *tagged.D)
			if err != nil {
				return fmt.Errorf("unmarshal date value: %w", err)
			}
			*v = Date(t)
		case tagged.F != nil:
			f, err := strconv.ParseFloat(*tagged.F, 64)
			if err != nil {
				return fmt.Errorf("unmarshal non-finite value: %w", err)
			}
			*v = Number(f)
		default:
			return fmt.Errorf("unmarshal value: unknown tag in %s", data)
		}
		return nil
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("unmarshal number value: %w", err)
		}
		*v = Number(f)
		return nil
	}
}
