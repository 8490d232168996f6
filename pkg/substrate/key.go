package substrate

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Key is a compound key. Parts are strings or non-negative integers
// (int, int64, uint64); integers decode as uint64.
//
// The byte encoding preserves tuple order, and the encoding of a tuple
// prefix is a byte prefix of the encoding of every key that extends it, so
// secondary indexes and "all chunks of dataset X" are plain prefix ranges.
type Key []any

// K builds a Key from its parts.
func K(parts ...any) Key { return Key(parts) }

const (
	tagUint   = 0x01
	tagString = 0x02

	strEscape = 0x00
	strEscFF  = 0xFF
	strEnd    = 0x01
)

// ErrMalformedKey is returned when decoding bytes that were not produced by Encode.
var ErrMalformedKey = errors.New("malformed key")

// Encode returns the order-preserving byte form of k.
// It panics on unsupported part types; keys are built by this module only.
func (k Key) Encode() []byte {
	buf := make([]byte, 0, 16*len(k))
	for _, p := range k {
		switch v := p.(type) {
		case string:
			buf = appendString(buf, v)
		case uint64:
			buf = appendUint(buf, v)
		case int:
			buf = appendUint(buf, uint64(v))
		case int64:
			buf = appendUint(buf, uint64(v))
		default:
			panic(fmt.Sprintf("substrate: unsupported key part %T", p))
		}
	}
	return buf
}

func appendUint(buf []byte, v uint64) []byte {
	buf = append(buf, tagUint)
	return binary.BigEndian.AppendUint64(buf, v)
}

// appendString escapes 0x00 as 0x00 0xFF and terminates with 0x00 0x01, so
// "a" sorts before "a\x00" and before "ab".
func appendString(buf []byte, s string) []byte {
	buf = append(buf, tagString)
	for i := 0; i < len(s); i++ {
		if s[i] == strEscape {
			buf = append(buf, strEscape, strEscFF)
			continue
		}
		buf = append(buf, s[i])
	}
	return append(buf, strEscape, strEnd)
}

// DecodeKey parses bytes produced by Key.Encode.
func DecodeKey(b []byte) (Key, error) {
	var k Key
	for len(b) > 0 {
		switch b[0] {
		case tagUint:
			if len(b) < 9 {
				return nil, fmt.Errorf("%w: short integer part", ErrMalformedKey)
			}
			k = append(k, binary.BigEndian.Uint64(b[1:9]))
			b = b[9:]
		case tagString:
			var sb strings.Builder
			i := 1
			for {
				if i >= len(b) {
					return nil, fmt.Errorf("%w: unterminated string part", ErrMalformedKey)
				}
				c := b[i]
				if c != strEscape {
					sb.WriteByte(c)
					i++
					continue
				}
				if i+1 >= len(b) {
					return nil, fmt.Errorf("%w: truncated escape", ErrMalformedKey)
				}
				if b[i+1] == strEnd {
					i += 2
					break
				}
				if b[i+1] != strEscFF {
					return nil, fmt.Errorf("%w: bad escape 0x%02x", ErrMalformedKey, b[i+1])
				}
				sb.WriteByte(strEscape)
				i += 2
			}
			k = append(k, sb.String())
			b = b[i:]
		default:
			return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrMalformedKey, b[0])
		}
	}
	return k, nil
}

// String returns the part at i, or "" if it is missing or not a string.
func (k Key) String(i int) string {
	if i < 0 || i >= len(k) {
		return ""
	}
	s, _ := k[i].(string)
	return s
}

// Uint returns the integer part at i, or 0 if it is missing or not an integer.
func (k Key) Uint(i int) uint64 {
	if i < 0 || i >= len(k) {
		return 0
	}
	switch v := k[i].(type) {
	case uint64:
		return v
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	default:
		return 0
	}
}

// PrefixEnd returns the smallest byte string greater than every string
// prefixed by p, or nil if no such bound exists (p is empty or all 0xFF).
func PrefixEnd(p []byte) []byte {
	end := make([]byte, len(p))
	copy(end, p)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
