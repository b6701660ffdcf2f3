package ruleengine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Kind discriminates the variants of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// String returns the lowercase name of the kind, used in error messages.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// Value is a closed tagged union over the JSON data model
// (string, number, boolean, array, object, null).
//
// It is used for both rule condition operands and evaluation context fields,
// so the evaluator and the hash computer share a single canonicalization:
// whatever Canonical() returns is what gets compared and what gets hashed.
// Numbers are held as arbitrary-precision decimals to avoid float64
// round-tripping artifacts (a context value of 100 must never hash or
// compare as "100.00000000000001").
type Value struct {
	kind Kind
	str  string
	num  decimal.Decimal
	b    bool
	arr  []Value
	obj  map[string]Value
}

// Null returns the null Value. The zero Value is also null.
func Null() Value { return Value{kind: KindNull} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a decimal.
func Number(d decimal.Decimal) Value { return Value{kind: KindNumber, num: d} }

// Int wraps an integer.
func Int(i int64) Value { return Number(decimal.NewFromInt(i)) }

// Float wraps a float. Prefer Int or Number where precision matters.
func Float(f float64) Value { return Number(decimal.NewFromFloat(f)) }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Array wraps an ordered list of values.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object wraps a string-keyed map of values.
func Object(fields map[string]Value) Value { return Value{kind: KindObject, obj: fields} }

// Kind reports which variant this value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Elements returns the items of an array value.
// The second return is false for every other kind.
func (v Value) Elements() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// Decimal returns the numeric form of the value.
//
// Numbers convert directly; strings are accepted when they parse as a
// decimal. Everything else (including booleans) is not numeric, matching
// the comparison ladder of the evaluator.
func (v Value) Decimal() (decimal.Decimal, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		d, err := decimal.NewFromString(strings.TrimSpace(v.str))
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

// timeLayouts are tried in order when interpreting a value as an instant.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time returns the instant form of the value, when its canonical string
// parses as one of the supported timestamp layouts.
func (v Value) Time() (time.Time, bool) {
	if v.kind != KindString {
		return time.Time{}, false
	}
	s := strings.TrimSpace(v.str)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Canonical returns the single string representation used for comparisons,
// trace entries and hashing:
//
//	null    -> ""
//	string  -> the string itself
//	number  -> normalized decimal form ("100", "3.14")
//	bool    -> "true" / "false"
//	array   -> canonical JSON
//	object  -> canonical JSON with lexicographically sorted keys
func (v Value) Canonical() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		return v.num.String()
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			// Unreachable: every variant marshals.
			return ""
		}
		return string(b)
	}
}

// String implements fmt.Stringer via the canonical form.
func (v Value) String() string { return v.Canonical() }

// Equal reports deep equality of two values (same kind, same content).
// Note this is structural equality, not the evaluator's case-insensitive
// comparison semantics.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == other.str
	case KindNumber:
		return v.num.Equal(other.num)
	case KindBool:
		return v.b == other.b
	case KindArray:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, val := range v.obj {
			o, ok := other.obj[k]
			if !ok || !val.Equal(o) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON renders the value as canonical JSON. Object keys are emitted
// in lexicographic order so the same value always yields the same bytes,
// which the deterministic hash depends on.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		// Emit the bare decimal form, not a quoted string.
		return []byte(v.num.String()), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %d", v.kind)
	}
}

// UnmarshalJSON decodes arbitrary JSON into the union. Numbers are decoded
// through json.Number to preserve their exact decimal representation.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}

	parsed, err := fromDecoded(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// fromDecoded converts the output of a UseNumber json decode into a Value.
func fromDecoded(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(d), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			parsed, err := fromDecoded(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = parsed
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			parsed, err := fromDecoded(item)
			if err != nil {
				return Value{}, err
			}
			fields[k] = parsed
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", raw)
	}
}
