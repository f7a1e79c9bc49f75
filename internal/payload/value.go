package payload

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the concrete type held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
	KindNested
)

// Value is one element of a payload field list. Payload data arrives as
// JSON, so a value is a string, an integer, a boolean, or a nested
// object mapping sub-keys to further value lists.
type Value struct {
	kind   Kind
	str    string
	num    int64
	flag   bool
	nested map[string][]Value
}

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int returns an integer value.
func Int(n int64) Value { return Value{kind: KindInt, num: n} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, flag: b} }

// Nested returns an object value. The map is used as-is; callers that
// retain the map must not mutate it afterwards.
func Nested(children map[string][]Value) Value {
	if children == nil {
		children = map[string][]Value{}
	}
	return Value{kind: KindNested, nested: children}
}

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// Str returns the string content and whether the value is a string.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// IntVal returns the integer content and whether the value is an integer.
func (v Value) IntVal() (int64, bool) { return v.num, v.kind == KindInt }

// BoolVal returns the boolean content and whether the value is a boolean.
func (v Value) BoolVal() (bool, bool) { return v.flag, v.kind == KindBool }

// Children returns the nested map and whether the value is an object.
func (v Value) Children() (map[string][]Value, bool) { return v.nested, v.kind == KindNested }

// Child returns the values under the named sub-key of a nested value.
func (v Value) Child(key string) ([]Value, bool) {
	if v.kind != KindNested {
		return nil, false
	}
	vals, ok := v.nested[key]
	return vals, ok
}

// Text renders the value for display and for format operators. Nested
// values render as compact JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindBool:
		return strconv.FormatBool(v.flag)
	case KindNested:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
	return ""
}

// Equal reports deep equality.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == other.str
	case KindInt:
		return v.num == other.num
	case KindBool:
		return v.flag == other.flag
	case KindNested:
		if len(v.nested) != len(other.nested) {
			return false
		}
		for key, vals := range v.nested {
			otherVals, ok := other.nested[key]
			if !ok || !valuesEqual(vals, otherVals) {
				return false
			}
		}
		return true
	}
	return false
}

func valuesEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	if v.kind != KindNested {
		return v
	}
	children := make(map[string][]Value, len(v.nested))
	for key, vals := range v.nested {
		children[key] = cloneValues(vals)
	}
	return Value{kind: KindNested, nested: children}
}

func cloneValues(vals []Value) []Value {
	out := make([]Value, len(vals))
	for i, v := range vals {
		out[i] = v.Clone()
	}
	return out
}

// MarshalJSON writes the natural JSON form of the value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindInt:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.flag)
	case KindNested:
		keys := make([]string, 0, len(v.nested))
		for key := range v.nested {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var buf strings.Builder
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encodedKey, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			buf.Write(encodedKey)
			buf.WriteByte(':')
			encodedVals, err := json.Marshal(v.nested[key])
			if err != nil {
				return nil, err
			}
			buf.Write(encodedVals)
		}
		buf.WriteByte('}')
		return []byte(buf.String()), nil
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts strings, integers, booleans, and objects whose
// values are lists of further values. Non-integral numbers are kept as
// their literal string so no data is dropped.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*v = String("")
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
		return nil
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		children := make(map[string][]Value, len(raw))
		for key, msg := range raw {
			vals, err := decodeValueList(msg)
			if err != nil {
				return fmt.Errorf("decode %q: %w", key, err)
			}
			children[key] = vals
		}
		*v = Nested(children)
		return nil
	case '[':
		return fmt.Errorf("unexpected nested list")
	default:
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			*v = Int(n)
			return nil
		}
		*v = String(trimmed)
		return nil
	}
}

func decodeValueList(data json.RawMessage) ([]Value, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var vals []Value
		if err := json.Unmarshal(data, &vals); err != nil {
			return nil, err
		}
		return vals, nil
	}
	var single Value
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []Value{single}, nil
}
