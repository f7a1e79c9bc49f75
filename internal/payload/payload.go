package payload

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload maps field names to value lists. Every field holds a list
// even when it carries a single value.
type Payload map[string][]Value

// Parse decodes a JSON object into a payload. Scalar field values are
// promoted to one-element lists.
func Parse(data []byte) (Payload, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return Payload{}, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	p := make(Payload, len(raw))
	for key, msg := range raw {
		vals, err := decodeValueList(msg)
		if err != nil {
			return nil, fmt.Errorf("decode payload field %q: %w", key, err)
		}
		p[key] = vals
	}
	return p, nil
}

// Encode renders the payload as JSON.
func (p Payload) Encode() ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string][]Value(p))
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for key, vals := range p {
		out[key] = cloneValues(vals)
	}
	return out
}

// Has reports whether the field exists with at least one value.
func (p Payload) Has(field string) bool {
	vals, ok := p[field]
	return ok && len(vals) > 0
}

// First returns the first value of a field.
func (p Payload) First(field string) (Value, bool) {
	vals, ok := p[field]
	if !ok || len(vals) == 0 {
		return Value{}, false
	}
	return vals[0], true
}

// Resolve looks up a possibly dotted field reference. For "a.b" it
// collects the "b" values from every nested element of field "a"; a
// plain reference returns the field list itself. The second result is
// false when the base field is absent or, for dotted references, when
// no element carries the sub-key.
func (p Payload) Resolve(ref string) ([]Value, bool) {
	base, sub, dotted := strings.Cut(ref, ".")
	vals, ok := p[base]
	if !ok {
		return nil, false
	}
	if !dotted {
		return vals, true
	}
	var out []Value
	found := false
	for _, v := range vals {
		child, ok := v.Child(sub)
		if !ok {
			continue
		}
		found = true
		out = append(out, child...)
	}
	return out, found
}

// SubKeyPresent reports whether any nested element of the base field
// carries the sub-key at all, with or without values.
func (p Payload) SubKeyPresent(base, sub string) bool {
	for _, v := range p[base] {
		if _, ok := v.Child(sub); ok {
			return true
		}
	}
	return false
}
