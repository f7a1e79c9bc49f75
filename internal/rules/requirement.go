package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"loom/internal/payload"
)

// FormFillField is the reserved field name that checks the station's
// required-fields list instead of a single payload field.
const FormFillField = "STATION_FORMFILL"

// CompareOp identifies the comparison a requirement applies.
type CompareOp int

const (
	// ComparePresence validates when the field key exists in the
	// payload. This is the default when no comparison is given.
	ComparePresence CompareOp = iota
	CompareEquals
	CompareEqualsAny
	CompareAbsent
	CompareNotEquals
	CompareEqualsPayloadValue
	// CompareGreater and CompareLess are accepted in configuration
	// but never validate; the evaluator reports them through the
	// diagnostic sink.
	CompareGreater
	CompareLess
	CompareItemCountEquals
	CompareItemCountGreater
	CompareItemCountLess
)

var compareKeys = map[CompareOp]string{
	CompareEquals:             "value_equals",
	CompareEqualsAny:          "value_equals_any",
	CompareAbsent:             "value_absent",
	CompareNotEquals:          "value_not_equals",
	CompareEqualsPayloadValue: "value_equals_payload_value",
	CompareGreater:            "value_greater",
	CompareLess:               "value_less",
	CompareItemCountEquals:    "item_count_equals",
	CompareItemCountGreater:   "item_count_greater",
	CompareItemCountLess:      "item_count_less",
}

// parse order mirrors evaluation precedence: the first key found
// wins when a requirement carries several comparison keys.
var compareOrder = []CompareOp{
	CompareEquals,
	CompareEqualsAny,
	CompareAbsent,
	CompareNotEquals,
	CompareEqualsPayloadValue,
	CompareGreater,
	CompareLess,
	CompareItemCountEquals,
	CompareItemCountGreater,
	CompareItemCountLess,
}

// Comparison is the operator half of a requirement.
type Comparison struct {
	Op       CompareOp
	Value    payload.Value   // Equals, NotEquals, Greater, Less
	Values   []payload.Value // EqualsAny
	Count    int64           // ItemCount*
	FieldRef string          // EqualsPayloadValue
}

// Requirement is a single condition gating a route variant. More than
// one field makes the requirement a logical OR over the fields with
// the shared comparison; the first field that validates wins.
type Requirement struct {
	Fields  []string
	Title   string
	Compare Comparison
}

// FormFill reports whether the requirement checks the station's
// required-fields list.
func (r Requirement) FormFill() bool {
	return len(r.Fields) == 1 && r.Fields[0] == FormFillField
}

// UnmarshalJSON decodes the configuration form of a requirement:
// a sysname (string or list of strings), a title, and at most one
// comparison key.
func (r *Requirement) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	sysname, ok := raw["sysname"]
	if !ok {
		return fmt.Errorf("requirement has no sysname")
	}
	fields, err := decodeFields(sysname)
	if err != nil {
		return err
	}
	r.Fields = fields

	if title, ok := raw["title"]; ok {
		if err := json.Unmarshal(title, &r.Title); err != nil {
			return fmt.Errorf("decode requirement title: %w", err)
		}
	}

	r.Compare = Comparison{Op: ComparePresence}
	for _, op := range compareOrder {
		msg, ok := raw[compareKeys[op]]
		if !ok {
			continue
		}
		cmp := Comparison{Op: op}
		switch op {
		case CompareEquals, CompareNotEquals, CompareGreater, CompareLess:
			if err := json.Unmarshal(msg, &cmp.Value); err != nil {
				return fmt.Errorf("decode %s: %w", compareKeys[op], err)
			}
		case CompareEqualsAny:
			if err := json.Unmarshal(msg, &cmp.Values); err != nil {
				return fmt.Errorf("decode %s: %w", compareKeys[op], err)
			}
		case CompareEqualsPayloadValue:
			if err := json.Unmarshal(msg, &cmp.FieldRef); err != nil {
				return fmt.Errorf("decode %s: %w", compareKeys[op], err)
			}
		case CompareItemCountEquals, CompareItemCountGreater, CompareItemCountLess:
			if err := json.Unmarshal(msg, &cmp.Count); err != nil {
				return fmt.Errorf("decode %s: %w", compareKeys[op], err)
			}
		case CompareAbsent:
			// Any value marks the comparison; the value itself is
			// ignored.
		}
		r.Compare = cmp
		break
	}
	return nil
}

// MarshalJSON writes the configuration form back out.
func (r Requirement) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if len(r.Fields) == 1 {
		out["sysname"] = r.Fields[0]
	} else {
		out["sysname"] = r.Fields
	}
	if r.Title != "" {
		out["title"] = r.Title
	}
	switch r.Compare.Op {
	case ComparePresence:
	case CompareEquals, CompareNotEquals, CompareGreater, CompareLess:
		out[compareKeys[r.Compare.Op]] = r.Compare.Value
	case CompareEqualsAny:
		out[compareKeys[r.Compare.Op]] = r.Compare.Values
	case CompareEqualsPayloadValue:
		out[compareKeys[r.Compare.Op]] = r.Compare.FieldRef
	case CompareItemCountEquals, CompareItemCountGreater, CompareItemCountLess:
		out[compareKeys[r.Compare.Op]] = r.Compare.Count
	case CompareAbsent:
		out[compareKeys[r.Compare.Op]] = true
	}
	return json.Marshal(out)
}

func decodeFields(data json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var fields []string
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("decode requirement sysname list: %w", err)
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("requirement sysname list is empty")
		}
		return fields, nil
	}
	var field string
	if err := json.Unmarshal(data, &field); err != nil {
		return nil, fmt.Errorf("decode requirement sysname: %w", err)
	}
	return []string{field}, nil
}
