package rules

import (
	"strings"

	"golang.org/x/text/cases"

	"loom/internal/payload"
)

// Result is the outcome of one requirement check, kept for operator
// display alongside the route variant it belongs to.
type Result struct {
	Title     string `json:"title"`
	Validated bool   `json:"is_validated"`
}

// Evaluate checks a requirement against a payload. The required list
// is the station's required-fields configuration for the asset's
// type, consulted only by form-fill requirements. Comparisons that
// can never validate are reported through the sink.
func Evaluate(req Requirement, p payload.Payload, required []string, sink payload.DiagnosticSink) Result {
	if sink == nil {
		sink = payload.NopSink()
	}
	res := Result{Title: req.Title}
	if req.FormFill() {
		res.Validated = formFill(p, required)
		return res
	}
	for _, field := range req.Fields {
		if evalField(field, req.Compare, p, sink) {
			res.Validated = true
			break
		}
	}
	return res
}

// formFill validates when every required field is present and
// non-blank. A dotted requirement demands a non-blank sub-key on
// every element of the parent list.
func formFill(p payload.Payload, required []string) bool {
	for _, key := range required {
		base, sub, dotted := strings.Cut(key, ".")
		vals, present := p[base]
		if !present {
			return false
		}
		if !dotted {
			if !anyNonBlank(vals) {
				return false
			}
			continue
		}
		for _, v := range vals {
			child, ok := v.Child(sub)
			if !ok || !anyNonBlank(child) {
				return false
			}
		}
	}
	return true
}

func anyNonBlank(vals []payload.Value) bool {
	for _, v := range vals {
		if s, isStr := v.Str(); isStr {
			if strings.TrimSpace(s) != "" {
				return true
			}
			continue
		}
		return true
	}
	return false
}

func evalField(field string, cmp Comparison, p payload.Payload, sink payload.DiagnosticSink) bool {
	base, sub, dotted := strings.Cut(field, ".")

	switch cmp.Op {
	case CompareItemCountEquals, CompareItemCountGreater, CompareItemCountLess:
		// Counts always operate on the base field list, dotted or
		// not. A missing field is a failed requirement.
		vals, present := p[base]
		if !present {
			return false
		}
		count := int64(len(vals))
		switch cmp.Op {
		case CompareItemCountEquals:
			return count == cmp.Count
		case CompareItemCountGreater:
			return count > cmp.Count
		default:
			return count < cmp.Count
		}
	case CompareGreater, CompareLess:
		sink.Record(payload.Diagnostic{
			Field:  field,
			Reason: "ordered value comparison is not supported, requirement never validates",
		})
		return false
	}

	if dotted {
		return evalDotted(base, sub, field, cmp, p, sink)
	}
	return evalPlain(field, cmp, p, sink)
}

func evalPlain(field string, cmp Comparison, p payload.Payload, sink payload.DiagnosticSink) bool {
	vals, present := p[field]
	switch cmp.Op {
	case CompareAbsent:
		return !present
	case ComparePresence:
		return present
	case CompareEquals:
		for _, v := range vals {
			if valueMatches(v, cmp.Value) {
				return true
			}
		}
		return false
	case CompareEqualsAny:
		for _, v := range vals {
			for _, want := range cmp.Values {
				if valueMatches(v, want) {
					return true
				}
			}
		}
		return false
	case CompareNotEquals:
		// An absent field trivially differs from the comparand.
		if !present {
			return true
		}
		for _, v := range vals {
			if !valueMatches(v, cmp.Value) {
				return true
			}
		}
		return false
	case CompareEqualsPayloadValue:
		if len(vals) == 0 {
			sink.Record(payload.Diagnostic{Field: field, Reason: "comparison source field absent"})
			return false
		}
		want, ok := resolveFirst(p, cmp.FieldRef)
		if !ok {
			return false
		}
		return valueMatches(vals[0], want)
	}
	return false
}

func evalDotted(base, sub, field string, cmp Comparison, p payload.Payload, sink payload.DiagnosticSink) bool {
	vals, present := p[base]
	if !present {
		return false
	}
	if cmp.Op == CompareAbsent {
		// Absence checks do not apply to dotted fields; the check
		// degrades to sub-key presence.
		sink.Record(payload.Diagnostic{Field: field, Reason: "value_absent on a dotted field degrades to presence"})
	}

	var want payload.Value
	if cmp.Op == CompareEqualsPayloadValue {
		resolved, ok := resolveFirst(p, cmp.FieldRef)
		if !ok {
			return false
		}
		want = resolved
	}

	for _, element := range vals {
		child, ok := element.Child(sub)
		if !ok {
			continue
		}
		switch cmp.Op {
		case ComparePresence, CompareAbsent:
			return true
		case CompareEquals:
			for _, cv := range child {
				if valueMatches(cv, cmp.Value) {
					return true
				}
			}
		case CompareEqualsAny:
			for _, cv := range child {
				for _, variant := range cmp.Values {
					if valueMatches(cv, variant) {
						return true
					}
				}
			}
		case CompareNotEquals:
			for _, cv := range child {
				if !valueMatches(cv, cmp.Value) {
					return true
				}
			}
		case CompareEqualsPayloadValue:
			for _, cv := range child {
				if valueMatches(cv, want) {
					return true
				}
			}
		}
	}
	return false
}

// resolveFirst returns the first value behind a possibly dotted
// payload reference.
func resolveFirst(p payload.Payload, ref string) (payload.Value, bool) {
	base, sub, dotted := strings.Cut(ref, ".")
	vals, ok := p[base]
	if !ok || len(vals) == 0 {
		return payload.Value{}, false
	}
	if !dotted {
		return vals[0], true
	}
	child, ok := vals[0].Child(sub)
	if !ok || len(child) == 0 {
		return payload.Value{}, false
	}
	return child[0], true
}

// valueMatches compares two values: strings fold case and trim
// whitespace, everything else is exact equality.
func valueMatches(got, want payload.Value) bool {
	gs, gok := got.Str()
	ws, wok := want.Str()
	if gok && wok {
		folder := cases.Fold()
		return folder.String(strings.TrimSpace(gs)) == folder.String(strings.TrimSpace(ws))
	}
	return got.Equal(want)
}
