package payload

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	metaPrefix      = "#META#"
	metaSingularise = "#META_SINGULARISE#"
	metaPluralise   = "#META_PLURALISE#"
	formatMarker    = "#FORMAT:"
	increaseSuffix  = "#INCREASE"
	decreaseSuffix  = "#DECREASE"
	createMarker    = "#CREATE:"

	datetimeFormat      = "02.01.2006 15:04:05"
	datetimeShortFormat = "02.01.2006 15:04"
)

// MetaAccess is the asset metadata surface the mutator needs. Meta
// keys carry value lists plus a singular flag that controls whether
// the key renders as one value or a list.
type MetaAccess interface {
	Values(key string) (vals []Value, single bool, ok bool)
	Set(key string, vals []Value, single bool)
	Delete(key string)
	SetSingle(key string, single bool) bool
}

// FileStore removes stored files referenced by payload values.
type FileStore interface {
	Remove(ref string) error
}

// FieldCatalog describes which fields hold file references so field
// removal can clean up the backing storage.
type FieldCatalog interface {
	IsFile(field string) bool
	// FileChildren returns the file-typed sub-fields of a compound
	// field, or nil for a plain field.
	FileChildren(field string) []string
}

type nopCatalog struct{}

func (nopCatalog) IsFile(string) bool          { return false }
func (nopCatalog) FileChildren(string) []string { return nil }

// NopCatalog returns a catalog with no file fields.
func NopCatalog() FieldCatalog { return nopCatalog{} }

type nopFiles struct{}

func (nopFiles) Remove(string) error { return nil }

// NopFiles returns a file store that discards removals.
func NopFiles() FileStore { return nopFiles{} }

// Target is the asset state a directive list operates on. Payload and
// Meta are mutated in place.
type Target struct {
	AssetID  int64
	Username string
	Payload  Payload
	Meta     MetaAccess
}

// Mutator applies route directive lists to asset payloads. Directives
// run in order and are best-effort: one that cannot be applied is
// skipped with a diagnostic and the rest still run.
type Mutator struct {
	Now     func() time.Time
	Files   FileStore
	Catalog FieldCatalog
}

func (m *Mutator) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Mutator) files() FileStore {
	if m.Files != nil {
		return m.Files
	}
	return nopFiles{}
}

func (m *Mutator) catalog() FieldCatalog {
	if m.Catalog != nil {
		return m.Catalog
	}
	return nopCatalog{}
}

// Apply runs every directive against the target.
func (m *Mutator) Apply(directives []string, t Target, sink DiagnosticSink) {
	if sink == nil {
		sink = NopSink()
	}
	for _, directive := range directives {
		m.apply(directive, t, sink)
	}
}

func (m *Mutator) apply(directive string, t Target, sink DiagnosticSink) {
	switch {
	case strings.HasPrefix(directive, metaSingularise):
		m.setMetaSingle(directive, strings.TrimPrefix(directive, metaSingularise), true, t, sink)
	case strings.HasPrefix(directive, metaPluralise):
		m.setMetaSingle(directive, strings.TrimPrefix(directive, metaPluralise), false, t, sink)
	case strings.HasPrefix(directive, "+"):
		m.addValue(directive, t, sink)
	case strings.HasPrefix(directive, "-"):
		m.removeField(directive, t, sink)
	case strings.Contains(directive, "~>"):
		m.formatAppend(directive, t, sink)
	case strings.Contains(directive, "+>"):
		m.copyField(directive, t, sink)
	case strings.Contains(directive, "->"):
		m.renameField(directive, t, sink)
	case strings.HasSuffix(directive, increaseSuffix):
		m.stepField(directive, strings.TrimSuffix(directive, increaseSuffix), 1, t, sink)
	case strings.HasSuffix(directive, decreaseSuffix):
		m.stepField(directive, strings.TrimSuffix(directive, decreaseSuffix), -1, t, sink)
	case strings.Contains(directive, createMarker):
		m.createField(directive, t, sink)
	default:
		sink.Record(Diagnostic{Directive: directive, Reason: "unrecognized directive"})
	}
}

func (m *Mutator) setMetaSingle(directive, key string, single bool, t Target, sink DiagnosticSink) {
	if t.Meta == nil || !t.Meta.SetSingle(key, single) {
		sink.Record(Diagnostic{Directive: directive, Field: key, Reason: "meta key absent"})
	}
}

func (m *Mutator) addValue(directive string, t Target, sink DiagnosticSink) {
	body := strings.TrimPrefix(directive, "+")
	field, spec, ok := strings.Cut(body, "=")
	if !ok || field == "" {
		sink.Record(Diagnostic{Directive: directive, Reason: "malformed add directive"})
		return
	}
	vals, ok := m.resolveAddValues(spec, t)
	if !ok {
		sink.Record(Diagnostic{Directive: directive, Field: field, Reason: "value source unavailable"})
		return
	}
	t.Payload[field] = append(t.Payload[field], vals...)
}

func (m *Mutator) resolveAddValues(spec string, t Target) ([]Value, bool) {
	switch {
	case spec == "DATETIME_NOW":
		return []Value{String(m.now().Format(time.RFC3339))}, true
	case spec == "DATETIME_NOW_FORMATTED":
		return []Value{String(m.now().Format(datetimeFormat))}, true
	case spec == "ASSET_ID":
		return []Value{Int(t.AssetID)}, true
	case strings.HasPrefix(spec, "BOOL_"):
		b, err := strconv.ParseBool(strings.TrimPrefix(spec, "BOOL_"))
		if err != nil {
			return nil, false
		}
		return []Value{Bool(b)}, true
	case strings.HasPrefix(spec, "INT_"):
		n, err := strconv.ParseInt(strings.TrimPrefix(spec, "INT_"), 10, 64)
		if err != nil {
			return nil, false
		}
		return []Value{Int(n)}, true
	case strings.HasPrefix(spec, metaPrefix):
		if t.Meta == nil {
			return nil, false
		}
		vals, _, ok := t.Meta.Values(strings.TrimPrefix(spec, metaPrefix))
		if !ok {
			return nil, false
		}
		return cloneValues(vals), true
	default:
		return []Value{String(spec)}, true
	}
}

func (m *Mutator) removeField(directive string, t Target, sink DiagnosticSink) {
	field := strings.TrimPrefix(directive, "-")
	vals, ok := t.Payload[field]
	if !ok {
		sink.Record(Diagnostic{Directive: directive, Field: field, Reason: "field absent"})
		return
	}
	m.removeStoredFiles(directive, field, vals, sink)
	delete(t.Payload, field)
}

// removeStoredFiles deletes the backing storage for file-typed values
// before the field itself goes away. Compound fields have their
// file-typed children cleaned first.
func (m *Mutator) removeStoredFiles(directive, field string, vals []Value, sink DiagnosticSink) {
	catalog := m.catalog()
	if catalog.IsFile(field) {
		for _, v := range vals {
			if ref, ok := v.Str(); ok && ref != "" {
				if err := m.files().Remove(ref); err != nil {
					sink.Record(Diagnostic{Directive: directive, Field: field, Reason: fmt.Sprintf("remove file %s: %v", ref, err), External: true})
				}
			}
		}
		return
	}
	children := catalog.FileChildren(field)
	if len(children) == 0 {
		return
	}
	for _, v := range vals {
		for _, child := range children {
			childVals, ok := v.Child(child)
			if !ok {
				continue
			}
			for _, cv := range childVals {
				if ref, ok := cv.Str(); ok && ref != "" {
					if err := m.files().Remove(ref); err != nil {
						sink.Record(Diagnostic{Directive: directive, Field: field + "." + child, Reason: fmt.Sprintf("remove file %s: %v", ref, err), External: true})
					}
				}
			}
		}
	}
}

func (m *Mutator) renameField(directive string, t Target, sink DiagnosticSink) {
	oldRef, newRef, _ := strings.Cut(directive, "->")
	if oldRef == "" || newRef == "" {
		sink.Record(Diagnostic{Directive: directive, Reason: "malformed rename directive"})
		return
	}

	var vals []Value
	var single bool
	if strings.HasPrefix(oldRef, metaPrefix) {
		key := strings.TrimPrefix(oldRef, metaPrefix)
		if t.Meta == nil {
			sink.Record(Diagnostic{Directive: directive, Field: key, Reason: "meta key absent"})
			return
		}
		metaVals, metaSingle, ok := t.Meta.Values(key)
		if !ok {
			sink.Record(Diagnostic{Directive: directive, Field: key, Reason: "meta key absent"})
			return
		}
		vals, single = cloneValues(metaVals), metaSingle
		t.Meta.Delete(key)
	} else {
		payloadVals, ok := t.Payload[oldRef]
		if !ok {
			sink.Record(Diagnostic{Directive: directive, Field: oldRef, Reason: "field absent"})
			return
		}
		vals, single = payloadVals, len(payloadVals) <= 1
		delete(t.Payload, oldRef)
	}

	switch {
	case strings.HasPrefix(newRef, metaPrefix):
		key := strings.TrimPrefix(newRef, metaPrefix)
		if t.Meta == nil {
			sink.Record(Diagnostic{Directive: directive, Field: key, Reason: "no meta target"})
			return
		}
		t.Meta.Set(key, vals, single)
	case strings.Contains(newRef, "."):
		// Renaming into a dotted target wraps every value in a
		// one-key object under the sub-key.
		parent, sub, _ := strings.Cut(newRef, ".")
		wrapped := make([]Value, len(vals))
		for i, v := range vals {
			wrapped[i] = Nested(map[string][]Value{sub: {v}})
		}
		t.Payload[parent] = wrapped
	default:
		t.Payload[newRef] = vals
	}
}

func (m *Mutator) formatAppend(directive string, t Target, sink DiagnosticSink) {
	oldRef, rest, _ := strings.Cut(directive, "~>")
	newRef, format, ok := strings.Cut(rest, formatMarker)
	if !ok || oldRef == "" || newRef == "" {
		sink.Record(Diagnostic{Directive: directive, Reason: "malformed format directive"})
		return
	}
	vals, present := t.Payload[oldRef]
	if !present {
		sink.Record(Diagnostic{Directive: directive, Field: oldRef, Reason: "field absent"})
		return
	}
	target := t.Payload[newRef]
	if len(target) == 0 {
		target = []Value{String("")}
	}
	last, isString := target[len(target)-1].Str()
	if !isString {
		sink.Record(Diagnostic{Directive: directive, Field: newRef, Reason: "target tail is not a string"})
		return
	}
	var rendered strings.Builder
	rendered.WriteString(last)
	for _, v := range vals {
		rendered.WriteString(m.renderFormat(format, v, t))
	}
	target[len(target)-1] = String(rendered.String())
	t.Payload[newRef] = target
	if strings.Contains(format, "%X") {
		delete(t.Payload, oldRef)
	}
}

// renderFormat expands the format operators. %VAR is expanded last so
// operator sequences inside a value stay literal.
func (m *Mutator) renderFormat(format string, v Value, t Target) string {
	out := strings.ReplaceAll(format, "%U", t.Username)
	out = strings.ReplaceAll(out, "%D", m.now().Format(datetimeShortFormat))
	out = strings.ReplaceAll(out, "%X", "")
	out = strings.ReplaceAll(out, "%VAR", v.Text())
	return out
}

func (m *Mutator) copyField(directive string, t Target, sink DiagnosticSink) {
	oldRef, newRef, _ := strings.Cut(directive, "+>")
	if oldRef == "" || newRef == "" {
		sink.Record(Diagnostic{Directive: directive, Reason: "malformed copy directive"})
		return
	}
	vals, ok := t.Payload.Resolve(oldRef)
	if !ok {
		sink.Record(Diagnostic{Directive: directive, Field: oldRef, Reason: "field absent"})
		return
	}
	t.Payload[newRef] = cloneValues(vals)
}

func (m *Mutator) stepField(directive, field string, delta int64, t Target, sink DiagnosticSink) {
	vals, ok := t.Payload[field]
	if !ok {
		sink.Record(Diagnostic{Directive: directive, Field: field, Reason: "field absent"})
		return
	}
	for i, v := range vals {
		if n, isInt := v.IntVal(); isInt {
			vals[i] = Int(n + delta)
		}
	}
}

func (m *Mutator) createField(directive string, t Target, sink DiagnosticSink) {
	field, literal, ok := strings.Cut(directive, createMarker)
	if !ok || field == "" {
		sink.Record(Diagnostic{Directive: directive, Reason: "malformed create directive"})
		return
	}
	if t.Payload.Has(field) {
		return
	}
	t.Payload[field] = []Value{String(literal)}
}
