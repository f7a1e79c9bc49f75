package payload

import (
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeMeta struct {
	vals   map[string][]Value
	single map[string]bool
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{vals: map[string][]Value{}, single: map[string]bool{}}
}

func (f *fakeMeta) Values(key string) ([]Value, bool, bool) {
	vals, ok := f.vals[key]
	return vals, f.single[key], ok
}

func (f *fakeMeta) Set(key string, vals []Value, single bool) {
	f.vals[key] = vals
	f.single[key] = single
}

func (f *fakeMeta) Delete(key string) {
	delete(f.vals, key)
	delete(f.single, key)
}

func (f *fakeMeta) SetSingle(key string, single bool) bool {
	if _, ok := f.vals[key]; !ok {
		return false
	}
	f.single[key] = single
	return true
}

type recordingFiles struct {
	removed []string
}

func (r *recordingFiles) Remove(ref string) error {
	r.removed = append(r.removed, ref)
	return nil
}

type mapCatalog struct {
	files    map[string]bool
	children map[string][]string
}

func (c mapCatalog) IsFile(field string) bool           { return c.files[field] }
func (c mapCatalog) FileChildren(field string) []string { return c.children[field] }

var errTestStorage = errors.New("disk gone")

type failingFiles struct {
	err error
}

func (f failingFiles) Remove(string) error { return f.err }

func fixedClock() time.Time {
	return time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
}

func newTarget(p Payload) Target {
	return Target{AssetID: 42, Username: "kim", Payload: p, Meta: newFakeMeta()}
}

func TestAddValueForms(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{}
	target := newTarget(p)
	target.Meta.Set("origin", []Value{String("scanner")}, true)

	m.Apply([]string{
		"+status=open",
		"+checked=BOOL_true",
		"+attempts=INT_3",
		"+stamped=DATETIME_NOW_FORMATTED",
		"+self=ASSET_ID",
		"+source=#META#origin",
	}, target, nil)

	if got, _ := p.First("status"); got.Text() != "open" {
		t.Errorf("status = %q", got.Text())
	}
	if got, _ := p.First("checked"); got.Text() != "true" {
		t.Errorf("checked = %q", got.Text())
	}
	if got, _ := p.First("attempts"); !got.Equal(Int(3)) {
		t.Errorf("attempts = %v", got)
	}
	if got, _ := p.First("stamped"); got.Text() != "15.03.2024 09:30:00" {
		t.Errorf("stamped = %q", got.Text())
	}
	if got, _ := p.First("self"); !got.Equal(Int(42)) {
		t.Errorf("self = %v", got)
	}
	if got, _ := p.First("source"); got.Text() != "scanner" {
		t.Errorf("source = %q", got.Text())
	}
}

func TestAddValueAppendsOnRepeat(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{}
	target := newTarget(p)

	m.Apply([]string{"+tag=red", "+tag=red"}, target, nil)

	if len(p["tag"]) != 2 {
		t.Fatalf("tag has %d values, want 2", len(p["tag"]))
	}
}

func TestAddValueMissingMetaSkips(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{}
	var sink DiagnosticList

	m.Apply([]string{"+source=#META#missing"}, newTarget(p), &sink)

	if p.Has("source") {
		t.Error("source should not be set")
	}
	if len(sink.Entries()) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(sink.Entries()))
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{}
	target := newTarget(p)

	m.Apply([]string{"state#CREATE:new", "state#CREATE:other"}, target, nil)

	vals := p["state"]
	if len(vals) != 1 || vals[0].Text() != "new" {
		t.Fatalf("state = %v, want single \"new\"", vals)
	}
}

func TestRemoveFileFieldDeletesStorage(t *testing.T) {
	files := &recordingFiles{}
	m := &Mutator{
		Now:     fixedClock,
		Files:   files,
		Catalog: mapCatalog{files: map[string]bool{"scan": true}},
	}
	p := Payload{"scan": {String("uuid-1"), String("uuid-2")}}

	m.Apply([]string{"-scan"}, newTarget(p), nil)

	if p.Has("scan") {
		t.Error("scan still present")
	}
	if len(files.removed) != 2 || files.removed[0] != "uuid-1" {
		t.Errorf("removed = %v", files.removed)
	}
}

func TestRemoveCompoundFieldDeletesChildFiles(t *testing.T) {
	files := &recordingFiles{}
	m := &Mutator{
		Now:     fixedClock,
		Files:   files,
		Catalog: mapCatalog{children: map[string][]string{"pages": {"image"}}},
	}
	p := Payload{"pages": {
		Nested(map[string][]Value{"image": {String("uuid-a")}, "caption": {String("front")}}),
		Nested(map[string][]Value{"image": {String("uuid-b")}}),
	}}

	m.Apply([]string{"-pages"}, newTarget(p), nil)

	if p.Has("pages") {
		t.Error("pages still present")
	}
	if len(files.removed) != 2 {
		t.Errorf("removed = %v", files.removed)
	}
}

func TestRemoveFileFailureIsExternalDiagnostic(t *testing.T) {
	m := &Mutator{
		Now:     fixedClock,
		Files:   failingFiles{err: errTestStorage},
		Catalog: mapCatalog{files: map[string]bool{"scan": true}},
	}
	p := Payload{"scan": {String("uuid-1")}}
	var sink DiagnosticList

	m.Apply([]string{"-scan"}, newTarget(p), &sink)

	// The field still goes away; only the backing storage lingers.
	if p.Has("scan") {
		t.Error("scan still present")
	}
	entries := sink.Entries()
	if len(entries) != 1 {
		t.Fatalf("diagnostics = %+v, want 1", entries)
	}
	if !entries[0].External || !strings.Contains(entries[0].Reason, "disk gone") {
		t.Errorf("diagnostic = %+v, want external storage failure", entries[0])
	}
}

func TestRenamePlain(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{"draft": {String("v1"), String("v2")}}

	m.Apply([]string{"draft->final"}, newTarget(p), nil)

	if p.Has("draft") {
		t.Error("draft still present")
	}
	if len(p["final"]) != 2 {
		t.Errorf("final = %v", p["final"])
	}
}

func TestRenameIntoDottedTargetWrapsValues(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{"names": {String("ada"), String("grace")}}

	m.Apply([]string{"names->people.name"}, newTarget(p), nil)

	vals := p["people"]
	if len(vals) != 2 {
		t.Fatalf("people = %v", vals)
	}
	child, ok := vals[0].Child("name")
	if !ok || len(child) != 1 || child[0].Text() != "ada" {
		t.Errorf("first wrapped element = %v", vals[0])
	}
}

func TestRenameBetweenMetaAndPayload(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{"note": {String("keep")}}
	target := newTarget(p)
	target.Meta.Set("batch", []Value{String("b-7")}, true)

	m.Apply([]string{"#META#batch->batch_no", "note->#META#note"}, target, nil)

	if got, _ := p.First("batch_no"); got.Text() != "b-7" {
		t.Errorf("batch_no = %q", got.Text())
	}
	if _, _, ok := target.Meta.Values("batch"); ok {
		t.Error("meta batch should be gone")
	}
	if p.Has("note") {
		t.Error("payload note should be gone")
	}
	if vals, _, ok := target.Meta.Values("note"); !ok || vals[0].Text() != "keep" {
		t.Errorf("meta note = %v ok=%v", vals, ok)
	}
}

func TestFormatAppend(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{
		"comment": {String("needs review")},
		"log":     {String("start. ")},
	}
	target := newTarget(p)

	m.Apply([]string{"comment~>log#FORMAT:%U @ %D: %VAR%X"}, target, nil)

	got, _ := p.First("log")
	want := "start. kim @ 15.03.2024 09:30: needs review"
	if got.Text() != want {
		t.Errorf("log = %q, want %q", got.Text(), want)
	}
	if p.Has("comment") {
		t.Error("the delete marker should remove the source field")
	}
}

func TestFormatAppendCreatesTarget(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{"comment": {String("hi")}}

	m.Apply([]string{"comment~>log#FORMAT:%VAR"}, newTarget(p), nil)

	got, _ := p.First("log")
	if got.Text() != "hi" {
		t.Errorf("log = %q", got.Text())
	}
	if !p.Has("comment") {
		t.Error("comment should survive a format without the delete marker")
	}
}

func TestCopyDottedSource(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{"people": {
		Nested(map[string][]Value{"name": {String("ada")}}),
		Nested(map[string][]Value{"name": {String("grace")}}),
	}}

	m.Apply([]string{"people.name+>names"}, newTarget(p), nil)

	if len(p["names"]) != 2 || p["names"][1].Text() != "grace" {
		t.Errorf("names = %v", p["names"])
	}
	if len(p["people"]) != 2 {
		t.Error("source must be untouched")
	}
}

func TestIncreaseDecreaseTouchOnlyIntegers(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{"counter": {Int(3), String("n/a"), Int(10)}}

	m.Apply([]string{"counter#INCREASE", "counter#INCREASE", "counter#DECREASE"}, newTarget(p), nil)

	vals := p["counter"]
	if !vals[0].Equal(Int(4)) || !vals[2].Equal(Int(11)) {
		t.Errorf("counter = %v", vals)
	}
	if vals[1].Text() != "n/a" {
		t.Errorf("non-integer value changed: %v", vals[1])
	}
}

func TestMetaSingularisePluralise(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	target := newTarget(Payload{})
	target.Meta.Set("authors", []Value{String("ada"), String("grace")}, false)

	m.Apply([]string{"#META_SINGULARISE#authors"}, target, nil)
	if _, single, _ := target.Meta.Values("authors"); !single {
		t.Error("authors should be singular")
	}

	m.Apply([]string{"#META_PLURALISE#authors"}, target, nil)
	if _, single, _ := target.Meta.Values("authors"); single {
		t.Error("authors should be plural again")
	}
}

func TestUnrecognizedDirectiveDiagnostic(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	var sink DiagnosticList

	m.Apply([]string{"???"}, newTarget(Payload{}), &sink)

	entries := sink.Entries()
	if len(entries) != 1 || !strings.Contains(entries[0].Reason, "unrecognized") {
		t.Fatalf("diagnostics = %v", entries)
	}
}

func TestDirectivesRunInOrderAndSkipFailures(t *testing.T) {
	m := &Mutator{Now: fixedClock}
	p := Payload{}
	var sink DiagnosticList

	m.Apply([]string{
		"+stage=intake",
		"missing->elsewhere",
		"stage->state",
		"+state=done",
	}, newTarget(p), &sink)

	if len(sink.Entries()) != 1 {
		t.Fatalf("diagnostics = %v", sink.Entries())
	}
	vals := p["state"]
	if len(vals) != 2 || vals[0].Text() != "intake" || vals[1].Text() != "done" {
		t.Fatalf("state = %v", vals)
	}
}
