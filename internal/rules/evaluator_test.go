package rules

import (
	"encoding/json"
	"testing"

	"loom/internal/payload"
)

func mustParse(t *testing.T, raw string) Requirement {
	t.Helper()
	var req Requirement
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("parse requirement %s: %v", raw, err)
	}
	return req
}

func TestStringComparisonFoldsCaseAndWhitespace(t *testing.T) {
	req := mustParse(t, `{"sysname":"status","title":"approved","value_equals":"Approved"}`)
	p := payload.Payload{"status": {payload.String("  aPPROVED ")}}

	if !Evaluate(req, p, nil, nil).Validated {
		t.Error("folded string comparison should validate")
	}

	p["status"] = []payload.Value{payload.String("rejected")}
	if Evaluate(req, p, nil, nil).Validated {
		t.Error("different value should not validate")
	}
}

func TestNonStringComparisonIsExact(t *testing.T) {
	req := mustParse(t, `{"sysname":"count","title":"three","value_equals":3}`)

	if !Evaluate(req, payload.Payload{"count": {payload.Int(3)}}, nil, nil).Validated {
		t.Error("3 == 3 should validate")
	}
	if Evaluate(req, payload.Payload{"count": {payload.String("3")}}, nil, nil).Validated {
		t.Error("string \"3\" must not equal integer 3")
	}
}

func TestValueEqualsAny(t *testing.T) {
	req := mustParse(t, `{"sysname":"kind","title":"","value_equals_any":["book","article"]}`)
	p := payload.Payload{"kind": {payload.String("Article")}}

	if !Evaluate(req, p, nil, nil).Validated {
		t.Error("any-match should validate")
	}
}

func TestValueAbsent(t *testing.T) {
	req := mustParse(t, `{"sysname":"rejected","title":"","value_absent":true}`)

	if !Evaluate(req, payload.Payload{}, nil, nil).Validated {
		t.Error("missing field should validate value_absent")
	}
	if Evaluate(req, payload.Payload{"rejected": {payload.Bool(true)}}, nil, nil).Validated {
		t.Error("present field should fail value_absent")
	}
}

func TestValueNotEqualsValidatesOnAbsentField(t *testing.T) {
	req := mustParse(t, `{"sysname":"state","title":"","value_not_equals":"closed"}`)

	if !Evaluate(req, payload.Payload{}, nil, nil).Validated {
		t.Error("absent field differs from any comparand")
	}
	if Evaluate(req, payload.Payload{"state": {payload.String("Closed ")}}, nil, nil).Validated {
		t.Error("matching value should fail value_not_equals")
	}
	if !Evaluate(req, payload.Payload{"state": {payload.String("open")}}, nil, nil).Validated {
		t.Error("different value should validate")
	}
}

func TestValueEqualsPayloadValueComparesFirstItems(t *testing.T) {
	req := mustParse(t, `{"sysname":"confirm","title":"","value_equals_payload_value":"email"}`)
	p := payload.Payload{
		"confirm": {payload.String("a@b.c"), payload.String("other")},
		"email":   {payload.String("A@B.C")},
	}

	if !Evaluate(req, p, nil, nil).Validated {
		t.Error("first items match, should validate")
	}

	p["confirm"] = []payload.Value{payload.String("other"), payload.String("a@b.c")}
	if Evaluate(req, p, nil, nil).Validated {
		t.Error("only first items are compared")
	}
}

func TestValueEqualsPayloadValueMissingSource(t *testing.T) {
	req := mustParse(t, `{"sysname":"confirm","title":"","value_equals_payload_value":"email"}`)
	var sink payload.DiagnosticList

	if Evaluate(req, payload.Payload{"email": {payload.String("x")}}, nil, &sink).Validated {
		t.Error("missing source must not validate")
	}
	if len(sink.Entries()) == 0 {
		t.Error("missing source should leave a diagnostic")
	}
}

func TestOrderedComparisonsNeverValidate(t *testing.T) {
	req := mustParse(t, `{"sysname":"count","title":"","value_greater":2}`)
	var sink payload.DiagnosticList

	if Evaluate(req, payload.Payload{"count": {payload.Int(5)}}, nil, &sink).Validated {
		t.Error("value_greater must never validate")
	}
	if len(sink.Entries()) != 1 {
		t.Fatalf("diagnostics = %v", sink.Entries())
	}
}

func TestItemCounts(t *testing.T) {
	p := payload.Payload{"authors": {payload.String("a"), payload.String("b")}}

	if !Evaluate(mustParse(t, `{"sysname":"authors","title":"","item_count_equals":2}`), p, nil, nil).Validated {
		t.Error("count equals 2 should validate")
	}
	if !Evaluate(mustParse(t, `{"sysname":"authors","title":"","item_count_greater":1}`), p, nil, nil).Validated {
		t.Error("count greater than 1 should validate")
	}
	if Evaluate(mustParse(t, `{"sysname":"authors","title":"","item_count_less":2}`), p, nil, nil).Validated {
		t.Error("count less than 2 should fail")
	}
	if Evaluate(mustParse(t, `{"sysname":"missing","title":"","item_count_less":2}`), payload.Payload{}, nil, nil).Validated {
		t.Error("missing field never satisfies a count")
	}
}

func TestDottedItemCountUsesParentList(t *testing.T) {
	req := mustParse(t, `{"sysname":"pages.image","title":"","item_count_equals":2}`)
	p := payload.Payload{"pages": {
		payload.Nested(map[string][]payload.Value{"image": {payload.String("u1")}}),
		payload.Nested(map[string][]payload.Value{"caption": {payload.String("c")}}),
	}}

	if !Evaluate(req, p, nil, nil).Validated {
		t.Error("dotted count should count the parent list")
	}
}

func TestDottedComparisonMatchesAnyElement(t *testing.T) {
	req := mustParse(t, `{"sysname":"pages.kind","title":"","value_equals":"cover"}`)
	p := payload.Payload{"pages": {
		payload.Nested(map[string][]payload.Value{"kind": {payload.String("body")}}),
		payload.Nested(map[string][]payload.Value{"kind": {payload.String("Cover")}}),
	}}

	if !Evaluate(req, p, nil, nil).Validated {
		t.Error("second element matches, should validate")
	}
}

func TestDottedPresence(t *testing.T) {
	req := mustParse(t, `{"sysname":"pages.kind","title":""}`)
	p := payload.Payload{"pages": {
		payload.Nested(map[string][]payload.Value{"caption": {payload.String("c")}}),
	}}

	if Evaluate(req, p, nil, nil).Validated {
		t.Error("no element has the sub-key")
	}

	p["pages"] = append(p["pages"], payload.Nested(map[string][]payload.Value{"kind": {}}))
	if !Evaluate(req, p, nil, nil).Validated {
		t.Error("sub-key presence should validate")
	}
}

func TestTupleRequirementIsOr(t *testing.T) {
	req := mustParse(t, `{"sysname":["isbn","doi"],"title":"identifier","value_equals":"x"}`)

	p := payload.Payload{"doi": {payload.String("X")}}
	if !Evaluate(req, p, nil, nil).Validated {
		t.Error("second field validates, OR should succeed")
	}
	if Evaluate(req, payload.Payload{}, nil, nil).Validated {
		t.Error("no field validates, OR should fail")
	}
}

func TestPlainPresenceDefault(t *testing.T) {
	req := mustParse(t, `{"sysname":"title","title":"has title"}`)

	res := Evaluate(req, payload.Payload{"title": {payload.String("x")}}, nil, nil)
	if !res.Validated || res.Title != "has title" {
		t.Errorf("result = %+v", res)
	}
	if Evaluate(req, payload.Payload{}, nil, nil).Validated {
		t.Error("missing field fails presence")
	}
}

func TestFormFill(t *testing.T) {
	req := mustParse(t, `{"sysname":"STATION_FORMFILL","title":"form complete"}`)
	required := []string{"title", "pages.caption"}

	p := payload.Payload{
		"title": {payload.String("report")},
		"pages": {
			payload.Nested(map[string][]payload.Value{"caption": {payload.String("front")}}),
		},
	}
	if !Evaluate(req, p, required, nil).Validated {
		t.Error("all required fields filled, should validate")
	}

	p["pages"] = append(p["pages"], payload.Nested(map[string][]payload.Value{"caption": {payload.String("  ")}}))
	if Evaluate(req, p, required, nil).Validated {
		t.Error("blank sub-key on one element should fail")
	}

	delete(p, "title")
	if Evaluate(req, p, required, nil).Validated {
		t.Error("missing required field should fail")
	}
}
