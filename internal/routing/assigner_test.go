package routing_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"loom/internal/asset"
	"loom/internal/notify"
	"loom/internal/routing"
	"loom/internal/store"
	"loom/internal/testsupport"
)

func newAssigner(st *store.Store, recorder *notify.Recorder) *routing.Assigner {
	return &routing.Assigner{Store: st, Notifier: recorder}
}

func mannedStation(t *testing.T, st *store.Store, mutate func(*asset.Station)) (*asset.Station, *asset.Stage) {
	t.Helper()
	ctx := context.Background()
	route, err := st.CreateRoute(ctx, "staffing")
	if err != nil {
		t.Fatal(err)
	}
	station := &asset.Station{
		Name:       "Desk",
		Operators:  []string{"ada", "ben", "cyd"},
		AutoAssign: true,
	}
	if mutate != nil {
		mutate(station)
	}
	station, err = st.CreateStation(ctx, station)
	if err != nil {
		t.Fatal(err)
	}
	stage, err := st.CreateStage(ctx, &asset.Stage{StationID: station.ID, RouteID: route.ID})
	if err != nil {
		t.Fatal(err)
	}
	return station, stage
}

func stageAsset(t *testing.T, st *store.Store, stage *asset.Stage, operator string) *asset.Asset {
	t.Helper()
	typ, err := st.AssetTypeBySysname(context.Background(), "thing")
	if err != nil {
		t.Fatal(err)
	}
	if typ == nil {
		typ, err = st.CreateAssetType(context.Background(), &asset.AssetType{Name: "Thing", Sysname: "thing"})
		if err != nil {
			t.Fatal(err)
		}
	}
	a, err := st.CreateAsset(context.Background(), &asset.Asset{
		TypeID:   typ.ID,
		RouteID:  stage.RouteID,
		StageID:  stage.ID,
		Operator: operator,
		Meta:     asset.NewMeta(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestBalancedRoundRobinWithWraparound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, nil)

	ctx := context.Background()
	as := newAssigner(st, &notify.Recorder{})
	var got []string
	for i := 0; i < 4; i++ {
		a := stageAsset(t, st, stage, "")
		// Reload the station so the persisted cursor drives each
		// pick, as it does across separate transitions.
		fresh, err := st.StationByID(ctx, station.ID)
		if err != nil {
			t.Fatal(err)
		}
		if err := as.Assign(ctx, a, stage, fresh, ""); err != nil {
			t.Fatalf("Assign: %v", err)
		}
		got = append(got, a.Operator)
	}
	want := []string{"ada", "ben", "cyd", "ada"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("assignment order = %v, want %v", got, want)
		}
	}
}

func TestBalancedInvalidCursorResets(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, nil)

	ctx := context.Background()
	if err := st.SetLastAssignment(ctx, station.ID, "departed"); err != nil {
		t.Fatal(err)
	}
	station, err := st.StationByID(ctx, station.ID)
	if err != nil {
		t.Fatal(err)
	}

	a := stageAsset(t, st, stage, "")
	as := newAssigner(st, &notify.Recorder{})
	if err := as.Assign(ctx, a, stage, station, ""); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Operator != "ada" {
		t.Errorf("operator = %q, want rotation reset to ada", a.Operator)
	}
}

func TestEncourageKeepsValidOperator(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, nil)

	ctx := context.Background()
	a := stageAsset(t, st, stage, "ben")
	as := newAssigner(st, &notify.Recorder{})
	if err := as.Assign(ctx, a, stage, station, ""); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Operator != "ben" {
		t.Errorf("operator = %q, want current kept", a.Operator)
	}
}

func TestDeprecateExcludesCurrentOperator(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, func(s *asset.Station) {
		s.SameOperatorMode = asset.SameOperatorDeprecate
	})

	ctx := context.Background()
	a := stageAsset(t, st, stage, "ada")
	as := newAssigner(st, &notify.Recorder{})
	if err := as.Assign(ctx, a, stage, station, ""); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Operator == "ada" || a.Operator == "" {
		t.Errorf("operator = %q, want a different one", a.Operator)
	}
}

func TestLeastBusyPicksLightestLoad(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, func(s *asset.Station) {
		s.AssignMode = asset.AssignLeastBusy
	})

	ctx := context.Background()
	// ada carries two assets, ben one, cyd none.
	stageAsset(t, st, stage, "ada")
	stageAsset(t, st, stage, "ada")
	stageAsset(t, st, stage, "ben")

	a := stageAsset(t, st, stage, "")
	as := newAssigner(st, &notify.Recorder{})
	if err := as.Assign(ctx, a, stage, station, ""); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Operator != "cyd" {
		t.Errorf("operator = %q, want least busy cyd", a.Operator)
	}
}

func TestReassignOnReturn(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, func(s *asset.Station) {
		s.ReassignOnReturn = true
		s.AutoAssign = false
	})

	ctx := context.Background()
	a := stageAsset(t, st, stage, "")
	if _, err := st.AppendTransition(ctx, &asset.TransitionRecord{
		RouteID:     stage.RouteID,
		FromStageID: stage.ID + 100,
		ToStageID:   stage.ID,
		AssetID:     a.ID,
		Operator:    "ben",
		RecordedAt:  time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	as := newAssigner(st, &notify.Recorder{})
	if err := as.Assign(ctx, a, stage, station, ""); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Operator != "ben" {
		t.Errorf("operator = %q, want returning operator ben", a.Operator)
	}
}

func TestCreatorAssignment(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, func(s *asset.Station) {
		s.CreatorOperator = true
	})

	ctx := context.Background()
	creator, err := st.CreateUser(ctx, &asset.User{Username: "dana"})
	if err != nil {
		t.Fatal(err)
	}
	a := stageAsset(t, st, stage, "")
	a.Meta.Creator = creator.ID
	if err := st.UpdateAsset(ctx, a); err != nil {
		t.Fatal(err)
	}

	as := newAssigner(st, &notify.Recorder{})
	if err := as.Assign(ctx, a, stage, station, ""); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Operator != "dana" {
		t.Errorf("operator = %q, want creator dana", a.Operator)
	}
}

func TestManualStationClearsOperator(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, func(s *asset.Station) {
		s.AutoAssign = false
	})

	ctx := context.Background()
	a := stageAsset(t, st, stage, "ada")
	as := newAssigner(st, &notify.Recorder{})
	if err := as.Assign(ctx, a, stage, station, ""); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Operator != "" {
		t.Errorf("operator = %q, want cleared", a.Operator)
	}

	// Even a cleared assignment leaves a history entry.
	fresh, err := st.AssetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	last := fresh.Meta.History[len(fresh.Meta.History)-1]
	if last.Action != asset.HistoryAssigned || last.Operator != "" {
		t.Errorf("history entry = %#v", last)
	}
}

func TestRewindTargetWinsAndNotifies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, func(s *asset.Station) {
		s.NotifyOperator = true
	})

	ctx := context.Background()
	if _, err := st.CreateUser(ctx, &asset.User{Username: "ben", Email: "ben@example.org"}); err != nil {
		t.Fatal(err)
	}
	a := stageAsset(t, st, stage, "")

	recorder := &notify.Recorder{}
	as := newAssigner(st, recorder)
	if err := as.Assign(ctx, a, stage, station, "ben"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Operator != "ben" {
		t.Errorf("operator = %q, want rewind target", a.Operator)
	}

	msgs := recorder.Messages()
	if len(msgs) != 1 || msgs[0].To != "ben@example.org" {
		t.Errorf("messages = %#v, want one to the operator's address", msgs)
	}
}

func TestFailedOperatorNotificationFlagsAsset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	station, stage := mannedStation(t, st, func(s *asset.Station) {
		s.NotifyOperator = true
	})

	ctx := context.Background()
	a := stageAsset(t, st, stage, "")
	as := newAssigner(st, &notify.Recorder{Err: errors.New("relay down")})
	if err := as.Assign(ctx, a, stage, station, ""); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if a.Operator != "ada" {
		t.Fatalf("operator = %q, want assignment to survive the failure", a.Operator)
	}

	fresh, err := st.AssetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh.Payload.Has(asset.ExternalErrorField) {
		t.Error("external error payload flag missing")
	}
	last := fresh.Meta.History[len(fresh.Meta.History)-1]
	if last.Action != asset.HistoryError || !strings.Contains(last.Detail, "relay down") {
		t.Errorf("last history entry = %#v", last)
	}
}
