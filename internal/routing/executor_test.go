package routing_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"loom/internal/asset"
	"loom/internal/notify"
	"loom/internal/payload"
	"loom/internal/routing"
	"loom/internal/rules"
	"loom/internal/store"
	"loom/internal/testsupport"
)

func newExecutor(t *testing.T, st *store.Store, recorder *notify.Recorder, maxHops int) *routing.Executor {
	t.Helper()
	return &routing.Executor{
		Store:    st,
		Notifier: recorder,
		MaxHops:  maxHops,
	}
}

func setRouting(t *testing.T, st *store.Store, stageID int64, variants []asset.RouteVariant) {
	t.Helper()
	if err := st.UpdateStageRouting(context.Background(), stageID, variants); err != nil {
		t.Fatalf("UpdateStageRouting: %v", err)
	}
}

func requireEquals(field, want string) rules.Requirement {
	return rules.Requirement{
		Fields:  []string{field},
		Title:   field,
		Compare: rules.Comparison{Op: rules.CompareEquals, Value: payload.String(want)},
	}
}

func TestAutoRouteMovesValidatedAsset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: g.StageB.ID}, AutoRoute: true},
	})
	a := testsupport.NewAsset(t, st, g)

	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	got, err := exec.AutoRoute(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.StageID != g.StageB.ID {
		t.Fatalf("asset at stage %d, want %d", got.StageID, g.StageB.ID)
	}

	rec, err := st.LatestTransition(context.Background(), a.ID)
	if err != nil || rec == nil {
		t.Fatalf("LatestTransition = %#v, err = %v", rec, err)
	}
	if rec.FromStageID != g.StageA.ID || rec.ToStageID != g.StageB.ID || rec.Rewind {
		t.Errorf("record = %#v", rec)
	}
}

func TestAutoRouteSkipsNonAutoVariants(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	// Validated but manual: the chain must not take it.
	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: g.StageB.ID}},
	})
	a := testsupport.NewAsset(t, st, g)

	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	got, err := exec.AutoRoute(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.StageID != g.StageA.ID {
		t.Errorf("asset moved to %d without auto_route", got.StageID)
	}
}

func TestAutoRouteBlockedByRequirement(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{
			Destination:  asset.Destination{ID: g.StageB.ID},
			AutoRoute:    true,
			Requirements: []rules.Requirement{requireEquals("state", "approved")},
		},
	})
	a := testsupport.NewAsset(t, st, g)

	ctx := context.Background()
	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	got, err := exec.AutoRoute(ctx, a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.StageID != g.StageA.ID {
		t.Fatal("unvalidated variant must not move the asset")
	}

	// Satisfy the requirement and route again.
	got.Payload["state"] = []payload.Value{payload.String("approved")}
	if err := st.UpdateAsset(ctx, got); err != nil {
		t.Fatalf("UpdateAsset: %v", err)
	}
	got, err = exec.AutoRoute(ctx, a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.StageID != g.StageB.ID {
		t.Errorf("asset at %d, want %d", got.StageID, g.StageB.ID)
	}
}

func TestSubmitRequiresValidatedDestination(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{
			Destination:  asset.Destination{ID: g.StageB.ID},
			Requirements: []rules.Requirement{requireEquals("state", "approved")},
		},
	})
	a := testsupport.NewAsset(t, st, g)

	ctx := context.Background()
	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	if _, err := exec.Submit(ctx, a.ID, asset.Destination{ID: g.StageB.ID}, false); !errors.Is(err, asset.ErrTransitionFailed) {
		t.Fatalf("err = %v, want transition failure", err)
	}

	loaded, err := st.AssetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	loaded.Payload["state"] = []payload.Value{payload.String("approved")}
	if err := st.UpdateAsset(ctx, loaded); err != nil {
		t.Fatal(err)
	}
	got, err := exec.Submit(ctx, a.ID, asset.Destination{ID: g.StageB.ID}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.StageID != g.StageB.ID {
		t.Errorf("asset at %d", got.StageID)
	}
}

func TestFieldOverridesChangeFormFillGate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	ctx := context.Background()
	g.StationA.AllowFieldOverrides = true
	g.StationA.FieldTemplates = map[string]asset.FieldTemplate{
		"article": {Editable: []string{"title"}, Required: []string{"title"}},
	}
	if err := st.UpdateStation(ctx, g.StationA); err != nil {
		t.Fatalf("UpdateStation: %v", err)
	}
	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{
			Destination: asset.Destination{ID: g.StageB.ID},
			Requirements: []rules.Requirement{
				{Fields: []string{rules.FormFillField}, Title: "form complete"},
			},
		},
	})
	a := testsupport.NewAsset(t, st, g)

	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	if _, err := exec.Submit(ctx, a.ID, asset.Destination{ID: g.StageB.ID}, false); !errors.Is(err, asset.ErrTransitionFailed) {
		t.Fatalf("err = %v, want transition failure while title is blank", err)
	}

	// The override swaps the required set from title to notes.
	loaded, err := st.AssetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	loaded.Payload[asset.FieldOverridesField] = []payload.Value{payload.String("notes*")}
	loaded.Payload["notes"] = []payload.Value{payload.String("ready for review")}
	if err := st.UpdateAsset(ctx, loaded); err != nil {
		t.Fatal(err)
	}
	got, err := exec.Submit(ctx, a.ID, asset.Destination{ID: g.StageB.ID}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.StageID != g.StageB.ID {
		t.Errorf("asset at %d, want %d", got.StageID, g.StageB.ID)
	}
}

func TestSameStageTransitionMutatesWithoutRecord(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{
			Destination:          asset.Destination{ID: g.StageA.ID},
			AutoRoute:            true,
			PayloadModifications: []string{"+touched=BOOL_true"},
		},
	})
	a := testsupport.NewAsset(t, st, g)

	ctx := context.Background()
	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	got, err := exec.AutoRoute(ctx, a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.StageID != g.StageA.ID {
		t.Fatalf("asset left its stage: %d", got.StageID)
	}
	if v, ok := got.Payload.First("touched"); !ok || v.Text() != "true" {
		t.Errorf("payload modification lost: %#v", got.Payload)
	}
	if rec, err := st.LatestTransition(ctx, a.ID); err != nil || rec != nil {
		t.Errorf("same-stage transition wrote a record: %#v, err = %v", rec, err)
	}
	if got.Operator != "" {
		t.Errorf("same-stage transition assigned operator %q", got.Operator)
	}
}

func TestMultiHopChainAndSuspend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	ctx := context.Background()
	stationC, err := st.CreateStation(ctx, &asset.Station{Name: "Archive"})
	if err != nil {
		t.Fatal(err)
	}
	stageC, err := st.CreateStage(ctx, &asset.Stage{StationID: stationC.ID, RouteID: g.Route.ID})
	if err != nil {
		t.Fatal(err)
	}

	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: g.StageB.ID}, AutoRoute: true},
	})
	setRouting(t, st, g.StageB.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: stageC.ID}, AutoRoute: true},
	})

	a := testsupport.NewAsset(t, st, g)
	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	got, err := exec.AutoRoute(ctx, a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.StageID != stageC.ID {
		t.Fatalf("asset at %d, want chained to %d", got.StageID, stageC.ID)
	}
	records, err := st.TransitionsForAsset(ctx, a.ID)
	if err != nil || len(records) != 2 {
		t.Fatalf("records = %d, err = %v", len(records), err)
	}

	// With suspension on the first hop the chain stops at B.
	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: g.StageB.ID}, AutoRoute: true, SuspendFurtherRouting: true},
	})
	b := testsupport.NewAsset(t, st, g)
	got, err = exec.AutoRoute(ctx, b.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.StageID != g.StageB.ID {
		t.Errorf("suspended chain ended at %d, want %d", got.StageID, g.StageB.ID)
	}
}

func TestHopBoundTripsOnCycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: g.StageB.ID}, AutoRoute: true},
	})
	setRouting(t, st, g.StageB.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: g.StageA.ID}, AutoRoute: true},
	})
	a := testsupport.NewAsset(t, st, g)

	exec := newExecutor(t, st, &notify.Recorder{}, 4)
	if _, err := exec.AutoRoute(context.Background(), a.ID); !errors.Is(err, asset.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration defect", err)
	}
}

func TestReturnSentinelLeadsBack(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	ctx := context.Background()
	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: g.StageB.ID}, AutoRoute: true},
	})
	setRouting(t, st, g.StageB.ID, []asset.RouteVariant{
		{Destination: asset.Destination{Return: true}},
	})
	a := testsupport.NewAsset(t, st, g)

	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	if _, err := exec.AutoRoute(ctx, a.ID); err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}

	// Suspend the chain so the hop back to A is observable before
	// A's auto variant fires again.
	got, err := exec.Submit(ctx, a.ID, asset.Destination{Return: true}, true)
	if err != nil {
		t.Fatalf("Submit return: %v", err)
	}
	if got.StageID != g.StageA.ID {
		t.Errorf("return landed at %d, want %d", got.StageID, g.StageA.ID)
	}
}

func TestReturnSentinelWithoutHistoryFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{Destination: asset.Destination{Return: true}, AutoRoute: true},
	})
	a := testsupport.NewAsset(t, st, g)

	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	got, err := exec.AutoRoute(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.StageID != g.StageA.ID {
		t.Error("unresolvable return sentinel must not move the asset")
	}

	if _, err := exec.Submit(context.Background(), a.ID, asset.Destination{Return: true}, false); !errors.Is(err, asset.ErrConfiguration) {
		t.Fatalf("err = %v, want configuration defect", err)
	}
}

func TestForceReturnVoidsOtherDestinations(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	ctx := context.Background()
	forced, err := st.CreateStation(ctx, &asset.Station{Name: "Gate", ForceReturn: true})
	if err != nil {
		t.Fatal(err)
	}
	gateStage, err := st.CreateStage(ctx, &asset.Stage{StationID: forced.ID, RouteID: g.Route.ID})
	if err != nil {
		t.Fatal(err)
	}
	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: gateStage.ID}, AutoRoute: true},
	})
	setRouting(t, st, gateStage.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: g.StageB.ID}, AutoRoute: true},
		{Destination: asset.Destination{Return: true}, AutoRoute: true, SuspendFurtherRouting: true},
	})
	a := testsupport.NewAsset(t, st, g)

	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	got, err := exec.AutoRoute(ctx, a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	// The forward variant to B is voided; only the return variant
	// survives, so the asset bounces back to A.
	if got.StageID != g.StageA.ID {
		t.Errorf("asset at %d, want forced back to %d", got.StageID, g.StageA.ID)
	}
}

func TestTypeModifications(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	ctx := context.Background()
	other, err := st.CreateAssetType(ctx, &asset.AssetType{Name: "Preprint", Sysname: "preprint"})
	if err != nil {
		t.Fatal(err)
	}

	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{
			Destination:       asset.Destination{ID: g.StageB.ID},
			AutoRoute:         true,
			TypeModifications: []string{"*->" + strconv.FormatInt(other.ID, 10)},
		},
	})
	a := testsupport.NewAsset(t, st, g)

	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	got, err := exec.AutoRoute(ctx, a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.TypeID != other.ID {
		t.Errorf("type = %d, want %d", got.TypeID, other.ID)
	}
}

func TestNotificationsDeliveredAndCached(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	ctx := context.Background()
	// Source fires after departure, destination before arrival.
	g.StationA.Notifications = []asset.NotificationSpec{
		{Channel: asset.ChannelEmail, Timing: asset.NotifyAfter, Title: "left {#ASSET_STATION_NAME#}", Message: "gone", Address: "a@example.org"},
		{Channel: asset.ChannelEmail, Timing: asset.NotifyBefore, Title: "ignored", Message: "", Address: "x@example.org"},
	}
	if err := st.UpdateStation(ctx, g.StationA); err != nil {
		t.Fatal(err)
	}

	variant := asset.RouteVariant{
		Destination: asset.Destination{ID: g.StageB.ID},
		AutoRoute:   true,
		RouteNotifications: []asset.NotificationSpec{
			{Channel: asset.ChannelWeb, Title: "asset {#ASSET_ID#}", Message: "moved", Address: "ops"},
		},
	}
	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{variant})
	a := testsupport.NewAsset(t, st, g)

	recorder := &notify.Recorder{}
	exec := newExecutor(t, st, recorder, 8)
	if _, err := exec.AutoRoute(ctx, a.ID); err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}

	msgs := recorder.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want source-after plus variant", len(msgs))
	}
	if msgs[0].Channel != asset.ChannelEmail || msgs[0].To != "a@example.org" {
		t.Errorf("after message = %#v", msgs[0])
	}
	if msgs[1].Channel != asset.ChannelWeb || msgs[1].To != "ops" {
		t.Errorf("variant message = %#v", msgs[1])
	}
	if want := "asset " + strconv.FormatInt(a.ID, 10); msgs[1].Title != want {
		t.Errorf("title = %q, want %q", msgs[1].Title, want)
	}

	rec, err := st.LatestTransition(ctx, a.ID)
	if err != nil || rec == nil {
		t.Fatal(err)
	}
	if len(rec.Notifications) != 2 {
		t.Fatalf("cached results = %#v", rec.Notifications)
	}
	for _, res := range rec.Notifications {
		if !res.Sent {
			t.Errorf("result not sent: %#v", res)
		}
	}
}

func TestFailedDeliveryFlagsAssetHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	ctx := context.Background()
	g.StationB.Notifications = []asset.NotificationSpec{
		{Channel: asset.ChannelEmail, Timing: asset.NotifyBefore, Title: "incoming", Message: "m", Address: "desk@example.org"},
	}
	if err := st.UpdateStation(ctx, g.StationB); err != nil {
		t.Fatal(err)
	}
	a := testsupport.NewAsset(t, st, g)

	exec := newExecutor(t, st, &notify.Recorder{Err: errors.New("gateway offline")}, 8)
	got, err := exec.Submit(ctx, a.ID, asset.Destination{ID: g.StageB.ID}, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.StageID != g.StageB.ID {
		t.Fatalf("asset at %d, the hop must survive the delivery failure", got.StageID)
	}

	rec, err := st.LatestTransition(ctx, a.ID)
	if err != nil || rec == nil {
		t.Fatal(err)
	}
	if len(rec.Notifications) != 1 || rec.Notifications[0].Sent {
		t.Errorf("cached results = %#v, want one failed delivery", rec.Notifications)
	}

	fresh, err := st.AssetByID(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !fresh.Payload.Has(asset.ExternalErrorField) {
		t.Error("external error payload flag missing")
	}
	last := fresh.Meta.History[len(fresh.Meta.History)-1]
	if last.Action != asset.HistoryError || !strings.Contains(last.Detail, "gateway offline") {
		t.Errorf("last history entry = %#v", last)
	}
}

func TestFileFieldRemovalWithoutStorage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	g := testsupport.NewGraph(t, st)

	ctx := context.Background()
	if err := st.UpsertField(ctx, &asset.FieldDef{Sysname: "scan", IsFile: true}); err != nil {
		t.Fatal(err)
	}
	setRouting(t, st, g.StageA.ID, []asset.RouteVariant{
		{
			Destination:          asset.Destination{ID: g.StageB.ID},
			AutoRoute:            true,
			PayloadModifications: []string{"-scan"},
		},
	})
	a := testsupport.NewAsset(t, st, g)
	a.Payload["scan"] = []payload.Value{payload.String("ref-1")}
	if err := st.UpdateAsset(ctx, a); err != nil {
		t.Fatal(err)
	}

	// No file store wired: the directive must still drop the field
	// instead of dereferencing a nil store.
	exec := newExecutor(t, st, &notify.Recorder{}, 8)
	got, err := exec.AutoRoute(ctx, a.ID)
	if err != nil {
		t.Fatalf("AutoRoute: %v", err)
	}
	if got.Payload.Has("scan") {
		t.Error("scan should be removed")
	}
	if got.StageID != g.StageB.ID {
		t.Errorf("asset at %d, want %d", got.StageID, g.StageB.ID)
	}
}
