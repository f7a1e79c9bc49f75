package testsupport

import (
	"context"
	"testing"

	"loom/internal/asset"
	"loom/internal/config"
	"loom/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// Graph is a minimal one-route workflow created for tests: two
// stations bound into a route as two stages.
type Graph struct {
	Type     *asset.AssetType
	Route    *asset.Route
	StationA *asset.Station
	StationB *asset.Station
	StageA   *asset.Stage
	StageB   *asset.Stage
}

// NewGraph seeds the store with a two-stage route. The first stage
// routes unconditionally to the second.
func NewGraph(t testing.TB, st *store.Store) *Graph {
	t.Helper()
	ctx := context.Background()

	typ, err := st.CreateAssetType(ctx, &asset.AssetType{Name: "Article", Sysname: "article"})
	if err != nil {
		t.Fatalf("create asset type: %v", err)
	}
	route, err := st.CreateRoute(ctx, "editorial")
	if err != nil {
		t.Fatalf("create route: %v", err)
	}
	stationA, err := st.CreateStation(ctx, &asset.Station{Name: "Intake"})
	if err != nil {
		t.Fatalf("create station: %v", err)
	}
	stationB, err := st.CreateStation(ctx, &asset.Station{Name: "Review"})
	if err != nil {
		t.Fatalf("create station: %v", err)
	}
	stageA, err := st.CreateStage(ctx, &asset.Stage{
		StationID:         stationA.ID,
		RouteID:           route.ID,
		AllowAddingAssets: true,
	})
	if err != nil {
		t.Fatalf("create stage: %v", err)
	}
	stageB, err := st.CreateStage(ctx, &asset.Stage{
		StationID: stationB.ID,
		RouteID:   route.ID,
	})
	if err != nil {
		t.Fatalf("create stage: %v", err)
	}
	if err := st.UpdateStageRouting(ctx, stageA.ID, []asset.RouteVariant{
		{Destination: asset.Destination{ID: stageB.ID}},
	}); err != nil {
		t.Fatalf("update routing: %v", err)
	}
	stageA.Routing = []asset.RouteVariant{{Destination: asset.Destination{ID: stageB.ID}}}

	return &Graph{Type: typ, Route: route, StationA: stationA, StationB: stationB, StageA: stageA, StageB: stageB}
}

// NewAsset inserts an asset at the graph's first stage.
func NewAsset(t testing.TB, st *store.Store, g *Graph) *asset.Asset {
	t.Helper()
	a, err := st.CreateAsset(context.Background(), &asset.Asset{
		TypeID:  g.Type.ID,
		RouteID: g.Route.ID,
		StageID: g.StageA.ID,
		Meta:    asset.NewMeta(),
	})
	if err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return a
}
