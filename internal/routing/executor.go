package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"loom/internal/asset"
	"loom/internal/config"
	"loom/internal/files"
	"loom/internal/logging"
	"loom/internal/notify"
	"loom/internal/payload"
	"loom/internal/store"
)

// ConvertFunc schedules a background file conversion for an asset.
// The workflow manager wires it; the converter re-enters routing when
// it finishes.
type ConvertFunc func(assetID int64)

// Executor commits transitions. One call to Submit or AutoRoute runs
// a full transition chain synchronously; callers are expected to
// serialize chains per asset.
type Executor struct {
	Store    *store.Store
	Files    *files.Store
	Notifier notify.Service
	Logger   *slog.Logger
	MaxHops  int
	Now      func() time.Time
	Convert  ConvertFunc

	resolver Resolver
}

// NewExecutor wires an executor from its collaborators. The hop
// bound comes from configuration.
func NewExecutor(cfg *config.Config, st *store.Store, fs *files.Store, notifier notify.Service, logger *slog.Logger) *Executor {
	return &Executor{
		Store:    st,
		Files:    fs,
		Notifier: notifier,
		Logger:   logger,
		MaxHops:  cfg.Engine.MaxTransitionHops,
		resolver: Resolver{Store: st},
	}
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.NewNop()
}

func (e *Executor) maxHops() int {
	if e.MaxHops > 0 {
		return e.MaxHops
	}
	return config.Default().Engine.MaxTransitionHops
}

// Resolver exposes the executor's variant evaluation for listings.
func (e *Executor) Resolver() *Resolver {
	if e.resolver.Store == nil {
		e.resolver = Resolver{Store: e.Store}
	}
	return &e.resolver
}

// Submit routes an asset toward an explicitly requested destination.
// The request must match a validated variant on the current stage or
// the transition fails. After the hop the chain continues with
// automatic routing unless suspended.
func (e *Executor) Submit(ctx context.Context, assetID int64, dest asset.Destination, suspend bool) (*asset.Asset, error) {
	return e.run(ctx, assetID, &dest, suspend)
}

// AutoRoute runs the automatic routing chain for an asset: the first
// validated auto-route variant at each stage, hop after hop, until
// nothing validates, a variant suspends the chain, or the hop bound
// trips.
func (e *Executor) AutoRoute(ctx context.Context, assetID int64) (*asset.Asset, error) {
	return e.run(ctx, assetID, nil, false)
}

// Flush re-runs automatic routing for every asset on a route.
func (e *Executor) Flush(ctx context.Context, routeID int64) error {
	stages, err := e.Store.StagesForRoute(ctx, routeID)
	if err != nil {
		return err
	}
	for _, stage := range stages {
		assets, err := e.Store.ListAssetsAtStage(ctx, stage.ID)
		if err != nil {
			return err
		}
		for _, a := range assets {
			if _, err := e.AutoRoute(ctx, a.ID); err != nil {
				e.logger().Warn("flush routing failed",
					logging.Int64("asset_id", a.ID),
					logging.Error(err))
			}
		}
	}
	return nil
}

func (e *Executor) run(ctx context.Context, assetID int64, requested *asset.Destination, suspend bool) (*asset.Asset, error) {
	a, err := e.loadAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	for hops := 0; ; hops++ {
		if hops >= e.maxHops() {
			return a, fmt.Errorf("asset %d exceeded %d transition hops: %w", a.ID, e.maxHops(), asset.ErrConfiguration)
		}
		moved, crossStage, variantSuspends, err := e.step(ctx, a, requested, requested != nil)
		if err != nil {
			return a, err
		}
		requested = nil
		if !moved || suspend || variantSuspends {
			return a, nil
		}
		// Same-stage hops only mutate in place; the chain ends with
		// them, mirroring a stage that rewrites its own assets.
		if !crossStage {
			return a, nil
		}
	}
}

// step performs at most one transition. explicit marks a
// caller-requested destination, which must validate or the step
// errors; automatic steps simply stop when nothing validates.
func (e *Executor) step(ctx context.Context, a *asset.Asset, requested *asset.Destination, explicit bool) (moved, crossStage, suspends bool, err error) {
	stage, station, typ, err := e.loadContext(ctx, a)
	if err != nil {
		return false, false, false, err
	}

	diags := &payload.DiagnosticList{}
	candidates, err := e.Resolver().Candidates(ctx, a, stage, station, typ, diags)
	if err != nil {
		return false, false, false, err
	}

	var chosen *Candidate
	if explicit {
		target, err := e.Resolver().ResolveDestination(ctx, a, *requested)
		if err != nil {
			return false, false, false, err
		}
		for i := range candidates {
			if candidates[i].Validated && candidates[i].Destination == target {
				chosen = &candidates[i]
				break
			}
		}
		if chosen == nil {
			return false, false, false, fmt.Errorf("no validated variant reaches stage %d: %w", target, asset.ErrTransitionFailed)
		}
	} else {
		for i := range candidates {
			if candidates[i].Validated && candidates[i].Variant.AutoRoute {
				chosen = &candidates[i]
				break
			}
		}
		if chosen == nil {
			e.logDiagnostics(a.ID, diags)
			return false, false, false, nil
		}
	}

	destStage, err := e.Store.StageByID(ctx, chosen.Destination)
	if err != nil {
		return false, false, false, err
	}
	if destStage == nil {
		return false, false, false, fmt.Errorf("destination stage %d: %w", chosen.Destination, asset.ErrConfiguration)
	}

	same := destStage.ID == stage.ID
	a.StageID = destStage.ID
	a.RouteID = destStage.RouteID

	mutator := payload.Mutator{Now: e.now, Catalog: e.fieldCatalog(ctx)}
	// A nil *files.Store must not become a non-nil FileStore value.
	if e.Files != nil {
		mutator.Files = e.Files
	}
	mutator.Apply(chosen.Variant.PayloadModifications, payload.Target{
		AssetID:  a.ID,
		Username: a.Operator,
		Payload:  a.Payload,
		Meta:     a.Meta,
	}, diags)
	e.applyTypeModifications(ctx, a, chosen.Variant.TypeModifications)
	e.logDiagnostics(a.ID, diags)
	for _, d := range diags.Entries() {
		if d.External {
			asset.FlagExternalError(a, e.now(), fmt.Sprintf("%s: %s", d.Directive, d.Reason))
		}
	}

	if err := e.Store.UpdateAsset(ctx, a); err != nil {
		return false, false, false, err
	}
	if same {
		return true, false, chosen.Variant.SuspendFurtherRouting, nil
	}

	destStation, err := e.stationOf(ctx, destStage)
	if err != nil {
		return false, false, false, err
	}

	rec, err := e.Store.AppendTransition(ctx, &asset.TransitionRecord{
		RouteID:     stage.RouteID,
		FromStageID: stage.ID,
		ToStageID:   destStage.ID,
		AssetID:     a.ID,
		Operator:    e.recordOperator(ctx, a, stage, station),
		RecordedAt:  e.now(),
	})
	if err != nil {
		return false, false, false, err
	}

	a.Meta.AppendHistory(asset.HistoryEntry{
		At:       e.now(),
		Operator: rec.Operator,
		Action:   asset.HistoryRouted,
		StageID:  destStage.ID,
	})

	assigner := Assigner{Store: e.Store, Notifier: e.Notifier, Logger: e.Logger, Now: e.Now}
	if err := assigner.Assign(ctx, a, destStage, destStation, ""); err != nil {
		return false, false, false, err
	}

	if err := e.perform(ctx, a, destStage, destStation); err != nil {
		e.logger().Warn("station behavior failed",
			logging.Int64("asset_id", a.ID),
			logging.String("station", destStation.Name),
			logging.Error(err))
	}

	results := e.deliverNotifications(ctx, a, station, destStation, chosen.Variant.RouteNotifications)
	if len(results) > 0 {
		if err := e.Store.UpdateTransitionNotifications(ctx, rec.ID, results); err != nil {
			e.logger().Warn("caching notification results failed",
				logging.Int64("record_id", rec.ID),
				logging.Error(err))
		}
		flagged := false
		for _, res := range results {
			if !res.Sent {
				asset.FlagExternalError(a, e.now(),
					fmt.Sprintf("notification %s to %s: %s", res.Channel, res.Address, res.Error))
				flagged = true
			}
		}
		if flagged {
			if err := e.Store.UpdateAsset(ctx, a); err != nil {
				e.logger().Warn("persisting delivery failure flag failed",
					logging.Int64("asset_id", a.ID),
					logging.Error(err))
			}
		}
	}

	return true, true, chosen.Variant.SuspendFurtherRouting, nil
}

// recordOperator applies the human-operated source station rule: only
// generic stations record an operator, and an unassigned asset falls
// back to its creator when the station accepts creator or
// non-operator submissions.
func (e *Executor) recordOperator(ctx context.Context, a *asset.Asset, stage *asset.Stage, station *asset.Station) string {
	if station.Behavior != asset.BehaviorGeneric {
		return ""
	}
	if a.Operator != "" {
		return a.Operator
	}
	if station.CreatorOperator || (stage.AllowAddingAssets && station.NonOperatorAdds) {
		if id := a.Meta.CreatorID(); id != 0 {
			if user, err := e.Store.UserByID(ctx, id); err == nil && user != nil {
				return user.Username
			}
		}
	}
	return ""
}

// applyTypeModifications interprets "old->new" directives against the
// asset's type id; "*" on the left matches any type. Unknown target
// types are skipped.
func (e *Executor) applyTypeModifications(ctx context.Context, a *asset.Asset, directives []string) {
	for _, directive := range directives {
		oldPart, newPart, ok := strings.Cut(directive, "->")
		if !ok {
			continue
		}
		newID, err := strconv.ParseInt(strings.TrimSpace(newPart), 10, 64)
		if err != nil {
			continue
		}
		oldPart = strings.TrimSpace(oldPart)
		if oldPart != "*" {
			oldID, err := strconv.ParseInt(oldPart, 10, 64)
			if err != nil || oldID != a.TypeID {
				continue
			}
		}
		typ, err := e.Store.AssetTypeByID(ctx, newID)
		if err != nil || typ == nil {
			e.logger().Warn("type modification target missing",
				logging.Int64("asset_id", a.ID),
				logging.String("directive", directive))
			continue
		}
		a.TypeID = typ.ID
	}
}

func (e *Executor) loadAsset(ctx context.Context, id int64) (*asset.Asset, error) {
	a, err := e.Store.AssetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("asset %d: %w", id, asset.ErrDataMissing)
	}
	return a, nil
}

func (e *Executor) loadContext(ctx context.Context, a *asset.Asset) (*asset.Stage, *asset.Station, *asset.AssetType, error) {
	stage, err := e.Store.StageByID(ctx, a.StageID)
	if err != nil {
		return nil, nil, nil, err
	}
	if stage == nil {
		return nil, nil, nil, fmt.Errorf("stage %d: %w", a.StageID, asset.ErrDataMissing)
	}
	station, err := e.stationOf(ctx, stage)
	if err != nil {
		return nil, nil, nil, err
	}
	typ, err := e.Store.AssetTypeByID(ctx, a.TypeID)
	if err != nil {
		return nil, nil, nil, err
	}
	if typ == nil {
		return nil, nil, nil, fmt.Errorf("asset type %d: %w", a.TypeID, asset.ErrDataMissing)
	}
	return stage, station, typ, nil
}

func (e *Executor) stationOf(ctx context.Context, stage *asset.Stage) (*asset.Station, error) {
	station, err := e.Store.StationByID(ctx, stage.StationID)
	if err != nil {
		return nil, err
	}
	if station == nil {
		return nil, fmt.Errorf("station %d: %w", stage.StationID, asset.ErrDataMissing)
	}
	return station, nil
}

func (e *Executor) fieldCatalog(ctx context.Context) *asset.Catalog {
	catalog, err := e.Store.FieldCatalog(ctx)
	if err != nil {
		e.logger().Warn("field catalog unavailable", logging.Error(err))
		return asset.NewCatalog(nil)
	}
	return catalog
}

func (e *Executor) logDiagnostics(assetID int64, diags *payload.DiagnosticList) {
	for _, d := range diags.Entries() {
		e.logger().Debug("routing diagnostic",
			logging.Int64("asset_id", assetID),
			logging.String("directive", d.Directive),
			logging.String("field", d.Field),
			logging.String("reason", d.Reason))
	}
}
