package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"loom/internal/asset"
	"loom/internal/logging"
	"loom/internal/payload"
)

// perform runs the destination station's behavior against a freshly
// arrived asset. Behaviors are best-effort: a failing behavior is
// reported but never blocks the transition.
func (e *Executor) perform(ctx context.Context, a *asset.Asset, stage *asset.Stage, station *asset.Station) error {
	switch station.Behavior {
	case asset.BehaviorUUIDAssigner:
		return e.assignUUID(ctx, a, stage)
	case asset.BehaviorIdentification:
		return e.identifyCreator(ctx, a)
	case asset.BehaviorTypeChanger:
		return e.changeType(ctx, a, station.BehaviorSettings)
	case asset.BehaviorPDFConverter:
		e.scheduleConversion(a, station)
		return nil
	default:
		return nil
	}
}

// assignUUID grants the asset a uuid payload value exactly once.
func (e *Executor) assignUUID(ctx context.Context, a *asset.Asset, stage *asset.Stage) error {
	if a.Payload.Has("uuid") {
		return nil
	}
	id := uuid.NewString()
	a.Payload["uuid"] = []payload.Value{payload.String(id)}
	a.Meta.AppendHistory(asset.HistoryEntry{
		At:      e.now(),
		Action:  "ASSIGN UUID",
		StageID: stage.ID,
		Detail:  id,
	})
	return e.Store.UpdateAsset(ctx, a)
}

// identifyCreator caches the asset's creator as a publication
// creator. Repeat arrivals are no-ops.
func (e *Executor) identifyCreator(ctx context.Context, a *asset.Asset) error {
	id := a.Meta.CreatorID()
	if id == 0 {
		return nil
	}
	user, err := e.Store.UserByID(ctx, id)
	if err != nil || user == nil {
		return err
	}
	for _, cr := range a.Meta.PublicationCreators {
		if cr.Username == user.Username {
			return nil
		}
	}
	a.Meta.PublicationCreators = append(a.Meta.PublicationCreators, asset.CreatorRef{
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	})
	a.Meta.PublicationCreatorsComplete = true
	return e.Store.UpdateAsset(ctx, a)
}

// changeType switches the asset's type when the configured payload
// field's first value matches one of the mapped trigger values.
func (e *Executor) changeType(ctx context.Context, a *asset.Asset, settings asset.BehaviorSettings) error {
	if settings.TypeChangeField == "" {
		return nil
	}
	first, ok := a.Payload.First(settings.TypeChangeField)
	if !ok {
		return nil
	}
	raw, isStr := first.Str()
	if !isStr {
		return nil
	}
	folder := cases.Fold()
	value := folder.String(strings.TrimSpace(raw))

	for sysname, triggers := range settings.TypeTransformations {
		for _, trigger := range triggers {
			if folder.String(strings.TrimSpace(trigger)) != value {
				continue
			}
			typ, err := e.Store.AssetTypeBySysname(ctx, sysname)
			if err != nil {
				return err
			}
			if typ == nil {
				return fmt.Errorf("type changer target %q: %w", sysname, asset.ErrConfiguration)
			}
			a.TypeID = typ.ID
			return e.Store.UpdateAsset(ctx, a)
		}
	}
	return nil
}

// scheduleConversion hands the asset to the background converter
// lane. Routing continues immediately; the converter re-enters the
// chain when it finishes.
func (e *Executor) scheduleConversion(a *asset.Asset, station *asset.Station) {
	if e.Convert == nil {
		e.logger().Warn("conversion station has no converter wired",
			logging.Int64("asset_id", a.ID),
			logging.String("station", station.Name))
		return
	}
	e.Convert(a.ID)
}
