package routing

import (
	"context"
	"fmt"

	"loom/internal/asset"
)

// Rewind sends an asset back to the stage it most recently came from,
// restoring the operator recorded on that hop. The current stage must
// allow routing back, and the asset must have at least one forward
// transition to undo. The rewind writes its own audit record flagged
// as such; rewind records are never themselves rewound.
func (e *Executor) Rewind(ctx context.Context, assetID int64) (*asset.Asset, error) {
	a, err := e.loadAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	stage, station, _, err := e.loadContext(ctx, a)
	if err != nil {
		return nil, err
	}
	if !stage.CanRouteBack {
		return a, fmt.Errorf("stage %d does not allow routing back: %w", stage.ID, asset.ErrTransitionFailed)
	}

	last, err := e.lastForwardTransition(ctx, a.ID)
	if err != nil {
		return a, err
	}
	if last == nil {
		return a, fmt.Errorf("asset %d has no forward transition to rewind: %w", a.ID, asset.ErrTransitionFailed)
	}

	target, err := e.Store.StageByID(ctx, last.FromStageID)
	if err != nil {
		return a, err
	}
	if target == nil {
		return a, fmt.Errorf("rewind target stage %d: %w", last.FromStageID, asset.ErrDataMissing)
	}
	targetStation, err := e.stationOf(ctx, target)
	if err != nil {
		return a, err
	}

	a.StageID = target.ID
	a.RouteID = target.RouteID

	if _, err := e.Store.AppendTransition(ctx, &asset.TransitionRecord{
		RouteID:     stage.RouteID,
		FromStageID: stage.ID,
		ToStageID:   target.ID,
		AssetID:     a.ID,
		Operator:    e.recordOperator(ctx, a, stage, station),
		RecordedAt:  e.now(),
		Rewind:      true,
	}); err != nil {
		return a, err
	}

	a.Meta.AppendHistory(asset.HistoryEntry{
		At:       e.now(),
		Operator: a.Operator,
		Action:   asset.HistoryRouted,
		StageID:  target.ID,
		Detail:   "rewind",
	})

	assigner := Assigner{Store: e.Store, Notifier: e.Notifier, Logger: e.Logger, Now: e.Now}
	if err := assigner.Assign(ctx, a, target, targetStation, last.Operator); err != nil {
		return a, err
	}
	return a, nil
}

// lastForwardTransition returns the newest non-rewind record for the
// asset.
func (e *Executor) lastForwardTransition(ctx context.Context, assetID int64) (*asset.TransitionRecord, error) {
	records, err := e.Store.TransitionsForAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if !records[i].Rewind {
			return records[i], nil
		}
	}
	return nil, nil
}
