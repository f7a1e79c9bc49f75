package routing

import (
	"context"
	"fmt"

	"loom/internal/asset"
	"loom/internal/payload"
	"loom/internal/rules"
	"loom/internal/store"
)

// Candidate is one evaluated route variant: where it leads, whether
// its requirements validate, and the per-requirement results shown to
// operators.
type Candidate struct {
	Variant     asset.RouteVariant
	Destination int64
	Validated   bool
	Results     []rules.Result
}

// Resolver evaluates the route variants configured on a stage.
type Resolver struct {
	Store *store.Store
}

// Candidates evaluates every variant on the stage in configured
// order. A variant validates when all of its requirements do; an
// empty requirement list validates vacuously. The return sentinel
// resolves against the asset's latest transition record, and a
// force-return station voids any variant not leading back to the
// asset's previous stage.
func (r *Resolver) Candidates(ctx context.Context, a *asset.Asset, stage *asset.Stage, station *asset.Station, typ *asset.AssetType, sink payload.DiagnosticSink) ([]Candidate, error) {
	if sink == nil {
		sink = payload.NopSink()
	}
	required := station.EffectiveFieldTemplate(typ.Sysname, a.Payload).Required

	var previousStage int64
	latest, err := r.Store.LatestTransition(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		previousStage = latest.FromStageID
	}

	candidates := make([]Candidate, 0, len(stage.Routing))
	for _, variant := range stage.Routing {
		cand := Candidate{Variant: variant, Validated: true}
		for _, req := range variant.Requirements {
			result := rules.Evaluate(req, a.Payload, required, sink)
			cand.Results = append(cand.Results, result)
			if !result.Validated {
				cand.Validated = false
			}
		}

		if variant.Destination.Return {
			if latest == nil {
				cand.Validated = false
				sink.Record(payload.Diagnostic{
					Field:  asset.ReturnSentinel,
					Reason: "no transition record to resolve the return destination",
				})
			} else {
				cand.Destination = previousStage
			}
		} else {
			cand.Destination = variant.Destination.ID
		}

		// A force-return station only ever sends assets back where
		// they came from.
		if station.ForceReturn && previousStage != 0 && cand.Destination != previousStage {
			cand.Validated = false
		}

		candidates = append(candidates, cand)
	}
	return candidates, nil
}

// ResolveDestination maps a requested destination to a concrete
// stage id, resolving the return sentinel through the asset's latest
// transition record.
func (r *Resolver) ResolveDestination(ctx context.Context, a *asset.Asset, dest asset.Destination) (int64, error) {
	if !dest.Return {
		return dest.ID, nil
	}
	latest, err := r.Store.LatestTransition(ctx, a.ID)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, fmt.Errorf("asset %d has no transition record: %w", a.ID, asset.ErrConfiguration)
	}
	return latest.FromStageID, nil
}
