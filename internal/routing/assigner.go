package routing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"loom/internal/asset"
	"loom/internal/logging"
	"loom/internal/notify"
	"loom/internal/store"
)

// Assigner picks an operator when an asset arrives at a station.
type Assigner struct {
	Store    *store.Store
	Notifier notify.Service
	Logger   *slog.Logger
	Now      func() time.Time
}

func (as *Assigner) now() time.Time {
	if as.Now != nil {
		return as.Now()
	}
	return time.Now()
}

func (as *Assigner) logger() *slog.Logger {
	if as.Logger != nil {
		return as.Logger
	}
	return logging.NewNop()
}

// Assign applies the assignment policy to an asset arriving at a
// stage and persists the outcome. rewindTo, when non-empty, names an
// operator restored by a rewind and wins outright. Every call appends
// a history entry, including when the asset ends up unassigned.
func (as *Assigner) Assign(ctx context.Context, a *asset.Asset, stage *asset.Stage, station *asset.Station, rewindTo string) error {
	// An assignment cursor pointing at a departed operator is
	// cleared before any strategy consults it.
	if station.LastAssignment != "" && !station.HasOperator(station.LastAssignment) {
		station.LastAssignment = ""
		if err := as.Store.SetLastAssignment(ctx, station.ID, ""); err != nil {
			return fmt.Errorf("clear assignment cursor: %w", err)
		}
	}

	switch {
	case rewindTo != "":
		a.Operator = rewindTo

	case station.CreatorOperator && station.AutoAssign:
		a.Operator = as.creatorUsername(ctx, a)

	default:
		reassigned, err := as.reassignOnReturn(ctx, a, stage, station)
		if err != nil {
			return err
		}
		if !reassigned {
			if station.AutoAssign {
				if err := as.autoAssign(ctx, a, station); err != nil {
					return err
				}
			} else {
				a.Operator = ""
			}
		}
	}

	a.Meta.AppendHistory(asset.HistoryEntry{
		At:       as.now(),
		Operator: a.Operator,
		Action:   asset.HistoryAssigned,
		StageID:  stage.ID,
	})
	if err := as.Store.UpdateAsset(ctx, a); err != nil {
		return fmt.Errorf("persist assignment: %w", err)
	}

	if a.Operator != "" && station.NotifyOperator {
		if err := as.notifyOperator(ctx, a, station); err != nil {
			asset.FlagExternalError(a, as.now(), fmt.Sprintf("operator notification: %v", err))
			if err := as.Store.UpdateAsset(ctx, a); err != nil {
				return fmt.Errorf("persist notification failure flag: %w", err)
			}
		}
	}
	return nil
}

func (as *Assigner) creatorUsername(ctx context.Context, a *asset.Asset) string {
	id := a.Meta.CreatorID()
	if id == 0 {
		return ""
	}
	user, err := as.Store.UserByID(ctx, id)
	if err != nil || user == nil {
		return ""
	}
	return user.Username
}

// reassignOnReturn restores the operator from the most recent visit
// to this exact stage, provided they still operate the station.
func (as *Assigner) reassignOnReturn(ctx context.Context, a *asset.Asset, stage *asset.Stage, station *asset.Station) (bool, error) {
	if !station.ReassignOnReturn {
		return false, nil
	}
	rec, err := as.Store.LatestTransitionTo(ctx, a.ID, stage.ID)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Operator == "" || !station.HasOperator(rec.Operator) {
		return false, nil
	}
	a.Operator = rec.Operator
	return true, nil
}

func (as *Assigner) autoAssign(ctx context.Context, a *asset.Asset, station *asset.Station) error {
	deprecateCurrent := station.SameOperatorMode == asset.SameOperatorDeprecate

	if !deprecateCurrent && a.Operator != "" && station.HasOperator(a.Operator) {
		// Encourage and carefree modes keep a still-valid operator.
		return nil
	}

	candidates := station.Operators
	if deprecateCurrent {
		candidates = excludeOperator(candidates, a.Operator)
	}

	switch station.AssignMode {
	case asset.AssignLeastBusy:
		chosen, err := as.leastBusy(ctx, station.ID, candidates)
		if err != nil {
			return err
		}
		a.Operator = chosen
	default: // balanced round-robin
		chosen := nextAfter(candidates, station.LastAssignment)
		if chosen != "" {
			station.LastAssignment = chosen
			if err := as.Store.SetLastAssignment(ctx, station.ID, chosen); err != nil {
				return fmt.Errorf("advance assignment cursor: %w", err)
			}
		}
		a.Operator = chosen
	}
	return nil
}

func (as *Assigner) leastBusy(ctx context.Context, stationID int64, candidates []string) (string, error) {
	chosen := ""
	least := 0
	for _, op := range candidates {
		n, err := as.Store.CountAssigned(ctx, stationID, op)
		if err != nil {
			return "", err
		}
		if chosen == "" || n < least {
			chosen = op
			least = n
		}
	}
	return chosen, nil
}

func (as *Assigner) notifyOperator(ctx context.Context, a *asset.Asset, station *asset.Station) error {
	address := a.Operator
	if user, err := as.Store.UserByUsername(ctx, a.Operator); err == nil && user != nil && user.Email != "" {
		address = user.Email
	}
	msg := notify.Message{
		Channel: asset.ChannelEmail,
		To:      address,
		Title:   fmt.Sprintf("%s: new assignment, asset #%d", station.Name, a.ID),
		Body:    fmt.Sprintf("Asset #%d is waiting at %s.", a.ID, station.Name),
	}
	if err := as.Notifier.Send(ctx, msg); err != nil {
		as.logger().Warn("operator notification failed",
			logging.Int64("asset_id", a.ID),
			logging.String("operator", a.Operator),
			logging.Error(err))
		return err
	}
	return nil
}

// nextAfter returns the operator following cursor in list order,
// wrapping to the first entry when the cursor is empty, missing, or
// last.
func nextAfter(operators []string, cursor string) string {
	if len(operators) == 0 {
		return ""
	}
	if cursor == "" {
		return operators[0]
	}
	for i, op := range operators {
		if op == cursor {
			return operators[(i+1)%len(operators)]
		}
	}
	return operators[0]
}

func excludeOperator(operators []string, current string) []string {
	if current == "" {
		return operators
	}
	out := make([]string, 0, len(operators))
	for _, op := range operators {
		if op != current {
			out = append(out, op)
		}
	}
	return out
}
