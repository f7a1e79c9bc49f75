package asset

import (
	"errors"
	"time"

	"loom/internal/payload"
)

// Failure categories for routing and rule evaluation. Callers wrap
// these with %w so errors.Is works across package boundaries.
var (
	// ErrConfiguration marks a defect in route or station
	// configuration, such as an unresolvable destination or a
	// transition chain exceeding the hop limit.
	ErrConfiguration = errors.New("configuration defect")

	// ErrDataMissing marks an entity lookup that found nothing.
	ErrDataMissing = errors.New("data missing")

	// ErrTransitionFailed marks a transition request with no
	// validated route variant.
	ErrTransitionFailed = errors.New("transition failed")

	// ErrCollaborator marks a failure in an external collaborator
	// such as notification delivery or file storage. Transitions
	// record these but do not roll back.
	ErrCollaborator = errors.New("collaborator failure")
)

// ExternalErrorField is the payload field collecting collaborator
// failure descriptions, one value per failure.
const ExternalErrorField = "external_error"

// FlagExternalError records a collaborator failure on the asset: an
// ERROR history entry plus a value on the external_error payload
// field. The committed stage change stays in place.
func FlagExternalError(a *Asset, at time.Time, detail string) {
	a.Meta.AppendHistory(HistoryEntry{
		At:      at,
		Action:  HistoryError,
		StageID: a.StageID,
		Detail:  detail,
	})
	if a.Payload == nil {
		a.Payload = payload.Payload{}
	}
	a.Payload[ExternalErrorField] = append(a.Payload[ExternalErrorField], payload.String(detail))
}
