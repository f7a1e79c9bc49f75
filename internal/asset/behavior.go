package asset

import "fmt"

// Behavior selects what a station does to assets arriving at it, in
// addition to the routing configuration every stage carries.
type Behavior int

const (
	// BehaviorGeneric stations only route; human operators do the
	// work.
	BehaviorGeneric Behavior = iota
	// BehaviorUUIDAssigner stamps a uuid payload field on arrival.
	BehaviorUUIDAssigner
	// BehaviorPDFConverter converts the configured file field to
	// PDF in the background and re-enters routing when done.
	BehaviorPDFConverter
	// BehaviorIdentification records the creator as a publication
	// creator in asset metadata.
	BehaviorIdentification
	// BehaviorTypeChanger switches the asset type based on a
	// payload field value.
	BehaviorTypeChanger
)

var behaviorNames = map[Behavior]string{
	BehaviorGeneric:        "generic",
	BehaviorUUIDAssigner:   "uuid_assigner",
	BehaviorPDFConverter:   "pdf_converter",
	BehaviorIdentification: "identification",
	BehaviorTypeChanger:    "type_changer",
}

func (b Behavior) String() string {
	if name, ok := behaviorNames[b]; ok {
		return name
	}
	return fmt.Sprintf("behavior(%d)", int(b))
}

// ParseBehavior maps a stored behavior name to its enum value. An
// empty name is the generic behavior.
func ParseBehavior(name string) (Behavior, error) {
	if name == "" {
		return BehaviorGeneric, nil
	}
	for behavior, candidate := range behaviorNames {
		if candidate == name {
			return behavior, nil
		}
	}
	return BehaviorGeneric, fmt.Errorf("unknown station behavior %q", name)
}

// BehaviorSettings carries the per-behavior configuration knobs.
// Only the fields for the station's behavior are meaningful.
type BehaviorSettings struct {
	// TypeChangeField names the payload field whose value drives a
	// type change.
	TypeChangeField string `json:"type_change_field,omitempty"`
	// TypeTransformations maps target type sysnames to the field
	// values that trigger them.
	TypeTransformations map[string][]string `json:"type_transformations,omitempty"`
	// ConvertField names the file field the PDF converter reads.
	ConvertField string `json:"convert_field,omitempty"`
	// ConvertTargetField names the file field that receives the
	// converted document.
	ConvertTargetField string `json:"convert_target_field,omitempty"`
}
