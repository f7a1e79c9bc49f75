package asset

import (
	"strings"
	"time"

	"loom/internal/payload"
)

// User is an account known to the engine. Role flags are derived per
// request from station membership, not stored here.
type User struct {
	ID        int64
	Username  string
	Email     string
	FirstName string
	LastName  string
	Groups    []string
}

// AssetType is a named category of assets. Field sets control which
// payload fields each audience sees; the signature string is an
// interpolation template identifying the asset in lists and
// notifications.
type AssetType struct {
	ID                int64
	Name              string
	Sysname           string
	SignatureString   string
	CreatorFields     []string
	DescriptiveFields []string
	SearchFields      []string
}

// Route is a named graph of stages assets flow through.
type Route struct {
	ID   int64
	Name string
}

// AssignMode selects how a station picks an operator when auto-assign
// is on.
type AssignMode string

const (
	AssignBalanced  AssignMode = "balanced"
	AssignLeastBusy AssignMode = "least_busy"
)

// SameOperatorMode controls how a station treats the asset's current
// operator during auto-assignment.
type SameOperatorMode string

const (
	SameOperatorEncourage SameOperatorMode = "encourage"
	SameOperatorDeprecate SameOperatorMode = "deprecate"
	SameOperatorCarefree  SameOperatorMode = "carefree"
)

// FieldTemplate lists the per-asset-type field sets a station exposes
// to its operators.
type FieldTemplate struct {
	Editable   []string `json:"editable_fields"`
	Appendable []string `json:"appendable_fields"`
	Readonly   []string `json:"readonly_fields"`
	Required   []string `json:"required_fields"`
}

// Station is a processing role. A station can appear in several
// routes; each appearance is a Stage carrying that route's transition
// rules.
type Station struct {
	ID          int64
	Name        string
	Behavior    Behavior
	Operators   []string
	Supervisors []string

	AutoAssign       bool
	AssignMode       AssignMode
	SameOperatorMode SameOperatorMode
	ReassignOnReturn bool
	// LastAssignment is the round-robin cursor for balanced
	// assignment, persisted so the rotation survives restarts.
	LastAssignment string

	CreatorOperator bool
	NonOperatorAdds bool
	NotifyOperator  bool
	ForceReturn     bool

	FieldTemplates map[string]FieldTemplate

	// AllowFieldOverrides lets an asset's field_overrides payload
	// field replace the station's field templates for that asset.
	AllowFieldOverrides bool

	Notifications    []NotificationSpec
	BehaviorSettings BehaviorSettings
}

// HasOperator reports whether the username is one of the station's
// operators.
func (s *Station) HasOperator(username string) bool {
	for _, op := range s.Operators {
		if op == username {
			return true
		}
	}
	return false
}

// HasSupervisor reports whether the username is one of the station's
// supervisors.
func (s *Station) HasSupervisor(username string) bool {
	for _, sup := range s.Supervisors {
		if sup == username {
			return true
		}
	}
	return false
}

// FieldTemplate returns the field sets for an asset type sysname.
func (s *Station) FieldTemplate(typeSysname string) FieldTemplate {
	return s.FieldTemplates[typeSysname]
}

// EffectiveFieldTemplate returns the field sets that apply to an asset
// at this station. When the station allows field overrides and the
// payload carries a non-blank field_overrides value, that value
// replaces the configured template; otherwise the configured template
// is used.
func (s *Station) EffectiveFieldTemplate(typeSysname string, p payload.Payload) FieldTemplate {
	if !s.AllowFieldOverrides {
		return s.FieldTemplate(typeSysname)
	}
	v, ok := p.First(FieldOverridesField)
	if !ok || strings.TrimSpace(v.Text()) == "" {
		return s.FieldTemplate(typeSysname)
	}
	return ParseFieldOverrides(v.Text())
}

// FieldOverridesField is the payload field holding a per-asset field
// template override.
const FieldOverridesField = "field_overrides"

// ParseFieldOverrides builds a field template from an override string.
// The string is a comma-separated list of editable field sysnames;
// a "+" marks the field as also appendable, "*" as also required and
// "$" as also readonly.
func ParseFieldOverrides(spec string) FieldTemplate {
	var tmpl FieldTemplate
	for _, raw := range strings.Split(spec, ",") {
		appendable := strings.Contains(raw, "+")
		required := strings.Contains(raw, "*")
		readonly := strings.Contains(raw, "$")

		name := strings.NewReplacer("+", "", "*", "", "$", "").Replace(raw)
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		tmpl.Editable = append(tmpl.Editable, name)
		if appendable {
			tmpl.Appendable = append(tmpl.Appendable, name)
		}
		if required {
			tmpl.Required = append(tmpl.Required, name)
		}
		if readonly {
			tmpl.Readonly = append(tmpl.Readonly, name)
		}
	}
	return tmpl
}

// Stage binds a station into a route and owns the routing
// configuration assets evaluate while sitting there.
type Stage struct {
	ID        int64
	StationID int64
	RouteID   int64

	Routing           []RouteVariant
	AllowAddingAssets bool
	CanRouteBack      bool
	ExitStation       bool
	AssetMessage      string
}

// TransitionRecord is the immutable audit row written for every
// cross-stage hop. Same-stage transitions never produce one.
type TransitionRecord struct {
	ID          int64
	RouteID     int64
	FromStageID int64
	ToStageID   int64
	AssetID     int64
	Operator    string
	RecordedAt  time.Time
	Rewind      bool
	// Notifications caches delivery outcomes for audit.
	Notifications []NotificationResult
}

// NotificationResult records one delivery attempt on a transition.
type NotificationResult struct {
	Channel string `json:"channel"`
	Address string `json:"address"`
	Title   string `json:"title"`
	Sent    bool   `json:"sent"`
	Error   string `json:"error,omitempty"`
}

// Asset is the unit of work routed through the system. StageID and
// RouteID always agree: the stage belongs to the route.
type Asset struct {
	ID       int64
	TypeID   int64
	RouteID  int64
	StageID  int64
	Operator string
	Payload  payload.Payload
	Meta     *Meta
}

// Clone returns a deep copy the caller can mutate freely.
func (a *Asset) Clone() *Asset {
	clone := *a
	clone.Payload = a.Payload.Clone()
	clone.Meta = a.Meta.Clone()
	return &clone
}
