package authz

import (
	"encoding/json"
	"fmt"
	"time"

	"loom/internal/payload"
)

// Audit logging levels carried on a rule.
const (
	LogNever   = 0
	LogDenied  = 1
	LogGranted = 2
	LogAlways  = 3
)

// Condition is one payload-value check on a rule. An empty Op checks
// field presence only.
type Condition struct {
	Op              string          `json:"cmp_op,omitempty"`
	Value           payload.Value   `json:"cmp_val,omitempty"`
	DatetimeFormats []string        `json:"datetime_formats,omitempty"`
}

// UnmarshalJSON accepts either the full {cmp_op, cmp_val} object or
// any bare value, which marks a presence-only check.
func (c *Condition) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err == nil {
		if _, ok := probe["cmp_op"]; ok {
			type alias Condition
			var full alias
			if err := json.Unmarshal(data, &full); err != nil {
				return err
			}
			*c = Condition(full)
			return nil
		}
	}
	*c = Condition{}
	return nil
}

// ConditionSet maps payload field references (possibly dotted) to
// their conditions.
type ConditionSet map[string]Condition

// Rule is a scoped grant or prohibition of an action. A zero scope
// field is a wildcard matching any value in that dimension; a rule
// with every scope unset and no action is a global default candidate.
type Rule struct {
	ID     int64
	Action string

	UserID    int64
	Group     string
	AssetID   int64
	StageID   int64
	StationID int64
	RouteID   int64
	TypeID    int64

	RequireOperator      bool
	RequireSupervisor    bool
	RequireCreator       bool
	RequireAuthenticated bool

	PayloadConditions ConditionSet
	IPRange           string

	Prohibition bool
	Default     bool
	Logging     int
	CreatedAt   time.Time
}

func (r Rule) String() string {
	kind := "permission"
	if r.Prohibition {
		kind = "prohibition"
	}
	if r.Default {
		kind = "default " + kind
	}
	action := r.Action
	if action == "" {
		action = "*"
	}
	return fmt.Sprintf("%s #%d action=%s", kind, r.ID, action)
}

// LogEntry is one audit row produced by a permission check.
type LogEntry struct {
	RuleID    int64
	Action    string
	Granted   bool
	Username  string
	AssetID   int64
	StageID   int64
	StationID int64
	RouteID   int64
	TypeID    int64
	LoggedAt  time.Time
}
