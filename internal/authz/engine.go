package authz

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"loom/internal/asset"
	"loom/internal/logging"
	"loom/internal/payload"
)

// Requester is the authenticated (or anonymous) caller with role
// flags derived against the involved asset and station.
type Requester struct {
	UserID        int64
	Username      string
	Groups        []string
	Authenticated bool
	Operator      bool
	Supervisor    bool
	Creator       bool
	IP            netip.Addr
}

// RequesterFor derives the role flags for a user against an asset and
// its station. Either may be nil.
func RequesterFor(user *asset.User, a *asset.Asset, station *asset.Station) Requester {
	req := Requester{}
	if user == nil {
		return req
	}
	req.UserID = user.ID
	req.Username = user.Username
	req.Groups = user.Groups
	req.Authenticated = true
	if a != nil && a.Meta != nil {
		req.Creator = a.Meta.IsCreator(user.ID)
	}
	if station != nil {
		req.Operator = station.HasOperator(user.Username)
		req.Supervisor = station.HasSupervisor(user.Username)
	}
	return req
}

// Scope names the objects an action touches. Zero ids are filled from
// the asset when one is present; the station id cannot be derived
// here and must come from the caller.
type Scope struct {
	Action    string
	Asset     *asset.Asset
	TypeID    int64
	RouteID   int64
	StationID int64
	StageID   int64
}

// Decision is the outcome of a permission check. Rule is nil when no
// rule survived and the action fell to the default denial.
type Decision struct {
	Granted bool
	Rule    *Rule
}

// RuleSource supplies the rule set. Rule configuration is treated as
// read-mostly; the engine takes no locks against concurrent edits.
type RuleSource interface {
	PermissionRules(ctx context.Context) ([]Rule, error)
}

// AuditSink persists permission audit entries.
type AuditSink interface {
	AppendPermissionLog(ctx context.Context, entry LogEntry) error
}

// Engine resolves permission checks against a rule source.
type Engine struct {
	Source RuleSource
	Audit  AuditSink
	Now    func() time.Time
	Logger *slog.Logger
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.NewNop()
}

// Check filters the rule set down to the governing rule and returns
// its verdict. Absence of any surviving rule denies the action.
func (e *Engine) Check(ctx context.Context, req Requester, scope Scope) (Decision, error) {
	rules, err := e.Source.PermissionRules(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("load permission rules: %w", err)
	}

	if scope.Asset != nil {
		if scope.TypeID == 0 {
			scope.TypeID = scope.Asset.TypeID
		}
		if scope.RouteID == 0 {
			scope.RouteID = scope.Asset.RouteID
		}
		if scope.StageID == 0 {
			scope.StageID = scope.Asset.StageID
		}
	}

	var survivors []Rule
	for _, rule := range rules {
		if !e.matches(rule, req, scope) {
			continue
		}
		survivors = append(survivors, rule)
	}

	decision := resolve(survivors)
	e.audit(ctx, req, scope, decision)
	return decision, nil
}

func (e *Engine) matches(rule Rule, req Requester, scope Scope) bool {
	// Role requirements drop rules the requester cannot satisfy.
	if rule.RequireOperator && !req.Operator {
		return false
	}
	if rule.RequireSupervisor && !req.Supervisor {
		return false
	}
	if rule.RequireCreator && !req.Creator {
		return false
	}
	if rule.RequireAuthenticated && !req.Authenticated {
		return false
	}

	if rule.Action != "" && rule.Action != scope.Action {
		return false
	}

	if rule.AssetID != 0 && (scope.Asset == nil || rule.AssetID != scope.Asset.ID) {
		return false
	}
	if rule.StageID != 0 && rule.StageID != scope.StageID {
		return false
	}
	if rule.StationID != 0 && rule.StationID != scope.StationID {
		return false
	}
	if rule.RouteID != 0 && rule.RouteID != scope.RouteID {
		return false
	}
	if rule.TypeID != 0 && rule.TypeID != scope.TypeID {
		return false
	}
	if rule.UserID != 0 && rule.UserID != req.UserID {
		return false
	}
	if rule.Group != "" && !containsString(req.Groups, rule.Group) {
		return false
	}

	if scope.Asset != nil {
		if !e.payloadConditionsHold(rule, scope.Asset.Payload) {
			return false
		}
		if !e.ipConditionHolds(rule, req) {
			return false
		}
	}
	return true
}

func (e *Engine) payloadConditionsHold(rule Rule, p payload.Payload) bool {
	for ref, cond := range rule.PayloadConditions {
		if !e.conditionHolds(ref, cond, p) {
			return false
		}
	}
	return true
}

func (e *Engine) conditionHolds(ref string, cond Condition, p payload.Payload) bool {
	base, sub, dotted := strings.Cut(ref, ".")
	vals, ok := p[base]
	if !ok || len(vals) == 0 {
		return false
	}

	if dotted {
		child, ok := vals[0].Child(sub)
		if !ok {
			return false
		}
		// Only equality is defined for dotted conditions; anything
		// else is satisfied by sub-key presence.
		if cond.Op == "=" {
			return len(child) > 0 && looseEqual(child[0], cond.Value)
		}
		return true
	}

	first := vals[0]

	if formats := cond.DatetimeFormats; len(formats) > 0 {
		if want, isStr := cond.Value.Str(); isStr && strings.HasPrefix(want, "DATETIME_") {
			if got, isStr := first.Str(); isStr {
				return e.relativeDateHolds(cond.Op, want, got, formats)
			}
		}
	}

	switch strings.ToLower(cond.Op) {
	case "":
		return true
	case "=":
		return looseEqual(first, cond.Value)
	case "exists":
		return true
	case ">":
		got, gotInt := first.IntVal()
		want, wantInt := cond.Value.IntVal()
		return gotInt && wantInt && got > want
	default: // "<"
		got, gotInt := first.IntVal()
		want, wantInt := cond.Value.IntVal()
		return gotInt && wantInt && got < want
	}
}

// relativeDateHolds evaluates conditions such as DATETIME_PLUSMONTHS_6
// against a payload date parsed with the configured layouts. The
// condition holds while the shifted date has not crossed the current
// time in the compared direction.
func (e *Engine) relativeDateHolds(op, spec, raw string, formats []string) bool {
	parts := strings.Split(spec, "_")
	if len(parts) != 3 || parts[1] != "PLUSMONTHS" {
		e.logger().Warn("unsupported relative date condition", logging.String("spec", spec))
		return false
	}
	var months int
	if _, err := fmt.Sscanf(parts[2], "%d", &months); err != nil {
		e.logger().Warn("bad relative date offset", logging.String("spec", spec), logging.Error(err))
		return false
	}

	for _, layout := range formats {
		parsed, err := time.Parse(layout, strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		shifted := parsed.AddDate(0, months, 0)
		now := e.now()
		switch op {
		case "<":
			return !shifted.Before(now)
		case ">":
			return !shifted.After(now)
		default:
			return true
		}
	}
	// The value fits none of the configured layouts.
	return false
}

func (e *Engine) ipConditionHolds(rule Rule, req Requester) bool {
	if strings.TrimSpace(rule.IPRange) == "" {
		return true
	}
	if !req.IP.IsValid() {
		return false
	}
	prefix, err := netip.ParsePrefix(rule.IPRange)
	if err != nil {
		e.logger().Warn("invalid ip range on permission rule",
			logging.Int64("rule_id", rule.ID),
			logging.String("ip_range", rule.IPRange),
			logging.Error(err))
		return false
	}
	return prefix.Contains(req.IP)
}

// resolve applies prohibition precedence: default prohibitions beat
// default permissions beat specific prohibitions beat specific
// permissions. Equally specific survivors tie-break on newest
// creation time, then highest id.
func resolve(survivors []Rule) Decision {
	groups := []struct {
		def, prohibition, granted bool
	}{
		{def: true, prohibition: true, granted: false},
		{def: true, prohibition: false, granted: true},
		{def: false, prohibition: true, granted: false},
		{def: false, prohibition: false, granted: true},
	}
	for _, g := range groups {
		var candidates []Rule
		for _, rule := range survivors {
			if rule.Default == g.def && rule.Prohibition == g.prohibition {
				candidates = append(candidates, rule)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
				return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
			}
			return candidates[i].ID > candidates[j].ID
		})
		governing := candidates[0]
		return Decision{Granted: g.granted, Rule: &governing}
	}
	return Decision{}
}

func (e *Engine) audit(ctx context.Context, req Requester, scope Scope, decision Decision) {
	if e.Audit == nil || decision.Rule == nil {
		return
	}
	level := decision.Rule.Logging
	should := level == LogAlways ||
		(level == LogGranted && decision.Granted) ||
		(level == LogDenied && !decision.Granted)
	if !should {
		return
	}
	entry := LogEntry{
		RuleID:    decision.Rule.ID,
		Action:    scope.Action,
		Granted:   decision.Granted,
		Username:  req.Username,
		StageID:   scope.StageID,
		StationID: scope.StationID,
		RouteID:   scope.RouteID,
		TypeID:    scope.TypeID,
		LoggedAt:  e.now(),
	}
	if scope.Asset != nil {
		entry.AssetID = scope.Asset.ID
	}
	if err := e.Audit.AppendPermissionLog(ctx, entry); err != nil {
		e.logger().Warn("append permission log", logging.Error(err))
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// looseEqual compares payload values the way requirement evaluation
// does: strings fold case and trim whitespace, other kinds compare
// exactly.
func looseEqual(got, want payload.Value) bool {
	gs, gok := got.Str()
	ws, wok := want.Str()
	if gok && wok {
		folder := cases.Fold()
		return folder.String(strings.TrimSpace(gs)) == folder.String(strings.TrimSpace(ws))
	}
	return got.Equal(want)
}
