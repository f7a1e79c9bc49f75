package store

import (
	"context"
	"fmt"

	"loom/internal/authz"
)

const ruleColumns = `id, action, user_id, group_name, asset_id, stage_id, station_id, route_id, type_id,
    require_operator, require_supervisor, require_creator, require_authenticated,
    payload_conditions, ip_range, is_prohibition, is_default, logging, created_at`

// CreateRule inserts a permission rule and returns its id.
func (s *Store) CreateRule(ctx context.Context, r *authz.Rule) (int64, error) {
	conditions, err := encodeJSON(r.PayloadConditions)
	if err != nil {
		return 0, fmt.Errorf("encode payload conditions: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO permission_rules (
            action, user_id, group_name, asset_id, stage_id, station_id, route_id, type_id,
            require_operator, require_supervisor, require_creator, require_authenticated,
            payload_conditions, ip_range, is_prohibition, is_default, logging, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Action, r.UserID, r.Group, r.AssetID, r.StageID, r.StationID, r.RouteID, r.TypeID,
		r.RequireOperator, r.RequireSupervisor, r.RequireCreator, r.RequireAuthenticated,
		conditions, r.IPRange, r.Prohibition, r.Default, r.Logging, encodeTime(r.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert permission rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// DeleteRule removes a permission rule.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM permission_rules WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete permission rule: %w", err)
	}
	return nil
}

// PermissionRules returns the full rule set in id order. It
// implements the permission engine's rule source.
func (s *Store) PermissionRules(ctx context.Context) ([]authz.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+ruleColumns+` FROM permission_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list permission rules: %w", err)
	}
	defer rows.Close()

	var rules []authz.Rule
	for rows.Next() {
		var (
			r          authz.Rule
			conditions string
			createdAt  string
		)
		if err := rows.Scan(
			&r.ID, &r.Action, &r.UserID, &r.Group, &r.AssetID, &r.StageID, &r.StationID, &r.RouteID, &r.TypeID,
			&r.RequireOperator, &r.RequireSupervisor, &r.RequireCreator, &r.RequireAuthenticated,
			&conditions, &r.IPRange, &r.Prohibition, &r.Default, &r.Logging, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan permission rule: %w", err)
		}
		if err := decodeJSON(conditions, &r.PayloadConditions); err != nil {
			return nil, fmt.Errorf("decode payload conditions: %w", err)
		}
		ts, err := decodeTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		r.CreatedAt = ts
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// AppendPermissionLog persists one audit row. It implements the
// permission engine's audit sink.
func (s *Store) AppendPermissionLog(ctx context.Context, entry authz.LogEntry) error {
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO permission_log (
            rule_id, action, granted, username, asset_id, stage_id, station_id, route_id, type_id, logged_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RuleID, entry.Action, entry.Granted, entry.Username,
		entry.AssetID, entry.StageID, entry.StationID, entry.RouteID, entry.TypeID,
		encodeTime(entry.LoggedAt),
	)
	if err != nil {
		return fmt.Errorf("insert permission log: %w", err)
	}
	return nil
}

// PermissionLog returns audit entries newest first, capped at limit
// when limit is positive.
func (s *Store) PermissionLog(ctx context.Context, limit int) ([]authz.LogEntry, error) {
	query := `SELECT rule_id, action, granted, username, asset_id, stage_id, station_id, route_id, type_id, logged_at
        FROM permission_log ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list permission log: %w", err)
	}
	defer rows.Close()

	var entries []authz.LogEntry
	for rows.Next() {
		var (
			entry    authz.LogEntry
			loggedAt string
		)
		if err := rows.Scan(
			&entry.RuleID, &entry.Action, &entry.Granted, &entry.Username,
			&entry.AssetID, &entry.StageID, &entry.StationID, &entry.RouteID, &entry.TypeID,
			&loggedAt,
		); err != nil {
			return nil, fmt.Errorf("scan permission log: %w", err)
		}
		ts, err := decodeTime(loggedAt)
		if err != nil {
			return nil, fmt.Errorf("decode logged_at: %w", err)
		}
		entry.LoggedAt = ts
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
