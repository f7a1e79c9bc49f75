package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"loom/internal/asset"
)

// CreateRoute inserts a route and returns it with its id assigned.
func (s *Store) CreateRoute(ctx context.Context, name string) (*asset.Route, error) {
	res, err := s.execWithRetry(ctx, `INSERT INTO routes (name) VALUES (?)`, name)
	if err != nil {
		return nil, fmt.Errorf("insert route: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return &asset.Route{ID: id, Name: name}, nil
}

// RouteByID fetches a route by id, or nil when it does not exist.
func (s *Store) RouteByID(ctx context.Context, id int64) (*asset.Route, error) {
	var r asset.Route
	row := s.db.QueryRowContext(ctx, `SELECT id, name FROM routes WHERE id = ?`, id)
	if err := row.Scan(&r.ID, &r.Name); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get route: %w", err)
	}
	return &r, nil
}

// ListRoutes returns every route ordered by name.
func (s *Store) ListRoutes(ctx context.Context) ([]*asset.Route, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM routes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var routes []*asset.Route
	for rows.Next() {
		var r asset.Route
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		routes = append(routes, &r)
	}
	return routes, rows.Err()
}

const stationColumns = `id, name, behavior, operators, supervisors,
    auto_assign, assign_mode, same_operator_mode, reassign_on_return, last_assignment,
    creator_operator, non_operator_adds, notify_operator, force_return,
    field_templates, allow_field_overrides, notifications, behavior_settings`

// CreateStation inserts a station and returns it with its id
// assigned.
func (s *Store) CreateStation(ctx context.Context, st *asset.Station) (*asset.Station, error) {
	operators, err := encodeJSON(emptySlice(st.Operators))
	if err != nil {
		return nil, fmt.Errorf("encode operators: %w", err)
	}
	supervisors, err := encodeJSON(emptySlice(st.Supervisors))
	if err != nil {
		return nil, fmt.Errorf("encode supervisors: %w", err)
	}
	templates, err := encodeJSON(st.FieldTemplates)
	if err != nil {
		return nil, fmt.Errorf("encode field templates: %w", err)
	}
	notifications, err := encodeJSON(emptySlice(st.Notifications))
	if err != nil {
		return nil, fmt.Errorf("encode notifications: %w", err)
	}
	behaviorSettings, err := encodeJSON(st.BehaviorSettings)
	if err != nil {
		return nil, fmt.Errorf("encode behavior settings: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO stations (
            name, behavior, operators, supervisors,
            auto_assign, assign_mode, same_operator_mode, reassign_on_return, last_assignment,
            creator_operator, non_operator_adds, notify_operator, force_return,
            field_templates, allow_field_overrides, notifications, behavior_settings
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.Name, st.Behavior.String(), operators, supervisors,
		st.AutoAssign, string(st.AssignMode), string(st.SameOperatorMode), st.ReassignOnReturn, st.LastAssignment,
		st.CreatorOperator, st.NonOperatorAdds, st.NotifyOperator, st.ForceReturn,
		templates, st.AllowFieldOverrides, notifications, behaviorSettings,
	)
	if err != nil {
		return nil, fmt.Errorf("insert station: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.StationByID(ctx, id)
}

// UpdateStation persists changes to an existing station.
func (s *Store) UpdateStation(ctx context.Context, st *asset.Station) error {
	if st == nil || st.ID == 0 {
		return errors.New("station has no id")
	}
	operators, err := encodeJSON(emptySlice(st.Operators))
	if err != nil {
		return fmt.Errorf("encode operators: %w", err)
	}
	supervisors, err := encodeJSON(emptySlice(st.Supervisors))
	if err != nil {
		return fmt.Errorf("encode supervisors: %w", err)
	}
	templates, err := encodeJSON(st.FieldTemplates)
	if err != nil {
		return fmt.Errorf("encode field templates: %w", err)
	}
	notifications, err := encodeJSON(emptySlice(st.Notifications))
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}
	behaviorSettings, err := encodeJSON(st.BehaviorSettings)
	if err != nil {
		return fmt.Errorf("encode behavior settings: %w", err)
	}
	_, err = s.execWithRetry(
		ctx,
		`UPDATE stations SET
            name = ?, behavior = ?, operators = ?, supervisors = ?,
            auto_assign = ?, assign_mode = ?, same_operator_mode = ?, reassign_on_return = ?, last_assignment = ?,
            creator_operator = ?, non_operator_adds = ?, notify_operator = ?, force_return = ?,
            field_templates = ?, allow_field_overrides = ?, notifications = ?, behavior_settings = ?
         WHERE id = ?`,
		st.Name, st.Behavior.String(), operators, supervisors,
		st.AutoAssign, string(st.AssignMode), string(st.SameOperatorMode), st.ReassignOnReturn, st.LastAssignment,
		st.CreatorOperator, st.NonOperatorAdds, st.NotifyOperator, st.ForceReturn,
		templates, st.AllowFieldOverrides, notifications, behaviorSettings, st.ID,
	)
	if err != nil {
		return fmt.Errorf("update station: %w", err)
	}
	return nil
}

// StationByID fetches a station by id, or nil when it does not exist.
func (s *Store) StationByID(ctx context.Context, id int64) (*asset.Station, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stationColumns+` FROM stations WHERE id = ?`, id)
	st, err := scanStation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get station: %w", err)
	}
	return st, nil
}

// ListStations returns every station ordered by name.
func (s *Store) ListStations(ctx context.Context) ([]*asset.Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+stationColumns+` FROM stations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	var stations []*asset.Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// SetLastAssignment advances a station's round-robin cursor.
func (s *Store) SetLastAssignment(ctx context.Context, stationID int64, username string) error {
	_, err := s.execWithRetry(
		ctx,
		`UPDATE stations SET last_assignment = ? WHERE id = ?`,
		username, stationID,
	)
	if err != nil {
		return fmt.Errorf("set last assignment: %w", err)
	}
	return nil
}

func scanStation(row rowScanner) (*asset.Station, error) {
	var (
		st                                    asset.Station
		behavior, assignMode, sameOperator    string
		operators, supervisors, templates     string
		notifications, behaviorSettings       string
	)
	if err := row.Scan(
		&st.ID, &st.Name, &behavior, &operators, &supervisors,
		&st.AutoAssign, &assignMode, &sameOperator, &st.ReassignOnReturn, &st.LastAssignment,
		&st.CreatorOperator, &st.NonOperatorAdds, &st.NotifyOperator, &st.ForceReturn,
		&templates, &st.AllowFieldOverrides, &notifications, &behaviorSettings,
	); err != nil {
		return nil, err
	}
	parsed, err := asset.ParseBehavior(behavior)
	if err != nil {
		return nil, fmt.Errorf("station %d: %w", st.ID, err)
	}
	st.Behavior = parsed
	st.AssignMode = asset.AssignMode(assignMode)
	st.SameOperatorMode = asset.SameOperatorMode(sameOperator)
	if err := decodeJSON(operators, &st.Operators); err != nil {
		return nil, fmt.Errorf("decode operators: %w", err)
	}
	if err := decodeJSON(supervisors, &st.Supervisors); err != nil {
		return nil, fmt.Errorf("decode supervisors: %w", err)
	}
	if err := decodeJSON(templates, &st.FieldTemplates); err != nil {
		return nil, fmt.Errorf("decode field templates: %w", err)
	}
	if err := decodeJSON(notifications, &st.Notifications); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	if err := decodeJSON(behaviorSettings, &st.BehaviorSettings); err != nil {
		return nil, fmt.Errorf("decode behavior settings: %w", err)
	}
	return &st, nil
}

const stageColumns = `id, station_id, route_id, routing, allow_adding_assets, can_route_back, exit_station, asset_message`

// CreateStage binds a station into a route and returns the stage with
// its id assigned.
func (s *Store) CreateStage(ctx context.Context, st *asset.Stage) (*asset.Stage, error) {
	routing, err := encodeJSON(emptySlice(st.Routing))
	if err != nil {
		return nil, fmt.Errorf("encode routing: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO stages (
            station_id, route_id, routing, allow_adding_assets, can_route_back, exit_station, asset_message
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.StationID, st.RouteID, routing, st.AllowAddingAssets, st.CanRouteBack, st.ExitStation, st.AssetMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("insert stage: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.StageByID(ctx, id)
}

// UpdateStageRouting replaces a stage's routing configuration.
func (s *Store) UpdateStageRouting(ctx context.Context, stageID int64, routing []asset.RouteVariant) error {
	encoded, err := encodeJSON(emptySlice(routing))
	if err != nil {
		return fmt.Errorf("encode routing: %w", err)
	}
	_, err = s.execWithRetry(ctx, `UPDATE stages SET routing = ? WHERE id = ?`, encoded, stageID)
	if err != nil {
		return fmt.Errorf("update stage routing: %w", err)
	}
	return nil
}

// StageByID fetches a stage by id, or nil when it does not exist.
func (s *Store) StageByID(ctx context.Context, id int64) (*asset.Stage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM stages WHERE id = ?`, id)
	st, err := scanStage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stage: %w", err)
	}
	return st, nil
}

// StagesForRoute returns a route's stages in id order.
func (s *Store) StagesForRoute(ctx context.Context, routeID int64) ([]*asset.Stage, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+stageColumns+` FROM stages WHERE route_id = ? ORDER BY id`,
		routeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []*asset.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func scanStage(row rowScanner) (*asset.Stage, error) {
	var (
		st      asset.Stage
		routing string
	)
	if err := row.Scan(
		&st.ID, &st.StationID, &st.RouteID, &routing,
		&st.AllowAddingAssets, &st.CanRouteBack, &st.ExitStation, &st.AssetMessage,
	); err != nil {
		return nil, err
	}
	if err := decodeJSON(routing, &st.Routing); err != nil {
		return nil, fmt.Errorf("decode routing: %w", err)
	}
	return &st, nil
}
