package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"loom/internal/asset"
)

const recordColumns = `id, route_id, from_stage_id, to_stage_id, asset_id, operator, recorded_at, rewind, notifications`

// AppendTransition writes the audit row for a cross-stage hop and
// returns it with its id assigned.
func (s *Store) AppendTransition(ctx context.Context, rec *asset.TransitionRecord) (*asset.TransitionRecord, error) {
	notifications, err := encodeJSON(emptySlice(rec.Notifications))
	if err != nil {
		return nil, fmt.Errorf("encode notifications: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO transition_records (
            route_id, from_stage_id, to_stage_id, asset_id, operator, recorded_at, rewind, notifications
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RouteID, rec.FromStageID, rec.ToStageID, rec.AssetID,
		rec.Operator, encodeTime(rec.RecordedAt), rec.Rewind, notifications,
	)
	if err != nil {
		return nil, fmt.Errorf("insert transition record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	out := *rec
	out.ID = id
	return &out, nil
}

// UpdateTransitionNotifications caches delivery outcomes on an
// existing record.
func (s *Store) UpdateTransitionNotifications(ctx context.Context, recordID int64, results []asset.NotificationResult) error {
	encoded, err := encodeJSON(emptySlice(results))
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}
	_, err = s.execWithRetry(
		ctx,
		`UPDATE transition_records SET notifications = ? WHERE id = ?`,
		encoded, recordID,
	)
	if err != nil {
		return fmt.Errorf("update transition notifications: %w", err)
	}
	return nil
}

// LatestTransition returns the most recent record for an asset, or
// nil when the asset has never moved.
func (s *Store) LatestTransition(ctx context.Context, assetID int64) (*asset.TransitionRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+recordColumns+` FROM transition_records WHERE asset_id = ? ORDER BY id DESC LIMIT 1`,
		assetID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest transition: %w", err)
	}
	return rec, nil
}

// LatestTransitionTo returns the most recent record that moved the
// asset into the given stage, or nil when none exists. Return
// routing resolves its target stage through it.
func (s *Store) LatestTransitionTo(ctx context.Context, assetID, toStageID int64) (*asset.TransitionRecord, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+recordColumns+` FROM transition_records
         WHERE asset_id = ? AND to_stage_id = ? ORDER BY id DESC LIMIT 1`,
		assetID, toStageID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest transition to stage: %w", err)
	}
	return rec, nil
}

// TransitionsForAsset returns an asset's full movement history in
// recording order.
func (s *Store) TransitionsForAsset(ctx context.Context, assetID int64) ([]*asset.TransitionRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+recordColumns+` FROM transition_records WHERE asset_id = ? ORDER BY id`,
		assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var records []*asset.TransitionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transition record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row rowScanner) (*asset.TransitionRecord, error) {
	var (
		rec           asset.TransitionRecord
		recordedAt    string
		notifications string
	)
	if err := row.Scan(
		&rec.ID, &rec.RouteID, &rec.FromStageID, &rec.ToStageID, &rec.AssetID,
		&rec.Operator, &recordedAt, &rec.Rewind, &notifications,
	); err != nil {
		return nil, err
	}
	ts, err := decodeTime(recordedAt)
	if err != nil {
		return nil, fmt.Errorf("decode recorded_at: %w", err)
	}
	rec.RecordedAt = ts
	if err := decodeJSON(notifications, &rec.Notifications); err != nil {
		return nil, fmt.Errorf("decode notifications: %w", err)
	}
	return &rec, nil
}
