package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loom/internal/asset"
	"loom/internal/payload"
)

const assetColumns = `id, type_id, route_id, stage_id, operator, payload, meta`

// CreateAsset inserts an asset and returns it with its id assigned.
func (s *Store) CreateAsset(ctx context.Context, a *asset.Asset) (*asset.Asset, error) {
	payloadJSON, metaJSON, err := encodeAssetBlobs(a)
	if err != nil {
		return nil, err
	}
	now := encodeTime(time.Now())
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO assets (type_id, route_id, stage_id, operator, payload, meta, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.TypeID, a.RouteID, a.StageID, a.Operator, payloadJSON, metaJSON, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert asset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.AssetByID(ctx, id)
}

// UpdateAsset persists an asset's stage, operator, payload and meta.
func (s *Store) UpdateAsset(ctx context.Context, a *asset.Asset) error {
	if a == nil || a.ID == 0 {
		return errors.New("asset has no id")
	}
	payloadJSON, metaJSON, err := encodeAssetBlobs(a)
	if err != nil {
		return err
	}
	_, err = s.execWithRetry(
		ctx,
		`UPDATE assets SET type_id = ?, route_id = ?, stage_id = ?, operator = ?,
            payload = ?, meta = ?, updated_at = ?
         WHERE id = ?`,
		a.TypeID, a.RouteID, a.StageID, a.Operator,
		payloadJSON, metaJSON, encodeTime(time.Now()), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	return nil
}

// AssetByID fetches an asset by id, or nil when it does not exist.
func (s *Store) AssetByID(ctx context.Context, id int64) (*asset.Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// ListAssetsAtStage returns every asset sitting at a stage in id
// order.
func (s *Store) ListAssetsAtStage(ctx context.Context, stageID int64) ([]*asset.Asset, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+assetColumns+` FROM assets WHERE stage_id = ? ORDER BY id`,
		stageID,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets at stage: %w", err)
	}
	defer rows.Close()
	return collectAssets(rows)
}

// ListAssetsForOperator returns every asset assigned to the operator
// in id order.
func (s *Store) ListAssetsForOperator(ctx context.Context, username string) ([]*asset.Asset, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+assetColumns+` FROM assets WHERE operator = ? ORDER BY id`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets for operator: %w", err)
	}
	defer rows.Close()
	return collectAssets(rows)
}

// CountAssigned reports how many assets sit at the station's stages
// assigned to the operator. Least-busy assignment ranks candidates
// with it.
func (s *Store) CountAssigned(ctx context.Context, stationID int64, username string) (int, error) {
	var n int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM assets a
         JOIN stages st ON st.id = a.stage_id
         WHERE st.station_id = ? AND a.operator = ?`,
		stationID, username,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count assigned: %w", err)
	}
	return n, nil
}

// DeleteAsset removes an asset; its transition records cascade.
func (s *Store) DeleteAsset(ctx context.Context, id int64) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM assets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete asset: %w", err)
	}
	return nil
}

func encodeAssetBlobs(a *asset.Asset) (payloadJSON, metaJSON string, err error) {
	p := a.Payload
	if p == nil {
		p = payload.Payload{}
	}
	raw, err := p.Encode()
	if err != nil {
		return "", "", fmt.Errorf("encode payload: %w", err)
	}
	payloadJSON = string(raw)

	meta := a.Meta
	if meta == nil {
		meta = asset.NewMeta()
	}
	metaJSON, err = encodeJSON(meta)
	if err != nil {
		return "", "", fmt.Errorf("encode meta: %w", err)
	}
	return payloadJSON, metaJSON, nil
}

func scanAsset(row rowScanner) (*asset.Asset, error) {
	var (
		a                     asset.Asset
		payloadRaw, metaRaw   string
	)
	if err := row.Scan(&a.ID, &a.TypeID, &a.RouteID, &a.StageID, &a.Operator, &payloadRaw, &metaRaw); err != nil {
		return nil, err
	}
	p, err := payload.Parse([]byte(payloadRaw))
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	a.Payload = p
	a.Meta = asset.NewMeta()
	if err := decodeJSON(metaRaw, a.Meta); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &a, nil
}

func collectAssets(rows *sql.Rows) ([]*asset.Asset, error) {
	var assets []*asset.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}
