package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"loom/internal/asset"
)

const typeColumns = `id, name, sysname, signature_string, creator_fields, descriptive_fields, search_fields`

// CreateAssetType inserts a type definition and returns it with its
// id assigned.
func (s *Store) CreateAssetType(ctx context.Context, t *asset.AssetType) (*asset.AssetType, error) {
	creator, err := encodeJSON(emptySlice(t.CreatorFields))
	if err != nil {
		return nil, fmt.Errorf("encode creator fields: %w", err)
	}
	descriptive, err := encodeJSON(emptySlice(t.DescriptiveFields))
	if err != nil {
		return nil, fmt.Errorf("encode descriptive fields: %w", err)
	}
	search, err := encodeJSON(emptySlice(t.SearchFields))
	if err != nil {
		return nil, fmt.Errorf("encode search fields: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO asset_types (
            name, sysname, signature_string,
            creator_fields, descriptive_fields, search_fields
        ) VALUES (?, ?, ?, ?, ?, ?)`,
		t.Name, t.Sysname, t.SignatureString, creator, descriptive, search,
	)
	if err != nil {
		return nil, fmt.Errorf("insert asset type: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.AssetTypeByID(ctx, id)
}

// AssetTypeByID fetches a type by id, or nil when it does not exist.
func (s *Store) AssetTypeByID(ctx context.Context, id int64) (*asset.AssetType, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+typeColumns+` FROM asset_types WHERE id = ?`, id)
	t, err := scanAssetType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset type: %w", err)
	}
	return t, nil
}

// AssetTypeBySysname fetches a type by its system name, or nil when
// it does not exist.
func (s *Store) AssetTypeBySysname(ctx context.Context, sysname string) (*asset.AssetType, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+typeColumns+` FROM asset_types WHERE sysname = ?`, sysname)
	t, err := scanAssetType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset type by sysname: %w", err)
	}
	return t, nil
}

// ListAssetTypes returns every type ordered by name.
func (s *Store) ListAssetTypes(ctx context.Context) ([]*asset.AssetType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+typeColumns+` FROM asset_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list asset types: %w", err)
	}
	defer rows.Close()

	var types []*asset.AssetType
	for rows.Next() {
		t, err := scanAssetType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset type: %w", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func scanAssetType(row rowScanner) (*asset.AssetType, error) {
	var (
		t                            asset.AssetType
		creator, descriptive, search string
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Sysname, &t.SignatureString, &creator, &descriptive, &search); err != nil {
		return nil, err
	}
	if err := decodeJSON(creator, &t.CreatorFields); err != nil {
		return nil, fmt.Errorf("decode creator fields: %w", err)
	}
	if err := decodeJSON(descriptive, &t.DescriptiveFields); err != nil {
		return nil, fmt.Errorf("decode descriptive fields: %w", err)
	}
	if err := decodeJSON(search, &t.SearchFields); err != nil {
		return nil, fmt.Errorf("decode search fields: %w", err)
	}
	return &t, nil
}

// UpsertField inserts or replaces a field definition keyed by
// sysname.
func (s *Store) UpsertField(ctx context.Context, f *asset.FieldDef) error {
	children, err := encodeJSON(emptySlice(f.Children))
	if err != nil {
		return fmt.Errorf("encode children: %w", err)
	}
	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO fields (sysname, title, type, is_file, children)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(sysname) DO UPDATE SET
            title = excluded.title,
            type = excluded.type,
            is_file = excluded.is_file,
            children = excluded.children`,
		f.Sysname, f.Title, f.Type, f.IsFile, children,
	)
	if err != nil {
		return fmt.Errorf("upsert field: %w", err)
	}
	return nil
}

// ListFields returns every field definition ordered by sysname.
func (s *Store) ListFields(ctx context.Context) ([]asset.FieldDef, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, sysname, title, type, is_file, children FROM fields ORDER BY sysname`,
	)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var fields []asset.FieldDef
	for rows.Next() {
		var (
			f        asset.FieldDef
			children string
		)
		if err := rows.Scan(&f.ID, &f.Sysname, &f.Title, &f.Type, &f.IsFile, &children); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		if err := decodeJSON(children, &f.Children); err != nil {
			return nil, fmt.Errorf("decode children: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// FieldCatalog loads every field definition into a lookup catalog.
func (s *Store) FieldCatalog(ctx context.Context) (*asset.Catalog, error) {
	fields, err := s.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	return asset.NewCatalog(fields), nil
}
