package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"loom/internal/asset"
)

const userColumns = `id, username, email, first_name, last_name, groups`

// CreateUser inserts an account and returns it with its id assigned.
func (s *Store) CreateUser(ctx context.Context, u *asset.User) (*asset.User, error) {
	groups, err := encodeJSON(emptySlice(u.Groups))
	if err != nil {
		return nil, fmt.Errorf("encode groups: %w", err)
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO users (username, email, first_name, last_name, groups)
         VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.FirstName, u.LastName, groups,
	)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.UserByID(ctx, id)
}

// UserByID fetches an account by id, or nil when it does not exist.
func (s *Store) UserByID(ctx context.Context, id int64) (*asset.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// UserByUsername fetches an account by username, or nil when it does
// not exist.
func (s *Store) UserByUsername(ctx context.Context, username string) (*asset.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// ListUsers returns every account ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]*asset.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*asset.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (*asset.User, error) {
	var (
		u      asset.User
		groups string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &groups); err != nil {
		return nil, err
	}
	if err := decodeJSON(groups, &u.Groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	return &u, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// emptySlice substitutes an empty slice for nil so JSON columns store
// [] rather than null.
func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
